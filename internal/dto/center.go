package dto

// CenterQuery mirrors supported center listing filters.
type CenterQuery struct {
	Search   string
	RegOpen  *bool
	Page     int
	PageSize int
}

// UpdateCenterRequest carries the mutable center attributes.
type UpdateCenterRequest struct {
	Name    *string `json:"name,omitempty" validate:"omitempty,max=256"`
	RegOpen *bool   `json:"reg_open,omitempty"`
}
