package dto

import "github.com/noah-isme/evr-admin-api/internal/models"

// CreateChangesetRequest is the authoring payload for a new changeset.
// The admin layer resolves uploaded national IDs to citizen IDs before
// this request reaches the service.
type CreateChangesetRequest struct {
	Name               string               `json:"name" validate:"required,max=256"`
	Kind               models.ChangeKind    `json:"kind" validate:"required"`
	SelectionMode      models.SelectionMode `json:"selection_mode" validate:"required"`
	OtherChangesetID   *string              `json:"other_changeset_id,omitempty"`
	TargetCenterID     *string              `json:"target_center_id,omitempty"`
	SelectedCenterIDs  []string             `json:"selected_center_ids,omitempty"`
	SelectedCitizenIDs []string             `json:"selected_citizen_ids,omitempty"`
	Message            string               `json:"message" validate:"max=1024"`
	Justification      string               `json:"justification" validate:"required"`
}

// UpdateChangesetRequest carries editable fields; nil means unchanged.
type UpdateChangesetRequest struct {
	Name               *string               `json:"name,omitempty" validate:"omitempty,max=256"`
	Kind               *models.ChangeKind    `json:"kind,omitempty"`
	SelectionMode      *models.SelectionMode `json:"selection_mode,omitempty"`
	OtherChangesetID   *string               `json:"other_changeset_id,omitempty"`
	TargetCenterID     *string               `json:"target_center_id,omitempty"`
	SelectedCenterIDs  []string              `json:"selected_center_ids,omitempty"`
	SelectedCitizenIDs []string              `json:"selected_citizen_ids,omitempty"`
	Message            *string               `json:"message,omitempty" validate:"omitempty,max=1024"`
	Justification      *string               `json:"justification,omitempty"`
}

// ChangesetQuery mirrors supported listing filters.
type ChangesetQuery struct {
	Status    []models.ChangesetStatus
	Kind      models.ChangeKind
	CreatedBy string
	Search    string
	Page      int
	PageSize  int
}

// ChangesetResponse augments the changeset with ledger-derived counts.
type ChangesetResponse struct {
	models.Changeset
	RecordsChanged   int `json:"records_changed"`
	RecordsUnchanged int `json:"records_unchanged"`
}
