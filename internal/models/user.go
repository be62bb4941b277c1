package models

import "time"

// UserRole represents the available roles for the RBAC system.
// ADMIN and SUPERADMIN hold approval and queue rights over changesets,
// OPERATOR may author them, VIEWER has read access only.
type UserRole string

const (
	RoleSuperAdmin UserRole = "SUPERADMIN"
	RoleAdmin      UserRole = "ADMIN"
	RoleOperator   UserRole = "OPERATOR"
	RoleViewer     UserRole = "VIEWER"
)

// MayApproveChangesets reports whether the role carries approval rights.
func (r UserRole) MayApproveChangesets() bool {
	return r == RoleSuperAdmin || r == RoleAdmin
}

// MayQueueChangesets reports whether the role may start execution.
func (r UserRole) MayQueueChangesets() bool {
	return r == RoleSuperAdmin || r == RoleAdmin
}

// MayEditChangesets reports whether the role may author or edit changesets.
func (r UserRole) MayEditChangesets() bool {
	return r == RoleSuperAdmin || r == RoleAdmin || r == RoleOperator
}

// User represents an application user stored in the users table.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	Role         UserRole   `db:"role" json:"role"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
