package models

import "time"

// ChangeKind enumerates the bulk edits a changeset can apply.
type ChangeKind string

const (
	ChangeKindMoveCenter ChangeKind = "MOVE_CENTER"
	ChangeKindBlock      ChangeKind = "BLOCK"
	ChangeKindUnblock    ChangeKind = "UNBLOCK"
	ChangeKindRollback   ChangeKind = "ROLLBACK"
)

// Valid reports whether the kind is one of the closed set.
func (k ChangeKind) Valid() bool {
	switch k {
	case ChangeKindMoveCenter, ChangeKindBlock, ChangeKindUnblock, ChangeKindRollback:
		return true
	default:
		return false
	}
}

// SelectionMode enumerates the strategies for choosing affected voters.
type SelectionMode string

const (
	SelectByCenters        SelectionMode = "BY_CENTERS"
	SelectByUploadedIDs    SelectionMode = "BY_UPLOADED_IDS"
	SelectByOtherChangeset SelectionMode = "BY_OTHER_CHANGESET"
)

// Valid reports whether the mode is one of the closed set.
func (m SelectionMode) Valid() bool {
	switch m {
	case SelectByCenters, SelectByUploadedIDs, SelectByOtherChangeset:
		return true
	default:
		return false
	}
}

// ChangesetStatus captures the workflow states of a changeset.
type ChangesetStatus string

const (
	ChangesetStatusNew                 ChangesetStatus = "NEW"
	ChangesetStatusApproved            ChangesetStatus = "APPROVED"
	ChangesetStatusQueued              ChangesetStatus = "QUEUED"
	ChangesetStatusExecuting           ChangesetStatus = "EXECUTING"
	ChangesetStatusFailed              ChangesetStatus = "FAILED"
	ChangesetStatusSuccessful          ChangesetStatus = "SUCCESSFUL"
	ChangesetStatusPartiallySuccessful ChangesetStatus = "PARTIALLY_SUCCESSFUL"
	ChangesetStatusRolledBack          ChangesetStatus = "ROLLED_BACK"
)

// HasBeenQueued reports whether the changeset was ever handed to the
// execution pipeline. Queued-or-later changesets are frozen for editing.
func (s ChangesetStatus) HasBeenQueued() bool {
	switch s {
	case ChangesetStatusQueued, ChangesetStatusExecuting:
		return true
	default:
		return s.HasBeenExecuted()
	}
}

// HasBeenExecuted reports whether execution finished, successfully or not.
func (s ChangesetStatus) HasBeenExecuted() bool {
	switch s {
	case ChangesetStatusFailed, ChangesetStatusSuccessful,
		ChangesetStatusPartiallySuccessful, ChangesetStatusRolledBack:
		return true
	default:
		return false
	}
}

// Editable reports whether the changeset may still be edited or approved.
func (s ChangesetStatus) Editable() bool {
	return !s.HasBeenQueued()
}

// Executable reports whether execute() may run from this status.
func (s ChangesetStatus) Executable() bool {
	return s == ChangesetStatusApproved || s == ChangesetStatusQueued
}

// Rollbackable reports whether another changeset may roll this one back.
func (s ChangesetStatus) Rollbackable() bool {
	return s == ChangesetStatusSuccessful || s == ChangesetStatusPartiallySuccessful
}

// Changeset is a named, approval-gated, auditable request to bulk-mutate
// voter registration state.
type Changeset struct {
	ID            string          `db:"id" json:"id"`
	Name          string          `db:"name" json:"name"`
	Kind          ChangeKind      `db:"kind" json:"kind"`
	SelectionMode SelectionMode   `db:"selection_mode" json:"selection_mode"`
	Status        ChangesetStatus `db:"status" json:"status"`

	// OtherChangesetID points at the changeset to roll back or to select
	// voters from. Non-owning reference, looked up by id.
	OtherChangesetID *string `db:"other_changeset_id" json:"other_changeset_id,omitempty"`
	TargetCenterID   *string `db:"target_center_id" json:"target_center_id,omitempty"`

	// Loaded from join tables, not columns.
	SelectedCenterIDs  []string `db:"-" json:"selected_center_ids,omitempty"`
	SelectedCitizenIDs []string `db:"-" json:"selected_citizen_ids,omitempty"`

	Message       string `db:"message" json:"message"`
	Justification string `db:"justification" json:"justification"`

	ExecutionStartTime *time.Time `db:"execution_start_time" json:"execution_start_time,omitempty"`
	FinishTime         *time.Time `db:"finish_time" json:"finish_time,omitempty"`

	CreatedBy string  `db:"created_by" json:"created_by"`
	QueuedBy  *string `db:"queued_by" json:"queued_by,omitempty"`

	// RollbackChangesetID is set on this changeset when a ROLLBACK-kind
	// changeset successfully reverted it.
	RollbackChangesetID *string `db:"rollback_changeset_id" json:"rollback_changeset_id,omitempty"`

	ErrorText string `db:"error_text" json:"error_text,omitempty"`
	Deleted   bool   `db:"deleted" json:"-"`

	// ApprovalCount is derived from the approver set, not stored.
	ApprovalCount int `db:"-" json:"approval_count"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ChangesetFilter constrains listing queries.
type ChangesetFilter struct {
	Status    []ChangesetStatus
	Kind      ChangeKind
	CreatedBy string
	Search    string
	Limit     int
	Offset    int
}

// ChangesetApproval records one user's approval of a changeset.
type ChangesetApproval struct {
	ChangesetID string    `db:"changeset_id" json:"changeset_id"`
	UserID      string    `db:"user_id" json:"user_id"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
