package models

import "time"

// ChangeRecord is an immutable ledger entry recording that a specific
// citizen was or was not changed during a specific changeset execution.
// Some of the fields duplicate the owning changeset on purpose: a rollback
// changeset records the kind it actually applied (the undo of a BLOCK is an
// UNBLOCK), which cannot be derived from the changeset itself.
type ChangeRecord struct {
	ID          string     `db:"id" json:"id"`
	ChangesetID string     `db:"changeset_id" json:"changeset_id"`
	CitizenID   string     `db:"citizen_id" json:"citizen_id"`
	Kind        ChangeKind `db:"kind" json:"kind"`

	// Center references apply to MOVE_CENTER records only.
	FromCenterID *string `db:"from_center_id" json:"from_center_id,omitempty"`
	ToCenterID   *string `db:"to_center_id" json:"to_center_id,omitempty"`

	Changed   bool      `db:"changed" json:"changed"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ChangeRecordSummary aggregates ledger counts for reporting.
type ChangeRecordSummary struct {
	Changed   int `db:"changed_count" json:"changed"`
	Unchanged int `db:"unchanged_count" json:"unchanged"`
}
