package models

import "time"

// Registration links a citizen to the registration center where they vote.
// A citizen has at most one confirmed registration: deleted=false and
// archived_at null. Changing a registration archives the old version first
// (archive-on-write), so the ledger and rollbacks can inspect history.
type Registration struct {
	ID             string     `db:"id" json:"id"`
	CitizenID      string     `db:"citizen_id" json:"citizen_id"`
	CenterID       string     `db:"center_id" json:"center_id"`
	ChangeCount    int        `db:"change_count" json:"change_count"`
	ArchiveVersion int        `db:"archive_version" json:"archive_version"`
	ArchivedAt     *time.Time `db:"archived_at" json:"archived_at,omitempty"`
	Deleted        bool       `db:"deleted" json:"-"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// Confirmed reports whether this is the citizen's live registration.
func (r Registration) Confirmed() bool {
	return !r.Deleted && r.ArchivedAt == nil
}
