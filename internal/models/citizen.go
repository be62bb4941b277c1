package models

import "time"

// Citizen mirrors the civil-registry record this service is allowed to
// mutate: only the blocked flag changes here, everything else is owned by
// the registry import pipeline.
type Citizen struct {
	ID         string    `db:"id" json:"id"`
	NationalID string    `db:"national_id" json:"national_id"`
	FullName   string    `db:"full_name" json:"full_name"`
	BirthDate  time.Time `db:"birth_date" json:"birth_date"`
	Blocked    bool      `db:"blocked" json:"blocked"`
	Missing    bool      `db:"missing" json:"missing"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}
