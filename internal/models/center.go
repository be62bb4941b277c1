package models

import "time"

// RegistrationCenter is a polling place voters register at.
type RegistrationCenter struct {
	ID        string    `db:"id" json:"id"`
	Code      string    `db:"code" json:"code"`
	Name      string    `db:"name" json:"name"`
	RegOpen   bool      `db:"reg_open" json:"reg_open"`
	Deleted   bool      `db:"deleted" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// CenterFilter constrains center listing queries.
type CenterFilter struct {
	Search  string
	RegOpen *bool
	Limit   int
	Offset  int
}
