package models

import "time"

// Course is an offered course. Immutable once created; admins may only
// add or remove courses.
type Course struct {
	Code      string    `db:"code" json:"code"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
