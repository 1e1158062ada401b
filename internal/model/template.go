// internal/model/template.go
package model

import "time"

// Template is an email template. Content is liquid-flavoured HTML.
type Template struct {
	ID        string     `db:"id" json:"id"`
	Name      string     `db:"name" json:"name"`
	Subject   string     `db:"subject" json:"subject"`
	Content   string     `db:"content" json:"content"`
	TestEmail string     `db:"test_email" json:"testEmail,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt *time.Time `db:"updated_at" json:"updatedAt,omitempty"`
}
