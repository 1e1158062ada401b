// internal/model/criteria_block.go
package model

import "time"

const (
	CategoryFilterComponent = "filterComponent"
	CategoryTriggerFilter   = "triggerFilter"
)

// CriteriaBlock declares a filterable field for the audience builder UI.
type CriteriaBlock struct {
	ID        string    `db:"id" json:"id"`
	Key       string    `db:"key" json:"key"`
	Label     string    `db:"label" json:"label"`
	Type      string    `db:"type" json:"type"`
	Category  string    `db:"category" json:"category"`
	Operators []string  `db:"operators" json:"operators"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
