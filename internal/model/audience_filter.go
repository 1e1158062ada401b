// internal/model/audience_filter.go
package model

import (
	"time"

	"github.com/unclebandit/campaign-dispatch/internal/filter"
)

// AudienceFilter is a saved filter expression a campaign can point at.
type AudienceFilter struct {
	ID         string            `db:"id" json:"id"`
	Name       string            `db:"name" json:"name"`
	Expression filter.Expression `db:"expression" json:"filter"`
	CreatedAt  time.Time         `db:"created_at" json:"createdAt"`
}
