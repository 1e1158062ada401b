// internal/model/audience.go
package model

import (
	"strings"
	"time"
)

type Location struct {
	Country string `json:"country,omitempty"`
	State   string `json:"state,omitempty"`
	City    string `json:"city,omitempty"`
}

type AudienceMember struct {
	ID         string         `db:"id" json:"id"`
	Email      string         `db:"email" json:"email"`
	Name       string         `db:"name" json:"name,omitempty"`
	Age        *int           `db:"age" json:"age,omitempty"`
	Location   Location       `db:"location" json:"location"`
	Tags       []string       `db:"tags" json:"tags,omitempty"`
	Attributes map[string]any `db:"attributes" json:"attributes,omitempty"`
	CreatedAt  time.Time      `db:"created_at" json:"createdAt"`
}

// Lookup resolves a dotted field path ("age", "location.city",
// "attributes.plan") to the member's value. Absent or empty values report
// false so filters treat them as missing.
func (m *AudienceMember) Lookup(path string) (any, bool) {
	head, rest, _ := strings.Cut(path, ".")
	switch head {
	case "email":
		return nonEmpty(m.Email)
	case "name":
		return nonEmpty(m.Name)
	case "age":
		if m.Age == nil {
			return nil, false
		}
		return *m.Age, true
	case "tags":
		if len(m.Tags) == 0 {
			return nil, false
		}
		return m.Tags, true
	case "createdAt":
		if m.CreatedAt.IsZero() {
			return nil, false
		}
		return m.CreatedAt, true
	case "location":
		switch rest {
		case "country":
			return nonEmpty(m.Location.Country)
		case "state":
			return nonEmpty(m.Location.State)
		case "city":
			return nonEmpty(m.Location.City)
		}
	case "attributes":
		v, ok := m.Attributes[rest]
		if !ok || v == nil {
			return nil, false
		}
		return v, true
	}
	return nil, false
}

func nonEmpty(s string) (any, bool) {
	if s == "" {
		return nil, false
	}
	return s, true
}
