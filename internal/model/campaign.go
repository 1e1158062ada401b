// internal/model/campaign.go
package model

import (
	"encoding/json"
	"time"
)

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "Draft"
	CampaignScheduled CampaignStatus = "Scheduled"
	CampaignActive    CampaignStatus = "Active"
	CampaignCompleted CampaignStatus = "Completed"
	CampaignPaused    CampaignStatus = "Paused"
)

// ExecutionPhase records how far a campaign got through scheduling:
// none -> snapshotting -> snapshotted -> enqueued. Every step is a
// conditional update, so "enqueued but not snapshotted" cannot be stored.
// snapshotting is held by the one caller rebuilding the recipient list; a
// failed snapshot falls back to none, a failed enqueue to snapshotted.
type ExecutionPhase string

const (
	PhaseNone         ExecutionPhase = "none"
	PhaseSnapshotting ExecutionPhase = "snapshotting"
	PhaseSnapshotted  ExecutionPhase = "snapshotted"
	PhaseEnqueued     ExecutionPhase = "enqueued"
)

const (
	CampaignTypeCriteria  = "Criteria Based"
	CampaignTypeRealTime  = "Real Time"
	CampaignTypeScheduled = "Scheduled"
)

type Schedule struct {
	Frequency string     `json:"frequency,omitempty"` // Once, Daily, Weekly, Monthly
	Time      string     `json:"time,omitempty"`
	StartDate *time.Time `json:"startDate,omitempty"`
	EndDate   *time.Time `json:"endDate,omitempty"`
}

type Campaign struct {
	ID                   string         `db:"id" json:"id"`
	Name                 string         `db:"name" json:"name"`
	Type                 string         `db:"type" json:"type"`
	AudienceFilterID     *string        `db:"audience_filter_id" json:"audience,omitempty"`
	TemplateID           *string        `db:"template_id" json:"template,omitempty"`
	Status               CampaignStatus `db:"status" json:"status"`
	ExecutionPhase       ExecutionPhase `db:"execution_phase" json:"executionPhase"`
	AudienceSnapshotHash string         `db:"audience_snapshot_hash" json:"audienceSnapshotHash,omitempty"`
	Schedule             *Schedule      `db:"schedule" json:"schedule,omitempty"`
	OpenRate             float64        `db:"open_rate" json:"openRate"`
	CTR                  float64        `db:"ctr" json:"ctr"`
	Delivered            int            `db:"delivered" json:"delivered"`
	PublishedDate        *time.Time     `db:"published_date" json:"publishedDate,omitempty"`
	CreatedAt            time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt            *time.Time     `db:"updated_at" json:"updatedAt,omitempty"`
}

func (c *Campaign) ExecutionEnqueued() bool {
	return c.ExecutionPhase == PhaseEnqueued
}

func (c *Campaign) AudienceSnapshotted() bool {
	return c.ExecutionPhase == PhaseSnapshotted || c.ExecutionPhase == PhaseEnqueued
}

// StartDate returns the schedule start, or nil when the campaign has no schedule.
func (c *Campaign) StartDate() *time.Time {
	if c.Schedule == nil {
		return nil
	}
	return c.Schedule.StartDate
}

// MarshalJSON exposes the derived execution flags next to the stored phase.
func (c Campaign) MarshalJSON() ([]byte, error) {
	type alias Campaign
	return json.Marshal(struct {
		alias
		ExecutionEnqueued   bool `json:"executionEnqueued"`
		AudienceSnapshotted bool `json:"audienceSnapshotted"`
	}{
		alias:               alias(c),
		ExecutionEnqueued:   c.ExecutionEnqueued(),
		AudienceSnapshotted: c.AudienceSnapshotted(),
	})
}
