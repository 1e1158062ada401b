// internal/model/campaign_recipient.go
package model

import "time"

type RecipientStatus string

const (
	RecipientPending RecipientStatus = "PENDING"
	RecipientSent    RecipientStatus = "SENT"
	RecipientFailed  RecipientStatus = "FAILED"
	RecipientBounced RecipientStatus = "BOUNCED"
)

// CampaignRecipient is one frozen audience address for a campaign.
// (CampaignID, Email) is unique.
type CampaignRecipient struct {
	ID                string          `db:"id" json:"id"`
	CampaignID        string          `db:"campaign_id" json:"campaignId"`
	Email             string          `db:"email" json:"email"`
	Status            RecipientStatus `db:"status" json:"status"`
	ProviderMessageID string          `db:"provider_message_id" json:"providerMessageId,omitempty"`
	Error             string          `db:"error" json:"error,omitempty"`
	SentAt            *time.Time      `db:"sent_at" json:"sentAt,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updatedAt"`
}
