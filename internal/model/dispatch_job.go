// internal/model/dispatch_job.go
package model

// DispatchJob is the queue payload for a single send. Its JSON shape is the
// wire contract between the enqueuer and the dispatch workers.
type DispatchJob struct {
	CampaignID     string `json:"campaignId"`
	RecipientID    string `json:"recipientId"`
	To             string `json:"to"`
	From           string `json:"from,omitempty"`
	Subject        string `json:"subject"`
	HTML           string `json:"html"`
	Text           string `json:"text,omitempty"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// DispatchResult is what a worker reports for a completed job.
type DispatchResult struct {
	Sent      bool   `json:"sent,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Skipped   bool   `json:"skipped,omitempty"`
	Failed    bool   `json:"failed,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// IdempotencyKey derives the dedup key for a recipient of a campaign.
// Duplicate enqueues for the same pair collapse onto the same key.
func IdempotencyKey(campaignID, email string) string {
	return campaignID + ":" + email
}
