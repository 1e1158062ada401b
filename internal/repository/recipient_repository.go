package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// DefaultInsertBatch bounds the number of rows per recipient INSERT.
const DefaultInsertBatch = 500

type RecipientRepositoryInterface interface {
	// InsertPending creates PENDING recipients, silently skipping addresses the
	// campaign already has. It returns the number of rows written.
	InsertPending(ctx context.Context, campaignID string, emails []string) (int, error)
	DeleteByCampaign(ctx context.Context, campaignID string) (int, error)
	ListPending(ctx context.Context, campaignID string) ([]model.CampaignRecipient, error)
	CountPending(ctx context.Context, campaignID string) (int, error)
	MarkSent(ctx context.Context, campaignID, email, providerMessageID string, sentAt time.Time) error
	MarkFailed(ctx context.Context, campaignID, email, reason string) error
	Stats(ctx context.Context, campaignID string) (map[model.RecipientStatus]int, error)
}

type RecipientRepository struct {
	DB        *sql.DB
	BatchSize int
}

// InsertPending writes in batches. Batches are independent: a failing batch
// returns the error along with the rows already written by earlier ones.
func (r *RecipientRepository) InsertPending(ctx context.Context, campaignID string, emails []string) (int, error) {
	size := r.BatchSize
	if size <= 0 {
		size = DefaultInsertBatch
	}
	query := `
		INSERT INTO campaign_recipients (id, campaign_id, email, status, created_at, updated_at)
		SELECT u.id, $1, u.email, 'PENDING', NOW(), NOW()
		FROM unnest($2::text[], $3::text[]) AS u(id, email)
		ON CONFLICT (campaign_id, email) DO NOTHING
	`
	written := 0
	for start := 0; start < len(emails); start += size {
		end := min(start+size, len(emails))
		batch := emails[start:end]
		ids := make([]string, len(batch))
		for i := range batch {
			ids[i] = uuid.NewString()
		}
		res, err := r.DB.ExecContext(ctx, query, campaignID, pq.Array(ids), pq.Array(batch))
		if err != nil {
			return written, fmt.Errorf("insert recipients batch at %d: %w", start, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return written, err
		}
		written += int(n)
	}
	return written, nil
}

func (r *RecipientRepository) DeleteByCampaign(ctx context.Context, campaignID string) (int, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM campaign_recipients WHERE campaign_id=$1`, campaignID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *RecipientRepository) ListPending(ctx context.Context, campaignID string) ([]model.CampaignRecipient, error) {
	query := `
		SELECT id, campaign_id, email, status, provider_message_id, error, sent_at, created_at, updated_at
		FROM campaign_recipients
		WHERE campaign_id=$1 AND status='PENDING'
		ORDER BY created_at, email
	`
	rows, err := r.DB.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipients := []model.CampaignRecipient{}
	for rows.Next() {
		var (
			rc      model.CampaignRecipient
			status  string
			msgID   sql.NullString
			errText sql.NullString
			sentAt  sql.NullTime
		)
		if err := rows.Scan(&rc.ID, &rc.CampaignID, &rc.Email, &status, &msgID, &errText, &sentAt, &rc.CreatedAt, &rc.UpdatedAt); err != nil {
			return nil, err
		}
		rc.Status = model.RecipientStatus(status)
		rc.ProviderMessageID = msgID.String
		rc.Error = errText.String
		rc.SentAt = nullableTime(sentAt)
		recipients = append(recipients, rc)
	}
	return recipients, rows.Err()
}

func (r *RecipientRepository) CountPending(ctx context.Context, campaignID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM campaign_recipients WHERE campaign_id=$1 AND status='PENDING'`, campaignID).Scan(&n)
	return n, err
}

// MarkSent and MarkFailed address the recipient by (campaign, email) rather
// than id; a re-snapshot may have replaced the row a job was built from.
func (r *RecipientRepository) MarkSent(ctx context.Context, campaignID, email, providerMessageID string, sentAt time.Time) error {
	query := `
		UPDATE campaign_recipients
		SET status='SENT', provider_message_id=$3, sent_at=$4, error=NULL, updated_at=NOW()
		WHERE campaign_id=$1 AND email=$2
	`
	_, err := r.DB.ExecContext(ctx, query, campaignID, email, providerMessageID, sentAt)
	return err
}

func (r *RecipientRepository) MarkFailed(ctx context.Context, campaignID, email, reason string) error {
	query := `
		UPDATE campaign_recipients
		SET status='FAILED', error=$3, updated_at=NOW()
		WHERE campaign_id=$1 AND email=$2 AND status <> 'SENT'
	`
	_, err := r.DB.ExecContext(ctx, query, campaignID, email, reason)
	return err
}

func (r *RecipientRepository) Stats(ctx context.Context, campaignID string) (map[model.RecipientStatus]int, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM campaign_recipients WHERE campaign_id=$1 GROUP BY status`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[model.RecipientStatus]int{
		model.RecipientPending: 0,
		model.RecipientSent:    0,
		model.RecipientFailed:  0,
		model.RecipientBounced: 0,
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[model.RecipientStatus(status)] = count
	}
	return stats, rows.Err()
}

var _ RecipientRepositoryInterface = (*RecipientRepository)(nil)
