package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/unclebandit/campaign-dispatch/internal/filter"
	"github.com/unclebandit/campaign-dispatch/internal/metrics"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

// SnapshotService freezes a campaign's audience into recipient rows.
type SnapshotService struct {
	Audience   *AudienceService
	Recipients repository.RecipientRepositoryInterface
	Metrics    *metrics.Metrics
	Log        zerolog.Logger
}

// Snapshot resolves expr to addresses and inserts one PENDING recipient per
// distinct address. Rows that already exist are left alone, so repeating a
// snapshot without a purge writes nothing. It returns the rows written.
//
// Inserts are batched and not rolled back: on error, earlier batches stay.
func (s *SnapshotService) Snapshot(ctx context.Context, campaignID string, expr filter.Expression) (int, error) {
	emails, err := s.Audience.Emails(ctx, expr)
	if err != nil {
		return 0, fmt.Errorf("resolve audience for campaign %s: %w", campaignID, err)
	}

	seen := make(map[string]struct{}, len(emails))
	unique := make([]string, 0, len(emails))
	for _, e := range emails {
		e = normalizeEmail(e)
		if e == "" {
			continue
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		unique = append(unique, e)
	}

	written, err := s.Recipients.InsertPending(ctx, campaignID, unique)
	s.Metrics.Snapshotted(written)
	if err != nil {
		return written, fmt.Errorf("snapshot campaign %s: %w", campaignID, err)
	}

	s.Log.Info().
		Str("campaign_id", campaignID).
		Int("matched", len(emails)).
		Int("written", written).
		Msg("audience snapshotted")
	return written, nil
}

// Purge drops every recipient row of a campaign. Snapshot never calls it.
func (s *SnapshotService) Purge(ctx context.Context, campaignID string) (int, error) {
	n, err := s.Recipients.DeleteByCampaign(ctx, campaignID)
	if err != nil {
		return 0, fmt.Errorf("purge recipients of campaign %s: %w", campaignID, err)
	}
	return n, nil
}
