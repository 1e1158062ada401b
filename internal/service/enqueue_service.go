package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/metrics"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

type EnqueueResult struct {
	Enqueued        int  `json:"enqueued"`
	AlreadyEnqueued bool `json:"alreadyEnqueued"`
}

// EnqueueService turns a campaign's PENDING recipients into delayed dispatch
// jobs, at most once per campaign.
type EnqueueService struct {
	Campaigns  repository.CampaignRepositoryInterface
	Templates  repository.TemplateRepositoryInterface
	Recipients repository.RecipientRepositoryInterface
	Queue      queue.Queue
	Renderer   Renderer
	// From is the sender address put on every job.
	From    string
	Metrics *metrics.Metrics
	Log     zerolog.Logger
	Now     func() time.Time
}

func (s *EnqueueService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Enqueue schedules one job per PENDING recipient of a snapshotted campaign,
// delayed until the campaign's start date. The claim on the campaign's
// execution phase is a compare-and-swap: a second call, concurrent or not,
// enqueues nothing and reports AlreadyEnqueued.
func (s *EnqueueService) Enqueue(ctx context.Context, campaignID string) (EnqueueResult, error) {
	c, err := s.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return EnqueueResult{}, err
	}
	delay, err := scheduleDelay(c, s.now())
	if err != nil {
		return EnqueueResult{}, err
	}
	tmpl, err := loadTemplate(ctx, s.Templates, c)
	if err != nil {
		return EnqueueResult{}, err
	}

	switch c.ExecutionPhase {
	case model.PhaseEnqueued:
		s.Log.Info().Str("campaign_id", campaignID).Msg("campaign already enqueued, skipping")
		return EnqueueResult{AlreadyEnqueued: true}, nil
	case model.PhaseSnapshotted:
	default:
		return EnqueueResult{}, appErrors.NewInvalidStateTransition(campaignID, string(c.ExecutionPhase), string(model.PhaseEnqueued))
	}

	prev, claimed, err := s.Campaigns.ClaimEnqueue(ctx, campaignID)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("claim enqueue for campaign %s: %w", campaignID, err)
	}
	if !claimed {
		s.Log.Info().Str("campaign_id", campaignID).Msg("campaign already enqueued, skipping")
		return EnqueueResult{AlreadyEnqueued: true}, nil
	}

	n, err := s.enqueueClaimed(ctx, c, tmpl, delay)
	if err != nil {
		if relErr := s.Campaigns.ReleaseEnqueue(ctx, campaignID, prev); relErr != nil {
			s.Log.Error().Err(relErr).Str("campaign_id", campaignID).Msg("failed to release enqueue claim")
		}
		return EnqueueResult{Enqueued: n}, err
	}

	if err := s.markScheduled(ctx, campaignID); err != nil {
		s.Log.Error().Err(err).Str("campaign_id", campaignID).Int("jobs", n).
			Msg("jobs enqueued but campaign status not updated")
		return EnqueueResult{Enqueued: n}, fmt.Errorf("mark campaign %s scheduled: %w", campaignID, err)
	}

	s.Log.Info().
		Str("campaign_id", campaignID).
		Int("jobs", n).
		Dur("delay", delay).
		Msg("campaign enqueued")
	return EnqueueResult{Enqueued: n}, nil
}

const statusWriteAttempts = 3

var statusRetryWait = 100 * time.Millisecond

// markScheduled sets the status after a successful enqueue. The jobs are
// already queued and the claim stays, so the write is retried rather than
// undone.
func (s *EnqueueService) markScheduled(ctx context.Context, campaignID string) error {
	for attempt := 1; ; attempt++ {
		_, err := s.Campaigns.TransitionStatus(ctx, campaignID,
			[]model.CampaignStatus{model.CampaignDraft, model.CampaignScheduled}, model.CampaignScheduled)
		if err == nil || attempt == statusWriteAttempts {
			return err
		}
		s.Log.Warn().Err(err).Str("campaign_id", campaignID).Int("attempt", attempt).Msg("status write failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(statusRetryWait * time.Duration(attempt)):
		}
	}
}

func (s *EnqueueService) enqueueClaimed(ctx context.Context, c *model.Campaign, tmpl *model.Template, delay time.Duration) (int, error) {
	// rendered once for the whole campaign
	rendered, err := s.Renderer.Render(tmpl, campaignBindings(c))
	if err != nil {
		return 0, fmt.Errorf("render template for campaign %s: %w", c.ID, err)
	}

	recipients, err := s.Recipients.ListPending(ctx, c.ID)
	if err != nil {
		return 0, fmt.Errorf("load recipients of campaign %s: %w", c.ID, err)
	}

	n := 0
	for _, r := range recipients {
		job := model.DispatchJob{
			CampaignID:     c.ID,
			RecipientID:    r.ID,
			To:             r.Email,
			From:           s.From,
			Subject:        rendered.Subject,
			HTML:           rendered.HTML,
			Text:           rendered.Text,
			IdempotencyKey: model.IdempotencyKey(c.ID, r.Email),
		}
		if _, err := s.Queue.Enqueue(ctx, job, queue.EnqueueOptions{Delay: delay}); err != nil {
			s.Metrics.Enqueued(n)
			return n, fmt.Errorf("enqueue job for %s: %w", r.Email, err)
		}
		n++
	}
	s.Metrics.Enqueued(n)
	return n, nil
}

func campaignBindings(c *model.Campaign) map[string]any {
	return map[string]any{
		"campaign": map[string]any{
			"id":   c.ID,
			"name": c.Name,
			"type": c.Type,
		},
	}
}

// scheduleDelay returns how long until the campaign starts.
func scheduleDelay(c *model.Campaign, now time.Time) (time.Duration, error) {
	start := c.StartDate()
	if start == nil {
		return 0, appErrors.NewMissingSchedule(c.ID)
	}
	delay := start.Sub(now)
	if delay < 0 {
		return 0, appErrors.NewScheduleInPast(c.ID, *start)
	}
	return delay, nil
}

func loadTemplate(ctx context.Context, repo repository.TemplateRepositoryInterface, c *model.Campaign) (*model.Template, error) {
	if c.TemplateID == nil || *c.TemplateID == "" {
		return nil, appErrors.NewMissingTemplate(c.ID)
	}
	t, err := repo.GetByID(ctx, *c.TemplateID)
	if err != nil {
		if appErrors.IsNotFound(err) {
			return nil, appErrors.NewMissingTemplate(c.ID)
		}
		return nil, fmt.Errorf("load template %s: %w", *c.TemplateID, err)
	}
	return t, nil
}
