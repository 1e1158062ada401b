// internal/service/campaign_service.go
package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/filter"
	"github.com/unclebandit/campaign-dispatch/internal/metrics"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

// CampaignService owns the campaign lifecycle. Status changes go through
// conditional updates on the repository; TransitionToScheduled is the only
// path that snapshots an audience and enqueues dispatch jobs.
type CampaignService struct {
	Campaigns  repository.CampaignRepositoryInterface
	Filters    repository.AudienceFilterRepositoryInterface
	Templates  repository.TemplateRepositoryInterface
	Recipients repository.RecipientRepositoryInterface
	Audience   *AudienceService
	Snapshots  *SnapshotService
	Enqueuer   *EnqueueService
	Metrics    *metrics.Metrics
	Log        zerolog.Logger
	Now        func() time.Time
}

type CampaignDetails struct {
	Campaign *model.Campaign `json:"campaign"`
	Stats    map[string]int  `json:"stats"`
}

// ToggleResult reports a pause or resume. Pausing does not pull back jobs
// that are already waiting in the queue; JobsStillQueued flags that case.
type ToggleResult struct {
	Campaign        *model.Campaign `json:"campaign"`
	JobsStillQueued bool            `json:"jobsStillQueued"`
	Warning         string          `json:"warning,omitempty"`
}

type ListParams struct {
	Page          int
	PageSize      int
	Search        string
	Statuses      []string
	Types         []string
	PublishedFrom *time.Time
	PublishedTo   *time.Time
	SortBy        string
	Desc          bool
}

var (
	campaignTypes = []string{model.CampaignTypeCriteria, model.CampaignTypeRealTime, model.CampaignTypeScheduled}
	frequencies   = []string{"Once", "Daily", "Weekly", "Monthly"}
)

func (s *CampaignService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// ====================== CRUD ======================

func (s *CampaignService) Create(ctx context.Context, c *model.Campaign) (*model.Campaign, error) {
	if err := validateCampaign(c); err != nil {
		return nil, err
	}
	c.Status = model.CampaignDraft
	c.ExecutionPhase = model.PhaseNone
	c.AudienceSnapshotHash = ""
	c.PublishedDate = nil

	if err := s.Campaigns.Create(ctx, c); err != nil {
		return nil, err
	}
	s.Log.Info().Str("campaign_id", c.ID).Str("name", c.Name).Msg("campaign created")
	return c, nil
}

// Update edits a Draft campaign's name, type, audience, template and schedule.
func (s *CampaignService) Update(ctx context.Context, c *model.Campaign) (*model.Campaign, error) {
	existing, err := s.Campaigns.GetByID(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if existing.Status != model.CampaignDraft {
		return nil, appErrors.NewInvalidStateTransition(c.ID, string(existing.Status), "edit")
	}
	if err := validateCampaign(c); err != nil {
		return nil, err
	}
	if err := s.Campaigns.Update(ctx, c); err != nil {
		return nil, err
	}
	return s.Campaigns.GetByID(ctx, c.ID)
}

func validateCampaign(c *model.Campaign) error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return appErrors.NewValidation("name", "is required")
	}
	if c.Type == "" {
		c.Type = model.CampaignTypeCriteria
	}
	if !slices.Contains(campaignTypes, c.Type) {
		return appErrors.NewValidation("type", "must be one of %s", strings.Join(campaignTypes, ", "))
	}
	if sch := c.Schedule; sch != nil {
		if sch.Frequency != "" && !slices.Contains(frequencies, sch.Frequency) {
			return appErrors.NewValidation("schedule.frequency", "must be one of %s", strings.Join(frequencies, ", "))
		}
		if sch.StartDate != nil && sch.EndDate != nil && sch.EndDate.Before(*sch.StartDate) {
			return appErrors.NewValidation("schedule.endDate", "must not be before the start date")
		}
	}
	return nil
}

func (s *CampaignService) Get(ctx context.Context, id string) (*model.Campaign, error) {
	return s.Campaigns.GetByID(ctx, id)
}

// GetWithStats returns the campaign with its recipient counts per status.
func (s *CampaignService) GetWithStats(ctx context.Context, id string) (*CampaignDetails, error) {
	c, err := s.Campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	counts, err := s.Recipients.Stats(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("recipient stats for campaign %s: %w", id, err)
	}

	stats := map[string]int{"total": 0}
	for status, n := range counts {
		stats[strings.ToLower(string(status))] = n
		stats["total"] += n
	}
	return &CampaignDetails{Campaign: c, Stats: stats}, nil
}

func (s *CampaignService) List(ctx context.Context, p ListParams) ([]*model.Campaign, Pagination, error) {
	page, pageSize := normalizePage(p.Page, p.PageSize)
	campaigns, total, err := s.Campaigns.List(ctx, repository.ListFilter{
		Search:        strings.TrimSpace(p.Search),
		Statuses:      p.Statuses,
		Types:         p.Types,
		PublishedFrom: p.PublishedFrom,
		PublishedTo:   p.PublishedTo,
		SortBy:        p.SortBy,
		Desc:          p.Desc,
		Offset:        (page - 1) * pageSize,
		Limit:         pageSize,
	})
	if err != nil {
		return nil, Pagination{}, err
	}
	return campaigns, newPagination(page, pageSize, total), nil
}

// Duplicate copies a campaign's definition into a new Draft.
func (s *CampaignService) Duplicate(ctx context.Context, id string) (*model.Campaign, error) {
	src, err := s.Campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	cp := &model.Campaign{
		Name:             "Copy of " + src.Name,
		Type:             src.Type,
		AudienceFilterID: src.AudienceFilterID,
		TemplateID:       src.TemplateID,
	}
	if src.Schedule != nil {
		sch := *src.Schedule
		cp.Schedule = &sch
	}
	return s.Create(ctx, cp)
}

// Delete removes a campaign and its recipients. A Scheduled or Active
// campaign that still has PENDING recipients is refused.
func (s *CampaignService) Delete(ctx context.Context, id string) error {
	c, err := s.Campaigns.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if c.Status == model.CampaignScheduled || c.Status == model.CampaignActive {
		pending, err := s.Recipients.CountPending(ctx, id)
		if err != nil {
			return err
		}
		if pending > 0 {
			return appErrors.NewConflict("campaign %s is %s with %d pending recipients", id, c.Status, pending)
		}
	}
	if _, err := s.Recipients.DeleteByCampaign(ctx, id); err != nil {
		return fmt.Errorf("delete recipients of campaign %s: %w", id, err)
	}
	if err := s.Campaigns.Delete(ctx, id); err != nil {
		return err
	}
	s.Log.Info().Str("campaign_id", id).Msg("campaign deleted")
	return nil
}

// ====================== Lifecycle ======================

// snapshotClaimTTL is how long a snapshotting claim holds before another
// caller may take it over.
const snapshotClaimTTL = 30 * time.Minute

// TransitionToScheduled moves a Draft campaign to Scheduled: it claims the
// campaign's snapshot phase, purges any earlier recipients, snapshots the
// audience and enqueues one delayed job per recipient. Every precondition is
// checked before anything is written; a caller that loses the claim to a
// concurrent one gets InvalidStateTransitionError and writes nothing.
func (s *CampaignService) TransitionToScheduled(ctx context.Context, id string) (*model.Campaign, error) {
	c, err := s.Campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != model.CampaignDraft || c.ExecutionEnqueued() {
		return nil, appErrors.NewInvalidStateTransition(id, string(c.Status), string(model.CampaignScheduled))
	}

	expr, err := s.audienceFor(ctx, c)
	if err != nil {
		return nil, err
	}
	if _, err := loadTemplate(ctx, s.Templates, c); err != nil {
		return nil, err
	}
	if _, err := scheduleDelay(c, s.now()); err != nil {
		return nil, err
	}

	claimed, err := s.Campaigns.ClaimSnapshot(ctx, id, snapshotClaimTTL)
	if err != nil {
		return nil, fmt.Errorf("claim snapshot for campaign %s: %w", id, err)
	}
	if !claimed {
		return nil, appErrors.NewInvalidStateTransition(id, string(c.Status), string(model.CampaignScheduled))
	}

	purged, written, err := s.snapshotClaimed(ctx, id, expr)
	if err != nil {
		if relErr := s.Campaigns.ReleaseSnapshot(ctx, id); relErr != nil {
			s.Log.Error().Err(relErr).Str("campaign_id", id).Msg("failed to release snapshot claim")
		}
		return nil, err
	}

	res, err := s.Enqueuer.Enqueue(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.AlreadyEnqueued {
		return nil, appErrors.NewInvalidStateTransition(id, string(c.Status), string(model.CampaignScheduled))
	}

	s.Metrics.Transitioned(string(model.CampaignScheduled))
	s.Log.Info().
		Str("campaign_id", id).
		Int("purged", purged).
		Int("recipients", written).
		Int("jobs", res.Enqueued).
		Msg("campaign scheduled")
	return s.Campaigns.GetByID(ctx, id)
}

// snapshotClaimed rebuilds the recipient list under a snapshot claim.
func (s *CampaignService) snapshotClaimed(ctx context.Context, id string, expr filter.Expression) (purged, written int, err error) {
	purged, err = s.Snapshots.Purge(ctx, id)
	if err != nil {
		return 0, 0, err
	}
	written, err = s.Snapshots.Snapshot(ctx, id, expr)
	if err != nil {
		return purged, written, err
	}
	marked, err := s.Campaigns.MarkSnapshotted(ctx, id, filter.Hash(expr))
	if err != nil {
		return purged, written, fmt.Errorf("mark campaign %s snapshotted: %w", id, err)
	}
	if !marked {
		return purged, written, fmt.Errorf("campaign %s lost its snapshot claim", id)
	}
	return purged, written, nil
}

// audienceFor loads and validates the filter expression a campaign targets.
func (s *CampaignService) audienceFor(ctx context.Context, c *model.Campaign) (filter.Expression, error) {
	if c.AudienceFilterID == nil || *c.AudienceFilterID == "" {
		return filter.Expression{}, appErrors.NewMissingAudience(c.ID)
	}
	f, err := s.Filters.GetByID(ctx, *c.AudienceFilterID)
	if err != nil {
		if appErrors.IsNotFound(err) {
			return filter.Expression{}, appErrors.NewMissingAudience(c.ID)
		}
		return filter.Expression{}, err
	}
	if err := s.Audience.Validate(f.Expression); err != nil {
		return filter.Expression{}, err
	}
	return f.Expression, nil
}

// Toggle flips Active and Paused.
func (s *CampaignService) Toggle(ctx context.Context, id string) (*ToggleResult, error) {
	c, err := s.Campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch c.Status {
	case model.CampaignActive:
		updated, err := s.transition(ctx, id, []model.CampaignStatus{model.CampaignActive}, model.CampaignPaused)
		if err != nil {
			return nil, err
		}
		res := &ToggleResult{Campaign: updated, JobsStillQueued: updated.ExecutionEnqueued()}
		if res.JobsStillQueued {
			res.Warning = "campaign paused; dispatch jobs already queued will still be delivered"
			s.Log.Warn().Str("campaign_id", id).Msg("paused campaign has queued dispatch jobs")
		}
		return res, nil
	case model.CampaignPaused:
		updated, err := s.transition(ctx, id, []model.CampaignStatus{model.CampaignPaused}, model.CampaignActive)
		if err != nil {
			return nil, err
		}
		return &ToggleResult{Campaign: updated}, nil
	default:
		return nil, appErrors.NewInvalidStateTransition(id, string(c.Status), "toggle")
	}
}

// Launch marks a Scheduled campaign Active.
func (s *CampaignService) Launch(ctx context.Context, id string) (*model.Campaign, error) {
	return s.transition(ctx, id, []model.CampaignStatus{model.CampaignScheduled}, model.CampaignActive)
}

func (s *CampaignService) Complete(ctx context.Context, id string) (*model.Campaign, error) {
	return s.transition(ctx, id, []model.CampaignStatus{model.CampaignActive, model.CampaignPaused}, model.CampaignCompleted)
}

func (s *CampaignService) transition(ctx context.Context, id string, from []model.CampaignStatus, to model.CampaignStatus) (*model.Campaign, error) {
	ok, err := s.Campaigns.TransitionStatus(ctx, id, from, to)
	if err != nil {
		return nil, err
	}
	if !ok {
		c, err := s.Campaigns.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, appErrors.NewInvalidStateTransition(id, string(c.Status), string(to))
	}
	s.Metrics.Transitioned(string(to))
	s.Log.Info().Str("campaign_id", id).Str("status", string(to)).Msg("campaign status changed")
	return s.Campaigns.GetByID(ctx, id)
}
