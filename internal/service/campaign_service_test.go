package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/repository/memory"
)

func TestTransitionToScheduled_EndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedAges(25, 35, 45)
	start := time.Now().Add(time.Hour)
	c := h.seedCampaign(t, ageOver(30), start)

	updated, err := h.campaignSvc.TransitionToScheduled(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignScheduled, updated.Status)
	assert.True(t, updated.ExecutionEnqueued())
	assert.True(t, updated.AudienceSnapshotted())
	assert.NotEmpty(t, updated.AudienceSnapshotHash)

	recipients := h.recipients.All(c.ID)
	require.Len(t, recipients, 2)

	jobs := h.queue.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, c.ID+":email35@x.io", jobs[0].Payload.IdempotencyKey)
	assert.Equal(t, c.ID+":email45@x.io", jobs[1].Payload.IdempotencyKey)
	for _, j := range jobs {
		assert.WithinDuration(t, start, j.RunAt, time.Second)
		assert.Equal(t, "Hello from Spring", j.Payload.Subject)
		assert.Equal(t, "Spring sale", j.Payload.Text)
		assert.Equal(t, "news@shop.io", j.Payload.From)
	}
}

func TestTransitionToScheduled_TwiceEnqueuesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedAges(25, 35, 45)
	c := h.seedCampaign(t, ageOver(30), time.Now().Add(time.Hour))

	_, err := h.campaignSvc.TransitionToScheduled(ctx, c.ID)
	require.NoError(t, err)

	_, err = h.campaignSvc.TransitionToScheduled(ctx, c.ID)
	var invalid *appErrors.InvalidStateTransitionError
	require.ErrorAs(t, err, &invalid)

	assert.Len(t, h.queue.Jobs(), 2)
	assert.Equal(t, 1, h.renderer.Calls())
}

func TestTransitionToScheduled_PastStartDate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedAges(35)
	c := h.seedCampaign(t, ageOver(30), time.Now().Add(-time.Minute))

	_, err := h.campaignSvc.TransitionToScheduled(ctx, c.ID)
	var past *appErrors.ScheduleInPastError
	require.ErrorAs(t, err, &past)

	got, err := h.campaignSvc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, got.ExecutionEnqueued())
	assert.False(t, got.AudienceSnapshotted())
	assert.Equal(t, model.CampaignDraft, got.Status)
	assert.Empty(t, h.recipients.All(c.ID), "no recipients written before preconditions pass")
	assert.Empty(t, h.queue.Jobs())
}

func TestTransitionToScheduled_MissingPieces(t *testing.T) {
	ctx := context.Background()

	t.Run("audience", func(t *testing.T) {
		h := newHarness(t)
		c := h.seedCampaign(t, ageOver(30), time.Now().Add(time.Hour))
		c.AudienceFilterID = nil
		_, err := h.campaignSvc.Update(ctx, c)
		require.NoError(t, err)

		_, err = h.campaignSvc.TransitionToScheduled(ctx, c.ID)
		var missing *appErrors.MissingAudienceError
		assert.ErrorAs(t, err, &missing)
	})

	t.Run("template", func(t *testing.T) {
		h := newHarness(t)
		c := h.seedCampaign(t, ageOver(30), time.Now().Add(time.Hour))
		c.TemplateID = strPtr("does-not-exist")
		_, err := h.campaignSvc.Update(ctx, c)
		require.NoError(t, err)

		_, err = h.campaignSvc.TransitionToScheduled(ctx, c.ID)
		var missing *appErrors.MissingTemplateError
		assert.ErrorAs(t, err, &missing)
	})

	t.Run("schedule", func(t *testing.T) {
		h := newHarness(t)
		c := h.seedCampaign(t, ageOver(30), time.Now().Add(time.Hour))
		c.Schedule = nil
		_, err := h.campaignSvc.Update(ctx, c)
		require.NoError(t, err)

		_, err = h.campaignSvc.TransitionToScheduled(ctx, c.ID)
		var missing *appErrors.MissingScheduleError
		assert.ErrorAs(t, err, &missing)
	})

	t.Run("invalid filter", func(t *testing.T) {
		h := newHarness(t)
		expr := ageOver(30)
		expr.Conditions[0].Criteria[0].Operator = "fuzzy"
		c := h.seedCampaign(t, expr, time.Now().Add(time.Hour))

		_, err := h.campaignSvc.TransitionToScheduled(ctx, c.ID)
		var unsupported *appErrors.UnsupportedOperatorError
		assert.ErrorAs(t, err, &unsupported)
		assert.Empty(t, h.recipients.All(c.ID))
	})
}

func TestTransitionToScheduled_PurgesEarlierRecipients(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedAges(35)
	c := h.seedCampaign(t, ageOver(30), time.Now().Add(time.Hour))

	_, err := h.recipients.InsertPending(ctx, c.ID, []string{"stale@x.io"})
	require.NoError(t, err)

	_, err = h.campaignSvc.TransitionToScheduled(ctx, c.ID)
	require.NoError(t, err)

	recipients := h.recipients.All(c.ID)
	require.Len(t, recipients, 1)
	assert.Equal(t, "email35@x.io", recipients[0].Email)
}

func TestToggle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedAges(35)
	c := h.seedCampaign(t, ageOver(30), time.Now().Add(time.Hour))

	_, err := h.campaignSvc.Toggle(ctx, c.ID)
	var invalid *appErrors.InvalidStateTransitionError
	require.ErrorAs(t, err, &invalid, "draft campaigns cannot be toggled")

	_, err = h.campaignSvc.TransitionToScheduled(ctx, c.ID)
	require.NoError(t, err)
	launched, err := h.campaignSvc.Launch(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignActive, launched.Status)
	assert.NotNil(t, launched.PublishedDate)

	paused, err := h.campaignSvc.Toggle(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignPaused, paused.Campaign.Status)
	assert.True(t, paused.JobsStillQueued)
	assert.NotEmpty(t, paused.Warning)
	assert.Len(t, h.queue.Jobs(), 1, "pausing does not retract queued jobs")

	resumed, err := h.campaignSvc.Toggle(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignActive, resumed.Campaign.Status)
	assert.False(t, resumed.JobsStillQueued)

	done, err := h.campaignSvc.Complete(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignCompleted, done.Status)

	_, err = h.campaignSvc.Launch(ctx, c.ID)
	require.ErrorAs(t, err, &invalid)
}

func TestUpdate_OnlyDraft(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedAges(35)
	c := h.seedCampaign(t, ageOver(30), time.Now().Add(time.Hour))

	c.Name = "Renamed"
	updated, err := h.campaignSvc.Update(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)

	_, err = h.campaignSvc.TransitionToScheduled(ctx, c.ID)
	require.NoError(t, err)

	_, err = h.campaignSvc.Update(ctx, c)
	var invalid *appErrors.InvalidStateTransitionError
	assert.ErrorAs(t, err, &invalid)
}

func TestCreate_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.campaignSvc.Create(ctx, &model.Campaign{Name: "  "})
	assert.True(t, appErrors.IsValidation(err))

	_, err = h.campaignSvc.Create(ctx, &model.Campaign{Name: "x", Type: "Carrier pigeon"})
	assert.True(t, appErrors.IsValidation(err))

	_, err = h.campaignSvc.Create(ctx, &model.Campaign{Name: "x", Schedule: &model.Schedule{Frequency: "Hourly"}})
	assert.True(t, appErrors.IsValidation(err))

	c, err := h.campaignSvc.Create(ctx, &model.Campaign{Name: "x", Status: model.CampaignActive})
	require.NoError(t, err)
	assert.Equal(t, model.CampaignDraft, c.Status)
	assert.Equal(t, model.PhaseNone, c.ExecutionPhase)
	assert.Equal(t, model.CampaignTypeCriteria, c.Type)
}

func TestDuplicate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedAges(35)
	c := h.seedCampaign(t, ageOver(30), time.Now().Add(time.Hour))
	_, err := h.campaignSvc.TransitionToScheduled(ctx, c.ID)
	require.NoError(t, err)

	cp, err := h.campaignSvc.Duplicate(ctx, c.ID)
	require.NoError(t, err)
	assert.NotEqual(t, c.ID, cp.ID)
	assert.Equal(t, "Copy of Spring", cp.Name)
	assert.Equal(t, model.CampaignDraft, cp.Status)
	assert.Equal(t, model.PhaseNone, cp.ExecutionPhase)
	assert.Equal(t, c.TemplateID, cp.TemplateID)
	assert.Empty(t, h.recipients.All(cp.ID))
}

func TestDelete_RefusedWhilePending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedAges(35)
	c := h.seedCampaign(t, ageOver(30), time.Now().Add(time.Hour))
	_, err := h.campaignSvc.TransitionToScheduled(ctx, c.ID)
	require.NoError(t, err)

	err = h.campaignSvc.Delete(ctx, c.ID)
	var conflict *appErrors.ErrConflict
	require.ErrorAs(t, err, &conflict)

	require.NoError(t, h.recipients.MarkSent(ctx, c.ID, "email35@x.io", "m1", time.Now()))
	require.NoError(t, h.campaignSvc.Delete(ctx, c.ID))

	_, err = h.campaignSvc.Get(ctx, c.ID)
	assert.True(t, appErrors.IsNotFound(err))
	assert.Empty(t, h.recipients.All(c.ID))
}

func TestGetWithStats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedAges(35, 45, 55)
	c := h.seedCampaign(t, ageOver(30), time.Now().Add(time.Hour))
	_, err := h.campaignSvc.TransitionToScheduled(ctx, c.ID)
	require.NoError(t, err)

	require.NoError(t, h.recipients.MarkSent(ctx, c.ID, "email35@x.io", "m1", time.Now()))
	require.NoError(t, h.recipients.MarkFailed(ctx, c.ID, "email45@x.io", "mailbox unavailable"))

	details, err := h.campaignSvc.GetWithStats(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, details.Campaign.ID)
	assert.Equal(t, 3, details.Stats["total"])
	assert.Equal(t, 1, details.Stats["sent"])
	assert.Equal(t, 1, details.Stats["failed"])
	assert.Equal(t, 1, details.Stats["pending"])
}

// interleave runs fn once, at the first call to run.
type interleave struct {
	fired bool
	fn    func()
}

func (i *interleave) run() {
	if i.fired {
		return
	}
	i.fired = true
	i.fn()
}

// insertHookRecipients runs a callback after the first InsertPending.
type insertHookRecipients struct {
	*memory.RecipientStore
	hook *interleave
}

func (r *insertHookRecipients) InsertPending(ctx context.Context, campaignID string, emails []string) (int, error) {
	n, err := r.RecipientStore.InsertPending(ctx, campaignID, emails)
	r.hook.run()
	return n, err
}

// claimHookCampaigns runs a callback before the first ClaimEnqueue.
type claimHookCampaigns struct {
	*memory.CampaignStore
	hook *interleave
}

func (s *claimHookCampaigns) ClaimEnqueue(ctx context.Context, id string) (model.ExecutionPhase, bool, error) {
	s.hook.run()
	return s.CampaignStore.ClaimEnqueue(ctx, id)
}

func assertScheduledOnce(t *testing.T, h *harness, id string) {
	t.Helper()
	got, err := h.campaigns.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignScheduled, got.Status)
	assert.Equal(t, model.PhaseEnqueued, got.ExecutionPhase)

	pending, err := h.recipients.CountPending(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 2, pending)
	assert.Len(t, h.queue.Jobs(), 2, "every pending recipient has a job")
	assert.Equal(t, 1, h.renderer.Calls())
}

func TestTransitionToScheduled_CallDuringSnapshotIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedAges(25, 35, 45)
	c := h.seedCampaign(t, ageOver(30), time.Now().Add(time.Hour))

	var second error
	hook := &interleave{fn: func() {
		_, second = h.campaignSvc.TransitionToScheduled(ctx, c.ID)
	}}
	h.snapshots.Recipients = &insertHookRecipients{RecipientStore: h.recipients, hook: hook}

	_, err := h.campaignSvc.TransitionToScheduled(ctx, c.ID)
	require.NoError(t, err)
	require.True(t, hook.fired)

	var invalid *appErrors.InvalidStateTransitionError
	require.ErrorAs(t, second, &invalid)
	assertScheduledOnce(t, h, c.ID)
}

func TestTransitionToScheduled_CallBeforeEnqueueClaimTakesOver(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedAges(25, 35, 45)
	c := h.seedCampaign(t, ageOver(30), time.Now().Add(time.Hour))

	var second error
	hook := &interleave{fn: func() {
		_, second = h.campaignSvc.TransitionToScheduled(ctx, c.ID)
	}}
	h.enqueuer.Campaigns = &claimHookCampaigns{CampaignStore: h.campaigns, hook: hook}

	_, first := h.campaignSvc.TransitionToScheduled(ctx, c.ID)
	require.True(t, hook.fired)

	// the second call snapshots again and enqueues; the first loses its claim
	require.NoError(t, second)
	var invalid *appErrors.InvalidStateTransitionError
	require.ErrorAs(t, first, &invalid)
	assertScheduledOnce(t, h, c.ID)
}

func TestTransitionToScheduled_ConcurrentCallers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedAges(25, 35, 45)
	c := h.seedCampaign(t, ageOver(30), time.Now().Add(time.Hour))

	const callers = 8
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = h.campaignSvc.TransitionToScheduled(ctx, c.ID)
		}(i)
	}
	close(start)
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		var invalid *appErrors.InvalidStateTransitionError
		assert.ErrorAs(t, err, &invalid)
	}
	assert.Equal(t, 1, won)
	assertScheduledOnce(t, h, c.ID)
}
