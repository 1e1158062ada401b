package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/repository/memory"
)

func TestSnapshot_TwiceWritesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedAges(25, 35, 45, 55)

	n, err := h.snapshots.Snapshot(ctx, "c1", ageOver(30))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = h.snapshots.Snapshot(ctx, "c1", ageOver(30))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, h.recipients.All("c1"), 3)

	for _, r := range h.recipients.All("c1") {
		assert.Equal(t, model.RecipientPending, r.Status)
	}
}

func TestSnapshot_DuplicateAddressesCollapse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.audience.Add(
		model.AudienceMember{Email: "Ada@X.io", Age: intPtr(40)},
		model.AudienceMember{Email: "ada@x.io ", Age: intPtr(41)},
		model.AudienceMember{Email: "bob@x.io", Age: intPtr(50)},
	)

	n, err := h.snapshots.Snapshot(ctx, "c1", ageOver(30))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	emails := []string{}
	for _, r := range h.recipients.All("c1") {
		emails = append(emails, r.Email)
	}
	assert.ElementsMatch(t, []string{"ada@x.io", "bob@x.io"}, emails)
}

func TestSnapshot_PurgeThenSnapshot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedAges(35)

	_, err := h.snapshots.Snapshot(ctx, "c1", ageOver(30))
	require.NoError(t, err)
	removed, err := h.snapshots.Purge(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	n, err := h.snapshots.Snapshot(ctx, "c1", ageOver(30))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSnapshot_InvalidFilter(t *testing.T) {
	h := newHarness(t)
	expr := ageOver(30)
	expr.Conditions[0].Criteria[0].Field = "shoeSize"

	_, err := h.snapshots.Snapshot(context.Background(), "c1", expr)
	var unknown *appErrors.UnknownFieldError
	assert.ErrorAs(t, err, &unknown)
}

func TestEnqueue_SecondCallIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedAges(35, 45)
	c := h.seedCampaign(t, ageOver(30), time.Now().Add(time.Hour))
	_, err := h.snapshots.Snapshot(ctx, c.ID, ageOver(30))
	require.NoError(t, err)
	h.markSnapshotted(t, c.ID)

	res, err := h.enqueuer.Enqueue(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Enqueued)
	assert.False(t, res.AlreadyEnqueued)

	res, err = h.enqueuer.Enqueue(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, res.AlreadyEnqueued)
	assert.Zero(t, res.Enqueued)

	assert.Len(t, h.queue.Jobs(), 2)
	assert.Equal(t, 1, h.renderer.Calls())

	got, err := h.campaigns.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignScheduled, got.Status)
}

func TestEnqueue_FailureReleasesClaim(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedAges(35, 45, 55)
	c := h.seedCampaign(t, ageOver(30), time.Now().Add(time.Hour))
	_, err := h.snapshots.Snapshot(ctx, c.ID, ageOver(30))
	require.NoError(t, err)
	h.markSnapshotted(t, c.ID)

	flaky := &flakyQueue{InMemoryQueue: h.queue, failAfter: 1}
	h.enqueuer.Queue = flaky

	res, err := h.enqueuer.Enqueue(ctx, c.ID)
	require.Error(t, err)
	assert.Equal(t, 1, res.Enqueued)

	got, err := h.campaigns.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseSnapshotted, got.ExecutionPhase)
	assert.Equal(t, model.CampaignDraft, got.Status)

	flaky.failAfter = -1
	res, err = h.enqueuer.Enqueue(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Enqueued)
	// the job enqueued before the failure is a duplicate the worker will skip
	assert.Len(t, h.queue.Jobs(), 4)
}

func TestEnqueue_PreconditionsBeforeClaim(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.seedCampaign(t, ageOver(30), time.Now().Add(-time.Hour))

	_, err := h.enqueuer.Enqueue(ctx, c.ID)
	var past *appErrors.ScheduleInPastError
	require.ErrorAs(t, err, &past)

	got, err := h.campaigns.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, got.ExecutionEnqueued())
}

func TestEnqueue_RequiresSnapshot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedAges(35)
	c := h.seedCampaign(t, ageOver(30), time.Now().Add(time.Hour))
	_, err := h.snapshots.Snapshot(ctx, c.ID, ageOver(30))
	require.NoError(t, err)

	_, err = h.enqueuer.Enqueue(ctx, c.ID)
	var invalid *appErrors.InvalidStateTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Empty(t, h.queue.Jobs())
	assert.Zero(t, h.renderer.Calls())

	claimed, err := h.campaigns.ClaimSnapshot(ctx, c.ID, time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)
	_, err = h.enqueuer.Enqueue(ctx, c.ID)
	require.ErrorAs(t, err, &invalid, "a snapshot in progress is not enqueued")
	assert.Empty(t, h.queue.Jobs())
}

// failingStatusStore fails status writes until failures of them have failed.
type failingStatusStore struct {
	*memory.CampaignStore
	mu       sync.Mutex
	failures int
	writes   int
}

func (s *failingStatusStore) TransitionStatus(ctx context.Context, id string, from []model.CampaignStatus, to model.CampaignStatus) (bool, error) {
	s.mu.Lock()
	s.writes++
	fail := s.writes <= s.failures
	s.mu.Unlock()
	if fail {
		return false, errors.New("connection reset")
	}
	return s.CampaignStore.TransitionStatus(ctx, id, from, to)
}

func TestEnqueue_RetriesStatusWrite(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedAges(35, 45)
	c := h.seedCampaign(t, ageOver(30), time.Now().Add(time.Hour))
	_, err := h.snapshots.Snapshot(ctx, c.ID, ageOver(30))
	require.NoError(t, err)
	h.markSnapshotted(t, c.ID)

	store := &failingStatusStore{CampaignStore: h.campaigns, failures: 1}
	h.enqueuer.Campaigns = store

	res, err := h.enqueuer.Enqueue(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Enqueued)
	assert.Equal(t, 2, store.writes)

	got, err := h.campaigns.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignScheduled, got.Status)
	assert.Equal(t, model.PhaseEnqueued, got.ExecutionPhase)
}

func TestEnqueue_StatusWriteKeepsFailing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedAges(35, 45)
	c := h.seedCampaign(t, ageOver(30), time.Now().Add(time.Hour))
	_, err := h.snapshots.Snapshot(ctx, c.ID, ageOver(30))
	require.NoError(t, err)
	h.markSnapshotted(t, c.ID)

	store := &failingStatusStore{CampaignStore: h.campaigns, failures: 100}
	h.enqueuer.Campaigns = store

	res, err := h.enqueuer.Enqueue(ctx, c.ID)
	require.Error(t, err)
	assert.Equal(t, 2, res.Enqueued)
	assert.Equal(t, 3, store.writes)

	// the jobs are out, so the claim is kept and a retry enqueues nothing
	got, err := h.campaigns.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseEnqueued, got.ExecutionPhase)
	assert.Len(t, h.queue.Jobs(), 2)
}

func TestEnqueue_UnknownCampaign(t *testing.T) {
	h := newHarness(t)
	_, err := h.enqueuer.Enqueue(context.Background(), "missing")
	assert.True(t, appErrors.IsNotFound(err))
}

func TestClaimSnapshot_StaleClaimIsTakenOver(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.seedCampaign(t, ageOver(30), time.Now().Add(time.Hour))

	ok, err := h.campaigns.ClaimSnapshot(ctx, c.ID, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = h.campaigns.ClaimSnapshot(ctx, c.ID, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = h.campaigns.ClaimSnapshot(ctx, c.ID, 0)
	require.NoError(t, err)
	assert.True(t, ok, "a claim older than staleAfter can be taken")

	require.NoError(t, h.campaigns.ReleaseSnapshot(ctx, c.ID))
	got, err := h.campaigns.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseNone, got.ExecutionPhase)
}
