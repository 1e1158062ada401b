package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-dispatch/internal/filter"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
	"github.com/unclebandit/campaign-dispatch/internal/repository/memory"
	"github.com/unclebandit/campaign-dispatch/internal/sender"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

// countingRenderer counts Render calls on top of the liquid renderer.
type countingRenderer struct {
	mu    sync.Mutex
	inner *service.TemplateRenderer
	calls int
}

func (r *countingRenderer) Render(t *model.Template, data map[string]any) (service.Rendered, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return r.inner.Render(t, data)
}

func (r *countingRenderer) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// recordingSender records every message and fails with errs in order.
type recordingSender struct {
	mu   sync.Mutex
	sent []sender.Message
	errs []error
}

func (s *recordingSender) Send(_ context.Context, msg sender.Message) (sender.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return sender.Result{}, err
		}
	}
	s.sent = append(s.sent, msg)
	return sender.Result{MessageID: fmt.Sprintf("msg-%d", len(s.sent))}, nil
}

func (s *recordingSender) Sent() []sender.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sender.Message(nil), s.sent...)
}

// flakyQueue fails every enqueue after the first failAfter.
type flakyQueue struct {
	*queue.InMemoryQueue
	failAfter int
	calls     int
}

func (q *flakyQueue) Enqueue(ctx context.Context, job model.DispatchJob, opts queue.EnqueueOptions) (string, error) {
	q.calls++
	if q.failAfter >= 0 && q.calls > q.failAfter {
		return "", fmt.Errorf("queue unavailable")
	}
	return q.InMemoryQueue.Enqueue(ctx, job, opts)
}

type harness struct {
	audience   *memory.AudienceStore
	campaigns  *memory.CampaignStore
	recipients *memory.RecipientStore
	templates  *memory.TemplateStore
	filters    *memory.AudienceFilterStore
	queue      *queue.InMemoryQueue
	renderer   *countingRenderer

	audienceSvc *service.AudienceService
	snapshots   *service.SnapshotService
	enqueuer    *service.EnqueueService
	campaignSvc *service.CampaignService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zerolog.Nop()
	h := &harness{
		audience:   &memory.AudienceStore{},
		campaigns:  memory.NewCampaignStore(),
		recipients: &memory.RecipientStore{},
		templates:  memory.NewTemplateStore(),
		filters:    memory.NewAudienceFilterStore(),
		queue:      queue.NewInMemoryQueue(queue.DefaultPolicy(), log),
		renderer:   &countingRenderer{inner: service.NewTemplateRenderer()},
	}
	h.audienceSvc = service.NewAudienceService(h.audience, nil)
	h.snapshots = &service.SnapshotService{Audience: h.audienceSvc, Recipients: h.recipients, Log: log}
	h.enqueuer = &service.EnqueueService{
		Campaigns:  h.campaigns,
		Templates:  h.templates,
		Recipients: h.recipients,
		Queue:      h.queue,
		Renderer:   h.renderer,
		From:       "news@shop.io",
		Log:        log,
	}
	h.campaignSvc = &service.CampaignService{
		Campaigns:  h.campaigns,
		Filters:    h.filters,
		Templates:  h.templates,
		Recipients: h.recipients,
		Audience:   h.audienceSvc,
		Snapshots:  h.snapshots,
		Enqueuer:   h.enqueuer,
		Log:        log,
	}
	return h
}

func intPtr(n int) *int       { return &n }
func strPtr(s string) *string { return &s }

func ageOver(n int) filter.Expression {
	return filter.Expression{
		Conditions: []filter.Group{{
			GroupOperator: filter.AND,
			Criteria:      []filter.Criterion{{Field: "age", Operator: "greaterThan", Value: n}},
		}},
		LogicalOperator: filter.AND,
	}
}

// seedCampaign stores a filter, a template and a Draft campaign starting at
// start. It returns the campaign.
func (h *harness) seedCampaign(t *testing.T, expr filter.Expression, start time.Time) *model.Campaign {
	t.Helper()
	ctx := context.Background()

	f := &model.AudienceFilter{Name: "filter", Expression: expr}
	require.NoError(t, h.filters.Create(ctx, f))

	tmpl := &model.Template{Name: "Spring", Subject: "Hello from {{ campaign.name }}", Content: "<p>Spring sale</p>"}
	require.NoError(t, h.templates.Save(ctx, tmpl))

	c, err := h.campaignSvc.Create(ctx, &model.Campaign{
		Name:             "Spring",
		AudienceFilterID: &f.ID,
		TemplateID:       &tmpl.ID,
		Schedule:         &model.Schedule{Frequency: "Once", StartDate: &start},
	})
	require.NoError(t, err)
	return c
}

// markSnapshotted moves a campaign through the snapshot claim without
// touching its recipients.
func (h *harness) markSnapshotted(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	claimed, err := h.campaigns.ClaimSnapshot(ctx, id, time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)
	marked, err := h.campaigns.MarkSnapshotted(ctx, id, "hash")
	require.NoError(t, err)
	require.True(t, marked)
}

func (h *harness) seedAges(ages ...int) {
	for _, a := range ages {
		h.audience.Add(model.AudienceMember{Email: fmt.Sprintf("email%d@x.io", a), Age: intPtr(a)})
	}
}
