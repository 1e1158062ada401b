package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// InMemoryQueue is an in-process delayed queue with retry. Jobs are lost on
// restart, so it serves tests and single-process local runs.
type InMemoryQueue struct {
	mu       sync.Mutex
	waiting  map[string]*Job
	dead     []*Job
	policy   Policy
	log      zerolog.Logger
	interval time.Duration
	now      func() time.Time
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue(policy Policy, log zerolog.Logger) *InMemoryQueue {
	return &InMemoryQueue{
		waiting:  make(map[string]*Job),
		policy:   policy.withDefaults(),
		log:      log.With().Str("component", "memory_queue").Logger(),
		interval: 100 * time.Millisecond,
		now:      time.Now,
	}
}

func (q *InMemoryQueue) Enqueue(_ context.Context, payload model.DispatchJob, opts EnqueueOptions) (string, error) {
	now := q.now()
	job := &Job{
		ID:          uuid.NewString(),
		Payload:     payload,
		MaxAttempts: q.policy.MaxAttempts,
		RunAt:       now.Add(opts.Delay),
		CreatedAt:   now,
	}
	q.mu.Lock()
	q.waiting[job.ID] = job
	q.mu.Unlock()
	return job.ID, nil
}

// OnExhausted replaces the policy's exhausted hook. Call it before Consume.
func (q *InMemoryQueue) OnExhausted(fn ExhaustedFunc) {
	q.policy.OnExhausted = fn
}

// Jobs returns copies of the jobs still waiting, ordered by due time.
func (q *InMemoryQueue) Jobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, 0, len(q.waiting))
	for _, j := range q.waiting {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].RunAt.Equal(out[k].RunAt) {
			return out[i].Payload.IdempotencyKey < out[k].Payload.IdempotencyKey
		}
		return out[i].RunAt.Before(out[k].RunAt)
	})
	return out
}

// Dead returns the jobs that exhausted their attempts.
func (q *InMemoryQueue) Dead() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, len(q.dead))
	for i, j := range q.dead {
		out[i] = *j
	}
	return out
}

// ProcessDue delivers every job due at now and returns how many ran. Each job
// is removed from the waiting set before its handler runs, so a job is never
// handed to two consumers at once.
func (q *InMemoryQueue) ProcessDue(ctx context.Context, h Handler, now time.Time) int {
	q.mu.Lock()
	due := make([]*Job, 0)
	for id, j := range q.waiting {
		if !j.RunAt.After(now) {
			due = append(due, j)
			delete(q.waiting, id)
		}
	}
	q.mu.Unlock()
	sort.Slice(due, func(i, k int) bool { return due[i].RunAt.Before(due[k].RunAt) })

	for _, job := range due {
		q.processJob(ctx, h, job, now)
	}
	return len(due)
}

// processJob handles retries and errors
func (q *InMemoryQueue) processJob(ctx context.Context, h Handler, job *Job, now time.Time) {
	err := h(ctx, job)
	if err == nil {
		return // ACK
	}

	if q.policy.fail(job, err, now) {
		q.log.Warn().Err(err).Str("job_id", job.ID).Int("attempt", job.Attempts).
			Time("retry_at", job.RunAt).Msg("job failed, retrying")
		q.mu.Lock()
		q.waiting[job.ID] = job
		q.mu.Unlock()
		return
	}

	q.log.Error().Err(err).Str("job_id", job.ID).Int("attempts", job.Attempts).Msg("job permanently failed")
	q.mu.Lock()
	q.dead = append(q.dead, job)
	q.mu.Unlock()
	q.policy.exhausted(ctx, job, err)
}

func (q *InMemoryQueue) Consume(ctx context.Context, h Handler) error {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()
	for {
		q.ProcessDue(ctx, h, q.now())
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

var _ Queue = (*InMemoryQueue)(nil)
