package queue

import (
	"context"
	"errors"
	"time"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// Job is a dispatch payload plus the delivery bookkeeping the broker keeps
// for it. ID is broker-assigned and unrelated to the payload's
// idempotency key.
type Job struct {
	ID          string            `json:"id"`
	Payload     model.DispatchJob `json:"payload"`
	Attempts    int               `json:"attempts"`
	MaxAttempts int               `json:"maxAttempts"`
	RunAt       time.Time         `json:"runAt"`
	LastError   string            `json:"lastError,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// Handler processes one delivery. A nil return completes the job; an error
// schedules a retry until the attempt budget runs out.
type Handler func(ctx context.Context, job *Job) error

type EnqueueOptions struct {
	// Delay before the job becomes visible to consumers. Zero means now.
	Delay time.Duration
}

// Queue interface
type Queue interface {
	Enqueue(ctx context.Context, payload model.DispatchJob, opts EnqueueOptions) (string, error)
	// Consume delivers due jobs to h until ctx is cancelled.
	Consume(ctx context.Context, h Handler) error
}

const DefaultMaxAttempts = 5

// ExhaustedFunc is called once when a job fails its last attempt.
type ExhaustedFunc func(ctx context.Context, job *Job, err error)

// Policy is the retry policy shared by every queue implementation.
type Policy struct {
	MaxAttempts int
	Backoff     Backoff
	OnExhausted ExhaustedFunc
}

// DefaultPolicy retries five times with exponential backoff from one second.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     NewExponential(time.Second, 10*time.Minute),
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Backoff == nil {
		p.Backoff = NewExponential(time.Second, 10*time.Minute)
	}
	return p
}

// DeferError asks the queue to run the job again after a fixed delay without
// spending one of its attempts. Handlers return it for back-pressure such as
// rate limiting.
type DeferError struct {
	After time.Duration
	Err   error
}

func (e *DeferError) Error() string { return e.Err.Error() }
func (e *DeferError) Unwrap() error { return e.Err }

func Defer(err error, after time.Duration) error {
	return &DeferError{After: after, Err: err}
}

// fail records a failed delivery on job. It returns true when the job should
// be retried, with job.RunAt moved to the next attempt time.
func (p Policy) fail(job *Job, err error, now time.Time) bool {
	job.LastError = err.Error()
	var deferred *DeferError
	if errors.As(err, &deferred) {
		job.RunAt = now.Add(deferred.After)
		return true
	}
	job.Attempts++
	limit := job.MaxAttempts
	if limit <= 0 {
		limit = p.MaxAttempts
	}
	if job.Attempts >= limit {
		return false
	}
	job.RunAt = now.Add(p.Backoff.Delay(job.Attempts))
	return true
}

func (p Policy) exhausted(ctx context.Context, job *Job, err error) {
	if p.OnExhausted != nil {
		p.OnExhausted(ctx, job, err)
	}
}
