package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/metrics"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
	"github.com/unclebandit/campaign-dispatch/internal/sender"
)

// RateLimiter caps sends per sender. Allow returns a RateLimitedError when
// the cap is reached.
type RateLimiter interface {
	Allow(ctx context.Context, sender string) error
}

// Deduplicator claims idempotency keys. Claim reports false when the key was
// already claimed.
type Deduplicator interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// rateLimitRetry is how long a rate limited job waits before it is retried.
const rateLimitRetry = time.Second

// DispatchWorker sends one email per dispatch job.
type DispatchWorker struct {
	Limiter    RateLimiter
	Dedup      Deduplicator
	Sender     sender.Sender
	Recipients repository.RecipientRepositoryInterface
	Queue      queue.Queue
	// DeadLetter receives jobs that ran out of attempts. Optional.
	DeadLetter queue.DeadLetter
	// SenderID is the rate limit bucket for jobs without a From address.
	SenderID string
	Metrics  *metrics.Metrics
	Log      zerolog.Logger
	Now      func() time.Time
}

func (w *DispatchWorker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// Process runs one job: rate limit, dedup claim, send, record. Duplicates
// and permanent send failures complete without error. Rate limiting and
// transient send failures return an error so the queue retries; a transient
// failure first releases the dedup claim so the retry can send.
func (w *DispatchWorker) Process(ctx context.Context, job model.DispatchJob) (model.DispatchResult, error) {
	started := w.now()
	log := w.Log.With().
		Str("campaign_id", job.CampaignID).
		Str("idempotency_key", job.IdempotencyKey).
		Logger()

	bucket := job.From
	if bucket == "" {
		bucket = w.SenderID
	}
	if err := w.Limiter.Allow(ctx, bucket); err != nil {
		w.Metrics.Dispatched(metrics.OutcomeRateLimited, w.now().Sub(started))
		return model.DispatchResult{}, err
	}

	claimed, err := w.Dedup.Claim(ctx, job.IdempotencyKey)
	if err != nil {
		return model.DispatchResult{}, fmt.Errorf("claim %s: %w", job.IdempotencyKey, err)
	}
	if !claimed {
		log.Info().Msg("duplicate dispatch job, skipping")
		w.Metrics.Dispatched(metrics.OutcomeSkipped, w.now().Sub(started))
		return model.DispatchResult{Skipped: true, Reason: "duplicate"}, nil
	}

	res, err := w.Sender.Send(ctx, sender.Message{
		From:    job.From,
		To:      job.To,
		Subject: job.Subject,
		HTML:    job.HTML,
		Text:    job.Text,
		Tags:    map[string]string{"campaign": job.CampaignID},
	})
	if err != nil {
		if sender.IsPermanent(err) {
			log.Warn().Err(err).Str("to", job.To).Msg("permanent send failure")
			if markErr := w.Recipients.MarkFailed(ctx, job.CampaignID, job.To, err.Error()); markErr != nil {
				log.Error().Err(markErr).Msg("failed to mark recipient failed")
			}
			w.Metrics.Dispatched(metrics.OutcomeFailed, w.now().Sub(started))
			return model.DispatchResult{Failed: true, Reason: err.Error()}, nil
		}

		if relErr := w.Dedup.Release(ctx, job.IdempotencyKey); relErr != nil {
			log.Error().Err(relErr).Msg("failed to release dedup claim")
		}
		w.Metrics.Dispatched(metrics.OutcomeTransient, w.now().Sub(started))
		return model.DispatchResult{}, fmt.Errorf("send to %s: %w", job.To, err)
	}

	// The email is out; a failed write must not trigger a resend.
	if err := w.Recipients.MarkSent(ctx, job.CampaignID, job.To, res.MessageID, w.now().UTC()); err != nil {
		log.Error().Err(err).Str("message_id", res.MessageID).Msg("sent but failed to mark recipient")
	}
	w.Metrics.Dispatched(metrics.OutcomeSent, w.now().Sub(started))
	log.Debug().Str("message_id", res.MessageID).Msg("email sent")
	return model.DispatchResult{Sent: true, MessageID: res.MessageID}, nil
}

// Handle adapts Process to the queue. Rate limited jobs are deferred without
// spending an attempt.
func (w *DispatchWorker) Handle(ctx context.Context, job *queue.Job) error {
	_, err := w.Process(ctx, job.Payload)
	var limited *appErrors.RateLimitedError
	if errors.As(err, &limited) {
		return queue.Defer(err, rateLimitRetry)
	}
	return err
}

// HandleExhausted marks the recipient failed and dead-letters the job. It is
// installed as the queue's exhausted hook.
func (w *DispatchWorker) HandleExhausted(ctx context.Context, job *queue.Job, err error) {
	reason := "retries exhausted"
	if err != nil {
		reason = fmt.Sprintf("retries exhausted: %v", err)
	}
	p := job.Payload
	if markErr := w.Recipients.MarkFailed(ctx, p.CampaignID, p.To, reason); markErr != nil {
		w.Log.Error().Err(markErr).Str("idempotency_key", p.IdempotencyKey).Msg("failed to mark exhausted recipient")
	}
	w.Metrics.Exhausted()
	if w.DeadLetter == nil {
		return
	}
	if dlErr := w.DeadLetter.Publish(ctx, job, reason); dlErr != nil {
		w.Log.Error().Err(dlErr).Str("job_id", job.ID).Msg("failed to publish dead letter")
	}
}

// Run consumes the queue until ctx is cancelled.
func (w *DispatchWorker) Run(ctx context.Context) error {
	w.Log.Info().Str("sender", w.SenderID).Msg("dispatch worker started")
	err := w.Queue.Consume(ctx, w.Handle)
	w.Log.Info().Msg("dispatch worker stopped")
	return err
}
