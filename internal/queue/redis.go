package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// Redis key naming conventions. All keys are prefixed with "dispatch:".
const keyPrefix = "dispatch:"

// jobKey returns the key for a job entity: dispatch:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// waitingKey is the Sorted Set of waiting job ids scored by due time (ms).
func waitingKey(name string) string { return keyPrefix + "queue:" + name }

// activeKey is the Sorted Set of claimed job ids scored by visibility deadline (ms).
func activeKey(name string) string { return keyPrefix + "active:" + name }

// claimScript moves up to ARGV[2] due ids from waiting to active. Both sets
// change inside one script, so a job is claimed by exactly one poller.
const claimScript = `
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
for _, id in ipairs(ids) do
    redis.call("ZREM", KEYS[1], id)
    redis.call("ZADD", KEYS[2], ARGV[3], id)
end
return ids
`

// reapScript returns active ids whose visibility deadline passed (their
// worker died mid-job) to the waiting set for redelivery.
const reapScript = `
local ids = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", ARGV[1])
for _, id in ipairs(ids) do
    redis.call("ZREM", KEYS[2], id)
    redis.call("ZADD", KEYS[1], ARGV[1], id)
end
return #ids
`

type RedisQueueConfig struct {
	Name         string
	PollInterval time.Duration
	BatchSize    int
	// Visibility is how long a claimed job may run before it is redelivered.
	Visibility time.Duration
}

// RedisQueue is a delayed queue shared by every worker process. Jobs are
// stored as JSON strings; a sorted set keyed by due time orders them.
type RedisQueue struct {
	client *redis.Client
	cfg    RedisQueueConfig
	policy Policy
	log    zerolog.Logger
	claim  *redis.Script
	reap   *redis.Script
	now    func() time.Time
}

func NewRedisQueue(client *redis.Client, cfg RedisQueueConfig, policy Policy, log zerolog.Logger) *RedisQueue {
	if cfg.Name == "" {
		cfg.Name = "campaign_dispatch"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Visibility <= 0 {
		cfg.Visibility = 2 * time.Minute
	}
	return &RedisQueue{
		client: client,
		cfg:    cfg,
		policy: policy.withDefaults(),
		log:    log.With().Str("component", "redis_queue").Str("queue", cfg.Name).Logger(),
		claim:  redis.NewScript(claimScript),
		reap:   redis.NewScript(reapScript),
		now:    time.Now,
	}
}

// OnExhausted replaces the policy's exhausted hook. Call it before Consume.
func (q *RedisQueue) OnExhausted(fn ExhaustedFunc) {
	q.policy.OnExhausted = fn
}

// Enqueue stores the job and adds it to the waiting set.
func (q *RedisQueue) Enqueue(ctx context.Context, payload model.DispatchJob, opts EnqueueOptions) (string, error) {
	now := q.now().UTC()
	job := &Job{
		ID:          uuid.NewString(),
		Payload:     payload,
		MaxAttempts: q.policy.MaxAttempts,
		RunAt:       now.Add(opts.Delay),
		CreatedAt:   now,
	}
	if err := q.save(ctx, job); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return job.ID, nil
}

func (q *RedisQueue) save(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	pipe := q.client.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), data, 0)
	pipe.ZRem(ctx, activeKey(q.cfg.Name), job.ID)
	pipe.ZAdd(ctx, waitingKey(q.cfg.Name), redis.Z{Score: float64(job.RunAt.UnixMilli()), Member: job.ID})
	_, err = pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) remove(ctx context.Context, id string) error {
	pipe := q.client.TxPipeline()
	pipe.Del(ctx, jobKey(id))
	pipe.ZRem(ctx, activeKey(q.cfg.Name), id)
	_, err := pipe.Exec(ctx)
	return err
}

// Pending reports how many jobs are waiting, due or not.
func (q *RedisQueue) Pending(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, waitingKey(q.cfg.Name)).Result()
}

// Get loads a stored job.
func (q *RedisQueue) Get(ctx context.Context, id string) (*Job, error) {
	data, err := q.client.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

// PollOnce reaps expired claims, claims one batch of due jobs and runs them.
// It returns the number of jobs handled.
func (q *RedisQueue) PollOnce(ctx context.Context, h Handler) (int, error) {
	now := q.now()
	keys := []string{waitingKey(q.cfg.Name), activeKey(q.cfg.Name)}

	if n, err := q.reap.Run(ctx, q.client, keys, now.UnixMilli()).Int(); err != nil {
		return 0, fmt.Errorf("reap expired jobs: %w", err)
	} else if n > 0 {
		q.log.Warn().Int("count", n).Msg("requeued jobs whose worker stopped responding")
	}

	deadline := now.Add(q.cfg.Visibility).UnixMilli()
	ids, err := q.claim.Run(ctx, q.client, keys, now.UnixMilli(), q.cfg.BatchSize, deadline).StringSlice()
	if err != nil {
		return 0, fmt.Errorf("claim due jobs: %w", err)
	}

	for _, id := range ids {
		job, err := q.Get(ctx, id)
		if errors.Is(err, redis.Nil) {
			q.client.ZRem(ctx, activeKey(q.cfg.Name), id)
			continue
		}
		if err != nil {
			return 0, err
		}
		q.processJob(ctx, h, job)
	}
	return len(ids), nil
}

func (q *RedisQueue) processJob(ctx context.Context, h Handler, job *Job) {
	err := h(ctx, job)
	if err == nil {
		if rmErr := q.remove(ctx, job.ID); rmErr != nil {
			q.log.Error().Err(rmErr).Str("job_id", job.ID).Msg("failed to ack job")
		}
		return
	}

	if q.policy.fail(job, err, q.now().UTC()) {
		q.log.Warn().Err(err).Str("job_id", job.ID).Int("attempt", job.Attempts).
			Time("retry_at", job.RunAt).Msg("job failed, retrying")
		if saveErr := q.save(ctx, job); saveErr != nil {
			q.log.Error().Err(saveErr).Str("job_id", job.ID).Msg("failed to reschedule job")
		}
		return
	}

	q.log.Error().Err(err).Str("job_id", job.ID).Int("attempts", job.Attempts).Msg("job permanently failed")
	if rmErr := q.remove(ctx, job.ID); rmErr != nil {
		q.log.Error().Err(rmErr).Str("job_id", job.ID).Msg("failed to drop exhausted job")
	}
	q.policy.exhausted(ctx, job, err)
}

func (q *RedisQueue) Consume(ctx context.Context, h Handler) error {
	q.log.Info().Dur("poll_interval", q.cfg.PollInterval).Msg("consuming")
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()
	for {
		n, err := q.PollOnce(ctx, h)
		if err != nil && ctx.Err() == nil {
			q.log.Error().Err(err).Msg("poll failed")
		}
		// keep draining while full batches come back
		if n == q.cfg.BatchSize && ctx.Err() == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

var _ Queue = (*RedisQueue)(nil)
