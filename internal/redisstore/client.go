// Package redisstore holds the Redis backed pieces shared by every dispatch
// worker: the per-sender rate limiter and the idempotency dedup table.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewClient connects to the Redis at url and pings it.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

const (
	rateLimitPrefix = "ratelimit:"
	dedupPrefix     = "dedupe:"
)

func rateLimitKey(sender string) string { return rateLimitPrefix + sender }

func dedupKey(idempotencyKey string) string { return dedupPrefix + idempotencyKey }
