package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
)

// DefaultSendsPerSecond is the per-sender cap when none is configured.
const DefaultSendsPerSecond = 5

// The counter expires one window after its first increment, so the window
// is fixed rather than sliding.
const incrWindowScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
    redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`

// RateLimiter is a fixed-window counter per sender. INCR and the expiry run
// in one script, so concurrent workers never race on the window.
type RateLimiter struct {
	client *redis.Client
	script *redis.Script
	limit  int64
	window time.Duration
}

func NewRateLimiter(client *redis.Client, perSecond int) *RateLimiter {
	if perSecond <= 0 {
		perSecond = DefaultSendsPerSecond
	}
	return &RateLimiter{
		client: client,
		script: redis.NewScript(incrWindowScript),
		limit:  int64(perSecond),
		window: time.Second,
	}
}

// Allow counts one send for sender. Over the cap it returns a
// *appErrors.RateLimitedError, which the queue treats as retryable.
func (l *RateLimiter) Allow(ctx context.Context, sender string) error {
	count, err := l.script.Run(ctx, l.client, []string{rateLimitKey(sender)}, l.window.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("rate limit check for %s: %w", sender, err)
	}
	if count > l.limit {
		return appErrors.NewRateLimited(sender, count, l.limit)
	}
	return nil
}

func (l *RateLimiter) Limit() int64 { return l.limit }
