package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SlidingWindow implements a distributed sliding-window rate limiter using a
// Redis sorted set per category. Each reservation records its timestamp;
// entries older than the window fall out, so the limit applies to any
// rolling window rather than fixed minute boundaries.
type SlidingWindow struct {
	client *redis.Client
	window time.Duration
	limits map[string]int
}

// NewSlidingWindow constructs a limiter with per-category requests-per-window
// limits. Categories without an entry are unlimited.
func NewSlidingWindow(client *redis.Client, window time.Duration, limits map[string]int) *SlidingWindow {
	if window <= 0 {
		window = time.Minute
	}
	return &SlidingWindow{
		client: client,
		window: window,
		limits: limits,
	}
}

func (l *SlidingWindow) key(category string) string {
	return "ratelimit:" + category
}

// Reserve attempts to claim a slot for the category. It returns whether the
// slot was granted and, if not, how long until the oldest entry expires.
func (l *SlidingWindow) Reserve(ctx context.Context, category string) (bool, time.Duration, error) {
	limit, ok := l.limits[category]
	if !ok || limit <= 0 {
		return true, 0, nil
	}

	res, err := reserveScript.Run(ctx, l.client, []string{l.key(category)},
		time.Now().UnixMilli(), l.window.Milliseconds(), limit, uuid.NewString(),
	).Result()
	if err != nil {
		return false, 0, err
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return false, 0, fmt.Errorf("unexpected reply from reserve script: %T", res)
	}
	allowed := arr[0].(int64) == 1
	if allowed {
		return true, 0, nil
	}
	waitMS, _ := arr[1].(int64)
	if waitMS < 0 {
		waitMS = 0
	}
	return false, time.Duration(waitMS) * time.Millisecond, nil
}

// Wait blocks until a slot is granted or ctx is done. Workers call it right
// before each backend request, so a burst of queued tasks drains at the
// configured rate instead of hammering the provider.
func (l *SlidingWindow) Wait(ctx context.Context, category string) error {
	for {
		allowed, retryAfter, err := l.Reserve(ctx, category)
		if err != nil {
			return fmt.Errorf("failed to reserve rate limit slot: %w", err)
		}
		if allowed {
			return nil
		}
		if retryAfter < 50*time.Millisecond {
			retryAfter = 50 * time.Millisecond
		}
		timer := time.NewTimer(retryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

var reserveScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < limit then
  redis.call('ZADD', key, now, ARGV[4])
  redis.call('PEXPIRE', key, window)
  return {1, 0}
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local wait = (tonumber(oldest[2]) + window) - now
return {0, wait}
`)
