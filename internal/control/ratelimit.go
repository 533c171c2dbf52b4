package control

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"solana-signal-lab/internal/domain"
	"solana-signal-lab/internal/observability"
)

// KEYS[1] window key
// ARGV: now_ms, window_ms, max, member
var slidingWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
local count = redis.call('ZCARD', KEYS[1])
local allowed = 0
if count < limit then
  redis.call('ZADD', KEYS[1], now, ARGV[4])
  count = count + 1
  allowed = 1
end
redis.call('PEXPIRE', KEYS[1], window)
local reset = now + window
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
if oldest[2] then
  reset = tonumber(oldest[2]) + window
end
return {allowed, limit - count, reset}
`)

// RateResult is the outcome of one sliding-window check.
type RateResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time // when the oldest counted call leaves the window
}

// RetryAfter returns how long to wait before the next call can succeed.
func (r RateResult) RetryAfter(now time.Time) time.Duration {
	if r.Allowed || !r.ResetAt.After(now) {
		return 0
	}
	return r.ResetAt.Sub(now)
}

// SlidingWindow is a distributed sliding-window limiter: at most max calls per
// key within any window of the configured length, across all processes.
type SlidingWindow struct {
	store *Store
	now   func() time.Time
}

// NewSlidingWindow creates a limiter on store.
func NewSlidingWindow(store *Store) *SlidingWindow {
	return &SlidingWindow{store: store, now: time.Now}
}

// Check counts one call against key and reports whether it is allowed.
func (w *SlidingWindow) Check(ctx context.Context, key string, window time.Duration, max int) (RateResult, error) {
	if window <= 0 || max < 1 {
		return RateResult{}, fmt.Errorf("sliding window %s: invalid window=%s max=%d", key, window, max)
	}

	now := w.now()
	nowMs := now.UnixMilli()
	member := fmt.Sprintf("%d-%s", nowMs, uuid.NewString())

	ctx, cancel := w.store.withTimeout(ctx)
	defer cancel()

	res, err := slidingWindowScript.Run(ctx, w.store.client,
		[]string{w.store.Key("rl", key)},
		nowMs, window.Milliseconds(), max, member,
	).Int64Slice()
	if err != nil {
		return RateResult{}, unavailable("sliding window "+key, err)
	}
	if len(res) != 3 {
		return RateResult{}, fmt.Errorf("sliding window %s: unexpected reply length %d", key, len(res))
	}

	result := RateResult{
		Allowed:   res[0] == 1,
		Remaining: int(res[1]),
		ResetAt:   time.UnixMilli(res[2]),
	}
	observability.RecordRateLimitDecision(key, result.Allowed)
	return result, nil
}

// Allow is Check that turns a denial into a *domain.RateLimitedError.
func (w *SlidingWindow) Allow(ctx context.Context, key string, window time.Duration, max int) error {
	res, err := w.Check(ctx, key, window, max)
	if err != nil {
		return err
	}
	if !res.Allowed {
		return &domain.RateLimitedError{Key: key, RetryAfter: res.RetryAfter(w.now())}
	}
	return nil
}
