package control

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"solana-signal-lab/internal/domain"
	"solana-signal-lab/internal/observability"
)

// KEYS[1] bucket hash {tokens, ts}
// ARGV: capacity, refill_per_sec, now_ms, cost, ttl_ms
var tokenBucketScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now
end
local elapsed = math.max(0, now - ts) / 1000
tokens = math.min(capacity, tokens + elapsed * rate)
local allowed = 0
local retry = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
else
  retry = math.ceil((cost - tokens) / rate * 1000)
end
redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', tostring(now))
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return {allowed, tostring(tokens), retry}
`)

// BucketResult is the outcome of one token bucket take.
type BucketResult struct {
	Allowed    bool
	Tokens     float64 // tokens left after the take
	RetryAfter time.Duration
}

// TokenBucket is a distributed token bucket. Tokens refill continuously and
// never exceed capacity.
type TokenBucket struct {
	store *Store
	now   func() time.Time
}

// NewTokenBucket creates a bucket limiter on store.
func NewTokenBucket(store *Store) *TokenBucket {
	return &TokenBucket{store: store, now: time.Now}
}

// Take removes cost tokens from the bucket at key if available.
func (b *TokenBucket) Take(ctx context.Context, key string, capacity, refillPerSecond, cost float64) (BucketResult, error) {
	if capacity <= 0 || refillPerSecond <= 0 || cost <= 0 || cost > capacity {
		return BucketResult{}, fmt.Errorf("token bucket %s: invalid capacity=%.2f refill=%.2f cost=%.2f",
			key, capacity, refillPerSecond, cost)
	}

	// Idle buckets expire once they would have refilled twice over.
	ttl := int64(math.Ceil(capacity/refillPerSecond*1000)) * 2
	if ttl < 1000 {
		ttl = 1000
	}

	ctx, cancel := b.store.withTimeout(ctx)
	defer cancel()

	raw, err := tokenBucketScript.Run(ctx, b.store.client,
		[]string{b.store.Key("tb", key)},
		capacity, refillPerSecond, b.now().UnixMilli(), cost, ttl,
	).Slice()
	if err != nil {
		return BucketResult{}, unavailable("token bucket "+key, err)
	}
	if len(raw) != 3 {
		return BucketResult{}, fmt.Errorf("token bucket %s: unexpected reply length %d", key, len(raw))
	}

	allowed, _ := raw[0].(int64)
	retryMs, _ := raw[2].(int64)
	tokensStr, _ := raw[1].(string)
	tokens, err := strconv.ParseFloat(tokensStr, 64)
	if err != nil {
		return BucketResult{}, fmt.Errorf("token bucket %s: parse tokens %q: %w", key, tokensStr, err)
	}

	result := BucketResult{
		Allowed:    allowed == 1,
		Tokens:     tokens,
		RetryAfter: time.Duration(retryMs) * time.Millisecond,
	}
	observability.RecordRateLimitDecision(key, result.Allowed)
	return result, nil
}

// Allow is Take with a cost of one that turns a denial into a *domain.RateLimitedError.
func (b *TokenBucket) Allow(ctx context.Context, key string, capacity, refillPerSecond float64) error {
	res, err := b.Take(ctx, key, capacity, refillPerSecond, 1)
	if err != nil {
		return err
	}
	if !res.Allowed {
		return &domain.RateLimitedError{Key: key, RetryAfter: res.RetryAfter}
	}
	return nil
}
