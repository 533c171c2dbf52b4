package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"solana-signal-lab/internal/domain"
	"solana-signal-lab/internal/observability"
)

// Deletes the key only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// LockOptions configures acquisition retries.
type LockOptions struct {
	Attempts   int           // total SET NX tries (default: 3)
	RetryDelay time.Duration // fixed pause between tries (default: 100ms)
}

// Locker hands out mutually exclusive, TTL-bounded leases.
type Locker struct {
	store      *Store
	attempts   int
	retryDelay time.Duration
}

// NewLocker creates a Locker on store.
func NewLocker(store *Store, opts LockOptions) *Locker {
	if opts.Attempts < 1 {
		opts.Attempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 100 * time.Millisecond
	}
	return &Locker{store: store, attempts: opts.Attempts, retryDelay: opts.RetryDelay}
}

// Lock is a held lease. The zero value is not usable.
type Lock struct {
	Key   string
	Token string

	locker *Locker
}

// Acquire takes the lock on key for ttl. It returns domain.ErrLockContention
// when every attempt found the lock held.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("lock %s: ttl must be positive", key)
	}
	token := uuid.NewString()
	fullKey := l.store.Key("lock", key)

	for attempt := 1; attempt <= l.attempts; attempt++ {
		ok, err := l.setNX(ctx, fullKey, token, ttl)
		if err != nil {
			observability.RecordLockAttempt("error")
			return nil, err
		}
		if ok {
			observability.RecordLockAttempt("acquired")
			return &Lock{Key: key, Token: token, locker: l}, nil
		}
		if attempt == l.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retryDelay):
		}
	}

	observability.RecordLockAttempt("contended")
	return nil, fmt.Errorf("lock %s: %w", key, domain.ErrLockContention)
}

func (l *Locker) setNX(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ctx, cancel := l.store.withTimeout(ctx)
	defer cancel()
	ok, err := l.store.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, unavailable("lock "+key, err)
	}
	return ok, nil
}

// Release deletes the lock on key only if it is still held with token.
// It reports whether anything was deleted; an expired or foreign lease is a no-op.
func (l *Locker) Release(ctx context.Context, key, token string) (bool, error) {
	ctx, cancel := l.store.withTimeout(ctx)
	defer cancel()

	n, err := releaseScript.Run(ctx, l.store.client, []string{l.store.Key("lock", key)}, token).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, unavailable("unlock "+key, err)
	}
	return n == 1, nil
}

// Release frees the lease.
func (lk *Lock) Release(ctx context.Context) (bool, error) {
	return lk.locker.Release(ctx, lk.Key, lk.Token)
}
