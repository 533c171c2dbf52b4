package control

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"solana-signal-lab/internal/observability"
)

// Cache is a JSON cache-aside layer over the shared store.
type Cache struct {
	store *Store
}

// NewCache creates a Cache on store.
func NewCache(store *Store) *Cache {
	return &Cache{store: store}
}

// Cached returns the value stored under key, or calls produce, stores its
// result for ttl and returns it. Unparseable or unreachable entries count as
// misses. Producer errors are returned and never cached.
func Cached[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, produce func(context.Context) (T, error)) (T, error) {
	fullKey := c.store.Key("cache", key)

	if v, ok := c.get(ctx, fullKey); ok {
		var out T
		if err := json.Unmarshal(v, &out); err == nil {
			observability.RecordCacheLookup("hit")
			return out, nil
		}
		c.store.log.Warn().Str("key", key).Msg("discarding corrupt cache entry")
		observability.RecordCacheLookup("corrupt")
	} else {
		observability.RecordCacheLookup("miss")
	}

	value, err := produce(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	data, err := json.Marshal(value)
	if err != nil {
		c.store.log.Warn().Err(err).Str("key", key).Msg("cache value not serializable")
		return value, nil
	}
	setCtx, cancel := c.store.withTimeout(ctx)
	defer cancel()
	if err := c.store.client.Set(setCtx, fullKey, data, ttl).Err(); err != nil {
		c.store.log.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
	return value, nil
}

func (c *Cache) get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := c.store.withTimeout(ctx)
	defer cancel()

	v, err := c.store.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.store.log.Warn().Err(err).Str("key", key).Msg("cache read failed, treating as miss")
		}
		return nil, false
	}
	return v, true
}

// Invalidate removes key.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	ctx, cancel := c.store.withTimeout(ctx)
	defer cancel()
	if err := c.store.client.Del(ctx, c.store.Key("cache", key)).Err(); err != nil {
		return unavailable("cache invalidate "+key, err)
	}
	return nil
}
