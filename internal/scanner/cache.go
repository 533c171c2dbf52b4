package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"solana-signal-lab/internal/control"
	"solana-signal-lab/internal/domain"
)

// ErrNoGeneration is returned when nothing has been published yet.
var ErrNoGeneration = errors.New("no signal generation published")

// GenerationCache holds the current generation plus versioned copies in the shared store.
// The current key is replaced in one write, so readers never see a partial generation.
type GenerationCache struct {
	store *control.Store
	ttl   time.Duration
}

// NewGenerationCache creates a cache on store. Versioned copies expire after ttl.
func NewGenerationCache(store *control.Store, ttl time.Duration) *GenerationCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &GenerationCache{store: store, ttl: ttl}
}

func (c *GenerationCache) currentKey() string {
	return c.store.Key("signals", "current")
}

func (c *GenerationCache) publishedKey() string {
	return c.store.Key("signals", "published-at")
}

func (c *GenerationCache) versionKey(generatedAt int64) string {
	return c.store.Key("signals", "gen", strconv.FormatInt(generatedAt, 10))
}

// Publish makes g the current generation and records its time as the
// last publication of any replica.
func (c *GenerationCache) Publish(ctx context.Context, g *domain.Generation) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode generation: %w", err)
	}
	_, err = c.store.Client().TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, c.versionKey(g.GeneratedAt), data, c.ttl)
		p.Set(ctx, c.currentKey(), data, 0)
		p.Set(ctx, c.publishedKey(), g.GeneratedAt, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: publish generation: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// LastPublished returns the GeneratedAt of the newest publication by any replica.
func (c *GenerationCache) LastPublished(ctx context.Context) (int64, error) {
	ms, err := c.store.Client().Get(ctx, c.publishedKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, ErrNoGeneration
	}
	if err != nil {
		return 0, fmt.Errorf("%w: read last publication: %w", domain.ErrStoreUnavailable, err)
	}
	return ms, nil
}

// Current returns the current generation.
func (c *GenerationCache) Current(ctx context.Context) (*domain.Generation, error) {
	return c.get(ctx, c.currentKey())
}

// Version returns the generation published at generatedAt, while its copy lives.
func (c *GenerationCache) Version(ctx context.Context, generatedAt int64) (*domain.Generation, error) {
	return c.get(ctx, c.versionKey(generatedAt))
}

func (c *GenerationCache) get(ctx context.Context, key string) (*domain.Generation, error) {
	data, err := c.store.Client().Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoGeneration
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read generation: %w", domain.ErrStoreUnavailable, err)
	}
	var g domain.Generation
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("decode generation: %w: %v", domain.ErrParse, err)
	}
	if g.Signals == nil {
		g.Signals = []domain.Signal{}
	}
	return &g, nil
}
