package marketdata

import (
	"context"
	"errors"
	"time"

	"solana-signal-lab/internal/control"
	"solana-signal-lab/internal/domain"
)

// CachedSource memoizes another source in the shared cache. Errors and
// empty answers are not cached.
type CachedSource struct {
	inner Source
	cache *control.Cache
	ttl   time.Duration
}

// NewCachedSource wraps inner.
func NewCachedSource(inner Source, cache *control.Cache, ttl time.Duration) *CachedSource {
	return &CachedSource{inner: inner, cache: cache, ttl: ttl}
}

// Name implements Source.
func (c *CachedSource) Name() string { return c.inner.Name() }

var errEmpty = errors.New("empty")

// Fetch implements Source.
func (c *CachedSource) Fetch(ctx context.Context, mint string) ([]domain.EntitySnapshot, error) {
	snaps, err := control.Cached(ctx, c.cache, "snapshots:"+mint, c.ttl, func(ctx context.Context) ([]domain.EntitySnapshot, error) {
		snaps, err := c.inner.Fetch(ctx, mint)
		if err == nil && len(snaps) == 0 {
			return nil, errEmpty
		}
		return snaps, err
	})
	if errors.Is(err, errEmpty) {
		return nil, nil
	}
	return snaps, err
}
