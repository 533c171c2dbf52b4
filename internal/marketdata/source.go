// Package marketdata fetches per-venue market snapshots for an entity.
package marketdata

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"solana-signal-lab/internal/domain"
)

// Source returns market snapshots for a mint. An empty slice with a nil
// error means the source has no data for the entity.
type Source interface {
	Name() string
	Fetch(ctx context.Context, mint string) ([]domain.EntitySnapshot, error)
}

// Chain queries sources in order and returns the first non-empty answer.
type Chain struct {
	sources []Source
	log     zerolog.Logger
}

// NewChain creates a fallback chain.
func NewChain(log zerolog.Logger, sources ...Source) *Chain {
	return &Chain{sources: sources, log: log}
}

// Name implements Source.
func (c *Chain) Name() string { return "chain" }

// Fetch returns domain.ErrNoMarketData when every source answered empty and
// domain.ErrUpstreamUnavailable when at least one failed and none had data.
func (c *Chain) Fetch(ctx context.Context, mint string) ([]domain.EntitySnapshot, error) {
	var errs []error
	for _, src := range c.sources {
		snaps, err := src.Fetch(ctx, mint)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.log.Warn().Err(err).Str("source", src.Name()).Str("mint", mint).Msg("market data source failed")
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}
		if len(snaps) > 0 {
			return snaps, nil
		}
	}
	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if errors.Is(joined, domain.ErrUpstreamUnavailable) {
			return nil, joined
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, joined)
	}
	return nil, fmt.Errorf("%s: %w", mint, domain.ErrNoMarketData)
}
