// Package scanner periodically turns recent scores into a ranked signal generation.
package scanner

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"solana-signal-lab/internal/control"
	"solana-signal-lab/internal/domain"
	"solana-signal-lab/internal/observability"
	"solana-signal-lab/internal/storage"
)

// Publisher hands a generation to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, g *domain.Generation) error
}

// Options configures a Scanner.
type Options struct {
	Interval       time.Duration // default: 5m
	Lookback       time.Duration // default: 2h
	TopN           int           // default: 10
	NoiseThreshold float64
	Filters        Filters

	Signals   storage.SignalStore // optional
	Publisher Publisher           // optional
	Logger    zerolog.Logger
}

// Scanner runs the periodic scan. Only one replica scans per cycle; the
// scanner lock is tried once, so a replica that loses it skips the cycle
// rather than repeating the winner's scan.
type Scanner struct {
	scores storage.ScoreStore
	cache  *GenerationCache
	locker *control.Locker
	opts   Options
	log    zerolog.Logger
	now    func() time.Time

	lastSuccess atomic.Int64 // Unix ms, 0 if never
}

// New creates a Scanner. Replicas coordinate through the store behind cache.
func New(scores storage.ScoreStore, cache *GenerationCache, opts Options) *Scanner {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 2 * time.Hour
	}
	if opts.TopN < 1 {
		opts.TopN = 10
	}
	return &Scanner{
		scores: scores,
		cache:  cache,
		locker: control.NewLocker(cache.store, control.LockOptions{Attempts: 1}),
		opts:   opts,
		log:    opts.Logger.With().Str("component", "scanner").Logger(),
		now:    time.Now,
	}
}

// Run scans immediately and then every Interval until ctx is done.
func (s *Scanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.Scan(ctx); err != nil && ctx.Err() == nil {
			s.log.Error().Err(err).Msg("scan failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Scan runs one cycle. It returns nil, nil when another replica holds the scanner lock.
func (s *Scanner) Scan(ctx context.Context) (*domain.Generation, error) {
	start := s.now()

	lock, err := s.locker.Acquire(ctx, "scanner", s.opts.Interval)
	if errors.Is(err, domain.ErrLockContention) {
		s.log.Debug().Msg("scanner lock held elsewhere, skipping cycle")
		observability.RecordScanRun("skipped", time.Since(start))
		return nil, nil
	}
	if err != nil {
		observability.RecordScanRun("error", time.Since(start))
		return nil, err
	}
	defer func() {
		if _, err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn().Err(err).Msg("scanner lock release failed")
		}
	}()

	since := start.Add(-s.opts.Lookback).UnixMilli()
	results, err := s.scores.ListRecent(ctx, since, 0)
	if err != nil {
		observability.RecordScanRun("error", time.Since(start))
		return nil, err
	}

	g := BuildGeneration(results, s.opts.Filters, s.opts.NoiseThreshold, s.opts.TopN,
		start.UnixMilli(), s.opts.Interval.Milliseconds())

	if err := s.cache.Publish(ctx, g); err != nil {
		observability.RecordScanRun("error", time.Since(start))
		return nil, err
	}
	s.lastSuccess.Store(g.GeneratedAt)
	observability.RecordGenerationPublished(len(g.Signals), start)

	if s.opts.Signals != nil {
		if err := s.opts.Signals.InsertGeneration(ctx, g); err != nil {
			s.log.Error().Err(err).Int64("generated_at", g.GeneratedAt).Msg("persist generation failed")
		}
	}
	if s.opts.Publisher != nil {
		if err := s.opts.Publisher.Publish(ctx, g); err != nil {
			s.log.Warn().Err(err).Int64("generated_at", g.GeneratedAt).Msg("publish generation failed")
		}
	}

	observability.RecordScanRun("ok", time.Since(start))
	s.log.Info().
		Int("considered", g.Considered).
		Int("signals", len(g.Signals)).
		Int64("generated_at", g.GeneratedAt).
		Msg("generation published")
	return g, nil
}

// LastSuccess returns when the newest generation was published by any
// replica, or the zero time. The local record is used when the shared
// store cannot be read.
func (s *Scanner) LastSuccess(ctx context.Context) time.Time {
	ms := s.lastSuccess.Load()
	shared, err := s.cache.LastPublished(ctx)
	if err != nil && !errors.Is(err, ErrNoGeneration) {
		s.log.Warn().Err(err).Msg("read last publication failed")
	}
	if shared > ms {
		ms = shared
	}
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Healthy reports whether any replica published a generation within two intervals of now.
func (s *Scanner) Healthy(ctx context.Context, now time.Time) bool {
	last := s.LastSuccess(ctx)
	if last.IsZero() {
		return false
	}
	return now.Sub(last) <= 2*s.opts.Interval
}

// Interval returns the configured scan interval.
func (s *Scanner) Interval() time.Duration {
	return s.opts.Interval
}
