package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-signal-lab/internal/control"
	"solana-signal-lab/internal/domain"
	"solana-signal-lab/internal/storage"
	"solana-signal-lab/internal/storage/memory"
)

func newTestStore(t *testing.T) (*control.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return control.NewWithClient(client, "test", time.Second, zerolog.Nop()), mr
}

type recordingPublisher struct {
	mu   sync.Mutex
	gens []*domain.Generation
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, g *domain.Generation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gens = append(p.gens, g)
	return p.err
}

type failingScores struct{ storage.ScoreStore }

func (failingScores) ListRecent(context.Context, int64, int) ([]*domain.ScoreResult, error) {
	return nil, domain.ErrStoreUnavailable
}

func TestGenerationCache_ReplacesWholeGeneration(t *testing.T) {
	store, _ := newTestStore(t)
	cache := NewGenerationCache(store, time.Hour)
	ctx := context.Background()

	_, err := cache.Current(ctx)
	assert.ErrorIs(t, err, ErrNoGeneration)

	first := &domain.Generation{GeneratedAt: 1000, Signals: []domain.Signal{
		{Mint: "a", Rank: 1}, {Mint: "b", Rank: 2}, {Mint: "c", Rank: 3},
	}}
	second := &domain.Generation{GeneratedAt: 2000, Signals: []domain.Signal{{Mint: "z", Rank: 1}}}

	require.NoError(t, cache.Publish(ctx, first))
	require.NoError(t, cache.Publish(ctx, second))

	cur, err := cache.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, cur, "no entries from the prior generation survive")

	old, err := cache.Version(ctx, 1000)
	require.NoError(t, err)
	assert.Equal(t, first, old)
}

func TestGenerationCache_VersionExpires(t *testing.T) {
	store, mr := newTestStore(t)
	cache := NewGenerationCache(store, time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.Publish(ctx, &domain.Generation{GeneratedAt: 1000}))
	mr.FastForward(2 * time.Minute)

	_, err := cache.Version(ctx, 1000)
	assert.ErrorIs(t, err, ErrNoGeneration)

	cur, err := cache.Current(ctx)
	require.NoError(t, err, "current generation does not expire")
	assert.Empty(t, cur.Signals)
}

func newTestScanner(t *testing.T, scores storage.ScoreStore, opts Options) (*Scanner, *GenerationCache, *control.Locker) {
	t.Helper()
	store, _ := newTestStore(t)
	cache := NewGenerationCache(store, time.Hour)
	locker := control.NewLocker(store, control.LockOptions{Attempts: 1})
	s := New(scores, cache, opts)
	return s, cache, locker
}

func TestScanner_Scan(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)

	scores := memory.NewScoreStore()
	for _, r := range []*domain.ScoreResult{
		result("a", 80, 0.6, 5000),
		result("b", 75, 0.6, 5000),
		result("weak", 20, 0.9, 5000),
	} {
		r.ScoredAt = now.Add(-10 * time.Minute).UnixMilli()
		require.NoError(t, scores.Upsert(ctx, r))
	}
	stale := result("stale", 99, 0.9, 5000)
	stale.ScoredAt = now.Add(-3 * time.Hour).UnixMilli()
	require.NoError(t, scores.Upsert(ctx, stale))

	signals := memory.NewSignalStore()
	pub := &recordingPublisher{}
	s, cache, _ := newTestScanner(t, scores, Options{
		Interval:  time.Minute,
		Lookback:  time.Hour,
		TopN:      5,
		Filters:   Filters{MinScore: 50},
		Signals:   signals,
		Publisher: pub,
	})
	s.now = func() time.Time { return now }

	assert.False(t, s.Healthy(ctx, now), "unhealthy before the first scan")

	g, err := s.Scan(ctx)
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, 3, g.Considered, "lookback excludes stale scores")
	require.Len(t, g.Signals, 2)
	assert.Equal(t, "a", g.Signals[0].Mint)
	assert.Equal(t, "b", g.Signals[1].Mint)

	cur, err := cache.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, g, cur)

	stored, err := signals.GetLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, g, stored)
	require.Len(t, pub.gens, 1)

	assert.True(t, s.Healthy(ctx, now.Add(2*time.Minute)))
	assert.False(t, s.Healthy(ctx, now.Add(2*time.Minute+time.Millisecond)))

	// Unchanged input yields the identical ranking.
	s.now = func() time.Time { return now.Add(time.Minute) }
	again, err := s.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, g.Signals[0].Mint, again.Signals[0].Mint)
	assert.Equal(t, len(g.Signals), len(again.Signals))
	for i := range g.Signals {
		assert.Equal(t, g.Signals[i].Mint, again.Signals[i].Mint)
		assert.Equal(t, g.Signals[i].Justification, again.Signals[i].Justification)
	}
}

func TestScanner_SkipsWhenLocked(t *testing.T) {
	ctx := context.Background()
	s, cache, locker := newTestScanner(t, memory.NewScoreStore(), Options{Interval: time.Minute})

	held, err := locker.Acquire(ctx, "scanner", time.Minute)
	require.NoError(t, err)
	defer held.Release(ctx)

	g, err := s.Scan(ctx)
	assert.NoError(t, err, "contention is not a failure")
	assert.Nil(t, g)

	_, err = cache.Current(ctx)
	assert.ErrorIs(t, err, ErrNoGeneration)
	assert.True(t, s.LastSuccess(ctx).IsZero())
}

func TestScanner_SkippedCycleDoesNotRetryLock(t *testing.T) {
	ctx := context.Background()
	s, cache, locker := newTestScanner(t, memory.NewScoreStore(), Options{Interval: time.Minute})

	held, err := locker.Acquire(ctx, "scanner", time.Minute)
	require.NoError(t, err)
	go func() {
		time.Sleep(30 * time.Millisecond)
		_, _ = held.Release(ctx)
	}()

	g, err := s.Scan(ctx)
	require.NoError(t, err)
	assert.Nil(t, g, "a lock freed mid-cycle is not taken over")

	_, err = cache.Current(ctx)
	assert.ErrorIs(t, err, ErrNoGeneration)
}

func TestScanner_HealthSharedAcrossReplicas(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	scores := memory.NewScoreStore()
	now := time.UnixMilli(1_700_000_000_000)

	a := New(scores, NewGenerationCache(store, time.Hour), Options{Interval: time.Minute})
	b := New(scores, NewGenerationCache(store, time.Hour), Options{Interval: time.Minute})
	a.now = func() time.Time { return now }
	b.now = func() time.Time { return now }

	// b wins the cycle while a is skipped.
	held, err := control.NewLocker(store, control.LockOptions{Attempts: 1}).Acquire(ctx, "scanner", time.Minute)
	require.NoError(t, err)
	g, err := a.Scan(ctx)
	require.NoError(t, err)
	require.Nil(t, g)
	_, err = held.Release(ctx)
	require.NoError(t, err)

	g, err = b.Scan(ctx)
	require.NoError(t, err)
	require.NotNil(t, g)

	assert.Equal(t, g.GeneratedAt, a.LastSuccess(ctx).UnixMilli())
	assert.True(t, a.Healthy(ctx, now.Add(time.Minute)))
	assert.True(t, b.Healthy(ctx, now.Add(time.Minute)))
	assert.False(t, a.Healthy(ctx, now.Add(3*time.Minute)))
}

func TestScanner_HealthFallsBackToLocalRecord(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	s, _, _ := newTestScanner(t, memory.NewScoreStore(), Options{Interval: time.Minute})
	s.now = func() time.Time { return now }

	_, err := s.Scan(ctx)
	require.NoError(t, err)
	require.NoError(t, s.cache.store.Client().Close())

	assert.Equal(t, now.UnixMilli(), s.LastSuccess(ctx).UnixMilli())
	assert.True(t, s.Healthy(ctx, now.Add(time.Minute)))
}

func TestScanner_StoreFailureKeepsPriorGeneration(t *testing.T) {
	ctx := context.Background()
	scores := memory.NewScoreStore()
	s, cache, _ := newTestScanner(t, scores, Options{Interval: time.Minute})

	first, err := s.Scan(ctx)
	require.NoError(t, err)

	s.scores = failingScores{scores}
	_, err = s.Scan(ctx)
	assert.True(t, errors.Is(err, domain.ErrStoreUnavailable))

	cur, err := cache.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.GeneratedAt, cur.GeneratedAt)
}

func TestScanner_PublisherFailureIsBestEffort(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{err: errors.New("broker down")}
	s, _, _ := newTestScanner(t, memory.NewScoreStore(), Options{Publisher: pub})

	g, err := s.Scan(ctx)
	require.NoError(t, err)
	assert.NotNil(t, g)
	assert.False(t, s.LastSuccess(ctx).IsZero())
}

func TestScanner_RunStopsOnCancel(t *testing.T) {
	s, cache, _ := newTestScanner(t, memory.NewScoreStore(), Options{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := cache.Current(context.Background())
		return err == nil
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
