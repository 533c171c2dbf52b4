package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-signal-lab/internal/control"
	"solana-signal-lab/internal/domain"
	"solana-signal-lab/internal/scoring"
	"solana-signal-lab/internal/storage/memory"
	"solana-signal-lab/internal/stream"
)

const (
	mintA = "So11111111111111111111111111111111111111112"
	mintB = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	mintC = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
)

type fakeScorer struct {
	mu     sync.Mutex
	calls  map[string]int
	hints  map[string]scoring.Entity
	order  []string
	noData map[string]bool
	err    error
	seq    atomic.Int64
	delay  time.Duration
}

func newFakeScorer() *fakeScorer {
	return &fakeScorer{
		calls:  make(map[string]int),
		hints:  make(map[string]scoring.Entity),
		noData: make(map[string]bool),
	}
}

func (f *fakeScorer) Score(ctx context.Context, mint string, hint scoring.Entity) (*scoring.Outcome, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.calls[mint]++
	f.hints[mint] = hint
	f.order = append(f.order, mint)
	noData := f.noData[mint]
	f.mu.Unlock()

	if noData {
		return nil, domain.ErrNoMarketData
	}
	if f.err != nil {
		return nil, f.err
	}
	at := 1_700_000_000_000 + f.seq.Add(1)
	return &scoring.Outcome{
		Result: domain.ScoreResult{Mint: mint, Name: hint.Name, Final: 55, Risk: domain.RiskMedium, ScoredAt: at},
		Snapshots: []domain.EntitySnapshot{
			{Mint: mint, PairAddress: "pair-" + mint[:4], DexID: "raydium", CapturedAt: at},
		},
	}, nil
}

func (f *fakeScorer) count(mint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[mint]
}

func (f *fakeScorer) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.order)
}

func newTestStore(t *testing.T) *control.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return control.NewWithClient(client, "test", time.Second, zerolog.Nop())
}

func raw(mint string, kind domain.EventKind) domain.RawEvent {
	return domain.RawEvent{Mint: mint, Kind: kind, Source: "test"}
}

func strPtr(s string) *string { return &s }

func TestProcess_ScoresEachEntityOncePerBatch(t *testing.T) {
	store := newTestStore(t)
	scorer := newFakeScorer()
	b := New(scorer, control.NewLocker(store, control.LockOptions{Attempts: 1}), Options{Concurrency: 3})

	creation := raw(mintB, domain.EventKindCreation)
	creation.Name = strPtr("Bravo")
	creation.Symbol = strPtr("BRV")

	events := []domain.RawEvent{
		raw(mintA, domain.EventKindTrade),
		raw(mintB, domain.EventKindTrade),
		raw(mintA, domain.EventKindTrade),
		creation,
		raw(mintC, domain.EventKindUnknown),
		raw("not-a-mint", domain.EventKindTrade),
		raw(domain.UnknownMint, domain.EventKindCreation),
		raw(mintA, domain.EventKindMigration),
	}

	res := b.Process(context.Background(), events)

	assert.Equal(t, len(events), res.Events)
	assert.Equal(t, 2, res.Entities)
	assert.Equal(t, 2, res.Outcomes[OutcomeScored])
	assert.Equal(t, 1, scorer.count(mintA))
	assert.Equal(t, 1, scorer.count(mintB))
	assert.Zero(t, scorer.count(mintC), "unknown kinds are not scored")
	assert.Equal(t, scoring.Entity{Mint: mintB, Name: "Bravo", Symbol: "BRV"}, scorer.hints[mintB])
}

func TestGroup_FirstArrivalOrder(t *testing.T) {
	got := group([]domain.RawEvent{
		raw(mintC, domain.EventKindTrade),
		raw(mintA, domain.EventKindTrade),
		raw(mintC, domain.EventKindTrade),
		raw(mintB, domain.EventKindCreation),
	})
	require.Len(t, got, 3)
	assert.Equal(t, []string{mintC, mintA, mintB}, []string{got[0].mint, got[1].mint, got[2].mint})
}

func TestProcess_SkipsContendedAndNoData(t *testing.T) {
	store := newTestStore(t)
	locker := control.NewLocker(store, control.LockOptions{Attempts: 1})
	scorer := newFakeScorer()
	scorer.noData[mintB] = true
	b := New(scorer, locker, Options{})

	held, err := locker.Acquire(context.Background(), "entity:"+mintA, time.Minute)
	require.NoError(t, err)
	defer held.Release(context.Background())

	res := b.Process(context.Background(), []domain.RawEvent{
		raw(mintA, domain.EventKindTrade),
		raw(mintB, domain.EventKindTrade),
	})

	assert.Equal(t, 1, res.Outcomes[OutcomeContended])
	assert.Equal(t, 1, res.Outcomes[OutcomeNoData])
	assert.Zero(t, scorer.count(mintA), "contended entity is skipped")
	assert.Equal(t, 1, scorer.count(mintB), "no market data is not retried")
}

func TestProcess_PersistsResults(t *testing.T) {
	store := newTestStore(t)
	snaps := memory.NewSnapshotStore()
	scores := memory.NewScoreStore()
	b := New(newFakeScorer(), control.NewLocker(store, control.LockOptions{}), Options{
		Snapshots: snaps,
		Scores:    scores,
	})

	res := b.Process(context.Background(), []domain.RawEvent{raw(mintA, domain.EventKindTrade)})
	require.Equal(t, 1, res.Outcomes[OutcomeScored])

	got, err := scores.GetByMint(context.Background(), mintA)
	require.NoError(t, err)
	assert.Equal(t, 55.0, got.Final)

	history, err := snaps.GetByMint(context.Background(), mintA, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	// Lock is released after processing
	_, err = control.NewLocker(store, control.LockOptions{Attempts: 1}).
		Acquire(context.Background(), "entity:"+mintA, time.Second)
	assert.NoError(t, err)
}

func TestProcess_ScorerErrorIsCounted(t *testing.T) {
	scorer := newFakeScorer()
	scorer.err = errors.New("boom")
	b := New(scorer, control.NewLocker(newTestStore(t), control.LockOptions{}), Options{})

	res := b.Process(context.Background(), []domain.RawEvent{raw(mintA, domain.EventKindTrade)})
	assert.Equal(t, 1, res.Outcomes[OutcomeError])
}

func TestRun_FlushesOneBatchPerDelay(t *testing.T) {
	scorer := newFakeScorer()
	b := New(scorer, control.NewLocker(newTestStore(t), control.LockOptions{}), Options{
		BatchSize:       2,
		ProcessingDelay: 100 * time.Millisecond,
	})

	events := make(chan stream.Event, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, events) }()

	rawEvent := func(mint string) stream.Event {
		ev := raw(mint, domain.EventKindTrade)
		return stream.Event{Type: stream.EventRaw, Raw: &ev}
	}

	events <- stream.Event{Type: stream.EventConnected}
	events <- rawEvent(mintA)
	events <- rawEvent(mintB)
	events <- rawEvent(mintC)
	require.Never(t, func() bool { return scorer.total() > 0 }, 50*time.Millisecond, 5*time.Millisecond,
		"a full batch still waits for the delay")

	require.Eventually(t, func() bool { return scorer.count(mintA) == 1 && scorer.count(mintB) == 1 },
		time.Second, 5*time.Millisecond)
	assert.Zero(t, scorer.count(mintC), "only one batch per flush")

	require.Eventually(t, func() bool { return scorer.count(mintC) == 1 }, time.Second, 5*time.Millisecond,
		"the remainder flushes on the re-armed timer")

	close(events)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after events closed")
	}
}

func TestRun_ShutdownFlushesQueued(t *testing.T) {
	scorer := newFakeScorer()
	scorer.delay = 10 * time.Millisecond
	b := New(scorer, control.NewLocker(newTestStore(t), control.LockOptions{}), Options{
		BatchSize:       10,
		ProcessingDelay: time.Hour,
	})

	events := make(chan stream.Event, 4)
	for _, m := range []string{mintA, mintB} {
		ev := raw(m, domain.EventKindTrade)
		events <- stream.Event{Type: stream.EventRaw, Raw: &ev}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, events) }()

	require.Eventually(t, func() bool { return len(events) == 0 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 1, scorer.count(mintA))
	assert.Equal(t, 1, scorer.count(mintB))
}

func TestRun_DrainsScoreRequests(t *testing.T) {
	store := newTestStore(t)
	queue := control.NewQueue(store, RequestQueue)
	scorer := newFakeScorer()
	b := New(scorer, control.NewLocker(store, control.LockOptions{}), Options{
		ProcessingDelay: 20 * time.Millisecond,
		Requests:        queue,
	})

	ctx := context.Background()
	require.NoError(t, queue.Enqueue(ctx, ScoreRequest{Mint: mintA, Symbol: "AAA"}))
	require.NoError(t, queue.Enqueue(ctx, ScoreRequest{Mint: mintA}))
	require.NoError(t, queue.Enqueue(ctx, ScoreRequest{Mint: "bogus"}))
	require.NoError(t, queue.Enqueue(ctx, ScoreRequest{Mint: mintB}))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- b.Run(runCtx, make(chan stream.Event)) }()

	require.Eventually(t, func() bool { return scorer.total() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, 1, scorer.count(mintA))
	assert.Equal(t, 1, scorer.count(mintB))
	n, err := queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
