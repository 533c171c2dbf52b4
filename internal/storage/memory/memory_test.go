package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"solana-signal-lab/internal/domain"
	"solana-signal-lab/internal/storage"
)

func snapshot(mint, pair string, at int64) domain.EntitySnapshot {
	return domain.EntitySnapshot{
		Mint:         mint,
		PairAddress:  pair,
		DexID:        "raydium",
		PriceUSD:     0.001,
		LiquidityUSD: 5000,
		Provenance:   domain.ProvenanceDexScreener,
		CapturedAt:   at,
	}
}

func TestSnapshotStore_InsertAndGet(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()

	err := store.InsertBulk(ctx, []domain.EntitySnapshot{
		snapshot("mintA", "p2", 2000),
		snapshot("mintA", "p1", 1000),
		snapshot("mintB", "p3", 1500),
	})
	if err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	got, err := store.GetByMint(ctx, "mintA", 0)
	if err != nil {
		t.Fatalf("GetByMint failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(got))
	}
	if got[0].CapturedAt != 1000 || got[1].CapturedAt != 2000 {
		t.Errorf("not ordered by captured_at: %d, %d", got[0].CapturedAt, got[1].CapturedAt)
	}

	got, _ = store.GetByMint(ctx, "mintA", 1500)
	if len(got) != 1 || got[0].PairAddress != "p2" {
		t.Errorf("since filter: got %+v", got)
	}
}

func TestSnapshotStore_DuplicateRejectsBatch(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()

	if err := store.InsertBulk(ctx, []domain.EntitySnapshot{snapshot("mintA", "p1", 1000)}); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	err := store.InsertBulk(ctx, []domain.EntitySnapshot{
		snapshot("mintA", "p9", 3000),
		snapshot("mintA", "p1", 1000),
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}

	got, _ := store.GetByMint(ctx, "mintA", 0)
	if len(got) != 1 {
		t.Errorf("partial batch was written: %d snapshots", len(got))
	}

	err = store.InsertBulk(ctx, []domain.EntitySnapshot{{PairAddress: "p"}})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestScoreStore_UpsertKeepsNewest(t *testing.T) {
	store := NewScoreStore()
	ctx := context.Background()

	ai := 80.0
	first := &domain.ScoreResult{Mint: "mintA", Final: 60, AIScore: &ai, ScoredAt: 2000}
	if err := store.Upsert(ctx, first); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	// Older result is ignored
	if err := store.Upsert(ctx, &domain.ScoreResult{Mint: "mintA", Final: 10, ScoredAt: 1000}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	got, err := store.GetByMint(ctx, "mintA")
	if err != nil {
		t.Fatalf("GetByMint failed: %v", err)
	}
	if got.Final != 60 {
		t.Errorf("older score overwrote newer: final=%v", got.Final)
	}

	// Returned value is a copy
	*got.AIScore = 1
	again, _ := store.GetByMint(ctx, "mintA")
	if *again.AIScore != 80 {
		t.Error("stored score was mutated through returned pointer")
	}

	if err := store.Upsert(ctx, &domain.ScoreResult{Mint: "mintA", Final: 70, ScoredAt: 3000}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	got, _ = store.GetByMint(ctx, "mintA")
	if got.Final != 70 {
		t.Errorf("newer score not stored: final=%v", got.Final)
	}
}

func TestScoreStore_NotFoundAndInvalid(t *testing.T) {
	store := NewScoreStore()
	ctx := context.Background()

	if _, err := store.GetByMint(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.Upsert(ctx, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestScoreStore_ListRecent(t *testing.T) {
	store := NewScoreStore()
	ctx := context.Background()

	for _, r := range []*domain.ScoreResult{
		{Mint: "a", ScoredAt: 1000},
		{Mint: "b", ScoredAt: 3000},
		{Mint: "c", ScoredAt: 3000},
		{Mint: "d", ScoredAt: 2000},
	} {
		if err := store.Upsert(ctx, r); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	got, err := store.ListRecent(ctx, 2000, 0)
	if err != nil {
		t.Fatalf("ListRecent failed: %v", err)
	}
	want := []string{"b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("expected %d results, got %d", len(want), len(got))
	}
	for i, m := range want {
		if got[i].Mint != m {
			t.Errorf("position %d: got %s, want %s", i, got[i].Mint, m)
		}
	}

	got, _ = store.ListRecent(ctx, 0, 2)
	if len(got) != 2 {
		t.Errorf("limit not applied: %d results", len(got))
	}
}

func TestSignalStore(t *testing.T) {
	store := NewSignalStore()
	ctx := context.Background()

	if _, err := store.GetLatest(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	g1 := &domain.Generation{GeneratedAt: 1000, Signals: []domain.Signal{{Mint: "a", Rank: 1}}}
	g2 := &domain.Generation{GeneratedAt: 2000}
	for _, g := range []*domain.Generation{g2, g1} {
		if err := store.InsertGeneration(ctx, g); err != nil {
			t.Fatalf("InsertGeneration failed: %v", err)
		}
	}

	latest, err := store.GetLatest(ctx)
	if err != nil {
		t.Fatalf("GetLatest failed: %v", err)
	}
	if latest.GeneratedAt != 2000 {
		t.Errorf("latest: got %d, want 2000", latest.GeneratedAt)
	}
	if latest.Signals == nil || len(latest.Signals) != 0 {
		t.Errorf("empty generation should have empty, non-nil signals")
	}

	old, err := store.GetByTime(ctx, 1000)
	if err != nil {
		t.Fatalf("GetByTime failed: %v", err)
	}
	old.Signals[0].Mint = "mutated"
	again, _ := store.GetByTime(ctx, 1000)
	if again.Signals[0].Mint != "a" {
		t.Error("stored generation was mutated through returned value")
	}

	if err := store.InsertGeneration(ctx, g1); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}
}

func TestScoreStore_ConcurrentUpsert(t *testing.T) {
	store := NewScoreStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(at int64) {
			defer wg.Done()
			_ = store.Upsert(ctx, &domain.ScoreResult{Mint: "m", ScoredAt: at})
		}(int64(i))
	}
	wg.Wait()

	got, err := store.GetByMint(ctx, "m")
	if err != nil {
		t.Fatalf("GetByMint failed: %v", err)
	}
	if got.ScoredAt != 50 {
		t.Errorf("expected newest scored_at 50, got %d", got.ScoredAt)
	}
}
