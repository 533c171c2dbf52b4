package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-signal-lab/internal/domain"
	"solana-signal-lab/internal/storage"
)

func testSnapshot(mint, pair string, capturedAt int64) domain.EntitySnapshot {
	return domain.EntitySnapshot{
		Mint:         mint,
		PairAddress:  pair,
		DexID:        "raydium",
		BaseName:     "Test",
		BaseSymbol:   "TST",
		PriceUSD:     0.0012,
		Volume:       domain.Windowed{M5: 10, H1: 100, H6: 600, H24: 2400},
		LiquidityUSD: 15000,
		MarketCapUSD: 120000,
		PriceChange:  domain.Windowed{M5: 1.5, H1: -2, H6: 12, H24: 40},
		Txns: domain.TxnWindows{
			M5:  domain.TxnCount{Buys: 3, Sells: 1},
			H1:  domain.TxnCount{Buys: 30, Sells: 12},
			H6:  domain.TxnCount{Buys: 150, Sells: 90},
			H24: domain.TxnCount{Buys: 700, Sells: 420},
		},
		Provenance: domain.ProvenanceDexScreener,
		CapturedAt: capturedAt,
	}
}

func TestSnapshotStore_InsertAndGet(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewSnapshotStore(conn)
	ctx := context.Background()

	snaps := []domain.EntitySnapshot{
		testSnapshot("mintA", "pair2", 2000),
		testSnapshot("mintA", "pair1", 1000),
		testSnapshot("mintB", "pair3", 1500),
	}
	require.NoError(t, store.InsertBulk(ctx, snaps))

	got, err := store.GetByMint(ctx, "mintA", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, snaps[1], got[0], "ordered by captured_at")
	assert.Equal(t, snaps[0], got[1])

	got, err = store.GetByMint(ctx, "mintA", 1500)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "pair2", got[0].PairAddress)

	got, err = store.GetByMint(ctx, "unknown", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSnapshotStore_Duplicate(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewSnapshotStore(conn)
	ctx := context.Background()

	s := testSnapshot("mintA", "pair1", 1000)
	require.NoError(t, store.InsertBulk(ctx, []domain.EntitySnapshot{s}))

	err := store.InsertBulk(ctx, []domain.EntitySnapshot{s})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	err = store.InsertBulk(ctx, []domain.EntitySnapshot{
		testSnapshot("mintB", "p", 1), testSnapshot("mintB", "p", 1),
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	got, err := store.GetByMint(ctx, "mintB", 0)
	require.NoError(t, err)
	assert.Empty(t, got, "batch rejected as a whole")
}

func TestSnapshotStore_EmptyBatch(t *testing.T) {
	store := NewSnapshotStore(nil)
	assert.NoError(t, store.InsertBulk(context.Background(), nil))
	assert.ErrorIs(t, store.InsertBulk(context.Background(), []domain.EntitySnapshot{{}}), storage.ErrInvalidInput)
}
