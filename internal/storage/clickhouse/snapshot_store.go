package clickhouse

import (
	"context"
	"fmt"
	"time"

	"solana-signal-lab/internal/domain"
	"solana-signal-lab/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore using ClickHouse.
type SnapshotStore struct {
	conn *Conn
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(conn *Conn) *SnapshotStore {
	return &SnapshotStore{conn: conn}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

const snapshotColumns = `mint, pair_address, dex_id, base_name, base_symbol, price_usd,
	volume_m5, volume_h1, volume_h6, volume_h24, liquidity_usd, market_cap_usd,
	change_m5, change_h1, change_h6, change_h24,
	buys_m5, sells_m5, buys_h1, sells_h1, buys_h6, sells_h6, buys_h24, sells_h24,
	provenance, captured_at`

// InsertBulk appends snapshots. Fails entire batch on duplicate (mint, pair_address, captured_at).
func (s *SnapshotStore) InsertBulk(ctx context.Context, snaps []domain.EntitySnapshot) (err error) {
	if len(snaps) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { observe("insert_snapshots", start, err) }()

	// Check for intra-batch duplicates
	type key struct {
		mint, pair string
		capturedAt int64
	}
	seen := make(map[key]struct{}, len(snaps))
	for _, sn := range snaps {
		if sn.Mint == "" {
			return storage.ErrInvalidInput
		}
		k := key{sn.Mint, sn.PairAddress, sn.CapturedAt}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	// MergeTree does not enforce uniqueness; check existing rows explicitly.
	for k := range seen {
		exists, err := s.exists(ctx, k.mint, k.pair, k.capturedAt)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO entity_snapshots (`+snapshotColumns+`)`)
	if err != nil {
		return fmt.Errorf("%w: prepare batch: %w", domain.ErrStoreUnavailable, err)
	}

	for _, sn := range snaps {
		err = batch.Append(
			sn.Mint, sn.PairAddress, sn.DexID, sn.BaseName, sn.BaseSymbol, sn.PriceUSD,
			sn.Volume.M5, sn.Volume.H1, sn.Volume.H6, sn.Volume.H24, sn.LiquidityUSD, sn.MarketCapUSD,
			sn.PriceChange.M5, sn.PriceChange.H1, sn.PriceChange.H6, sn.PriceChange.H24,
			uint32(sn.Txns.M5.Buys), uint32(sn.Txns.M5.Sells),
			uint32(sn.Txns.H1.Buys), uint32(sn.Txns.H1.Sells),
			uint32(sn.Txns.H6.Buys), uint32(sn.Txns.H6.Sells),
			uint32(sn.Txns.H24.Buys), uint32(sn.Txns.H24.Sells),
			sn.Provenance, uint64(sn.CapturedAt),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("%w: send batch: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// GetByMint returns snapshots captured at or after since, ordered by captured_at ASC.
func (s *SnapshotStore) GetByMint(ctx context.Context, mint string, since int64) (_ []domain.EntitySnapshot, err error) {
	start := time.Now()
	defer func() { observe("get_snapshots", start, err) }()

	query := `
		SELECT ` + snapshotColumns + `
		FROM entity_snapshots
		WHERE mint = ? AND captured_at >= ?
		ORDER BY captured_at ASC, pair_address ASC
	`
	if since < 0 {
		since = 0
	}
	rows, err := s.conn.Query(ctx, query, mint, uint64(since))
	if err != nil {
		return nil, fmt.Errorf("%w: query snapshots: %w", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []domain.EntitySnapshot
	for rows.Next() {
		var (
			sn                               domain.EntitySnapshot
			b5, s5, b1, s1, b6, s6, b24, s24 uint32
			capturedAt                       uint64
		)
		if err := rows.Scan(
			&sn.Mint, &sn.PairAddress, &sn.DexID, &sn.BaseName, &sn.BaseSymbol, &sn.PriceUSD,
			&sn.Volume.M5, &sn.Volume.H1, &sn.Volume.H6, &sn.Volume.H24, &sn.LiquidityUSD, &sn.MarketCapUSD,
			&sn.PriceChange.M5, &sn.PriceChange.H1, &sn.PriceChange.H6, &sn.PriceChange.H24,
			&b5, &s5, &b1, &s1, &b6, &s6, &b24, &s24,
			&sn.Provenance, &capturedAt,
		); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		sn.Txns = domain.TxnWindows{
			M5:  domain.TxnCount{Buys: int(b5), Sells: int(s5)},
			H1:  domain.TxnCount{Buys: int(b1), Sells: int(s1)},
			H6:  domain.TxnCount{Buys: int(b6), Sells: int(s6)},
			H24: domain.TxnCount{Buys: int(b24), Sells: int(s24)},
		}
		sn.CapturedAt = int64(capturedAt)
		out = append(out, sn)
	}
	return out, rows.Err()
}

// exists checks if a snapshot with the given key exists.
func (s *SnapshotStore) exists(ctx context.Context, mint, pair string, capturedAt int64) (bool, error) {
	query := `
		SELECT count(*) FROM entity_snapshots
		WHERE mint = ? AND pair_address = ? AND captured_at = ?
	`
	var count uint64
	if err := s.conn.QueryRow(ctx, query, mint, pair, uint64(capturedAt)).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}
