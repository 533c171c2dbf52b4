package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"solana-signal-lab/internal/domain"
	"solana-signal-lab/internal/storage"
)

// SignalStore implements storage.SignalStore using PostgreSQL.
type SignalStore struct {
	pool *Pool
}

// NewSignalStore creates a new SignalStore.
func NewSignalStore(pool *Pool) *SignalStore {
	return &SignalStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SignalStore = (*SignalStore)(nil)

// InsertGeneration appends g and its signals in one transaction.
func (s *SignalStore) InsertGeneration(ctx context.Context, g *domain.Generation) (err error) {
	if g == nil || g.GeneratedAt <= 0 {
		return storage.ErrInvalidInput
	}
	start := time.Now()
	defer func() { observe("insert_generation", start, err) }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storeErr("begin tx", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO signal_generations (generated_at, interval_ms, considered)
		VALUES ($1, $2, $3)
	`, g.GeneratedAt, g.IntervalMs, g.Considered)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return storeErr("insert generation", err)
	}

	if len(g.Signals) > 0 {
		rows := make([][]any, 0, len(g.Signals))
		for _, sig := range g.Signals {
			rows = append(rows, []any{
				g.GeneratedAt, sig.Rank, sig.Mint, sig.Symbol, sig.Score, sig.Confidence,
				string(sig.Risk), sig.Justification, sig.VolumeH24, sig.LiquidityUSD,
			})
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"signals"},
			[]string{"generated_at", "rank", "mint", "symbol", "score", "confidence",
				"risk", "justification", "volume_h24", "liquidity_usd"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return storeErr("copy signals", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return storeErr("commit tx", err)
	}
	return nil
}

// GetLatest returns the newest generation.
func (s *SignalStore) GetLatest(ctx context.Context) (*domain.Generation, error) {
	return s.get(ctx, "get_latest_generation", `
		SELECT generated_at, interval_ms, considered
		FROM signal_generations
		ORDER BY generated_at DESC
		LIMIT 1
	`)
}

// GetByTime returns the generation published at generatedAt.
func (s *SignalStore) GetByTime(ctx context.Context, generatedAt int64) (*domain.Generation, error) {
	return s.get(ctx, "get_generation", `
		SELECT generated_at, interval_ms, considered
		FROM signal_generations
		WHERE generated_at = $1
	`, generatedAt)
}

func (s *SignalStore) get(ctx context.Context, op, query string, args ...any) (_ *domain.Generation, err error) {
	start := time.Now()
	defer func() { observe(op, start, err) }()

	var g domain.Generation
	err = s.pool.QueryRow(ctx, query, args...).Scan(&g.GeneratedAt, &g.IntervalMs, &g.Considered)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, storeErr(op, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT rank, mint, symbol, score, confidence, risk, justification, volume_h24, liquidity_usd
		FROM signals
		WHERE generated_at = $1
		ORDER BY rank ASC
	`, g.GeneratedAt)
	if err != nil {
		return nil, storeErr("query signals", err)
	}
	defer rows.Close()

	g.Signals = []domain.Signal{}
	for rows.Next() {
		sig := domain.Signal{GeneratedAt: g.GeneratedAt}
		var risk string
		if err := rows.Scan(&sig.Rank, &sig.Mint, &sig.Symbol, &sig.Score, &sig.Confidence,
			&risk, &sig.Justification, &sig.VolumeH24, &sig.LiquidityUSD); err != nil {
			return nil, storeErr("scan signal", err)
		}
		sig.Risk = domain.RiskTier(risk)
		g.Signals = append(g.Signals, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate signals", err)
	}
	return &g, nil
}
