package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"solana-signal-lab/internal/domain"
	"solana-signal-lab/internal/storage"
)

// ScoreStore implements storage.ScoreStore using PostgreSQL.
type ScoreStore struct {
	pool *Pool
}

// NewScoreStore creates a new ScoreStore.
func NewScoreStore(pool *Pool) *ScoreStore {
	return &ScoreStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ScoreStore = (*ScoreStore)(nil)

const scoreColumns = `mint, name, symbol, final, heuristic_total, ai_score, confidence,
	risk, reasoning, category, heuristics, market, scored_at`

// Upsert stores r unless a newer score for the mint exists.
func (s *ScoreStore) Upsert(ctx context.Context, r *domain.ScoreResult) (err error) {
	if r == nil || r.Mint == "" {
		return storage.ErrInvalidInput
	}
	start := time.Now()
	defer func() { observe("upsert_score", start, err) }()

	heuristics, err := json.Marshal(r.Heuristics)
	if err != nil {
		return fmt.Errorf("marshal heuristics: %w", err)
	}
	market, err := json.Marshal(r.Market)
	if err != nil {
		return fmt.Errorf("marshal market: %w", err)
	}

	query := `
		INSERT INTO scores (` + scoreColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (mint) DO UPDATE SET
			name = EXCLUDED.name,
			symbol = EXCLUDED.symbol,
			final = EXCLUDED.final,
			heuristic_total = EXCLUDED.heuristic_total,
			ai_score = EXCLUDED.ai_score,
			confidence = EXCLUDED.confidence,
			risk = EXCLUDED.risk,
			reasoning = EXCLUDED.reasoning,
			category = EXCLUDED.category,
			heuristics = EXCLUDED.heuristics,
			market = EXCLUDED.market,
			scored_at = EXCLUDED.scored_at,
			updated_at = now()
		WHERE scores.scored_at <= EXCLUDED.scored_at
	`

	_, err = s.pool.Exec(ctx, query,
		r.Mint,
		r.Name,
		r.Symbol,
		r.Final,
		r.HeuristicTotal,
		r.AIScore,
		r.Confidence,
		string(r.Risk),
		r.Reasoning,
		r.Category,
		heuristics,
		market,
		r.ScoredAt,
	)
	if err != nil {
		return storeErr("upsert score", err)
	}
	return nil
}

// GetByMint returns the latest score. Returns ErrNotFound if none.
func (s *ScoreStore) GetByMint(ctx context.Context, mint string) (_ *domain.ScoreResult, err error) {
	start := time.Now()
	defer func() { observe("get_score", start, err) }()

	query := `SELECT ` + scoreColumns + ` FROM scores WHERE mint = $1`

	r, err := scanScore(s.pool.QueryRow(ctx, query, mint))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, storeErr("get score by mint", err)
	}
	return r, nil
}

// ListRecent returns scores with scored_at >= since, newest first.
func (s *ScoreStore) ListRecent(ctx context.Context, since int64, limit int) (_ []*domain.ScoreResult, err error) {
	start := time.Now()
	defer func() { observe("list_scores", start, err) }()

	query := `
		SELECT ` + scoreColumns + `
		FROM scores
		WHERE scored_at >= $1
		ORDER BY scored_at DESC, mint ASC
	`
	args := []any{since}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list recent scores", err)
	}
	defer rows.Close()

	var out []*domain.ScoreResult
	for rows.Next() {
		r, err := scanScore(rows)
		if err != nil {
			return nil, storeErr("scan score", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate scores", err)
	}
	return out, nil
}

// scanScore scans a single row into ScoreResult.
func scanScore(row pgx.Row) (*domain.ScoreResult, error) {
	var (
		r                  domain.ScoreResult
		risk               string
		heuristics, market []byte
	)
	err := row.Scan(
		&r.Mint,
		&r.Name,
		&r.Symbol,
		&r.Final,
		&r.HeuristicTotal,
		&r.AIScore,
		&r.Confidence,
		&risk,
		&r.Reasoning,
		&r.Category,
		&heuristics,
		&market,
		&r.ScoredAt,
	)
	if err != nil {
		return nil, err
	}
	r.Risk = domain.RiskTier(risk)
	if err := json.Unmarshal(heuristics, &r.Heuristics); err != nil {
		return nil, fmt.Errorf("decode heuristics: %w", err)
	}
	if err := json.Unmarshal(market, &r.Market); err != nil {
		return nil, fmt.Errorf("decode market: %w", err)
	}
	return &r, nil
}
