package storage

import (
	"context"

	"solana-signal-lab/internal/domain"
)

// SnapshotStore keeps the market snapshot history.
type SnapshotStore interface {
	// InsertBulk appends snapshots. Fails the entire batch on a duplicate
	// (mint, pair_address, captured_at).
	InsertBulk(ctx context.Context, snaps []domain.EntitySnapshot) error

	// GetByMint returns snapshots captured at or after since, ordered by captured_at ASC.
	GetByMint(ctx context.Context, mint string, since int64) ([]domain.EntitySnapshot, error)
}

// ScoreStore keeps the latest ScoreResult per mint.
type ScoreStore interface {
	// Upsert stores r unless a newer score for the same mint is already stored.
	Upsert(ctx context.Context, r *domain.ScoreResult) error

	// GetByMint returns the latest score. Returns ErrNotFound if none.
	GetByMint(ctx context.Context, mint string) (*domain.ScoreResult, error)

	// ListRecent returns scores with scored_at >= since, newest first.
	// limit <= 0 means no limit.
	ListRecent(ctx context.Context, since int64, limit int) ([]*domain.ScoreResult, error)
}

// SignalStore keeps every published signal generation.
type SignalStore interface {
	// InsertGeneration appends g. Returns ErrDuplicateKey if generated_at exists.
	InsertGeneration(ctx context.Context, g *domain.Generation) error

	// GetLatest returns the newest generation. Returns ErrNotFound if none.
	GetLatest(ctx context.Context) (*domain.Generation, error)

	// GetByTime returns the generation published at generatedAt. Returns ErrNotFound if none.
	GetByTime(ctx context.Context, generatedAt int64) (*domain.Generation, error)
}
