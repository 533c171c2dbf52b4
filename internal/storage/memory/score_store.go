package memory

import (
	"context"
	"sort"
	"sync"

	"solana-signal-lab/internal/domain"
	"solana-signal-lab/internal/storage"
)

// ScoreStore is an in-memory implementation of storage.ScoreStore.
type ScoreStore struct {
	mu   sync.RWMutex
	data map[string]*domain.ScoreResult // keyed by mint
}

// NewScoreStore creates a new in-memory score store.
func NewScoreStore() *ScoreStore {
	return &ScoreStore{
		data: make(map[string]*domain.ScoreResult),
	}
}

var _ storage.ScoreStore = (*ScoreStore)(nil)

// Upsert stores r unless a newer score for the mint exists.
func (s *ScoreStore) Upsert(_ context.Context, r *domain.ScoreResult) error {
	if r == nil || r.Mint == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.data[r.Mint]; ok && cur.ScoredAt > r.ScoredAt {
		return nil
	}
	s.data[r.Mint] = copyScore(r)
	return nil
}

// GetByMint returns the latest score for mint. Returns ErrNotFound if none.
func (s *ScoreStore) GetByMint(_ context.Context, mint string) (*domain.ScoreResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.data[mint]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyScore(r), nil
}

// ListRecent returns scores with scored_at >= since, newest first, ties by mint.
func (s *ScoreStore) ListRecent(_ context.Context, since int64, limit int) ([]*domain.ScoreResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ScoreResult
	for _, r := range s.data {
		if r.ScoredAt >= since {
			result = append(result, copyScore(r))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].ScoredAt != result[j].ScoredAt {
			return result[i].ScoredAt > result[j].ScoredAt
		}
		return result[i].Mint < result[j].Mint
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func copyScore(r *domain.ScoreResult) *domain.ScoreResult {
	c := *r
	if r.AIScore != nil {
		v := *r.AIScore
		c.AIScore = &v
	}
	return &c
}
