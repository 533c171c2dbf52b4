package memory

import (
	"context"
	"sync"

	"solana-signal-lab/internal/domain"
	"solana-signal-lab/internal/storage"
)

// SignalStore is an in-memory implementation of storage.SignalStore.
type SignalStore struct {
	mu     sync.RWMutex
	data   map[int64]*domain.Generation // keyed by generated_at
	latest int64
}

// NewSignalStore creates a new in-memory signal store.
func NewSignalStore() *SignalStore {
	return &SignalStore{
		data: make(map[int64]*domain.Generation),
	}
}

var _ storage.SignalStore = (*SignalStore)(nil)

// InsertGeneration appends g. Returns ErrDuplicateKey if generated_at exists.
func (s *SignalStore) InsertGeneration(_ context.Context, g *domain.Generation) error {
	if g == nil || g.GeneratedAt <= 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[g.GeneratedAt]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[g.GeneratedAt] = copyGeneration(g)
	if g.GeneratedAt > s.latest {
		s.latest = g.GeneratedAt
	}
	return nil
}

// GetLatest returns the newest generation. Returns ErrNotFound if none.
func (s *SignalStore) GetLatest(_ context.Context) (*domain.Generation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.data[s.latest]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyGeneration(g), nil
}

// GetByTime returns the generation published at generatedAt.
func (s *SignalStore) GetByTime(_ context.Context, generatedAt int64) (*domain.Generation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.data[generatedAt]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyGeneration(g), nil
}

func copyGeneration(g *domain.Generation) *domain.Generation {
	c := *g
	c.Signals = append(make([]domain.Signal, 0, len(g.Signals)), g.Signals...)
	return &c
}
