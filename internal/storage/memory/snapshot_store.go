package memory

import (
	"context"
	"sort"
	"sync"

	"solana-signal-lab/internal/domain"
	"solana-signal-lab/internal/storage"
)

type snapshotKey struct {
	mint       string
	pair       string
	capturedAt int64
}

// SnapshotStore is an in-memory implementation of storage.SnapshotStore.
type SnapshotStore struct {
	mu     sync.RWMutex
	keys   map[snapshotKey]struct{}
	byMint map[string][]domain.EntitySnapshot
}

// NewSnapshotStore creates a new in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		keys:   make(map[snapshotKey]struct{}),
		byMint: make(map[string][]domain.EntitySnapshot),
	}
}

var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// InsertBulk appends snapshots. Fails the entire batch on any duplicate key.
func (s *SnapshotStore) InsertBulk(_ context.Context, snaps []domain.EntitySnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate all before inserting any
	batch := make(map[snapshotKey]struct{}, len(snaps))
	for _, sn := range snaps {
		if sn.Mint == "" {
			return storage.ErrInvalidInput
		}
		k := snapshotKey{sn.Mint, sn.PairAddress, sn.CapturedAt}
		if _, exists := s.keys[k]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batch[k]; exists {
			return storage.ErrDuplicateKey
		}
		batch[k] = struct{}{}
	}

	for _, sn := range snaps {
		s.keys[snapshotKey{sn.Mint, sn.PairAddress, sn.CapturedAt}] = struct{}{}
		s.byMint[sn.Mint] = append(s.byMint[sn.Mint], sn)
	}
	return nil
}

// GetByMint returns snapshots captured at or after since, ordered by captured_at ASC.
func (s *SnapshotStore) GetByMint(_ context.Context, mint string, since int64) ([]domain.EntitySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.EntitySnapshot
	for _, sn := range s.byMint[mint] {
		if sn.CapturedAt >= since {
			result = append(result, sn)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].CapturedAt != result[j].CapturedAt {
			return result[i].CapturedAt < result[j].CapturedAt
		}
		return result[i].PairAddress < result[j].PairAddress
	})
	return result, nil
}
