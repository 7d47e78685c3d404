package memory

import (
	"context"
	"sort"
	"sync"

	"mm-replay-lab/internal/domain"
	"mm-replay-lab/internal/storage"
)

// FillStore is an in-memory implementation of storage.FillStore.
type FillStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Fill // keyed by fill_id
}

// NewFillStore creates a new in-memory fill store.
func NewFillStore() *FillStore {
	return &FillStore{
		data: make(map[string]*domain.Fill),
	}
}

// InsertBulk adds fills atomically. Fails entire batch on any duplicate.
func (s *FillStore) InsertBulk(_ context.Context, fills []*domain.Fill) error {
	if len(fills) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Track keys in this batch to detect intra-batch duplicates
	batchKeys := make(map[string]struct{}, len(fills))

	// First pass: check for duplicates (existing + intra-batch)
	for _, f := range fills {
		if f == nil || f.FillID == "" || f.RunID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := s.data[f.FillID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[f.FillID]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[f.FillID] = struct{}{}
	}

	// Second pass: insert all
	for _, f := range fills {
		copy := *f
		s.data[f.FillID] = &copy
	}

	return nil
}

// GetByRunID retrieves all fills of a run ordered by (latency_ns, fill_time_ns, order_id) ASC.
func (s *FillStore) GetByRunID(_ context.Context, runID string) ([]*domain.Fill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Fill
	for _, f := range s.data {
		if f.RunID == runID {
			copy := *f
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.LatencyNs != b.LatencyNs {
			return a.LatencyNs < b.LatencyNs
		}
		if a.FillTimeNs != b.FillTimeNs {
			return a.FillTimeNs < b.FillTimeNs
		}
		return a.OrderID < b.OrderID
	})

	return result, nil
}

var _ storage.FillStore = (*FillStore)(nil)
