package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"mm-replay-lab/internal/domain"
	"mm-replay-lab/internal/storage"
)

// EquitySampleStore is an in-memory implementation of storage.EquitySampleStore.
type EquitySampleStore struct {
	mu   sync.RWMutex
	data map[string]*domain.EquitySample // keyed by run_id|latency_ns|seq
}

// NewEquitySampleStore creates a new in-memory equity sample store.
func NewEquitySampleStore() *EquitySampleStore {
	return &EquitySampleStore{
		data: make(map[string]*domain.EquitySample),
	}
}

func sampleKey(s *domain.EquitySample) string {
	return fmt.Sprintf("%s|%d|%d", s.RunID, s.LatencyNs, s.Seq)
}

// InsertBulk appends samples. Fails entire batch on duplicate (run_id, latency_ns, seq).
func (s *EquitySampleStore) InsertBulk(_ context.Context, samples []*domain.EquitySample) error {
	if len(samples) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(samples))
	for _, sm := range samples {
		if sm == nil || sm.RunID == "" {
			return storage.ErrInvalidInput
		}
		key := sampleKey(sm)
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, sm := range samples {
		copy := *sm
		s.data[sampleKey(sm)] = &copy
	}
	return nil
}

// GetByRun retrieves the curve of one latency point ordered by seq ASC.
func (s *EquitySampleStore) GetByRun(_ context.Context, runID string, latencyNs int64) ([]*domain.EquitySample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.EquitySample
	for _, sm := range s.data {
		if sm.RunID == runID && sm.LatencyNs == latencyNs {
			copy := *sm
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Seq < result[j].Seq
	})
	return result, nil
}

var _ storage.EquitySampleStore = (*EquitySampleStore)(nil)
