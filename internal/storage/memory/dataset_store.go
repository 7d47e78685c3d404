package memory

import (
	"context"
	"sort"
	"sync"

	"mm-replay-lab/internal/domain"
	"mm-replay-lab/internal/storage"
)

// DatasetStore is an in-memory implementation of storage.DatasetStore.
type DatasetStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Dataset // keyed by dataset_id
}

// NewDatasetStore creates a new in-memory dataset store.
func NewDatasetStore() *DatasetStore {
	return &DatasetStore{
		data: make(map[string]*domain.Dataset),
	}
}

// Insert registers a dataset. Returns ErrDuplicateKey if dataset_id exists.
func (s *DatasetStore) Insert(_ context.Context, d *domain.Dataset) error {
	if d == nil || d.DatasetID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[d.DatasetID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *d
	s.data[d.DatasetID] = &copy
	return nil
}

// GetByID retrieves a dataset. Returns ErrNotFound if not exists.
func (s *DatasetStore) GetByID(_ context.Context, datasetID string) (*domain.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.data[datasetID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *d
	return &copy, nil
}

// List retrieves all datasets ordered by dataset_id ASC.
func (s *DatasetStore) List(_ context.Context) ([]*domain.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Dataset, 0, len(s.data))
	for _, d := range s.data {
		copy := *d
		result = append(result, &copy)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DatasetID < result[j].DatasetID
	})
	return result, nil
}

var _ storage.DatasetStore = (*DatasetStore)(nil)
