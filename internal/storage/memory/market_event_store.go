package memory

import (
	"context"
	"sort"
	"sync"

	"mm-replay-lab/internal/domain"
	"mm-replay-lab/internal/storage"
)

type storedEvent struct {
	seq   int
	event domain.MarketEvent
}

// MarketEventStore is an in-memory implementation of storage.MarketEventStore.
type MarketEventStore struct {
	mu   sync.RWMutex
	data map[string][]storedEvent // keyed by dataset_id
}

// NewMarketEventStore creates a new in-memory market event store.
func NewMarketEventStore() *MarketEventStore {
	return &MarketEventStore{
		data: make(map[string][]storedEvent),
	}
}

// InsertBulk appends events for a dataset in input order.
// Returns ErrDuplicateKey if the dataset already has events.
func (s *MarketEventStore) InsertBulk(_ context.Context, datasetID string, events []*domain.MarketEvent) error {
	if datasetID == "" {
		return storage.ErrInvalidInput
	}
	if len(events) == 0 {
		return nil
	}
	for _, e := range events {
		if e == nil {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[datasetID]; exists {
		return storage.ErrDuplicateKey
	}

	rows := make([]storedEvent, len(events))
	for i, e := range events {
		rows[i] = storedEvent{seq: i, event: *e}
	}
	s.data[datasetID] = rows
	return nil
}

// GetByDataset retrieves all events of a dataset ordered by (timestamp_ns, seq) ASC.
func (s *MarketEventStore) GetByDataset(_ context.Context, datasetID string) ([]*domain.MarketEvent, error) {
	return s.filter(datasetID, func(*domain.MarketEvent) bool { return true }), nil
}

// GetByTimeRange retrieves events within [start, end] (inclusive).
func (s *MarketEventStore) GetByTimeRange(_ context.Context, datasetID string, start, end int64) ([]*domain.MarketEvent, error) {
	return s.filter(datasetID, func(e *domain.MarketEvent) bool {
		return e.TimestampNs >= start && e.TimestampNs <= end
	}), nil
}

func (s *MarketEventStore) filter(datasetID string, keep func(*domain.MarketEvent) bool) []*domain.MarketEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []storedEvent
	for _, r := range s.data[datasetID] {
		if keep(&r.event) {
			rows = append(rows, r)
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].event.TimestampNs != rows[j].event.TimestampNs {
			return rows[i].event.TimestampNs < rows[j].event.TimestampNs
		}
		return rows[i].seq < rows[j].seq
	})

	result := make([]*domain.MarketEvent, len(rows))
	for i := range rows {
		copy := rows[i].event
		result[i] = &copy
	}
	return result
}

var _ storage.MarketEventStore = (*MarketEventStore)(nil)
