package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"mm-replay-lab/internal/domain"
	"mm-replay-lab/internal/storage"
)

// ReportStore is an in-memory implementation of storage.ReportStore.
type ReportStore struct {
	mu   sync.RWMutex
	data map[string]*domain.PerformanceReport // keyed by run_id|latency_ns
}

// NewReportStore creates a new in-memory report store.
func NewReportStore() *ReportStore {
	return &ReportStore{
		data: make(map[string]*domain.PerformanceReport),
	}
}

func reportKey(runID string, latencyNs int64) string {
	return fmt.Sprintf("%s|%d", runID, latencyNs)
}

// Insert adds a report. Returns ErrDuplicateKey if (run_id, latency_ns) exists.
func (s *ReportStore) Insert(_ context.Context, r *domain.PerformanceReport) error {
	if r == nil || r.RunID == "" {
		return storage.ErrInvalidInput
	}

	key := reportKey(r.RunID, r.LatencyNs)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[key] = cloneReport(r)
	return nil
}

// GetByRunID retrieves all reports of a run ordered by latency_ns ASC.
func (s *ReportStore) GetByRunID(_ context.Context, runID string) ([]*domain.PerformanceReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PerformanceReport
	for _, r := range s.data {
		if r.RunID == runID {
			result = append(result, cloneReport(r))
		}
	}
	if len(result) == 0 {
		return nil, storage.ErrNotFound
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].LatencyNs < result[j].LatencyNs
	})
	return result, nil
}

// ListRunIDs retrieves distinct run ids ordered ASC.
func (s *ReportStore) ListRunIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var ids []string
	for _, r := range s.data {
		if _, ok := seen[r.RunID]; ok {
			continue
		}
		seen[r.RunID] = struct{}{}
		ids = append(ids, r.RunID)
	}
	sort.Strings(ids)
	return ids, nil
}

func cloneReport(r *domain.PerformanceReport) *domain.PerformanceReport {
	copy := *r
	copy.EquityCurve = append([]float64(nil), r.EquityCurve...)
	copy.Timestamps = append([]int64(nil), r.Timestamps...)
	return &copy
}

var _ storage.ReportStore = (*ReportStore)(nil)
