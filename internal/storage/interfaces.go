package storage

import (
	"context"

	"mm-replay-lab/internal/domain"
)

// DatasetStore provides access to the datasets registry.
type DatasetStore interface {
	// Insert registers a dataset. Returns ErrDuplicateKey if dataset_id exists.
	Insert(ctx context.Context, d *domain.Dataset) error

	// GetByID retrieves a dataset. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, datasetID string) (*domain.Dataset, error)

	// List retrieves all datasets ordered by dataset_id ASC.
	List(ctx context.Context) ([]*domain.Dataset, error)
}

// MarketEventStore provides access to market_events storage.
type MarketEventStore interface {
	// InsertBulk appends events for a dataset in input order. Returns ErrDuplicateKey
	// if the dataset already has events.
	InsertBulk(ctx context.Context, datasetID string, events []*domain.MarketEvent) error

	// GetByDataset retrieves all events of a dataset ordered by (timestamp_ns, seq) ASC.
	GetByDataset(ctx context.Context, datasetID string) ([]*domain.MarketEvent, error)

	// GetByTimeRange retrieves events within [start, end] (inclusive), ordered as GetByDataset.
	GetByTimeRange(ctx context.Context, datasetID string, start, end int64) ([]*domain.MarketEvent, error)
}

// FillStore provides access to fills storage.
type FillStore interface {
	// InsertBulk adds fills atomically. Fails entire batch on any duplicate fill_id.
	InsertBulk(ctx context.Context, fills []*domain.Fill) error

	// GetByRunID retrieves all fills of a run ordered by (latency_ns, fill_time_ns, order_id) ASC.
	GetByRunID(ctx context.Context, runID string) ([]*domain.Fill, error)
}

// ReportStore provides access to run_reports storage.
type ReportStore interface {
	// Insert adds a report. Returns ErrDuplicateKey if (run_id, latency_ns) exists.
	Insert(ctx context.Context, r *domain.PerformanceReport) error

	// GetByRunID retrieves all reports of a run ordered by latency_ns ASC.
	// Returns ErrNotFound if the run has no reports.
	GetByRunID(ctx context.Context, runID string) ([]*domain.PerformanceReport, error)

	// ListRunIDs retrieves distinct run ids ordered ASC.
	ListRunIDs(ctx context.Context) ([]string, error)
}

// EquitySampleStore provides access to equity_samples storage.
type EquitySampleStore interface {
	// InsertBulk appends samples. Fails entire batch on duplicate (run_id, latency_ns, seq).
	InsertBulk(ctx context.Context, samples []*domain.EquitySample) error

	// GetByRun retrieves the curve of one latency point ordered by seq ASC.
	GetByRun(ctx context.Context, runID string, latencyNs int64) ([]*domain.EquitySample, error)
}
