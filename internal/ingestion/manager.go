package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mm-replay-lab/internal/domain"
	"mm-replay-lab/internal/idhash"
	"mm-replay-lab/internal/replay"
	"mm-replay-lab/internal/storage"
)

// ErrChecksumMismatch is returned when a dataset id is reused for different input.
var ErrChecksumMismatch = errors.New("dataset checksum mismatch")

// Manager orchestrates ingestion from sources to storage.
// It enforces deterministic ordering and uses storage layer for duplicate rejection.
type Manager struct {
	datasetStore storage.DatasetStore
	eventStore   storage.MarketEventStore
	logger       *slog.Logger
	now          func() time.Time
}

// ManagerOptions contains configuration for creating a Manager.
type ManagerOptions struct {
	DatasetStore storage.DatasetStore
	EventStore   storage.MarketEventStore
	Logger       *slog.Logger
	Now          func() time.Time // defaults to time.Now; only stamps IngestedAtMs
}

// NewManager creates a new ingestion manager with the provided stores.
func NewManager(opts ManagerOptions) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		datasetStore: opts.DatasetStore,
		eventStore:   opts.EventStore,
		logger:       opts.Logger,
		now:          opts.Now,
	}
}

// Ingest fetches events from source, orders them by (timestamp, asset) and
// stores them under datasetID. An empty datasetID is derived from the input
// checksum. Duplicates are rejected by the storage layer (ErrDuplicateKey).
func (m *Manager) Ingest(ctx context.Context, source EventSource, datasetID string) (*domain.Dataset, error) {
	batch, err := source.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return m.store(ctx, batch, datasetID)
}

// Ensure is Ingest for inputs that may already be stored. When the dataset is
// registered with the same checksum it is returned unchanged and ingested is
// false. A registered dataset with a different checksum is ErrChecksumMismatch.
func (m *Manager) Ensure(ctx context.Context, source EventSource, datasetID string) (ds *domain.Dataset, ingested bool, err error) {
	batch, err := source.Fetch(ctx)
	if err != nil {
		return nil, false, err
	}
	if datasetID == "" {
		datasetID = idhash.ComputeDatasetID(batch.Checksum)
	}

	existing, err := m.datasetStore.GetByID(ctx, datasetID)
	switch {
	case err == nil:
		if existing.Checksum != batch.Checksum {
			return nil, false, fmt.Errorf("%w: dataset %s", ErrChecksumMismatch, datasetID)
		}
		m.logger.Info("dataset already ingested", "dataset_id", datasetID, "events", existing.EventCount)
		return existing, false, nil
	case !errors.Is(err, storage.ErrNotFound):
		return nil, false, fmt.Errorf("lookup dataset %s: %w", datasetID, err)
	}

	ds, err = m.store(ctx, batch, datasetID)
	if err != nil {
		return nil, false, err
	}
	return ds, true, nil
}

func (m *Manager) store(ctx context.Context, batch *Batch, datasetID string) (*domain.Dataset, error) {
	if len(batch.Events) == 0 {
		return nil, ErrNoRows
	}

	// Enforce deterministic ordering
	replay.SortEvents(batch.Events)

	if datasetID == "" {
		datasetID = idhash.ComputeDatasetID(batch.Checksum)
	}
	ds := &domain.Dataset{
		DatasetID:        datasetID,
		Source:           batch.Source,
		Checksum:         batch.Checksum,
		EventCount:       len(batch.Events),
		SkippedRows:      batch.Skipped,
		FirstTimestampNs: batch.Events[0].TimestampNs,
		LastTimestampNs:  batch.Events[len(batch.Events)-1].TimestampNs,
		IngestedAtMs:     m.now().UnixMilli(),
	}

	if err := m.datasetStore.Insert(ctx, ds); err != nil {
		return nil, fmt.Errorf("register dataset %s: %w", datasetID, err)
	}
	if err := m.eventStore.InsertBulk(ctx, datasetID, batch.Events); err != nil {
		return nil, fmt.Errorf("store events of %s: %w", datasetID, err)
	}

	m.logger.Info("dataset ingested",
		"dataset_id", datasetID,
		"source", batch.Source,
		"events", ds.EventCount,
		"skipped", ds.SkippedRows,
		"checksum", batch.Checksum,
	)
	return ds, nil
}
