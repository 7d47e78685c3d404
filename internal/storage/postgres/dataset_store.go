package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"mm-replay-lab/internal/domain"
	"mm-replay-lab/internal/storage"
)

// DatasetStore implements storage.DatasetStore using PostgreSQL.
type DatasetStore struct {
	pool *Pool
}

// NewDatasetStore creates a new DatasetStore.
func NewDatasetStore(pool *Pool) *DatasetStore {
	return &DatasetStore{pool: pool}
}

// Compile-time interface check.
var _ storage.DatasetStore = (*DatasetStore)(nil)

const datasetColumns = `dataset_id, source, checksum, event_count, skipped_rows,
	first_timestamp_ns, last_timestamp_ns, ingested_at_ms`

// Insert registers a dataset. Returns ErrDuplicateKey if dataset_id exists.
func (s *DatasetStore) Insert(ctx context.Context, d *domain.Dataset) error {
	if d == nil || d.DatasetID == "" {
		return storage.ErrInvalidInput
	}

	query := `INSERT INTO datasets (` + datasetColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		d.DatasetID,
		d.Source,
		d.Checksum,
		d.EventCount,
		d.SkippedRows,
		d.FirstTimestampNs,
		d.LastTimestampNs,
		d.IngestedAtMs,
	)
	return translate("insert dataset", err)
}

// GetByID retrieves a dataset. Returns ErrNotFound if not exists.
func (s *DatasetStore) GetByID(ctx context.Context, datasetID string) (*domain.Dataset, error) {
	query := `SELECT ` + datasetColumns + ` FROM datasets WHERE dataset_id = $1`

	d, err := scanDataset(s.pool.QueryRow(ctx, query, datasetID))
	if err != nil {
		return nil, translate("get dataset", err)
	}
	return d, nil
}

// List retrieves all datasets ordered by dataset_id ASC.
func (s *DatasetStore) List(ctx context.Context) ([]*domain.Dataset, error) {
	query := `SELECT ` + datasetColumns + ` FROM datasets ORDER BY dataset_id ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer rows.Close()

	var datasets []*domain.Dataset
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dataset row: %w", err)
		}
		datasets = append(datasets, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dataset rows: %w", err)
	}

	return datasets, nil
}

func scanDataset(row pgx.Row) (*domain.Dataset, error) {
	var d domain.Dataset
	err := row.Scan(
		&d.DatasetID,
		&d.Source,
		&d.Checksum,
		&d.EventCount,
		&d.SkippedRows,
		&d.FirstTimestampNs,
		&d.LastTimestampNs,
		&d.IngestedAtMs,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
