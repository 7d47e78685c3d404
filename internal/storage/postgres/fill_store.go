package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"mm-replay-lab/internal/domain"
	"mm-replay-lab/internal/storage"
)

// FillStore implements storage.FillStore using PostgreSQL.
type FillStore struct {
	pool *Pool
}

// NewFillStore creates a new FillStore.
func NewFillStore(pool *Pool) *FillStore {
	return &FillStore{pool: pool}
}

// Compile-time interface check.
var _ storage.FillStore = (*FillStore)(nil)

// InsertBulk adds fills atomically. Fails entire batch on any duplicate fill_id.
func (s *FillStore) InsertBulk(ctx context.Context, fills []*domain.Fill) error {
	if len(fills) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO fills (
			fill_id, run_id, latency_ns, order_id, side, price, quantity,
			submit_time_ns, fill_time_ns, decision_mid, fill_mid, commission
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	for _, f := range fills {
		if f.FillID == "" || f.RunID == "" {
			return storage.ErrInvalidInput
		}
		_, err := tx.Exec(ctx, query,
			f.FillID,
			f.RunID,
			f.LatencyNs,
			int64(f.OrderID),
			int16(f.Side),
			f.Price,
			int64(f.Quantity),
			f.SubmitTimeNs,
			f.FillTimeNs,
			f.DecisionMid,
			f.FillMid,
			f.Commission,
		)
		if err != nil {
			return translate("insert fill in bulk", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetByRunID retrieves all fills of a run ordered by (latency_ns, fill_time_ns, order_id) ASC.
func (s *FillStore) GetByRunID(ctx context.Context, runID string) ([]*domain.Fill, error) {
	query := `
		SELECT fill_id, run_id, latency_ns, order_id, side, price, quantity,
			submit_time_ns, fill_time_ns, decision_mid, fill_mid, commission
		FROM fills
		WHERE run_id = $1
		ORDER BY latency_ns ASC, fill_time_ns ASC, order_id ASC
	`

	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("get fills by run id: %w", err)
	}
	defer rows.Close()

	return scanFills(rows)
}

// scanFills scans multiple rows into a slice of Fill.
func scanFills(rows pgx.Rows) ([]*domain.Fill, error) {
	var fills []*domain.Fill

	for rows.Next() {
		var f domain.Fill
		var orderID, quantity int64
		var side int16

		err := rows.Scan(
			&f.FillID,
			&f.RunID,
			&f.LatencyNs,
			&orderID,
			&side,
			&f.Price,
			&quantity,
			&f.SubmitTimeNs,
			&f.FillTimeNs,
			&f.DecisionMid,
			&f.FillMid,
			&f.Commission,
		)
		if err != nil {
			return nil, fmt.Errorf("scan fill row: %w", err)
		}

		f.OrderID = uint64(orderID)
		f.Side = domain.Side(side)
		f.Quantity = uint64(quantity)
		fills = append(fills, &f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fill rows: %w", err)
	}

	return fills, nil
}
