package clickhouse

import (
	"context"
	"fmt"

	"mm-replay-lab/internal/domain"
	"mm-replay-lab/internal/storage"
)

// EquitySampleStore implements storage.EquitySampleStore using ClickHouse.
type EquitySampleStore struct {
	conn *Conn
}

// NewEquitySampleStore creates a new EquitySampleStore.
func NewEquitySampleStore(conn *Conn) *EquitySampleStore {
	return &EquitySampleStore{conn: conn}
}

// Compile-time interface check.
var _ storage.EquitySampleStore = (*EquitySampleStore)(nil)

type curveKey struct {
	runID     string
	latencyNs int64
}

// InsertBulk appends samples. Fails entire batch on duplicate (run_id, latency_ns, seq),
// including a batch whose seq range overlaps samples already stored for its curve.
func (s *EquitySampleStore) InsertBulk(ctx context.Context, samples []*domain.EquitySample) error {
	if len(samples) == 0 {
		return nil
	}

	// Check for intra-batch duplicates and collect the seq range per curve
	type seqRange struct{ lo, hi int }
	type key struct {
		curve curveKey
		seq   int
	}
	seen := make(map[key]struct{}, len(samples))
	ranges := make(map[curveKey]seqRange)
	var order []curveKey
	for _, p := range samples {
		if p.RunID == "" || p.Seq < 0 {
			return storage.ErrInvalidInput
		}
		k := key{curveKey{p.RunID, p.LatencyNs}, p.Seq}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}

		r, ok := ranges[k.curve]
		if !ok {
			order = append(order, k.curve)
			r = seqRange{p.Seq, p.Seq}
		}
		r.lo = min(r.lo, p.Seq)
		r.hi = max(r.hi, p.Seq)
		ranges[k.curve] = r
	}

	// Check for duplicates against existing DB rows
	for _, c := range order {
		r := ranges[c]
		var count uint64
		err := s.conn.QueryRow(ctx, `
			SELECT count() FROM equity_samples
			WHERE run_id = ? AND latency_ns = ? AND seq >= ? AND seq <= ?
		`, c.runID, c.latencyNs, uint32(r.lo), uint32(r.hi)).Scan(&count)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if count > 0 {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO equity_samples (
			run_id, latency_ns, seq, timestamp_ns, equity, position
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range samples {
		err = batch.Append(p.RunID, p.LatencyNs, uint32(p.Seq), p.TimestampNs, p.Equity, p.Position)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByRun retrieves the curve of one latency point ordered by seq ASC.
func (s *EquitySampleStore) GetByRun(ctx context.Context, runID string, latencyNs int64) ([]*domain.EquitySample, error) {
	query := `
		SELECT run_id, latency_ns, seq, timestamp_ns, equity, position
		FROM equity_samples
		WHERE run_id = ? AND latency_ns = ?
		ORDER BY seq ASC
	`

	rows, err := s.conn.Query(ctx, query, runID, latencyNs)
	if err != nil {
		return nil, fmt.Errorf("query by run: %w", err)
	}
	defer rows.Close()

	var samples []*domain.EquitySample
	for rows.Next() {
		var p domain.EquitySample
		var seq uint32
		if err := rows.Scan(&p.RunID, &p.LatencyNs, &seq, &p.TimestampNs, &p.Equity, &p.Position); err != nil {
			return nil, fmt.Errorf("scan equity sample row: %w", err)
		}
		p.Seq = int(seq)
		samples = append(samples, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate equity sample rows: %w", err)
	}

	return samples, nil
}
