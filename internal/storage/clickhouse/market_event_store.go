package clickhouse

import (
	"context"
	"fmt"

	"mm-replay-lab/internal/domain"
	"mm-replay-lab/internal/storage"
)

// MarketEventStore implements storage.MarketEventStore using ClickHouse.
// Only the top of book is persisted; loaded events carry it as their single depth level.
type MarketEventStore struct {
	conn *Conn
}

// NewMarketEventStore creates a new MarketEventStore.
func NewMarketEventStore(conn *Conn) *MarketEventStore {
	return &MarketEventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.MarketEventStore = (*MarketEventStore)(nil)

// InsertBulk appends events for a dataset in input order. Returns ErrDuplicateKey
// if the dataset already has events.
func (s *MarketEventStore) InsertBulk(ctx context.Context, datasetID string, events []*domain.MarketEvent) error {
	if datasetID == "" {
		return storage.ErrInvalidInput
	}
	if len(events) == 0 {
		return nil
	}

	// Check for duplicates against existing DB rows
	var count uint64
	err := s.conn.QueryRow(ctx, `SELECT count() FROM market_events WHERE dataset_id = ?`, datasetID).Scan(&count)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if count > 0 {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO market_events (
			dataset_id, seq, timestamp_ns, asset_id,
			bid_price, ask_price, bid_size, ask_size, trade_volume, trade_side
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for i, e := range events {
		err = batch.Append(
			datasetID, uint64(i), e.TimestampNs, e.AssetID,
			e.BidPrice, e.AskPrice, e.BidSize, e.AskSize, e.TradeVolume, int8(e.TradeSide),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByDataset retrieves all events of a dataset ordered by (timestamp_ns, seq) ASC.
func (s *MarketEventStore) GetByDataset(ctx context.Context, datasetID string) ([]*domain.MarketEvent, error) {
	query := `
		SELECT timestamp_ns, asset_id, bid_price, ask_price, bid_size, ask_size, trade_volume, trade_side
		FROM market_events
		WHERE dataset_id = ?
		ORDER BY timestamp_ns ASC, seq ASC
	`

	rows, err := s.conn.Query(ctx, query, datasetID)
	if err != nil {
		return nil, fmt.Errorf("query by dataset: %w", err)
	}
	defer rows.Close()

	return scanMarketEvents(rows)
}

// GetByTimeRange retrieves events within [start, end] (inclusive), ordered as GetByDataset.
func (s *MarketEventStore) GetByTimeRange(ctx context.Context, datasetID string, start, end int64) ([]*domain.MarketEvent, error) {
	query := `
		SELECT timestamp_ns, asset_id, bid_price, ask_price, bid_size, ask_size, trade_volume, trade_side
		FROM market_events
		WHERE dataset_id = ? AND timestamp_ns >= ? AND timestamp_ns <= ?
		ORDER BY timestamp_ns ASC, seq ASC
	`

	rows, err := s.conn.Query(ctx, query, datasetID, start, end)
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanMarketEvents(rows)
}

// scanMarketEvents scans multiple rows.
func scanMarketEvents(rows chRows) ([]*domain.MarketEvent, error) {
	var events []*domain.MarketEvent

	for rows.Next() {
		var e domain.MarketEvent
		var side int8

		err := rows.Scan(
			&e.TimestampNs, &e.AssetID, &e.BidPrice, &e.AskPrice,
			&e.BidSize, &e.AskSize, &e.TradeVolume, &side,
		)
		if err != nil {
			return nil, fmt.Errorf("scan market event row: %w", err)
		}

		e.TradeSide = domain.Side(side)
		e.DepthLevels = 1
		e.Depth[0] = domain.DepthLevel{
			BidPrice: e.BidPrice,
			BidSize:  e.BidSize,
			AskPrice: e.AskPrice,
			AskSize:  e.AskSize,
		}
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate market event rows: %w", err)
	}

	return events, nil
}
