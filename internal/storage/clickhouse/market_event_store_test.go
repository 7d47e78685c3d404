package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mm-replay-lab/internal/domain"
	"mm-replay-lab/internal/storage"
)

func testEvents() []*domain.MarketEvent {
	return []*domain.MarketEvent{
		{TimestampNs: 1000, AssetID: 1, BidPrice: 99.99, AskPrice: 100.01, BidSize: 10, AskSize: 12},
		{TimestampNs: 2000, AssetID: 1, BidPrice: 99.98, AskPrice: 100.02, BidSize: 5, AskSize: 7, TradeVolume: 3, TradeSide: domain.SideSell},
		{TimestampNs: 2000, AssetID: 1, BidPrice: 99.97, AskPrice: 100.03, BidSize: 1, AskSize: 2},
		{TimestampNs: 3000, AssetID: 1, BidPrice: 99.99, AskPrice: 100.01, BidSize: 8, AskSize: 9, TradeVolume: 4, TradeSide: domain.SideBuy},
	}
}

func TestMarketEventStore_InsertAndGet(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewMarketEventStore(conn)
	ctx := context.Background()

	require.NoError(t, store.InsertBulk(ctx, "ds-1", testEvents()))

	got, err := store.GetByDataset(ctx, "ds-1")
	require.NoError(t, err)
	require.Len(t, got, 4)

	// Same-timestamp events keep input order
	assert.Equal(t, 99.98, got[1].BidPrice)
	assert.Equal(t, 99.97, got[2].BidPrice)
	assert.Equal(t, uint64(3), got[1].TradeVolume)
	assert.Equal(t, domain.SideSell, got[1].TradeSide)
	assert.Equal(t, uint8(1), got[0].DepthLevels)
	assert.Equal(t, uint64(12), got[0].Depth[0].AskSize)
}

func TestMarketEventStore_Duplicate(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewMarketEventStore(conn)
	ctx := context.Background()

	require.NoError(t, store.InsertBulk(ctx, "ds-1", testEvents()))
	err := store.InsertBulk(ctx, "ds-1", testEvents())
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	// Another dataset is independent
	require.NoError(t, store.InsertBulk(ctx, "ds-2", testEvents()[:1]))
}

func TestMarketEventStore_GetByTimeRange(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewMarketEventStore(conn)
	ctx := context.Background()
	require.NoError(t, store.InsertBulk(ctx, "ds-1", testEvents()))

	got, err := store.GetByTimeRange(ctx, "ds-1", 2000, 3000)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = store.GetByTimeRange(ctx, "ds-1", 5000, 6000)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMarketEventStore_InvalidInput(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewMarketEventStore(conn)
	err := store.InsertBulk(context.Background(), "", testEvents())
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
