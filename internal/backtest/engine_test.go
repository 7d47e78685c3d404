package backtest

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mm-replay-lab/internal/audit"
	"mm-replay-lab/internal/backtest/fixtures"
	"mm-replay-lab/internal/domain"
	"mm-replay-lab/internal/replay"
	"mm-replay-lab/internal/risk"
	"mm-replay-lab/internal/storage/memory"
)

const second = int64(1_000_000_000)

func flatEvents(n int) []*domain.MarketEvent {
	events := make([]*domain.MarketEvent, n)
	for i := range events {
		events[i] = &domain.MarketEvent{
			TimestampNs: int64(i+1) * second,
			AssetID:     1,
			BidPrice:    99.99,
			AskPrice:    100.01,
			BidSize:     500,
			AskSize:     500,
		}
	}
	return events
}

func testConfig(latencyNs int64) Config {
	cfg := DefaultConfig()
	cfg.RunID = "test-run"
	cfg.LatencyNs = latencyNs
	return cfg
}

// activeConfig fills on fixtures.ActiveEvents.
func activeConfig(latencyNs int64) Config {
	cfg := testConfig(latencyNs)
	cfg.Fill = fixtures.FillParams()
	return cfg
}

func TestRun_FlatMarketProducesNoTrades(t *testing.T) {
	res, err := Run(context.Background(), flatEvents(3), testConfig(500), Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, res.EventCount)
	assert.Equal(t, 0, res.Report.SignalCount)
	assert.Equal(t, 0, res.Report.TotalTrades)
	assert.Equal(t, 0.0, res.Report.TotalPnL)
	assert.Len(t, res.Report.EquityCurve, 2, "first event only primes")
	assert.Empty(t, res.Fills)
	assert.False(t, res.KillSwitch)
}

func TestRun_SustainedImbalanceFiresOnce(t *testing.T) {
	mem := &audit.Memory{}
	res, err := Run(context.Background(), flatEvents(15), testConfig(500), Options{
		Audit:     audit.NewBuffer(mem),
		Imbalance: FixedImbalance(0.15),
	})
	require.NoError(t, err)

	r := res.Report
	assert.Equal(t, 1, r.SignalCount)
	assert.Equal(t, 2, r.OrdersSubmitted)
	assert.Equal(t, 2, r.OrdersFilled+r.OrdersCancelled, "both orders resolve once latency elapses")
	assert.Len(t, res.Fills, r.OrdersFilled)
	assert.Len(t, res.Cancelled, r.OrdersCancelled)

	assert.Equal(t, 1, mem.Count(audit.KindConfig))
	assert.Equal(t, 1, mem.Count(audit.KindSignal))
	assert.Equal(t, 2, mem.Count(audit.KindOrderSubmit))
	assert.Equal(t, 2, mem.Count(audit.KindOrderFill)+mem.Count(audit.KindOrderCancel))

	for _, rec := range mem.Records() {
		assert.Equal(t, "test-run", rec.RunID)
		assert.Equal(t, int64(500), rec.LatencyNs)
	}
}

func TestRun_OrdersResolveOnlyAfterLatency(t *testing.T) {
	// Latency longer than the remaining stream keeps both orders pending.
	res, err := Run(context.Background(), flatEvents(15), testConfig(10*second), Options{
		Imbalance: FixedImbalance(0.15),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Report.OrdersSubmitted)
	assert.Equal(t, 0, res.Report.OrdersFilled)
	assert.Equal(t, 0, res.Report.OrdersCancelled)
}

func TestRun_Deterministic(t *testing.T) {
	events := fixtures.ActiveEvents(400)

	r1, err := Run(context.Background(), events, activeConfig(500), Options{})
	require.NoError(t, err)
	require.Positive(t, r1.Report.OrdersFilled, "fixture must trade for the comparison to mean anything")
	require.NotEmpty(t, r1.Fills)
	require.NotZero(t, r1.Report.TotalPnL)

	r2, err := Run(context.Background(), events, activeConfig(500), Options{})
	require.NoError(t, err)

	assert.Equal(t, r1.Report, r2.Report)
	assert.Equal(t, r1.Fills, r2.Fills)
	assert.Equal(t, r1.Equity, r2.Equity)
}

func TestRun_SeedChangesFills(t *testing.T) {
	events := fixtures.ActiveEvents(400)

	a := activeConfig(500)
	b := activeConfig(500)
	b.Seed = a.Seed + 1

	ra, err := Run(context.Background(), events, a, Options{})
	require.NoError(t, err)
	rb, err := Run(context.Background(), events, b, Options{})
	require.NoError(t, err)

	require.Positive(t, ra.Report.OrdersFilled)
	require.Positive(t, rb.Report.OrdersFilled)
	assert.NotEqual(t, fillOrderIDs(ra.Fills), fillOrderIDs(rb.Fills))
}

func fillOrderIDs(fills []*domain.Fill) []uint64 {
	ids := make([]uint64, len(fills))
	for i, f := range fills {
		ids[i] = f.OrderID
	}
	return ids
}

func TestRun_SeedIsReported(t *testing.T) {
	cfg := testConfig(500)
	cfg.Seed = 7

	res, err := Run(context.Background(), flatEvents(15), cfg, Options{Imbalance: FixedImbalance(0.2)})
	require.NoError(t, err)

	assert.Equal(t, uint64(7), res.Report.Seed)
	assert.Equal(t, 1, res.Report.SignalCount)
}

func TestRun_OrderRateLimitRejectsSecondLeg(t *testing.T) {
	cfg := testConfig(500)
	cfg.Risk.MaxOrdersPerSecond = 1
	cfg.Risk.OrderBurst = 1

	res, err := Run(context.Background(), flatEvents(15), cfg, Options{Imbalance: FixedImbalance(0.15)})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Report.OrdersSubmitted)
	assert.Equal(t, 1, res.Report.RiskRejections)
	assert.Equal(t, 1, res.RejectsByCause[string(risk.ReasonOrderRate)])
}

func TestRun_PositionLimitCountsRejections(t *testing.T) {
	cfg := testConfig(500)
	cfg.Risk.MaxPosition = 50 // below the 100-unit test order

	res, err := Run(context.Background(), flatEvents(15), cfg, Options{Imbalance: FixedImbalance(0.15)})
	require.NoError(t, err)

	assert.Equal(t, 0, res.Report.SignalCount)
	assert.Equal(t, 0, res.Report.OrdersSubmitted)
	assert.Positive(t, res.RejectsByCause[string(risk.ReasonPositionLimit)])
	assert.Equal(t, res.Report.RiskRejections, res.RejectsByCause[string(risk.ReasonPositionLimit)])
}

func TestRun_EquitySamplesMatchCurve(t *testing.T) {
	res, err := Run(context.Background(), fixtures.ActiveEvents(100), activeConfig(100), Options{})
	require.NoError(t, err)
	require.NotEmpty(t, res.Fills)

	require.Len(t, res.Equity, len(res.Report.EquityCurve))
	for i, s := range res.Equity {
		assert.Equal(t, i, s.Seq)
		assert.Equal(t, res.Report.EquityCurve[i], s.Equity)
		assert.Equal(t, res.Report.Timestamps[i], s.TimestampNs)
		assert.Equal(t, int64(100), s.LatencyNs)
	}
	for _, f := range res.Fills {
		assert.Len(t, f.FillID, 64)
		assert.Equal(t, "test-run", f.RunID)
	}
}

func attr(rec audit.Record, key string) (slog.Value, bool) {
	for _, a := range rec.Attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return slog.Value{}, false
}

func TestEngine_SafeSizeScalesWithPosition(t *testing.T) {
	e := NewEngine(testConfig(500), Options{}) // position limit 1000

	assert.Equal(t, uint64(100), e.safeSize(0, 100))
	assert.Equal(t, uint64(50), e.safeSize(500, 100))
	assert.Equal(t, uint64(25), e.safeSize(-750, 100))
	assert.Equal(t, uint64(0), e.safeSize(1000, 100))
	assert.Equal(t, uint64(0), e.safeSize(-1200, 100))
}

func TestRun_QuoteSizesFollowRemainingCapacity(t *testing.T) {
	cfg := activeConfig(500)
	cfg.Risk.MaxPosition = 400
	mem := &audit.Memory{}

	res, err := Run(context.Background(), fixtures.ActiveEvents(600), cfg, Options{Audit: audit.NewBuffer(mem)})
	require.NoError(t, err)
	require.Positive(t, res.Report.OrdersFilled)

	scaled := 0
	for _, rec := range mem.Records() {
		if rec.Kind != audit.KindSignal {
			continue
		}
		pos, ok := attr(rec, "position")
		require.True(t, ok)
		bid, _ := attr(rec, "bid_size")
		ask, _ := attr(rec, "ask_size")

		p := pos.Int64()
		if p < 0 {
			p = -p
		}
		// The quote model at most doubles the base size of 100.
		limit := 0.0
		if p < 400 {
			limit = 200 * float64(400-p) / 400
		}
		assert.LessOrEqual(t, float64(bid.Uint64()), limit, "position %d", pos.Int64())
		assert.LessOrEqual(t, float64(ask.Uint64()), limit, "position %d", pos.Int64())
		if p != 0 {
			scaled++
		}
	}
	assert.Positive(t, scaled, "some signals fire with inventory on")
}

func TestRun_SignalRecordsForecastIntensities(t *testing.T) {
	mem := &audit.Memory{}
	_, err := Run(context.Background(), fixtures.ActiveEvents(100), activeConfig(500), Options{Audit: audit.NewBuffer(mem)})
	require.NoError(t, err)
	require.Positive(t, mem.Count(audit.KindSignal))

	for _, rec := range mem.Records() {
		if rec.Kind != audit.KindSignal {
			continue
		}
		buy, ok := attr(rec, "predicted_buy")
		require.True(t, ok)
		sell, ok := attr(rec, "predicted_sell")
		require.True(t, ok)
		assert.Greater(t, buy.Float64(), sell.Float64(), "buy-heavy flow")
	}

	// A fixed source has nothing to forecast.
	mem = &audit.Memory{}
	_, err = Run(context.Background(), flatEvents(15), testConfig(500), Options{
		Audit:     audit.NewBuffer(mem),
		Imbalance: FixedImbalance(0.15),
	})
	require.NoError(t, err)
	for _, rec := range mem.Records() {
		if rec.Kind == audit.KindSignal {
			_, ok := attr(rec, "predicted_buy")
			assert.False(t, ok)
		}
	}
}

func TestRun_PnLUpdateCarriesUnwindRecommendation(t *testing.T) {
	cfg := activeConfig(500)
	cfg.Risk.MaxPosition = 300
	mem := &audit.Memory{}

	_, err := Run(context.Background(), fixtures.ActiveEvents(3*audit.PnLSampleInterval+1), cfg, Options{Audit: audit.NewBuffer(mem)})
	require.NoError(t, err)
	require.Equal(t, 3, mem.Count(audit.KindPnLUpdate))

	for _, rec := range mem.Records() {
		if rec.Kind != audit.KindPnLUpdate {
			continue
		}
		pos, _ := attr(rec, "position")
		unwind, ok := attr(rec, "unwind")
		require.True(t, ok)

		want := int64(0)
		if p := pos.Int64(); p > 240 {
			want = p - 150
		} else if p < -240 {
			want = p + 150
		}
		assert.Equal(t, want, unwind.Int64(), "position %d", pos.Int64())
	}
}

func TestRun_NoEvents(t *testing.T) {
	_, err := Run(context.Background(), nil, testConfig(500), Options{})
	assert.ErrorIs(t, err, replay.ErrNoEvents)
}

func TestRun_DoesNotReorderInput(t *testing.T) {
	events := flatEvents(3)
	events[0], events[2] = events[2], events[0]

	_, err := Run(context.Background(), events, testConfig(500), Options{})
	require.NoError(t, err)
	assert.Equal(t, 3*second, events[0].TimestampNs)
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, flatEvents(5), testConfig(500), Options{})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRunner_RunsStoredDataset(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMarketEventStore()
	require.NoError(t, store.InsertBulk(ctx, "ds-1", flatEvents(4)))

	runner := NewRunner(replay.NewRunner(store))
	res, err := runner.Run(ctx, "ds-1", testConfig(500), Options{})
	require.NoError(t, err)

	assert.Equal(t, "ds-1", res.Report.DatasetID)
	assert.Equal(t, 4, res.EventCount)

	_, err = runner.Run(ctx, "missing", testConfig(500), Options{})
	assert.ErrorIs(t, err, replay.ErrNoEvents)
}
