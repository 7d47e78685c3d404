package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mm-replay-lab/internal/audit"
	"mm-replay-lab/internal/backtest"
	"mm-replay-lab/internal/backtest/fixtures"
	"mm-replay-lab/internal/decision"
	"mm-replay-lab/internal/idhash"
	"mm-replay-lab/internal/ingestion/stub"
	"mm-replay-lab/internal/observability"
	"mm-replay-lab/internal/storage"
	"mm-replay-lab/internal/storage/memory"
)

type testStores struct {
	datasets *memory.DatasetStore
	events   *memory.MarketEventStore
	fills    *memory.FillStore
	reports  *memory.ReportStore
	equity   *memory.EquitySampleStore
}

func createTestStores() testStores {
	return testStores{
		datasets: memory.NewDatasetStore(),
		events:   memory.NewMarketEventStore(),
		fills:    memory.NewFillStore(),
		reports:  memory.NewReportStore(),
		equity:   memory.NewEquitySampleStore(),
	}
}

func newOrchestrator(s testStores, opts Options) *Orchestrator {
	opts.DatasetStore = s.datasets
	opts.EventStore = s.events
	opts.FillStore = s.fills
	opts.ReportStore = s.reports
	opts.EquityStore = s.equity
	if opts.NewRunID == nil {
		opts.NewRunID = func() string { return "run-fixed" }
	}
	opts.Now = func() time.Time { return time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC) }
	return New(opts)
}

func baseConfig() backtest.Config {
	cfg := backtest.DefaultConfig()
	cfg.LatencyNs = 500
	cfg.Fill = fixtures.FillParams()
	return cfg
}

func TestOrchestrator_Run_Sweep(t *testing.T) {
	ctx := context.Background()
	stores := createTestStores()
	metrics := observability.NewMetrics("test")
	mem := &audit.Memory{}

	orch := newOrchestrator(stores, Options{Metrics: metrics, Audit: audit.NewBuffer(mem)})
	result, err := orch.Run(ctx, Request{
		Source:           stub.NewStubEventSource("sha-input", fixtures.ActiveEvents(300)),
		Config:           baseConfig(),
		Latencies:        []int64{300, 100, 200},
		CheckDeterminism: true,
		Persist:          true,
	})
	require.NoError(t, err)

	assert.Equal(t, "run-fixed", result.RunID)
	assert.Equal(t, 300, result.Events)
	assert.Equal(t, []int64{100, 200, 300}, result.Sweep.Latencies)
	assert.Equal(t, idhash.ComputeDatasetID("sha-input"), result.Dataset.DatasetID)

	events, err := stores.events.GetByDataset(ctx, result.Dataset.DatasetID)
	require.NoError(t, err)
	assert.Equal(t, idhash.ComputeEventsChecksum(events), result.InputChecksum)

	require.NotNil(t, result.Determinism)
	assert.True(t, result.Determinism.Match, "divergences: %v", result.Determinism.Divergences)
	require.NotNil(t, result.Decision)
	assert.Len(t, result.Input.Points, 3)
	assert.True(t, result.Input.DeterminismChecked)

	// Persisted
	assert.Equal(t, 3, result.ReportsPersisted)
	reports, err := stores.reports.GetByRunID(ctx, "run-fixed")
	require.NoError(t, err)
	require.Len(t, reports, 3)
	for _, r := range reports {
		assert.Equal(t, result.InputChecksum, r.InputChecksum)
		assert.Equal(t, result.Dataset.DatasetID, r.DatasetID)
	}
	fills, err := stores.fills.GetByRunID(ctx, "run-fixed")
	require.NoError(t, err)
	require.Positive(t, result.FillsPersisted)
	assert.Len(t, fills, result.FillsPersisted)
	equity, err := stores.equity.GetByRun(ctx, "run-fixed", 100)
	require.NoError(t, err)
	assert.Len(t, equity, len(result.Sweep.Reports[100].EquityCurve))

	// Report
	require.NotNil(t, result.Report)
	assert.Len(t, result.Report.Latency, 3)
	assert.Len(t, result.Report.Degradation, 2)
	require.NotNil(t, result.Report.Dataset)
	assert.Equal(t, 300, result.Report.Dataset.EventCount)

	// Side channels
	assert.Equal(t, 3, mem.Count(audit.KindConfig), "one config record per latency point")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RunsTotal.WithLabelValues(ModeSweep, "ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.SweepPoints))
	assert.Equal(t, 300.0, testutil.ToFloat64(metrics.EventsIngested))
}

func TestOrchestrator_Run_SinglePointInsufficient(t *testing.T) {
	stores := createTestStores()
	orch := newOrchestrator(stores, Options{})

	result, err := orch.Run(context.Background(), Request{
		Source: stub.NewStubEventSource("sha", fixtures.ActiveEvents(50)),
		Config: baseConfig(),
	})
	require.NoError(t, err)

	assert.Equal(t, []int64{500}, result.Sweep.Latencies)
	assert.Equal(t, decision.DecisionInsufficientData, result.Decision.Decision)
	assert.Nil(t, result.Determinism)
	assert.Zero(t, result.ReportsPersisted, "nothing persisted unless requested")
}

func TestOrchestrator_Run_ReusesStoredDataset(t *testing.T) {
	ctx := context.Background()
	stores := createTestStores()
	metrics := observability.NewMetrics("test")

	ids := []string{"run-a", "run-b", "run-c"}
	next := 0
	orch := newOrchestrator(stores, Options{
		Metrics:  metrics,
		NewRunID: func() string { id := ids[next]; next++; return id },
	})

	first, err := orch.Run(ctx, Request{
		Source:  stub.NewStubEventSource("sha", fixtures.ActiveEvents(80)),
		Config:  baseConfig(),
		Persist: true,
	})
	require.NoError(t, err)

	// Same input again: no second ingest
	second, err := orch.Run(ctx, Request{
		Source:  stub.NewStubEventSource("sha", fixtures.ActiveEvents(80)),
		Config:  baseConfig(),
		Persist: true,
	})
	require.NoError(t, err)
	assert.Equal(t, first.Dataset.DatasetID, second.Dataset.DatasetID)
	assert.Equal(t, 80.0, testutil.ToFloat64(metrics.EventsIngested))

	// By dataset id only
	third, err := orch.Run(ctx, Request{DatasetID: first.Dataset.DatasetID, Config: baseConfig()})
	require.NoError(t, err)
	assert.Equal(t, "run-c", third.RunID)
	assert.Equal(t, first.InputChecksum, third.InputChecksum)
	assert.Equal(t, first.Sweep.Reports[500].TotalPnL, third.Sweep.Reports[500].TotalPnL)

	runIDs, err := stores.reports.ListRunIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-a", "run-b"}, runIDs)
}

func TestOrchestrator_Run_Errors(t *testing.T) {
	ctx := context.Background()
	metrics := observability.NewMetrics("test")
	orch := newOrchestrator(createTestStores(), Options{Metrics: metrics})

	_, err := orch.Run(ctx, Request{Config: baseConfig()})
	assert.True(t, errors.Is(err, ErrNoInput), "got %v", err)

	_, err = orch.Run(ctx, Request{DatasetID: "missing", Config: baseConfig()})
	assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.RunsTotal.WithLabelValues(ModeBacktest, "error")))
}

func TestOrchestrator_Run_PersistDuplicateRun(t *testing.T) {
	ctx := context.Background()
	orch := newOrchestrator(createTestStores(), Options{})
	req := Request{
		Source:  stub.NewStubEventSource("sha", fixtures.ActiveEvents(40)),
		Config:  baseConfig(),
		Persist: true,
	}

	_, err := orch.Run(ctx, req)
	require.NoError(t, err)

	// Fixed run id collides with the stored report
	_, err = orch.Run(ctx, req)
	assert.True(t, errors.Is(err, storage.ErrDuplicateKey), "got %v", err)
}

func TestWriteArtifacts(t *testing.T) {
	orch := newOrchestrator(createTestStores(), Options{})
	result, err := orch.Run(context.Background(), Request{
		Source:    stub.NewStubEventSource("sha", fixtures.ActiveEvents(120)),
		Config:    baseConfig(),
		Latencies: []int64{100, 500},
	})
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "out")
	require.NoError(t, WriteArtifacts(dir, result))

	for _, name := range []string{ReportFile, CertificationFile, LatencyCSVFile, FillsCSVFile} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.NotEmpty(t, data, name)
	}

	report, err := os.ReadFile(filepath.Join(dir, ReportFile))
	require.NoError(t, err)
	assert.Contains(t, string(report), "Run: `run-fixed`")
}
