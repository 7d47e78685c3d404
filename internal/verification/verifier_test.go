package verification

import (
	"context"
	"errors"
	"math"
	"testing"

	"mm-replay-lab/internal/backtest"
	"mm-replay-lab/internal/backtest/fixtures"
	"mm-replay-lab/internal/domain"
	"mm-replay-lab/internal/idhash"
	"mm-replay-lab/internal/storage/memory"
)

func sampleReport() *domain.PerformanceReport {
	return &domain.PerformanceReport{
		RunID:           "run1",
		DatasetID:       "ds-1",
		LatencyNs:       500,
		Seed:            42,
		InitialCapital:  100000,
		TotalPnL:        12.5,
		SharpeRatio:     1.2,
		MaxDrawdown:     0.01,
		TotalTrades:     4,
		WinningTrades:   3,
		LosingTrades:    1,
		WinRate:         0.75,
		OrdersSubmitted: 8,
		OrdersFilled:    4,
		OrdersCancelled: 4,
		FillRate:        0.5,
		EquityCurve:     []float64{0, 1, 2.5, 12.5},
	}
}

func TestCompareReports_ExactMatch(t *testing.T) {
	divergences := CompareReports(sampleReport(), sampleReport(), ExactTolerance)
	if len(divergences) != 0 {
		t.Errorf("Expected 0 divergences, got %d: %v", len(divergences), divergences)
	}
}

func TestCompareReports_PnLDivergence(t *testing.T) {
	replayed := sampleReport()
	replayed.TotalPnL = 13.0

	divergences := CompareReports(sampleReport(), replayed, FloatTolerance)
	if len(divergences) != 1 {
		t.Fatalf("Expected 1 divergence, got %d: %v", len(divergences), divergences)
	}
	if divergences[0].Field != "TotalPnL" {
		t.Errorf("Expected TotalPnL divergence, got %s", divergences[0].Field)
	}
}

func TestCompareReports_WithinTolerance(t *testing.T) {
	replayed := sampleReport()
	replayed.TotalPnL += 1e-9

	if d := CompareReports(sampleReport(), replayed, FloatTolerance); len(d) != 0 {
		t.Errorf("Expected difference within tolerance to match, got %v", d)
	}
	if d := CompareReports(sampleReport(), replayed, ExactTolerance); len(d) != 1 {
		t.Errorf("Expected exact comparison to flag 1e-9 difference, got %v", d)
	}
}

func TestCompareReports_CountAndIdentityFields(t *testing.T) {
	replayed := sampleReport()
	replayed.Seed = 7
	replayed.OrdersFilled = 5

	divergences := CompareReports(sampleReport(), replayed, FloatTolerance)
	fields := map[string]bool{}
	for _, d := range divergences {
		fields[d.Field] = true
	}
	if !fields["Seed"] || !fields["OrdersFilled"] {
		t.Errorf("Expected Seed and OrdersFilled divergences, got %v", divergences)
	}
}

func TestCompareCurves(t *testing.T) {
	if d := CompareCurves([]float64{1, 2}, []float64{1}, ExactTolerance); len(d) != 1 || d[0].Field != "EquityCurve.Len" {
		t.Errorf("Expected length divergence, got %v", d)
	}

	expected := make([]float64, 50)
	actual := make([]float64, 50)
	for i := range actual {
		actual[i] = 1
	}
	d := CompareCurves(expected, actual, ExactTolerance)
	if len(d) != maxCurveDivergences {
		t.Errorf("Expected %d listed divergences, got %d", maxCurveDivergences, len(d))
	}
	if d[0].Field != "EquityCurve[0]" {
		t.Errorf("Expected first divergence at index 0, got %s", d[0].Field)
	}
}

func TestCompareFills(t *testing.T) {
	a := []*domain.Fill{{FillID: "f1", Side: domain.SideBuy, Price: 99.9, Quantity: 100, FillTimeNs: 10}}
	b := []*domain.Fill{{FillID: "f2", Side: domain.SideBuy, Price: 99.9, Quantity: 100, FillTimeNs: 10}}

	if d := CompareFills(a, a, ExactTolerance); len(d) != 0 {
		t.Errorf("Expected identical fills to match, got %v", d)
	}
	if d := CompareFills(a, b, ExactTolerance); len(d) != 1 || d[0].Field != "Fills[0].FillID" {
		t.Errorf("Expected FillID divergence, got %v", d)
	}
	if d := CompareFills(a, nil, ExactTolerance); len(d) != 1 || d[0].Field != "Fills.Len" {
		t.Errorf("Expected length divergence, got %v", d)
	}
}

func TestFloatEquals(t *testing.T) {
	tests := []struct {
		a, b      float64
		tolerance float64
		want      bool
	}{
		{1.0, 1.0, FloatTolerance, true},
		{1.0, 1.0 + 1e-8, FloatTolerance, true},
		{1.0, 1.0 + 1e-6, FloatTolerance, false},
		{1.0, 1.0 + 1e-15, ExactTolerance, false},
		{math.NaN(), math.NaN(), ExactTolerance, true},
		{0.0, math.Copysign(0, -1), ExactTolerance, false},
	}

	for _, tt := range tests {
		if got := floatEquals(tt.a, tt.b, tt.tolerance); got != tt.want {
			t.Errorf("floatEquals(%v, %v, %v) = %v, want %v", tt.a, tt.b, tt.tolerance, got, tt.want)
		}
	}
}

func activeConfig() backtest.Config {
	cfg := backtest.DefaultConfig()
	cfg.Fill = fixtures.FillParams()
	return cfg
}

type fixture struct {
	events  *memory.MarketEventStore
	reports *memory.ReportStore
	fills   *memory.FillStore
	equity  *memory.EquitySampleStore
	base    backtest.Config
}

// seedRun stores a dataset and the outputs of one run over it.
func seedRun(t *testing.T, runID string, latencies ...int64) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		events:  memory.NewMarketEventStore(),
		reports: memory.NewReportStore(),
		fills:   memory.NewFillStore(),
		equity:  memory.NewEquitySampleStore(),
		base:    activeConfig(),
	}

	events := fixtures.ActiveEvents(300)
	if err := f.events.InsertBulk(ctx, "ds-1", events); err != nil {
		t.Fatalf("InsertBulk events failed: %v", err)
	}

	for _, latency := range latencies {
		cfg := f.base
		cfg.RunID = runID
		cfg.DatasetID = "ds-1"
		cfg.LatencyNs = latency
		cfg.InputChecksum = idhash.ComputeEventsChecksum(events)

		res, err := backtest.Run(ctx, events, cfg, backtest.Options{})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if res.Report.OrdersFilled == 0 {
			t.Fatalf("latency %d: fixture produced no fills", latency)
		}
		if err := f.reports.Insert(ctx, res.Report); err != nil {
			t.Fatalf("Insert report failed: %v", err)
		}
		if err := f.fills.InsertBulk(ctx, res.Fills); err != nil {
			t.Fatalf("InsertBulk fills failed: %v", err)
		}
		if err := f.equity.InsertBulk(ctx, res.Equity); err != nil {
			t.Fatalf("InsertBulk equity failed: %v", err)
		}
	}
	return f
}

func (f *fixture) verifier() *ReplayVerifier {
	return NewReplayVerifier(ReplayVerifierOptions{
		ReportStore: f.reports,
		FillStore:   f.fills,
		EquityStore: f.equity,
		EventStore:  f.events,
		Base:        f.base,
	})
}

func TestReplayVerifier_VerifyRun_ExactMatch(t *testing.T) {
	f := seedRun(t, "run1", 100, 500, 2000)

	report, err := f.verifier().VerifyRun(context.Background(), "run1")
	if err != nil {
		t.Fatalf("VerifyRun failed: %v", err)
	}

	if report.TotalPoints != 3 {
		t.Errorf("Expected 3 points, got %d", report.TotalPoints)
	}
	if !report.Match() {
		for _, r := range report.Results {
			t.Errorf("latency %d divergences: %v", r.LatencyNs, r.Divergences)
		}
	}
}

func TestReplayVerifier_DetectsChangedParameters(t *testing.T) {
	f := seedRun(t, "run1", 500)
	f.base.CommissionPerUnit = 0.01

	report, err := f.verifier().VerifyRun(context.Background(), "run1")
	if err != nil {
		t.Fatalf("VerifyRun failed: %v", err)
	}

	if report.Match() {
		t.Fatal("Expected divergence after changing commission")
	}
	fields := map[string]bool{}
	for _, d := range report.Results[0].Divergences {
		fields[d.Field] = true
	}
	if !fields["TotalPnL"] {
		t.Errorf("Expected TotalPnL divergence, got %v", report.Results[0].Divergences)
	}
}

func TestReplayVerifier_RunNotFound(t *testing.T) {
	f := seedRun(t, "run1", 500)

	_, err := f.verifier().VerifyRun(context.Background(), "missing")
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound, got %v", err)
	}
}

func TestReplayVerifier_MissingDatasetRecordedAsDivergence(t *testing.T) {
	f := seedRun(t, "run1", 500)
	orphan := sampleReport()
	orphan.RunID = "orphan"
	orphan.DatasetID = ""
	if err := f.reports.Insert(context.Background(), orphan); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	report, err := f.verifier().VerifyRun(context.Background(), "orphan")
	if err != nil {
		t.Fatalf("VerifyRun failed: %v", err)
	}
	if report.DivergentPoints != 1 {
		t.Fatalf("Expected 1 divergent point, got %d", report.DivergentPoints)
	}
	if report.Results[0].Divergences[0].Field != "Error" {
		t.Errorf("Expected Error divergence, got %v", report.Results[0].Divergences)
	}
}

func TestReplayVerifier_ChecksumMismatch(t *testing.T) {
	f := seedRun(t, "run1", 500)
	tampered := sampleReport()
	tampered.RunID = "tampered"
	tampered.InputChecksum = "deadbeef"
	if err := f.reports.Insert(context.Background(), tampered); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	report, err := f.verifier().VerifyRun(context.Background(), "tampered")
	if err != nil {
		t.Fatalf("VerifyRun failed: %v", err)
	}
	found := false
	for _, d := range report.Results[0].Divergences {
		if d.Field == "EventsChecksum" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected EventsChecksum divergence, got %v", report.Results[0].Divergences)
	}
}

func TestCheckDeterminism(t *testing.T) {
	cfg := activeConfig()
	cfg.LatencyNs = 500

	result, err := CheckDeterminism(context.Background(), fixtures.ActiveEvents(300), cfg, nil)
	if err != nil {
		t.Fatalf("CheckDeterminism failed: %v", err)
	}
	if result.FillsCompared == 0 {
		t.Fatal("Expected fills to compare")
	}
	if result.StoredPnL == 0 {
		t.Fatal("Expected nonzero P&L")
	}
	if !result.Match {
		t.Errorf("Expected identical runs, got divergences: %v", result.Divergences)
	}
	if result.StoredPnL != result.ReplayedPnL {
		t.Errorf("Expected equal P&L, got %v and %v", result.StoredPnL, result.ReplayedPnL)
	}
}
