package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"mm-replay-lab/internal/backtest"
	"mm-replay-lab/internal/domain"
	"mm-replay-lab/internal/idhash"
	"mm-replay-lab/internal/replay"
	"mm-replay-lab/internal/storage"
)

var (
	// ErrRunNotFound is returned when a run has no stored reports.
	ErrRunNotFound = errors.New("run not found")

	// ErrMissingDataset is returned when a stored report does not name its dataset.
	ErrMissingDataset = errors.New("report has no dataset id")
)

// ReplayVerifier implements Verifier by replaying stored datasets.
type ReplayVerifier struct {
	reportStore storage.ReportStore
	fillStore   storage.FillStore
	equityStore storage.EquitySampleStore
	replay      *replay.Runner

	// base supplies every setting a report does not record (model parameters,
	// risk limits, commission). It must match the configuration of the original run.
	base   backtest.Config
	logger *slog.Logger
}

// ReplayVerifierOptions contains configuration for creating a ReplayVerifier.
type ReplayVerifierOptions struct {
	ReportStore storage.ReportStore
	FillStore   storage.FillStore         // optional
	EquityStore storage.EquitySampleStore // optional
	EventStore  storage.MarketEventStore
	Base        backtest.Config
	Logger      *slog.Logger
}

// NewReplayVerifier creates a new ReplayVerifier.
func NewReplayVerifier(opts ReplayVerifierOptions) *ReplayVerifier {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &ReplayVerifier{
		reportStore: opts.ReportStore,
		fillStore:   opts.FillStore,
		equityStore: opts.EquityStore,
		replay:      replay.NewRunner(opts.EventStore),
		base:        opts.Base,
		logger:      opts.Logger,
	}
}

// VerifyRun replays every latency point of a stored run and compares it with
// the persisted report, fills and equity curve.
func (v *ReplayVerifier) VerifyRun(ctx context.Context, runID string) (*VerificationReport, error) {
	reports, err := v.reportStore.GetByRunID(ctx, runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}

	fills := make(map[int64][]*domain.Fill)
	if v.fillStore != nil {
		all, err := v.fillStore.GetByRunID(ctx, runID)
		if err != nil {
			return nil, fmt.Errorf("load fills: %w", err)
		}
		for _, f := range all {
			fills[f.LatencyNs] = append(fills[f.LatencyNs], f)
		}
	}

	report := &VerificationReport{
		RunID:       runID,
		TotalPoints: len(reports),
		Results:     make([]VerificationResult, 0, len(reports)),
	}
	events := make(map[string][]*domain.MarketEvent)

	for _, stored := range reports {
		result, err := v.verifyPoint(ctx, stored, fills[stored.LatencyNs], events)
		if err != nil {
			// Record error as divergence
			report.Results = append(report.Results, VerificationResult{
				RunID:     runID,
				LatencyNs: stored.LatencyNs,
				StoredPnL: stored.TotalPnL,
				Divergences: []FieldDivergence{
					{Field: "Error", Expected: nil, Actual: err.Error()},
				},
			})
			report.DivergentPoints++
			continue
		}

		report.Results = append(report.Results, *result)
		if result.Match {
			report.MatchedPoints++
		} else {
			report.DivergentPoints++
		}
	}

	v.logger.Info("run verified",
		"run_id", runID,
		"points", report.TotalPoints,
		"divergent", report.DivergentPoints,
	)
	return report, nil
}

func (v *ReplayVerifier) verifyPoint(
	ctx context.Context,
	stored *domain.PerformanceReport,
	storedFills []*domain.Fill,
	cache map[string][]*domain.MarketEvent,
) (*VerificationResult, error) {
	if stored.DatasetID == "" {
		return nil, ErrMissingDataset
	}
	events, ok := cache[stored.DatasetID]
	if !ok {
		loaded, err := v.replay.Load(ctx, stored.DatasetID)
		if err != nil {
			return nil, err
		}
		events = loaded
		cache[stored.DatasetID] = loaded
	}

	var divergences []FieldDivergence
	if stored.InputChecksum != "" {
		if got := idhash.ComputeEventsChecksum(events); got != stored.InputChecksum {
			divergences = append(divergences, FieldDivergence{
				Field:    "EventsChecksum",
				Expected: stored.InputChecksum,
				Actual:   got,
			})
		}
	}

	cfg := v.base
	cfg.RunID = stored.RunID
	cfg.DatasetID = stored.DatasetID
	cfg.InputChecksum = stored.InputChecksum
	cfg.LatencyNs = stored.LatencyNs
	cfg.Seed = stored.Seed
	cfg.InitialCapital = stored.InitialCapital

	res, err := backtest.Run(ctx, events, cfg, backtest.Options{Logger: v.logger})
	if err != nil {
		return nil, err
	}

	divergences = append(divergences, CompareReports(stored, res.Report, FloatTolerance)...)

	result := &VerificationResult{
		RunID:       stored.RunID,
		LatencyNs:   stored.LatencyNs,
		StoredPnL:   stored.TotalPnL,
		ReplayedPnL: res.Report.TotalPnL,
	}

	if v.fillStore != nil {
		divergences = append(divergences, CompareFills(storedFills, res.Fills, FloatTolerance)...)
		result.FillsCompared = len(storedFills)
	}

	if v.equityStore != nil {
		samples, err := v.equityStore.GetByRun(ctx, stored.RunID, stored.LatencyNs)
		if err != nil {
			return nil, fmt.Errorf("load equity: %w", err)
		}
		curve := make([]float64, len(samples))
		for i, s := range samples {
			curve[i] = s.Equity
		}
		divergences = append(divergences, CompareCurves(curve, res.Report.EquityCurve, FloatTolerance)...)
	}

	result.Divergences = divergences
	result.Match = len(divergences) == 0
	return result, nil
}

// CheckDeterminism runs the backtest twice on fresh engines and requires
// bit-identical reports, fills and equity curves.
func CheckDeterminism(ctx context.Context, events []*domain.MarketEvent, cfg backtest.Config, logger *slog.Logger) (*VerificationResult, error) {
	first, err := backtest.Run(ctx, events, cfg, backtest.Options{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("first run: %w", err)
	}
	second, err := backtest.Run(ctx, events, cfg, backtest.Options{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("second run: %w", err)
	}

	divergences := CompareReports(first.Report, second.Report, ExactTolerance)
	divergences = append(divergences, CompareFills(first.Fills, second.Fills, ExactTolerance)...)

	return &VerificationResult{
		RunID:         first.Report.RunID,
		LatencyNs:     first.Report.LatencyNs,
		Match:         len(divergences) == 0,
		Divergences:   divergences,
		StoredPnL:     first.Report.TotalPnL,
		ReplayedPnL:   second.Report.TotalPnL,
		FillsCompared: len(first.Fills),
	}, nil
}

// Ensure ReplayVerifier implements Verifier
var _ Verifier = (*ReplayVerifier)(nil)
