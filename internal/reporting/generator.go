package reporting

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"mm-replay-lab/internal/domain"
	"mm-replay-lab/internal/sensitivity"
	"mm-replay-lab/internal/storage"
)

// MinLatencyPoints is the smallest sweep a degradation curve can be drawn from.
const MinLatencyPoints = 2

// ErrNoReports is returned when a run has nothing to report on.
var ErrNoReports = errors.New("no reports for run")

// Generator produces reports from stored data.
type Generator struct {
	reportStore  storage.ReportStore
	datasetStore storage.DatasetStore // optional
	now          func() time.Time     // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator. datasetStore may be nil.
func NewGenerator(reportStore storage.ReportStore, datasetStore storage.DatasetStore) *Generator {
	return &Generator{
		reportStore:  reportStore,
		datasetStore: datasetStore,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate produces the report of a stored run.
func (g *Generator) Generate(ctx context.Context, runID string) (*Report, error) {
	reports, err := g.reportStore.GetByRunID(ctx, runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNoReports, runID)
		}
		return nil, err
	}

	var (
		dataset    *domain.Dataset
		integrity  []string
		datasetIDs = distinct(reports, func(r *domain.PerformanceReport) string { return r.DatasetID })
	)
	if g.datasetStore != nil && len(datasetIDs) == 1 && datasetIDs[0] != "" {
		dataset, err = g.datasetStore.GetByID(ctx, datasetIDs[0])
		switch {
		case errors.Is(err, storage.ErrNotFound):
			integrity = append(integrity, fmt.Sprintf("dataset %s is not registered", datasetIDs[0]))
		case err != nil:
			return nil, err
		}
	}

	r, err := g.assemble(runID, reports, dataset)
	if err != nil {
		return nil, err
	}
	r.DataQuality.IntegrityErrors = append(r.DataQuality.IntegrityErrors, integrity...)
	r.DataQuality.AllChecksPassed = r.DataQuality.AllChecksPassed && len(integrity) == 0
	return r, nil
}

// FromSweep produces the report of a sweep that has not been persisted.
// dataset may be nil.
func (g *Generator) FromSweep(sweep *sensitivity.Sweep, dataset *domain.Dataset) (*Report, error) {
	if sweep == nil {
		return nil, ErrNoReports
	}
	reports := make([]*domain.PerformanceReport, 0, len(sweep.Latencies))
	for _, latency := range sweep.Latencies {
		if r, ok := sweep.Reports[latency]; ok {
			reports = append(reports, r)
		}
	}
	runID := ""
	if len(reports) > 0 {
		runID = reports[0].RunID
	}
	return g.assemble(runID, reports, dataset)
}

func (g *Generator) assemble(runID string, reports []*domain.PerformanceReport, dataset *domain.Dataset) (*Report, error) {
	if len(reports) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoReports, runID)
	}

	sorted := make([]*domain.PerformanceReport, len(reports))
	copy(sorted, reports)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].LatencyNs < sorted[j].LatencyNs })

	rows := make([]LatencyRow, len(sorted))
	byLatency := make(map[int64]*domain.PerformanceReport, len(sorted))
	latencies := make([]int64, 0, len(sorted))
	for i, r := range sorted {
		rows[i] = latencyRow(r)
		if _, dup := byLatency[r.LatencyNs]; !dup {
			latencies = append(latencies, r.LatencyNs)
		}
		byLatency[r.LatencyNs] = r
	}

	report := &Report{
		GeneratedAt: g.now(),
		RunID:       runID,
		Latency:     rows,
	}
	if dataset != nil {
		report.Dataset = &DatasetSummary{
			DatasetID:        dataset.DatasetID,
			Source:           dataset.Source,
			Checksum:         dataset.Checksum,
			EventCount:       dataset.EventCount,
			SkippedRows:      dataset.SkippedRows,
			FirstTimestampNs: dataset.FirstTimestampNs,
			LastTimestampNs:  dataset.LastTimestampNs,
		}
	}

	for _, step := range sensitivity.Degradation(latencies, byLatency) {
		report.Degradation = append(report.Degradation, DegradationRow{
			FromNs:      step.FromNs,
			ToNs:        step.ToNs,
			PnLDelta:    step.PnLDelta,
			PnLPer100ns: step.PnLPer100ns,
		})
	}
	if len(report.Degradation) > 0 {
		report.PnLPer100ns = math.Abs(report.Degradation[0].PnLPer100ns)
	}

	report.DataQuality = dataQuality(sorted, dataset, len(latencies))
	return report, nil
}

func latencyRow(r *domain.PerformanceReport) LatencyRow {
	return LatencyRow{
		LatencyNs:             r.LatencyNs,
		TotalPnL:              r.TotalPnL,
		SharpeRatio:           r.SharpeRatio,
		SortinoRatio:          r.SortinoRatio,
		MaxDrawdown:           r.MaxDrawdown,
		WinRate:               r.WinRate,
		FillRate:              r.FillRate,
		TotalTrades:           r.TotalTrades,
		OrdersSubmitted:       r.OrdersSubmitted,
		OrdersFilled:          r.OrdersFilled,
		OrdersCancelled:       r.OrdersCancelled,
		RiskRejections:        r.RiskRejections,
		FinalPosition:         r.FinalPosition,
		QuotedSpreadBps:       r.QuotedSpreadBps,
		RealizedSpreadBps:     r.RealizedSpreadBps,
		CaptureRatio:          r.CaptureRatio,
		AdverseSelectionRatio: r.AdverseSelectionRatio,
		OrderToFillP50:        r.OrderToFill.P50,
		OrderToFillP99:        r.OrderToFill.P99,
	}
}

// dataQuality runs the sufficiency checks and cross-point integrity checks.
// Every latency point of one run must share dataset, input, seed and capital.
func dataQuality(reports []*domain.PerformanceReport, dataset *domain.Dataset, points int) DataQualitySection {
	totalFills := 0
	for _, r := range reports {
		totalFills += r.OrdersFilled
	}

	checks := []SufficiencyCheckRow{
		{
			Name:      "Latency points",
			Threshold: fmt.Sprintf(">= %d", MinLatencyPoints),
			Actual:    fmt.Sprintf("%d", points),
			Pass:      points >= MinLatencyPoints,
		},
		{
			Name:      "Total fills",
			Threshold: "> 0",
			Actual:    fmt.Sprintf("%d", totalFills),
			Pass:      totalFills > 0,
		},
	}
	if dataset != nil {
		checks = append(checks, SufficiencyCheckRow{
			Name:      "Dataset events",
			Threshold: "> 1",
			Actual:    fmt.Sprintf("%d", dataset.EventCount),
			Pass:      dataset.EventCount > 1,
		})
	}

	var integrity []string
	if points != len(reports) {
		integrity = append(integrity, fmt.Sprintf("%d duplicate latency point(s)", len(reports)-points))
	}
	if ids := distinct(reports, func(r *domain.PerformanceReport) string { return r.DatasetID }); len(ids) > 1 {
		integrity = append(integrity, fmt.Sprintf("latency points replay different datasets: %v", ids))
	}
	if sums := distinct(reports, func(r *domain.PerformanceReport) string { return r.InputChecksum }); len(sums) > 1 {
		integrity = append(integrity, fmt.Sprintf("latency points replay different inputs: %d checksums", len(sums)))
	}
	if seeds := distinct(reports, func(r *domain.PerformanceReport) string { return fmt.Sprintf("%d", r.Seed) }); len(seeds) > 1 {
		integrity = append(integrity, fmt.Sprintf("latency points use different seeds: %v", seeds))
	}
	if caps := distinct(reports, func(r *domain.PerformanceReport) string { return fmt.Sprintf("%g", r.InitialCapital) }); len(caps) > 1 {
		integrity = append(integrity, fmt.Sprintf("latency points use different initial capital: %v", caps))
	}
	if dataset != nil {
		for _, r := range reports {
			if r.DatasetID != "" && r.DatasetID != dataset.DatasetID {
				integrity = append(integrity, fmt.Sprintf("latency %dns references dataset %s, expected %s",
					r.LatencyNs, r.DatasetID, dataset.DatasetID))
			}
		}
	}

	passed := len(integrity) == 0
	for _, c := range checks {
		passed = passed && c.Pass
	}
	return DataQualitySection{
		SufficiencyChecks: checks,
		IntegrityErrors:   integrity,
		AllChecksPassed:   passed,
	}
}

// distinct returns the sorted distinct values of key over reports.
func distinct(reports []*domain.PerformanceReport, key func(*domain.PerformanceReport) string) []string {
	seen := make(map[string]struct{}, len(reports))
	var out []string
	for _, r := range reports {
		k := key(r)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
