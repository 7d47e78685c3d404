// Package sensitivity re-runs a backtest across a set of simulated latencies
// and measures how P&L degrades as latency grows.
package sensitivity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"mm-replay-lab/internal/audit"
	"mm-replay-lab/internal/backtest"
	"mm-replay-lab/internal/domain"
	"mm-replay-lab/internal/observability"
	"mm-replay-lab/internal/replay"
)

// ErrNoLatencies is returned when a sweep is requested without latency points.
var ErrNoLatencies = errors.New("no latencies to sweep")

// Step is the P&L change between two adjacent latency points.
type Step struct {
	FromNs      int64
	ToNs        int64
	PnLDelta    float64 // P&L(to) - P&L(from)
	PnLPer100ns float64 // PnLDelta per 100ns of added latency
}

// Sweep is the outcome of one latency sweep.
type Sweep struct {
	Latencies   []int64 // ascending, deduplicated
	Reports     map[int64]*domain.PerformanceReport
	Results     map[int64]*backtest.Result
	Degradation []Step
	// PnLPer100ns is the absolute P&L change per 100ns between the two lowest latencies.
	PnLPer100ns float64
}

// Options controls sweep execution.
type Options struct {
	// Concurrency bounds parallel runs. Zero means GOMAXPROCS.
	Concurrency int
	Audit       audit.Sink // shared by all runs; records carry their latency
	Logger      *slog.Logger
	Metrics     *observability.Metrics
	// Imbalance builds a fresh imbalance source per run. Nil uses the Hawkes model.
	Imbalance func() backtest.ImbalanceSource
}

// Run executes one backtest per latency with every other setting of base fixed.
// Each run owns its engine, so results do not depend on scheduling.
func Run(ctx context.Context, events []*domain.MarketEvent, base backtest.Config, latencies []int64, opts Options) (*Sweep, error) {
	if len(events) == 0 {
		return nil, replay.ErrNoEvents
	}
	points := normalizeLatencies(latencies)
	if len(points) == 0 {
		return nil, ErrNoLatencies
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	limit := opts.Concurrency
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	sorted := make([]*domain.MarketEvent, len(events))
	copy(sorted, events)
	replay.SortEvents(sorted)

	var (
		mu      sync.Mutex
		results = make(map[int64]*backtest.Result, len(points))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, latency := range points {
		g.Go(func() error {
			cfg := base
			cfg.LatencyNs = latency

			runOpts := backtest.Options{Audit: opts.Audit, Logger: opts.Logger}
			if opts.Imbalance != nil {
				runOpts.Imbalance = opts.Imbalance()
			}

			res, err := backtest.Run(gctx, sorted, cfg, runOpts)
			if err != nil {
				return fmt.Errorf("latency %dns: %w", latency, err)
			}
			opts.Metrics.RecordSweepPoint()
			opts.Metrics.RecordRun(res.Report, observability.RunStats{
				Events:         res.EventCount,
				KillSwitch:     res.KillSwitch,
				RejectsByCause: res.RejectsByCause,
			})

			mu.Lock()
			results[latency] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sweep := &Sweep{
		Latencies: points,
		Reports:   make(map[int64]*domain.PerformanceReport, len(points)),
		Results:   results,
	}
	for _, latency := range points {
		sweep.Reports[latency] = results[latency].Report
	}
	sweep.Degradation = Degradation(points, sweep.Reports)
	if len(sweep.Degradation) > 0 {
		sweep.PnLPer100ns = math.Abs(sweep.Degradation[0].PnLPer100ns)
	}

	opts.Logger.Info("latency sweep complete",
		"points", len(points),
		"pnl_per_100ns", sweep.PnLPer100ns,
	)
	return sweep, nil
}

// Degradation returns the P&L step between every pair of adjacent latencies.
// latencies must be ascending and present in reports.
func Degradation(latencies []int64, reports map[int64]*domain.PerformanceReport) []Step {
	if len(latencies) < 2 {
		return nil
	}
	steps := make([]Step, 0, len(latencies)-1)
	for i := 1; i < len(latencies); i++ {
		from, to := latencies[i-1], latencies[i]
		delta := reports[to].TotalPnL - reports[from].TotalPnL
		step := Step{FromNs: from, ToNs: to, PnLDelta: delta}
		if diff := float64(to-from) / 100.0; diff > 0 {
			step.PnLPer100ns = delta / diff
		}
		steps = append(steps, step)
	}
	return steps
}

// normalizeLatencies sorts, deduplicates and drops negative values.
func normalizeLatencies(in []int64) []int64 {
	out := make([]int64, 0, len(in))
	for _, l := range in {
		if l >= 0 {
			out = append(out, l)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
