// Package orchestrator coordinates one end-to-end run:
// load → checksum → backtest/sweep → determinism check → certification → persist → report.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"mm-replay-lab/internal/audit"
	"mm-replay-lab/internal/backtest"
	"mm-replay-lab/internal/decision"
	"mm-replay-lab/internal/domain"
	"mm-replay-lab/internal/idhash"
	"mm-replay-lab/internal/ingestion"
	"mm-replay-lab/internal/observability"
	"mm-replay-lab/internal/replay"
	"mm-replay-lab/internal/reporting"
	"mm-replay-lab/internal/sensitivity"
	"mm-replay-lab/internal/storage"
	"mm-replay-lab/internal/verification"
)

// ErrNoInput is returned when a request names neither a source nor a dataset.
var ErrNoInput = errors.New("no event source or dataset id")

// Run modes reported to metrics.
const (
	ModeBacktest = "backtest"
	ModeSweep    = "sweep"
)

// Orchestrator coordinates the E2E pipeline execution.
type Orchestrator struct {
	// Stores
	datasetStore storage.DatasetStore
	eventStore   storage.MarketEventStore
	fillStore    storage.FillStore
	reportStore  storage.ReportStore
	equityStore  storage.EquitySampleStore

	audit       audit.Sink
	metrics     *observability.Metrics
	logger      *slog.Logger
	thresholds  decision.Thresholds
	concurrency int
	now         func() time.Time
	newRunID    func() string
}

// Options for creating Orchestrator.
type Options struct {
	// Required stores
	DatasetStore storage.DatasetStore
	EventStore   storage.MarketEventStore

	// Persistence targets; a nil store is skipped
	FillStore   storage.FillStore
	ReportStore storage.ReportStore
	EquityStore storage.EquitySampleStore

	Audit       audit.Sink             // defaults to audit.Nop
	Metrics     *observability.Metrics // optional
	Logger      *slog.Logger
	Thresholds  decision.Thresholds
	Concurrency int // sweep parallelism, zero means GOMAXPROCS

	Now      func() time.Time // report timestamp and run duration
	NewRunID func() string    // defaults to uuid.NewString
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Audit == nil {
		opts.Audit = audit.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewRunID == nil {
		opts.NewRunID = uuid.NewString
	}
	if opts.Thresholds == (decision.Thresholds{}) {
		opts.Thresholds = decision.DefaultThresholds()
	}
	return &Orchestrator{
		datasetStore: opts.DatasetStore,
		eventStore:   opts.EventStore,
		fillStore:    opts.FillStore,
		reportStore:  opts.ReportStore,
		equityStore:  opts.EquityStore,
		audit:        opts.Audit,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		thresholds:   opts.Thresholds,
		concurrency:  opts.Concurrency,
		now:          opts.Now,
		newRunID:     opts.NewRunID,
	}
}

// Request describes one run.
type Request struct {
	// Source is ingested into the dataset and event stores before the run.
	// When nil, DatasetID must name an already stored dataset.
	Source    ingestion.EventSource
	DatasetID string

	// Config is the base configuration. An empty RunID is generated.
	Config backtest.Config

	// Latencies to sweep. Empty runs a single backtest at Config.LatencyNs.
	Latencies []int64

	CheckDeterminism bool
	Persist          bool
}

// RunResult contains results from orchestrator execution.
type RunResult struct {
	RunID         string
	Dataset       *domain.Dataset
	Events        int
	InputChecksum string

	Sweep       *sensitivity.Sweep
	Determinism *verification.VerificationResult // nil unless requested
	Decision    *decision.DecisionResult
	Input       *decision.DecisionInput
	Report      *reporting.Report

	ReportsPersisted int
	FillsPersisted   int
	EquityPersisted  int
}

// Run executes the full E2E pipeline.
// Phases:
//  1. Load events (ingesting the source first if one is given)
//  2. Compute the input checksum
//  3. Backtest every latency point
//  4. Determinism check at the lowest latency
//  5. Certification
//  6. Persist reports, fills and equity curves
//  7. Build the run report
func (o *Orchestrator) Run(ctx context.Context, req Request) (*RunResult, error) {
	started := o.now()
	mode := ModeBacktest
	if len(req.Latencies) > 1 {
		mode = ModeSweep
	}

	result, err := o.run(ctx, req)
	status := "ok"
	if err != nil {
		status = "error"
	}
	o.metrics.RecordRunOutcome(mode, status, o.now().Sub(started).Seconds())
	return result, err
}

func (o *Orchestrator) run(ctx context.Context, req Request) (*RunResult, error) {
	cfg := req.Config
	if cfg.RunID == "" {
		cfg.RunID = o.newRunID()
	}
	result := &RunResult{RunID: cfg.RunID}

	// Phase 1: Load
	ds, events, err := o.load(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("phase 1 (load) failed: %w", err)
	}
	result.Dataset = ds
	result.Events = len(events)
	cfg.DatasetID = ds.DatasetID

	// Phase 2: Checksum
	cfg.InputChecksum = idhash.ComputeEventsChecksum(events)
	result.InputChecksum = cfg.InputChecksum
	o.logger.Info("input loaded",
		"run_id", cfg.RunID,
		"dataset_id", ds.DatasetID,
		"events", len(events),
		"checksum", cfg.InputChecksum,
	)

	// Phase 3: Backtest / sweep
	latencies := req.Latencies
	if len(latencies) == 0 {
		latencies = []int64{cfg.LatencyNs}
	}
	sweep, err := sensitivity.Run(ctx, events, cfg, latencies, sensitivity.Options{
		Concurrency: o.concurrency,
		Audit:       o.audit,
		Logger:      o.logger,
		Metrics:     o.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("phase 3 (backtest) failed: %w", err)
	}
	result.Sweep = sweep
	if err := o.audit.Flush(ctx); err != nil {
		return nil, fmt.Errorf("flush audit: %w", err)
	}

	// Phase 4: Determinism
	if req.CheckDeterminism {
		detCfg := cfg
		detCfg.LatencyNs = sweep.Latencies[0]
		det, err := verification.CheckDeterminism(ctx, events, detCfg, o.logger)
		if err != nil {
			return nil, fmt.Errorf("phase 4 (determinism) failed: %w", err)
		}
		result.Determinism = det
		if !det.Match {
			o.logger.Warn("determinism check failed", "run_id", cfg.RunID, "divergences", len(det.Divergences))
		}
	}

	// Phase 5: Certification
	input, err := decision.Build(sweep, result.Determinism)
	if err != nil {
		return nil, fmt.Errorf("phase 5 (certification) failed: %w", err)
	}
	verdict, err := decision.NewEvaluator(o.thresholds).Evaluate(*input)
	if err != nil {
		return nil, fmt.Errorf("phase 5 (certification) failed: %w", err)
	}
	result.Input = input
	result.Decision = verdict

	// Phase 6: Persist
	if req.Persist {
		if err := o.persist(ctx, sweep, result); err != nil {
			return nil, fmt.Errorf("phase 6 (persist) failed: %w", err)
		}
	}

	// Phase 7: Report
	report, err := reporting.NewGenerator(o.reportStore, o.datasetStore).
		WithClock(o.now).
		FromSweep(sweep, ds)
	if err != nil {
		return nil, fmt.Errorf("phase 7 (report) failed: %w", err)
	}
	result.Report = report

	o.logger.Info("run completed",
		"run_id", cfg.RunID,
		"points", len(sweep.Latencies),
		"decision", verdict.Decision,
		"pnl_per_100ns", sweep.PnLPer100ns,
	)
	return result, nil
}

// load returns the dataset and its events in replay order.
func (o *Orchestrator) load(ctx context.Context, req Request) (*domain.Dataset, []*domain.MarketEvent, error) {
	var ds *domain.Dataset
	switch {
	case req.Source != nil:
		mgr := ingestion.NewManager(ingestion.ManagerOptions{
			DatasetStore: o.datasetStore,
			EventStore:   o.eventStore,
			Logger:       o.logger,
		})
		stored, ingested, err := mgr.Ensure(ctx, req.Source, req.DatasetID)
		if err != nil {
			return nil, nil, err
		}
		if ingested {
			o.metrics.RecordIngest(stored.EventCount)
		}
		ds = stored
	case req.DatasetID != "":
		stored, err := o.datasetStore.GetByID(ctx, req.DatasetID)
		if err != nil {
			return nil, nil, fmt.Errorf("dataset %s: %w", req.DatasetID, err)
		}
		ds = stored
	default:
		return nil, nil, ErrNoInput
	}

	events, err := replay.NewRunner(o.eventStore).Load(ctx, ds.DatasetID)
	if err != nil {
		return nil, nil, err
	}
	return ds, events, nil
}

// persist writes every latency point of the sweep. A nil store is skipped.
func (o *Orchestrator) persist(ctx context.Context, sweep *sensitivity.Sweep, result *RunResult) error {
	for _, latency := range sweep.Latencies {
		res := sweep.Results[latency]
		if res == nil {
			continue
		}

		if o.reportStore != nil {
			if err := o.timed(ctx, "insert_report", func(ctx context.Context) error {
				return o.reportStore.Insert(ctx, res.Report)
			}); err != nil {
				return fmt.Errorf("report %dns: %w", latency, err)
			}
			result.ReportsPersisted++
		}
		if o.fillStore != nil && len(res.Fills) > 0 {
			if err := o.timed(ctx, "insert_fills", func(ctx context.Context) error {
				return o.fillStore.InsertBulk(ctx, res.Fills)
			}); err != nil {
				return fmt.Errorf("fills %dns: %w", latency, err)
			}
			result.FillsPersisted += len(res.Fills)
		}
		if o.equityStore != nil && len(res.Equity) > 0 {
			if err := o.timed(ctx, "insert_equity", func(ctx context.Context) error {
				return o.equityStore.InsertBulk(ctx, res.Equity)
			}); err != nil {
				return fmt.Errorf("equity %dns: %w", latency, err)
			}
			result.EquityPersisted += len(res.Equity)
		}
	}

	o.logger.Info("run persisted",
		"run_id", result.RunID,
		"reports", result.ReportsPersisted,
		"fills", result.FillsPersisted,
		"equity_samples", result.EquityPersisted,
	)
	return nil
}

func (o *Orchestrator) timed(ctx context.Context, op string, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	o.metrics.RecordDBQuery("store", op, time.Since(start).Seconds(), err)
	return err
}

// Artifact file names written by WriteArtifacts.
const (
	ReportFile        = "REPORT.md"
	CertificationFile = "CERTIFICATION.md"
	LatencyCSVFile    = "latency.csv"
	FillsCSVFile      = "fills.csv"
)

// WriteArtifacts renders the run report, certification and CSV exports into dir.
func WriteArtifacts(dir string, result *RunResult) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	var fills []*domain.Fill
	if result.Sweep != nil {
		for _, latency := range result.Sweep.Latencies {
			if res := result.Sweep.Results[latency]; res != nil {
				fills = append(fills, res.Fills...)
			}
		}
	}

	files := map[string]string{
		ReportFile:        reporting.RenderMarkdown(result.Report),
		CertificationFile: decision.RenderMarkdown(result.Decision, result.Input),
		LatencyCSVFile:    reporting.RenderCSV(result.Report.Latency),
		FillsCSVFile:      reporting.RenderFillsCSV(fills),
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}
