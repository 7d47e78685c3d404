package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"mm-replay-lab/internal/audit"
	"mm-replay-lab/internal/bootstrap"
	"mm-replay-lab/internal/config"
	"mm-replay-lab/internal/ingestion"
	"mm-replay-lab/internal/observability"
	"mm-replay-lab/internal/orchestrator"
	"mm-replay-lab/internal/reporting"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to YAML config (defaults when empty)")
	inputPath := flag.String("input", "", "CSV file with ts_us,event_type,side,price,size")
	datasetID := flag.String("dataset-id", "", "Stored dataset to replay, or id to ingest --input under")
	runID := flag.String("run-id", "", "Run identifier (generated when empty)")
	latencyNs := flag.Int64("latency-ns", -1, "Simulated latency in ns (overrides config)")
	seed := flag.Int64("seed", -1, "Fill RNG seed (overrides config when >= 0)")
	sweep := flag.Bool("sweep", false, "Also sweep the configured latencies")
	latencies := flag.String("latencies", "", "Comma separated latencies in ns for --sweep")
	verify := flag.Bool("verify", false, "Run the determinism check")
	persist := flag.Bool("persist", false, "Persist reports, fills and equity curves")
	outDir := flag.String("out", "", "Directory for REPORT.md, CERTIFICATION.md and CSV exports")
	hold := flag.Bool("hold", false, "Keep the dashboard running after the run until interrupted")

	// Storage
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage")

	// Output
	dashboardAddr := flag.String("dashboard-addr", "", "Serve the live dashboard on this address")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	outputJSON := flag.Bool("json", false, "Output summary as JSON")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", *configPath)
		os.Exit(1)
	}
	logger := bootstrap.SetupLogger(cfg.Log)

	if *inputPath == "" && *datasetID == "" {
		logger.Error("--input or --dataset-id is required")
		os.Exit(2)
	}
	bootstrap.OverrideBacktest(&cfg.Backtest, *latencyNs, *seed)
	if *dashboardAddr != "" {
		cfg.Observability.DashboardAddr = *dashboardAddr
	}
	if *metricsAddr != "" {
		cfg.Observability.MetricsAddr = *metricsAddr
	}
	bootstrap.OverrideStorage(&cfg.Storage, *postgresDSN, *clickhouseDSN, *useMemory)

	var sweepLatencies []int64
	if *sweep {
		sweepLatencies = cfg.Backtest.LatencySweepNs
		if *latencies != "" {
			if sweepLatencies, err = config.ParseLatencies(*latencies); err != nil {
				logger.Error("invalid --latencies", "error", err)
				os.Exit(2)
			}
		}
	}

	// Create context with cancellation on shutdown signals
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stores, err := bootstrap.OpenStores(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	metrics := observability.NewMetrics("")
	hub := bootstrap.StartHTTP(ctx, cfg.Observability, metrics, logger)

	var extra []audit.Writer
	if hub != nil {
		extra = append(extra, hub)
	}
	sink, closeAudit, err := bootstrap.OpenAudit(cfg.Storage, logger, extra...)
	if err != nil {
		logger.Error("failed to open audit trail", "error", err)
		os.Exit(1)
	}
	defer closeAudit()

	orch := orchestrator.New(orchestrator.Options{
		DatasetStore: stores.Datasets,
		EventStore:   stores.Events,
		FillStore:    stores.Fills,
		ReportStore:  stores.Reports,
		EquityStore:  stores.Equity,
		Audit:        sink,
		Metrics:      metrics,
		Logger:       logger,
		Thresholds:   cfg.Thresholds(),
	})

	req := orchestrator.Request{
		DatasetID:        *datasetID,
		Config:           cfg.ToBacktestConfig(*runID),
		Latencies:        sweepLatencies,
		CheckDeterminism: *verify || cfg.Certification.VerifyDeterminism,
		Persist:          *persist,
	}
	if *inputPath != "" {
		req.Source = ingestion.NewCSVSource(*inputPath)
	}

	result, err := orch.Run(ctx, req)
	if err != nil {
		logger.Error("backtest failed", "error", err)
		os.Exit(1)
	}

	if *outDir != "" {
		if err := orchestrator.WriteArtifacts(*outDir, result); err != nil {
			logger.Error("failed to write artifacts", "error", err)
			os.Exit(1)
		}
		logger.Info("artifacts written", "dir", *outDir)
	}

	if *outputJSON {
		printJSON(result)
	} else {
		if err := reporting.RenderTable(os.Stdout, result.Report); err != nil {
			logger.Error("failed to render table", "error", err)
		}
		fmt.Printf("Certification: %s\n", result.Decision.Decision)
		if result.Determinism != nil {
			fmt.Printf("Deterministic: %t\n", result.Determinism.Match)
		}
	}

	if *hold && hub != nil {
		logger.Info("run finished, dashboard still serving; interrupt to exit")
		<-ctx.Done()
	}
}

// Summary is the JSON output of a run.
type Summary struct {
	RunID         string                 `json:"run_id"`
	DatasetID     string                 `json:"dataset_id"`
	Events        int                    `json:"events"`
	InputChecksum string                 `json:"input_checksum"`
	Decision      string                 `json:"decision"`
	Deterministic *bool                  `json:"deterministic,omitempty"`
	PnLPer100ns   float64                `json:"pnl_per_100ns"`
	Latency       []reporting.LatencyRow `json:"latency"`
}

func printJSON(result *orchestrator.RunResult) {
	s := Summary{
		RunID:         result.RunID,
		DatasetID:     result.Dataset.DatasetID,
		Events:        result.Events,
		InputChecksum: result.InputChecksum,
		Decision:      string(result.Decision.Decision),
		PnLPer100ns:   result.Report.PnLPer100ns,
		Latency:       result.Report.Latency,
	}
	if result.Determinism != nil {
		match := result.Determinism.Match
		s.Deterministic = &match
	}
	output, _ := json.MarshalIndent(s, "", "  ")
	fmt.Println(string(output))
}
