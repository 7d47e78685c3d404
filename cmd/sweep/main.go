package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"mm-replay-lab/internal/audit"
	"mm-replay-lab/internal/bootstrap"
	"mm-replay-lab/internal/config"
	"mm-replay-lab/internal/decision"
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
	latencies := flag.String("latencies", "", "Comma separated latencies in ns (overrides config)")
	concurrency := flag.Int("concurrency", 0, "Parallel latency points (0 = GOMAXPROCS)")
	skipVerify := flag.Bool("skip-verify", false, "Skip the determinism check")
	persist := flag.Bool("persist", false, "Persist reports, fills and equity curves")
	outDir := flag.String("out", "", "Directory for REPORT.md, CERTIFICATION.md and CSV exports")
	failOnNoGo := flag.Bool("fail-on-nogo", false, "Exit with status 3 unless the verdict is GO")

	// Storage
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage")

	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address")

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
	points := cfg.Backtest.LatencySweepNs
	if *latencies != "" {
		if points, err = config.ParseLatencies(*latencies); err != nil {
			logger.Error("invalid --latencies", "error", err)
			os.Exit(2)
		}
	}
	if *metricsAddr != "" {
		cfg.Observability.MetricsAddr = *metricsAddr
	}
	bootstrap.OverrideStorage(&cfg.Storage, *postgresDSN, *clickhouseDSN, *useMemory)

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
		Concurrency:  *concurrency,
	})

	req := orchestrator.Request{
		DatasetID:        *datasetID,
		Config:           cfg.ToBacktestConfig(*runID),
		Latencies:        points,
		CheckDeterminism: !*skipVerify,
		Persist:          *persist,
	}
	if *inputPath != "" {
		req.Source = ingestion.NewCSVSource(*inputPath)
	}

	slog.Info("starting latency sweep", "points", len(points), "verify", req.CheckDeterminism)
	result, err := orch.Run(ctx, req)
	if err != nil {
		logger.Error("sweep failed", "error", err)
		os.Exit(1)
	}

	if *outDir != "" {
		if err := orchestrator.WriteArtifacts(*outDir, result); err != nil {
			logger.Error("failed to write artifacts", "error", err)
			os.Exit(1)
		}
		logger.Info("artifacts written", "dir", *outDir)
	}

	if err := reporting.RenderTable(os.Stdout, result.Report); err != nil {
		logger.Error("failed to render table", "error", err)
	}
	fmt.Println()
	fmt.Print(decision.RenderMarkdown(result.Decision, nil))

	if *failOnNoGo && result.Decision.Decision != decision.DecisionGO {
		os.Exit(3)
	}
}
