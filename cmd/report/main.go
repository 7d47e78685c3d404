package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"mm-replay-lab/internal/bootstrap"
	"mm-replay-lab/internal/config"
	"mm-replay-lab/internal/orchestrator"
	"mm-replay-lab/internal/reporting"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to YAML config (defaults when empty)")
	runID := flag.String("run-id", "", "Stored run to report on")
	list := flag.Bool("list", false, "List stored run ids and exit")
	format := flag.String("format", "table", "Output format: table, md, csv")
	outDir := flag.String("out", "", "Write REPORT.md, latency.csv and fills.csv here instead of stdout")
	equityLatency := flag.Int64("equity-latency-ns", -1, "Also export the equity curve of this latency point")

	// Storage
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", *configPath)
		os.Exit(1)
	}
	logger := bootstrap.SetupLogger(cfg.Log)
	bootstrap.OverrideStorage(&cfg.Storage, *postgresDSN, *clickhouseDSN, false)

	if cfg.Storage.UseMemory || cfg.Storage.PostgresDSN == "" || cfg.Storage.ClickHouseDSN == "" {
		logger.Error("report reads persisted runs: --postgres-dsn and --clickhouse-dsn are required")
		os.Exit(2)
	}
	if *runID == "" && !*list {
		logger.Error("--run-id or --list is required")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stores, err := bootstrap.OpenStores(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	if *list {
		ids, err := stores.Reports.ListRunIDs(ctx)
		if err != nil {
			logger.Error("list runs failed", "error", err)
			os.Exit(1)
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return
	}

	report, err := reporting.NewGenerator(stores.Reports, stores.Datasets).Generate(ctx, *runID)
	if err != nil {
		logger.Error("generate report failed", "error", err, "run_id", *runID)
		os.Exit(1)
	}

	if *outDir != "" {
		if err := writeFiles(ctx, *outDir, report, stores, *equityLatency); err != nil {
			logger.Error("write report failed", "error", err)
			os.Exit(1)
		}
		logger.Info("report written", "dir", *outDir)
		return
	}

	switch *format {
	case "md":
		fmt.Print(reporting.RenderMarkdown(report))
	case "csv":
		fmt.Print(reporting.RenderCSV(report.Latency))
	case "table":
		if err := reporting.RenderTable(os.Stdout, report); err != nil {
			logger.Error("render table failed", "error", err)
			os.Exit(1)
		}
	default:
		logger.Error("unknown --format", "format", *format)
		os.Exit(2)
	}
}

func writeFiles(ctx context.Context, dir string, report *reporting.Report, stores *bootstrap.Stores, equityLatency int64) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	runFills, err := stores.Fills.GetByRunID(ctx, report.RunID)
	if err != nil {
		return fmt.Errorf("load fills: %w", err)
	}
	files := map[string]string{
		orchestrator.ReportFile:     reporting.RenderMarkdown(report),
		orchestrator.LatencyCSVFile: reporting.RenderCSV(report.Latency),
		orchestrator.FillsCSVFile:   reporting.RenderFillsCSV(runFills),
	}

	if equityLatency >= 0 {
		samples, err := stores.Equity.GetByRun(ctx, report.RunID, equityLatency)
		if err != nil {
			return fmt.Errorf("load equity: %w", err)
		}
		files[fmt.Sprintf("equity_%dns.csv", equityLatency)] = reporting.RenderEquityCSV(samples)
	}

	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}
