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
	"mm-replay-lab/internal/replay"
	"mm-replay-lab/internal/verification"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to YAML config of the original run")
	runID := flag.String("run-id", "", "Stored run to verify against its persisted results")
	datasetID := flag.String("dataset-id", "", "Stored dataset to check for run-to-run determinism")
	latencyNs := flag.Int64("latency-ns", -1, "Latency for --dataset-id (overrides config)")
	showAudit := flag.Bool("audit", false, "Summarise the SQLite audit trail of --run-id")

	// Storage
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage")

	outputJSON := flag.Bool("json", false, "Output as JSON")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", *configPath)
		os.Exit(1)
	}
	logger := bootstrap.SetupLogger(cfg.Log)
	bootstrap.OverrideStorage(&cfg.Storage, *postgresDSN, *clickhouseDSN, *useMemory)

	if (*runID == "") == (*datasetID == "") {
		logger.Error("exactly one of --run-id or --dataset-id is required")
		os.Exit(2)
	}
	bootstrap.OverrideBacktest(&cfg.Backtest, *latencyNs, -1)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stores, err := bootstrap.OpenStores(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	var ok bool
	if *runID != "" {
		verifier := verification.NewReplayVerifier(verification.ReplayVerifierOptions{
			ReportStore: stores.Reports,
			FillStore:   stores.Fills,
			EquityStore: stores.Equity,
			EventStore:  stores.Events,
			Base:        cfg.ToBacktestConfig(*runID),
			Logger:      logger,
		})
		report, err := verifier.VerifyRun(ctx, *runID)
		if err != nil {
			logger.Error("verification failed", "error", err, "run_id", *runID)
			os.Exit(1)
		}
		printReport(report, *outputJSON)
		ok = report.Match()

		if *showAudit {
			if err := printAudit(ctx, cfg.Storage.SQLitePath, *runID); err != nil {
				logger.Error("audit trail", "error", err)
			}
		}
	} else {
		events, err := replay.NewRunner(stores.Events).Load(ctx, *datasetID)
		if err != nil {
			logger.Error("load dataset failed", "error", err, "dataset_id", *datasetID)
			os.Exit(1)
		}
		btCfg := cfg.ToBacktestConfig("determinism-check")
		btCfg.DatasetID = *datasetID
		result, err := verification.CheckDeterminism(ctx, events, btCfg, logger)
		if err != nil {
			logger.Error("determinism check failed", "error", err)
			os.Exit(1)
		}
		printResult(result, *outputJSON)
		ok = result.Match
	}

	if !ok {
		os.Exit(1)
	}
}

func printReport(report *verification.VerificationReport, asJSON bool) {
	if asJSON {
		output, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(output))
		return
	}
	fmt.Printf("\n=== Verification of run %s ===\n", report.RunID)
	fmt.Printf("Points:     %d\n", report.TotalPoints)
	fmt.Printf("Matched:    %d\n", report.MatchedPoints)
	fmt.Printf("Divergent:  %d\n", report.DivergentPoints)
	for _, r := range report.Results {
		status := "MATCH"
		if !r.Match {
			status = "DIVERGED"
		}
		fmt.Printf("  %8dns  %-8s  stored=%.6f replayed=%.6f fills=%d\n",
			r.LatencyNs, status, r.StoredPnL, r.ReplayedPnL, r.FillsCompared)
		for _, d := range r.Divergences {
			fmt.Printf("      %s\n", d)
		}
	}
}

func printResult(result *verification.VerificationResult, asJSON bool) {
	if asJSON {
		output, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(output))
		return
	}
	fmt.Printf("\n=== Determinism check at %dns ===\n", result.LatencyNs)
	fmt.Printf("Match:        %t\n", result.Match)
	fmt.Printf("P&L:          %.6f / %.6f\n", result.StoredPnL, result.ReplayedPnL)
	fmt.Printf("Fills:        %d\n", result.FillsCompared)
	for _, d := range result.Divergences {
		fmt.Printf("  %s\n", d)
	}
}

func printAudit(ctx context.Context, path, runID string) error {
	if path == "" {
		return fmt.Errorf("storage.sqlite_path is not configured")
	}
	w, err := audit.NewSQLiteWriter(path)
	if err != nil {
		return err
	}
	defer w.Close()

	records, err := w.ReadRun(ctx, runID)
	if err != nil {
		return err
	}
	counts := make(map[audit.Kind]int)
	for _, r := range records {
		counts[r.Kind]++
	}
	fmt.Printf("\n=== Audit trail (%d records) ===\n", len(records))
	for _, kind := range []audit.Kind{
		audit.KindConfig, audit.KindMarketTick, audit.KindSignal, audit.KindOrderSubmit,
		audit.KindOrderFill, audit.KindOrderCancel, audit.KindPnLUpdate, audit.KindRiskBreach,
	} {
		fmt.Printf("%-14s %d\n", kind, counts[kind])
	}
	return nil
}
