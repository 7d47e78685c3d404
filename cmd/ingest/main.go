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
	"time"

	"mm-replay-lab/internal/bootstrap"
	"mm-replay-lab/internal/config"
	"mm-replay-lab/internal/domain"
	"mm-replay-lab/internal/ingestion"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to YAML config (defaults when empty)")
	inputPath := flag.String("input", "", "CSV file with ts_us,event_type,side,price,size (required)")
	datasetID := flag.String("dataset-id", "", "Dataset id (derived from the file checksum when empty)")
	spread := flag.Float64("spread-fraction", ingestion.DefaultSpreadFraction, "Synthetic bid/ask spread as a fraction of price")
	assetID := flag.Uint("asset-id", ingestion.DefaultAssetID, "Asset id stamped on every event")
	list := flag.Bool("list", false, "List stored datasets and exit")

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

	if *inputPath == "" && !*list {
		logger.Error("--input is required")
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
	if !stores.Persistent {
		logger.Warn("in-memory storage: the dataset is discarded on exit")
	}

	if *list {
		datasets, err := stores.Datasets.List(ctx)
		if err != nil {
			logger.Error("list datasets failed", "error", err)
			os.Exit(1)
		}
		printDatasets(datasets, *outputJSON)
		return
	}

	mgr := ingestion.NewManager(ingestion.ManagerOptions{
		DatasetStore: stores.Datasets,
		EventStore:   stores.Events,
		Logger:       logger,
	})

	source := &ingestion.CSVSource{
		Path:           *inputPath,
		SpreadFraction: *spread,
		AssetID:        uint32(*assetID),
	}
	ds, err := mgr.Ingest(ctx, source, *datasetID)
	if err != nil {
		logger.Error("ingest failed", "error", err, "input", *inputPath)
		os.Exit(1)
	}

	printDatasets([]*domain.Dataset{ds}, *outputJSON)
}

func printDatasets(datasets []*domain.Dataset, asJSON bool) {
	if asJSON {
		output, _ := json.MarshalIndent(datasets, "", "  ")
		fmt.Println(string(output))
		return
	}
	for _, d := range datasets {
		fmt.Printf("\n=== Dataset %s ===\n", d.DatasetID)
		fmt.Printf("Source:       %s\n", d.Source)
		fmt.Printf("Checksum:     %s\n", d.Checksum)
		fmt.Printf("Events:       %d\n", d.EventCount)
		fmt.Printf("Skipped Rows: %d\n", d.SkippedRows)
		fmt.Printf("First Event:  %s\n", time.Unix(0, d.FirstTimestampNs).UTC().Format(time.RFC3339Nano))
		fmt.Printf("Last Event:   %s\n", time.Unix(0, d.LastTimestampNs).UTC().Format(time.RFC3339Nano))
		fmt.Printf("Duration:     %v\n", time.Duration(d.LastTimestampNs-d.FirstTimestampNs))
	}
}
