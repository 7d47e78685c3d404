// Package bootstrap wires configuration into the process-wide pieces every
// command needs: the logger, the stores, the audit trail and the HTTP surfaces.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"mm-replay-lab/internal/audit"
	"mm-replay-lab/internal/config"
	"mm-replay-lab/internal/dashboard"
	"mm-replay-lab/internal/observability"
	"mm-replay-lab/internal/storage"
	chstore "mm-replay-lab/internal/storage/clickhouse"
	"mm-replay-lab/internal/storage/memory"
	"mm-replay-lab/internal/storage/migrations"
	pgstore "mm-replay-lab/internal/storage/postgres"
)

// SetupLogger installs the configured slog handler as the default logger.
func SetupLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// Stores groups every store a command may need.
type Stores struct {
	Datasets storage.DatasetStore
	Events   storage.MarketEventStore
	Fills    storage.FillStore
	Reports  storage.ReportStore
	Equity   storage.EquitySampleStore

	// Persistent reports whether the stores outlive the process.
	Persistent bool

	closers []func()
}

// Close releases database connections.
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// MemoryStores returns fresh in-memory stores.
func MemoryStores() *Stores {
	return &Stores{
		Datasets: memory.NewDatasetStore(),
		Events:   memory.NewMarketEventStore(),
		Fills:    memory.NewFillStore(),
		Reports:  memory.NewReportStore(),
		Equity:   memory.NewEquitySampleStore(),
	}
}

// OpenStores connects to PostgreSQL (datasets, fills, reports) and ClickHouse
// (market events, equity curves) and applies the embedded migrations. With
// use_memory, or when no DSN is configured, it returns in-memory stores.
func OpenStores(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (*Stores, error) {
	if cfg.UseMemory || (cfg.PostgresDSN == "" && cfg.ClickHouseDSN == "") {
		logger.Info("using in-memory storage")
		return MemoryStores(), nil
	}
	if cfg.PostgresDSN == "" || cfg.ClickHouseDSN == "" {
		return nil, fmt.Errorf("%w: postgres_dsn and clickhouse_dsn must be set together", config.ErrInvalid)
	}

	s := &Stores{Persistent: true}

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN, pgstore.WithMaxConns(cfg.PostgresMaxConns))
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	s.closers = append(s.closers, pool.Close)

	applied, err := migrations.RunPostgresMigrations(ctx, pool)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("postgres migrations: %w", err)
	}

	conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("clickhouse migrations: %w", err)
	}
	s.closers = append(s.closers, func() { _ = conn.Close() })

	s.Datasets = pgstore.NewDatasetStore(pool)
	s.Fills = pgstore.NewFillStore(pool)
	s.Reports = pgstore.NewReportStore(pool)
	s.Events = chstore.NewMarketEventStore(conn)
	s.Equity = chstore.NewEquitySampleStore(conn)

	logger.Info("storage ready", "postgres_migrations", applied)
	return s, nil
}

// OpenAudit builds the audit sink: records are buffered during a run and
// written at flush to the debug log, the SQLite trail when configured, and
// any extra writers such as the dashboard hub.
func OpenAudit(cfg config.StorageConfig, logger *slog.Logger, extra ...audit.Writer) (*audit.Buffer, func() error, error) {
	writers := audit.Fanout{audit.NewSlogWriter(logger, slog.LevelDebug)}
	closeFn := func() error { return nil }

	if cfg.SQLitePath != "" {
		w, err := audit.NewSQLiteWriter(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open audit trail: %w", err)
		}
		writers = append(writers, w)
		closeFn = w.Close
	}
	for _, w := range extra {
		if w != nil {
			writers = append(writers, w)
		}
	}
	return audit.NewBuffer(writers), closeFn, nil
}

// StartHTTP serves the dashboard (status, metrics and the audit stream) when
// dashboard_addr is set, or only /metrics when metrics_addr is set. The
// returned hub is nil without a dashboard. Servers stop when ctx is done.
func StartHTTP(ctx context.Context, cfg config.ObservabilityConfig, metrics *observability.Metrics, logger *slog.Logger) *dashboard.Hub {
	var hub *dashboard.Hub
	if cfg.DashboardAddr != "" {
		hub = dashboard.NewHub(dashboard.DefaultConfig(), logger)
		srv := dashboard.NewServer(hub, metrics, logger)
		go func() {
			if err := srv.ListenAndServe(ctx, cfg.DashboardAddr); err != nil {
				logger.Error("dashboard server", "error", err)
			}
		}()
	}

	if cfg.MetricsAddr != "" && cfg.MetricsAddr != cfg.DashboardAddr {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", "error", err)
			}
		}()
		logger.Info("metrics listening", "addr", cfg.MetricsAddr)
	}
	return hub
}

// OverrideBacktest applies the --latency-ns and --seed flags over the config.
// A negative value means the flag was not given; zero is a valid latency and seed.
func OverrideBacktest(cfg *config.BacktestConfig, latencyNs, seed int64) {
	if latencyNs >= 0 {
		cfg.LatencyNs = latencyNs
	}
	if seed >= 0 {
		cfg.Seed = uint64(seed)
	}
}

// OverrideStorage applies the storage command-line flags over the config.
// Empty DSNs leave the configured values in place.
func OverrideStorage(cfg *config.StorageConfig, postgresDSN, clickhouseDSN string, useMemory bool) {
	if postgresDSN != "" {
		cfg.PostgresDSN = postgresDSN
	}
	if clickhouseDSN != "" {
		cfg.ClickHouseDSN = clickhouseDSN
	}
	if useMemory {
		cfg.UseMemory = true
	}
}
