package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mm-replay-lab/internal/audit"
	"mm-replay-lab/internal/config"
	"mm-replay-lab/internal/domain"
)

func TestSetupLogger_Levels(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	ctx := context.Background()
	logger := SetupLogger(config.LogConfig{Level: "warn", Format: "json"})
	assert.False(t, logger.Enabled(ctx, slog.LevelInfo))
	assert.True(t, logger.Enabled(ctx, slog.LevelWarn))
	assert.Same(t, logger, slog.Default())

	logger = SetupLogger(config.LogConfig{Level: "debug"})
	assert.True(t, logger.Enabled(ctx, slog.LevelDebug))

	logger = SetupLogger(config.LogConfig{Level: "unknown"})
	assert.True(t, logger.Enabled(ctx, slog.LevelInfo))
	assert.False(t, logger.Enabled(ctx, slog.LevelDebug))
}

func TestOpenStores_Memory(t *testing.T) {
	ctx := context.Background()
	for _, cfg := range []config.StorageConfig{
		{UseMemory: true, PostgresDSN: "postgres://ignored"},
		{},
	} {
		stores, err := OpenStores(ctx, cfg, slog.Default())
		require.NoError(t, err)
		assert.False(t, stores.Persistent)

		require.NoError(t, stores.Datasets.Insert(ctx, &domain.Dataset{DatasetID: "ds"}))
		_, err = stores.Datasets.GetByID(ctx, "ds")
		assert.NoError(t, err)
		stores.Close()
	}
}

func TestOpenStores_HalfConfigured(t *testing.T) {
	_, err := OpenStores(context.Background(), config.StorageConfig{PostgresDSN: "postgres://x"}, slog.Default())
	assert.True(t, errors.Is(err, config.ErrInvalid), "got %v", err)
}

func TestOpenAudit_SQLiteTrail(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit.db")
	mem := &audit.Memory{}

	sink, closeFn, err := OpenAudit(config.StorageConfig{SQLitePath: path}, slog.Default(), mem)
	require.NoError(t, err)

	sink.Record(audit.Record{RunID: "r1", LatencyNs: 100, TimestampNs: 5, Kind: audit.KindSignal})
	sink.Record(audit.Record{RunID: "r1", LatencyNs: 100, TimestampNs: 6, Kind: audit.KindOrderSubmit})
	require.NoError(t, sink.Flush(ctx))
	require.NoError(t, closeFn())

	assert.Equal(t, 1, mem.Count(audit.KindSignal))

	w, err := audit.NewSQLiteWriter(path)
	require.NoError(t, err)
	defer w.Close()
	stored, err := w.ReadRun(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, audit.KindOrderSubmit, stored[1].Kind)
}

func TestOpenAudit_NoTrail(t *testing.T) {
	sink, closeFn, err := OpenAudit(config.StorageConfig{}, slog.Default())
	require.NoError(t, err)
	sink.Record(audit.Record{RunID: "r", Kind: audit.KindConfig})
	assert.NoError(t, sink.Flush(context.Background()))
	assert.NoError(t, closeFn())
}

func TestStartHTTP_Disabled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	assert.Nil(t, StartHTTP(ctx, config.ObservabilityConfig{}, nil, slog.Default()))
}

func TestOverrideBacktest(t *testing.T) {
	cfg := config.BacktestConfig{LatencyNs: 500, Seed: 42}
	OverrideBacktest(&cfg, -1, -1)
	assert.Equal(t, int64(500), cfg.LatencyNs)
	assert.Equal(t, uint64(42), cfg.Seed)

	// Zero is an explicit choice, not "unset".
	OverrideBacktest(&cfg, 0, 0)
	assert.Equal(t, int64(0), cfg.LatencyNs)
	assert.Equal(t, uint64(0), cfg.Seed)

	OverrideBacktest(&cfg, 2000, 7)
	assert.Equal(t, int64(2000), cfg.LatencyNs)
	assert.Equal(t, uint64(7), cfg.Seed)
}

func TestOverrideStorage(t *testing.T) {
	cfg := config.StorageConfig{PostgresDSN: "pg-from-config", ClickHouseDSN: "ch-from-config"}
	OverrideStorage(&cfg, "", "ch-flag", false)
	assert.Equal(t, "pg-from-config", cfg.PostgresDSN)
	assert.Equal(t, "ch-flag", cfg.ClickHouseDSN)
	assert.False(t, cfg.UseMemory)

	OverrideStorage(&cfg, "", "", true)
	assert.True(t, cfg.UseMemory)
}
