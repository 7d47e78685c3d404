// Package config loads run configuration from YAML with .env and
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"mm-replay-lab/internal/backtest"
	"mm-replay-lab/internal/decision"
	"mm-replay-lab/internal/intensity"
	"mm-replay-lab/internal/quote"
	"mm-replay-lab/internal/risk"
	"mm-replay-lab/internal/signal"
	"mm-replay-lab/internal/simulation"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// DefaultLatencySweepNs is the sweep used when none is configured.
var DefaultLatencySweepNs = []int64{100, 200, 250, 300, 350, 400, 450, 500, 550, 600, 700, 800, 1000, 1500, 2000}

// Config is the complete lab configuration.
type Config struct {
	Backtest      BacktestConfig      `yaml:"backtest"`
	Intensity     IntensityConfig     `yaml:"intensity"`
	Quote         QuoteConfig         `yaml:"quote"`
	Risk          RiskConfig          `yaml:"risk"`
	Signal        SignalConfig        `yaml:"signal"`
	Fill          FillConfig          `yaml:"fill"`
	Storage       StorageConfig       `yaml:"storage"`
	Log           LogConfig           `yaml:"log"`
	Observability ObservabilityConfig `yaml:"observability"`
	Certification CertificationConfig `yaml:"certification"`
}

// BacktestConfig controls a single run and the latency sweep.
type BacktestConfig struct {
	LatencyNs              int64   `yaml:"latency_ns"`
	InitialCapital         float64 `yaml:"initial_capital"`
	CommissionPerUnit      float64 `yaml:"commission_per_unit"`
	EnableSlippage         *bool   `yaml:"enable_slippage"`
	EnableAdverseSelection *bool   `yaml:"enable_adverse_selection"`
	Seed                   uint64  `yaml:"seed"`
	LatencySweepNs         []int64 `yaml:"latency_sweep_ns"`
	TimeHorizonSec         float64 `yaml:"time_horizon_sec"`
	RegimeFromVolatility   bool    `yaml:"regime_from_volatility"`
}

// IntensityConfig configures the Hawkes model.
type IntensityConfig struct {
	BaselineBuy  float64   `yaml:"baseline_buy"`
	BaselineSell float64   `yaml:"baseline_sell"`
	SelfCoef     float64   `yaml:"self_coef"`
	CrossCoef    float64   `yaml:"cross_coef"`
	DecayRates   []float64 `yaml:"decay_rates"` // one kernel per rate, equal weights
}

// QuoteConfig configures the quote model.
type QuoteConfig struct {
	RiskAversion float64 `yaml:"risk_aversion"`
	Volatility   float64 `yaml:"volatility"`
	ArrivalRate  float64 `yaml:"arrival_rate"`
	TickSize     float64 `yaml:"tick_size"`
	MaxInventory int64   `yaml:"max_inventory"`
	BaseSize     float64 `yaml:"base_size"`
}

// RiskConfig configures the risk gate.
type RiskConfig struct {
	MaxPosition       int64     `yaml:"max_position"`
	MaxLoss           float64   `yaml:"max_loss"`
	MaxOrderValue     float64   `yaml:"max_order_value"`
	MaxDailyTrades    int64     `yaml:"max_daily_trades"`
	MaxOrdersPerSec   float64   `yaml:"max_orders_per_sec"` // 0 disables the rate limit
	OrderBurst        int       `yaml:"order_burst"`
	ResetToken        string    `yaml:"reset_token"`
	RegimeThresholds  []float64 `yaml:"regime_thresholds"`  // 3 ascending bounds
	RegimeMultipliers []float64 `yaml:"regime_multipliers"` // 4 multipliers
}

// SignalConfig configures the persistence filter.
type SignalConfig struct {
	Threshold           float64 `yaml:"threshold"`
	MinPersistenceTicks int     `yaml:"min_persistence_ticks"`
	MinStrengthRatio    float64 `yaml:"min_strength_ratio"`
	SpreadFloor         float64 `yaml:"spread_floor"`
}

// FillConfig configures the fill probability model.
type FillConfig struct {
	BaseProbability         float64 `yaml:"base_probability"`
	QueueDecay              float64 `yaml:"queue_decay"`
	SpreadSensitivity       float64 `yaml:"spread_sensitivity"`
	VolatilityImpact        float64 `yaml:"volatility_impact"`
	AdverseSelectionPenalty float64 `yaml:"adverse_selection_penalty"`
	LatencyPenaltyPerUs     float64 `yaml:"latency_penalty_per_us"`
}

// StorageConfig controls where datasets and results are persisted.
type StorageConfig struct {
	PostgresDSN      string `yaml:"postgres_dsn"`
	PostgresMaxConns int32  `yaml:"postgres_max_conns"` // 0 keeps the pgx default
	ClickHouseDSN    string `yaml:"clickhouse_dsn"`
	SQLitePath       string `yaml:"sqlite_path"` // audit trail; empty disables it
	UseMemory        bool   `yaml:"use_memory"`
}

// LogConfig controls the format and level of logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// ObservabilityConfig controls the optional HTTP surfaces.
type ObservabilityConfig struct {
	MetricsAddr   string `yaml:"metrics_addr"`   // e.g. ":9090"; empty disables
	DashboardAddr string `yaml:"dashboard_addr"` // e.g. ":8081"; empty disables
}

// CertificationConfig configures the latency certification thresholds.
type CertificationConfig struct {
	MinProfitableShare  float64 `yaml:"min_profitable_share"`
	MinProfitablePoints int     `yaml:"min_profitable_points"`
	MinStability        float64 `yaml:"min_stability"`
	MaxPnLDropPer100ns  float64 `yaml:"max_pnl_drop_per_100ns"`
	RequirePositivePnL  bool    `yaml:"require_positive_pnl"`
	VerifyDeterminism   bool    `yaml:"verify_determinism"`
}

// Load reads the YAML file at path, applies .env and environment overrides,
// fills defaults and validates the result. An empty path yields the defaults
// plus overrides.
func Load(path string) (*Config, error) {
	// Load .env if present
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration with every default applied.
func Default() *Config {
	var cfg Config
	setDefaults(&cfg)
	return &cfg
}

// applyEnvOverrides overrides values with environment variables when present.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("CLICKHOUSE_DSN"); v != "" {
		cfg.Storage.ClickHouseDSN = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("MM_SEED"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: MM_SEED %q: %v", ErrInvalid, v, err)
		}
		cfg.Backtest.Seed = seed
	}
	if v := os.Getenv("MM_LATENCY_NS"); v != "" {
		latency, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: MM_LATENCY_NS %q: %v", ErrInvalid, v, err)
		}
		cfg.Backtest.LatencyNs = latency
	}
	return nil
}

// setDefaults makes sure required values carry sensible defaults.
func setDefaults(cfg *Config) {
	bt := &cfg.Backtest
	if bt.LatencyNs <= 0 {
		bt.LatencyNs = 500
	}
	if bt.InitialCapital <= 0 {
		bt.InitialCapital = backtest.DefaultInitialCapital
	}
	if bt.CommissionPerUnit <= 0 {
		bt.CommissionPerUnit = backtest.DefaultCommissionPerUnit
	}
	if bt.EnableSlippage == nil {
		bt.EnableSlippage = boolPtr(true)
	}
	if bt.EnableAdverseSelection == nil {
		bt.EnableAdverseSelection = boolPtr(true)
	}
	if bt.Seed == 0 {
		bt.Seed = backtest.DefaultSeed
	}
	if len(bt.LatencySweepNs) == 0 {
		bt.LatencySweepNs = append([]int64(nil), DefaultLatencySweepNs...)
	}
	if bt.TimeHorizonSec <= 0 {
		bt.TimeHorizonSec = quote.DefaultTimeHorizonSec
	}

	ip := intensity.DefaultParams()
	in := &cfg.Intensity
	if in.BaselineBuy <= 0 {
		in.BaselineBuy = ip.BaselineBuy
	}
	if in.BaselineSell <= 0 {
		in.BaselineSell = ip.BaselineSell
	}
	if in.SelfCoef <= 0 {
		in.SelfCoef = ip.SelfCoef
	}
	if in.CrossCoef <= 0 {
		in.CrossCoef = ip.CrossCoef
	}
	if len(in.DecayRates) == 0 {
		for _, k := range ip.Kernels {
			in.DecayRates = append(in.DecayRates, k.DecayRate)
		}
	}

	qp := quote.DefaultParams(0)
	q := &cfg.Quote
	if q.RiskAversion <= 0 {
		q.RiskAversion = qp.RiskAversion
	}
	if q.Volatility <= 0 {
		q.Volatility = qp.Volatility
	}
	if q.ArrivalRate <= 0 {
		q.ArrivalRate = qp.ArrivalRate
	}
	if q.TickSize <= 0 {
		q.TickSize = qp.TickSize
	}
	if q.MaxInventory <= 0 {
		q.MaxInventory = qp.MaxInventory
	}
	if q.BaseSize <= 0 {
		q.BaseSize = qp.BaseSize
	}

	rl := risk.DefaultLimits()
	r := &cfg.Risk
	if r.MaxPosition <= 0 {
		r.MaxPosition = rl.MaxPosition
	}
	if r.MaxLoss <= 0 {
		r.MaxLoss = rl.MaxLossThreshold
	}
	if r.MaxOrderValue <= 0 {
		r.MaxOrderValue = rl.MaxOrderValue
	}
	if r.MaxDailyTrades <= 0 {
		r.MaxDailyTrades = rl.MaxDailyTrades
	}
	if r.ResetToken == "" {
		r.ResetToken = rl.ResetToken
	}
	if len(r.RegimeThresholds) == 0 {
		r.RegimeThresholds = rl.RegimeThresholds[:]
	}
	if len(r.RegimeMultipliers) == 0 {
		r.RegimeMultipliers = rl.RegimeMultipliers[:]
	}

	sc := signal.DefaultConfig()
	s := &cfg.Signal
	if s.Threshold <= 0 {
		s.Threshold = sc.Threshold
	}
	if s.MinPersistenceTicks <= 0 {
		s.MinPersistenceTicks = sc.MinPersistenceTicks
	}
	if s.MinStrengthRatio <= 0 {
		s.MinStrengthRatio = sc.MinStrengthRatio
	}
	if s.SpreadFloor <= 0 {
		s.SpreadFloor = sc.SpreadFloor
	}

	fp := simulation.DefaultFillParams()
	f := &cfg.Fill
	if f.BaseProbability <= 0 {
		f.BaseProbability = fp.BaseProbability
	}
	if f.QueueDecay <= 0 {
		f.QueueDecay = fp.QueueDecay
	}
	if f.SpreadSensitivity <= 0 {
		f.SpreadSensitivity = fp.SpreadSensitivity
	}
	if f.VolatilityImpact <= 0 {
		f.VolatilityImpact = fp.VolatilityImpact
	}
	if f.AdverseSelectionPenalty <= 0 {
		f.AdverseSelectionPenalty = fp.AdverseSelectionPenalty
	}
	if f.LatencyPenaltyPerUs <= 0 {
		f.LatencyPenaltyPerUs = fp.LatencyPenaltyPerUs
	}

	th := decision.DefaultThresholds()
	c := &cfg.Certification
	if c.MinProfitableShare <= 0 {
		c.MinProfitableShare = th.MinProfitableShare
	}
	if c.MinProfitablePoints <= 0 {
		c.MinProfitablePoints = th.MinProfitablePoints
	}
	if c.MinStability <= 0 {
		c.MinStability = th.MinStability
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	for _, l := range c.Backtest.LatencySweepNs {
		if l < 0 {
			return fmt.Errorf("%w: latency_sweep_ns contains negative value %d", ErrInvalid, l)
		}
	}
	if len(c.Risk.RegimeThresholds) != 3 {
		return fmt.Errorf("%w: regime_thresholds needs 3 values, got %d", ErrInvalid, len(c.Risk.RegimeThresholds))
	}
	if len(c.Risk.RegimeMultipliers) != 4 {
		return fmt.Errorf("%w: regime_multipliers needs 4 values, got %d", ErrInvalid, len(c.Risk.RegimeMultipliers))
	}
	th := c.Risk.RegimeThresholds
	if !(th[0] < th[1] && th[1] < th[2]) {
		return fmt.Errorf("%w: regime_thresholds must be ascending", ErrInvalid)
	}
	for _, m := range c.Risk.RegimeMultipliers {
		if m < 0 || m > 1 {
			return fmt.Errorf("%w: regime multiplier %v outside [0, 1]", ErrInvalid, m)
		}
	}
	if c.Fill.BaseProbability > 1 {
		return fmt.Errorf("%w: fill.base_probability %v > 1", ErrInvalid, c.Fill.BaseProbability)
	}
	if c.Certification.MinProfitableShare > 1 {
		return fmt.Errorf("%w: certification.min_profitable_share %v > 1", ErrInvalid, c.Certification.MinProfitableShare)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log.level %q", ErrInvalid, c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log.format %q", ErrInvalid, c.Log.Format)
	}
	if !c.Storage.UseMemory && (c.Storage.PostgresDSN == "") != (c.Storage.ClickHouseDSN == "") {
		return fmt.Errorf("%w: postgres_dsn and clickhouse_dsn must be set together", ErrInvalid)
	}
	if c.Storage.PostgresMaxConns < 0 {
		return fmt.Errorf("%w: storage.postgres_max_conns must be >= 0", ErrInvalid)
	}
	return nil
}

// ToBacktestConfig converts the configuration into engine settings for runID.
func (c *Config) ToBacktestConfig(runID string) backtest.Config {
	kernels := make([]intensity.Kernel, len(c.Intensity.DecayRates))
	for i, rate := range c.Intensity.DecayRates {
		kernels[i] = intensity.Kernel{DecayRate: rate, Weight: 1.0 / float64(len(c.Intensity.DecayRates))}
	}

	limits := risk.Limits{
		MaxPosition:        c.Risk.MaxPosition,
		MaxLossThreshold:   c.Risk.MaxLoss,
		MaxOrderValue:      c.Risk.MaxOrderValue,
		MaxDailyTrades:     c.Risk.MaxDailyTrades,
		MaxOrdersPerSecond: c.Risk.MaxOrdersPerSec,
		OrderBurst:         c.Risk.OrderBurst,
		ResetToken:         c.Risk.ResetToken,
	}
	copy(limits.RegimeThresholds[:], c.Risk.RegimeThresholds)
	copy(limits.RegimeMultipliers[:], c.Risk.RegimeMultipliers)

	sig := signal.DefaultConfig()
	sig.Threshold = c.Signal.Threshold
	sig.MinPersistenceTicks = c.Signal.MinPersistenceTicks
	sig.MinStrengthRatio = c.Signal.MinStrengthRatio
	sig.SpreadFloor = c.Signal.SpreadFloor
	sig.TimeHorizonSec = c.Backtest.TimeHorizonSec
	sig.Volatility = c.Quote.Volatility

	return backtest.Config{
		RunID:                  runID,
		LatencyNs:              c.Backtest.LatencyNs,
		InitialCapital:         c.Backtest.InitialCapital,
		CommissionPerUnit:      c.Backtest.CommissionPerUnit,
		EnableSlippage:         *c.Backtest.EnableSlippage,
		EnableAdverseSelection: *c.Backtest.EnableAdverseSelection,
		Seed:                   c.Backtest.Seed,
		RegimeFromVolatility:   c.Backtest.RegimeFromVolatility,
		Intensity: intensity.Params{
			BaselineBuy:  c.Intensity.BaselineBuy,
			BaselineSell: c.Intensity.BaselineSell,
			SelfCoef:     c.Intensity.SelfCoef,
			CrossCoef:    c.Intensity.CrossCoef,
			Kernels:      kernels,
		},
		Quote: quote.Params{
			RiskAversion:   c.Quote.RiskAversion,
			Volatility:     c.Quote.Volatility,
			TimeHorizonSec: c.Backtest.TimeHorizonSec,
			ArrivalRate:    c.Quote.ArrivalRate,
			TickSize:       c.Quote.TickSize,
			LatencyNs:      c.Backtest.LatencyNs,
			MaxInventory:   c.Quote.MaxInventory,
			BaseSize:       c.Quote.BaseSize,
		},
		Risk:   limits,
		Signal: sig,
		Fill: simulation.FillParams{
			BaseProbability:         c.Fill.BaseProbability,
			QueueDecay:              c.Fill.QueueDecay,
			SpreadSensitivity:       c.Fill.SpreadSensitivity,
			VolatilityImpact:        c.Fill.VolatilityImpact,
			AdverseSelectionPenalty: c.Fill.AdverseSelectionPenalty,
			LatencyPenaltyPerUs:     c.Fill.LatencyPenaltyPerUs,
		},
	}
}

// Thresholds returns the certification thresholds.
func (c *Config) Thresholds() decision.Thresholds {
	return decision.Thresholds{
		MinPoints:           2,
		MinProfitableShare:  c.Certification.MinProfitableShare,
		MinProfitablePoints: c.Certification.MinProfitablePoints,
		MinStability:        c.Certification.MinStability,
		MaxPnLDropPer100ns:  c.Certification.MaxPnLDropPer100ns,
		RequirePositivePnL:  c.Certification.RequirePositivePnL,
	}
}

func boolPtr(v bool) *bool { return &v }

// ParseLatencies parses a comma separated list of non-negative nanosecond
// latencies such as "100,250,500".
func ParseLatencies(s string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseInt(part, 10, 64)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("%w: latency %q", ErrInvalid, part)
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty latency list", ErrInvalid)
	}
	return out, nil
}
