// Package signal turns the order-flow imbalance into trade decisions. A
// temporal persistence filter requires the imbalance to hold its direction for
// a minimum number of ticks before the quote and risk checks are consulted.
package signal

import (
	"math"

	"mm-replay-lab/internal/domain"
	"mm-replay-lab/internal/quote"
	"mm-replay-lab/internal/risk"
)

// Default filter settings.
const (
	DefaultThreshold           = 0.09
	DefaultMinPersistenceTicks = 12
	DefaultMinStrengthRatio    = 0.60
	DefaultSpreadFloor         = 0.0001
	DefaultTestOrderSize       = 100
)

// Outcome explains why a tick did or did not produce a trade.
type Outcome string

// Outcome values.
const (
	OutcomeTrade          Outcome = "trade"
	OutcomeBelowThreshold Outcome = "below_threshold"
	OutcomeDirectionFlip  Outcome = "direction_flip"
	OutcomeAccumulating   Outcome = "accumulating"
	OutcomeWeakStrength   Outcome = "weak_strength"
	OutcomeInvalidQuote   Outcome = "invalid_quote"
	OutcomeRiskRejected   Outcome = "risk_rejected"
	OutcomeUnprofitable   Outcome = "unprofitable"
)

// Config configures the generator.
type Config struct {
	Threshold           float64
	MinPersistenceTicks int
	MinStrengthRatio    float64
	SpreadFloor         float64
	TimeHorizonSec      float64
	Volatility          float64 // annualised, used for the latency cost estimate
	TestOrderSize       uint64
}

// DefaultConfig returns the calibrated filter settings.
func DefaultConfig() Config {
	return Config{
		Threshold:           DefaultThreshold,
		MinPersistenceTicks: DefaultMinPersistenceTicks,
		MinStrengthRatio:    DefaultMinStrengthRatio,
		SpreadFloor:         DefaultSpreadFloor,
		TimeHorizonSec:      quote.DefaultTimeHorizonSec,
		Volatility:          quote.DefaultVolatility,
		TestOrderSize:       DefaultTestOrderSize,
	}
}

// FilterState is the persistence accumulator.
type FilterState struct {
	Accumulated       float64
	StartTimeNs       int64
	ConfirmationTicks int
	Direction         float64 // +1, -1 or 0 when idle
	MaxStrength       float64
	AvgStrength       float64 // Accumulated / ConfirmationTicks
}

// Signal is the generator's decision for one tick.
type Signal struct {
	ShouldTrade       bool
	Outcome           Outcome
	Direction         domain.Side
	BidPrice          float64
	AskPrice          float64
	BidSize           uint64
	AskSize           uint64
	Spread            float64
	LatencyCost       float64
	Strength          float64
	PersistenceNs     int64
	ConfirmationTicks int
	Imbalance         float64
	RiskReason        risk.Reason // set when Outcome is OutcomeRiskRejected
}

// Generator is the signal generator. Not safe for concurrent use.
type Generator struct {
	cfg    Config
	quotes *quote.Model
	gate   *risk.Gate
	state  FilterState
}

// NewGenerator creates a generator. gate may be nil, in which case every test order passes.
func NewGenerator(cfg Config, quotes *quote.Model, gate *risk.Gate) *Generator {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.MinPersistenceTicks <= 0 {
		cfg.MinPersistenceTicks = def.MinPersistenceTicks
	}
	if cfg.MinStrengthRatio <= 0 {
		cfg.MinStrengthRatio = def.MinStrengthRatio
	}
	if cfg.SpreadFloor <= 0 {
		cfg.SpreadFloor = def.SpreadFloor
	}
	if cfg.TimeHorizonSec <= 0 {
		cfg.TimeHorizonSec = def.TimeHorizonSec
	}
	if cfg.Volatility <= 0 {
		cfg.Volatility = def.Volatility
	}
	if cfg.TestOrderSize == 0 {
		cfg.TestOrderSize = def.TestOrderSize
	}
	return &Generator{cfg: cfg, quotes: quotes, gate: gate}
}

// Evaluate feeds one tick's imbalance through the filter and, once it is
// persistent, prices a two-sided quote around q.Mid for the given inventory.
// A fired signal consumes the accumulated state.
func (g *Generator) Evaluate(nowNs int64, imbalance float64, q domain.NormalizedQuote, inventory int64) Signal {
	sig := Signal{Imbalance: imbalance, Direction: domain.SideBuy}

	outcome, persistent := g.accumulate(nowNs, imbalance)
	sig.Outcome = outcome
	sig.ConfirmationTicks = g.state.ConfirmationTicks
	if g.state.Direction < 0 {
		sig.Direction = domain.SideSell
	}
	if !persistent {
		return sig
	}
	sig.PersistenceNs = nowNs - g.state.StartTimeNs
	sig.Strength = g.state.AvgStrength

	latencyCost := g.quotes.LatencyCost(g.cfg.Volatility, q.Mid)
	pair := g.quotes.Quotes(q.Mid, inventory, g.cfg.TimeHorizonSec, latencyCost)
	sig.LatencyCost = latencyCost
	sig.Spread = pair.Spread

	if !pair.Valid() {
		sig.Outcome = OutcomeInvalidQuote
		return sig
	}

	test := domain.Order{Side: domain.SideBuy, Price: pair.BidPrice, Quantity: g.cfg.TestOrderSize}
	if g.gate != nil {
		if d := g.gate.Evaluate(test, inventory); !d.Allowed {
			sig.Outcome = OutcomeRiskRejected
			sig.RiskReason = d.Reason
			return sig
		}
	}

	if !g.quotes.ShouldQuote(pair.Spread, latencyCost) && pair.Spread <= g.cfg.SpreadFloor {
		sig.Outcome = OutcomeUnprofitable
		return sig
	}

	sig.ShouldTrade = true
	sig.Outcome = OutcomeTrade
	sig.BidPrice = pair.BidPrice
	sig.AskPrice = pair.AskPrice
	sig.BidSize = pair.BidSize
	sig.AskSize = pair.AskSize

	g.state = FilterState{}
	return sig
}

// accumulate updates the filter with one imbalance reading and reports whether
// the persistence conditions hold on this tick.
func (g *Generator) accumulate(nowNs int64, imbalance float64) (Outcome, bool) {
	strength := math.Abs(imbalance)
	if strength <= g.cfg.Threshold {
		g.state = FilterState{}
		return OutcomeBelowThreshold, false
	}

	direction := 1.0
	if imbalance < 0 {
		direction = -1.0
	}

	s := &g.state
	if s.ConfirmationTicks > 0 && direction != s.Direction {
		*s = FilterState{
			Accumulated:       imbalance,
			StartTimeNs:       nowNs,
			ConfirmationTicks: 1,
			Direction:         direction,
			MaxStrength:       strength,
			AvgStrength:       strength,
		}
		return OutcomeDirectionFlip, false
	}

	if s.ConfirmationTicks == 0 {
		s.StartTimeNs = nowNs
		s.Direction = direction
	}
	s.Accumulated += imbalance
	s.ConfirmationTicks++
	s.MaxStrength = math.Max(s.MaxStrength, strength)
	s.AvgStrength = math.Abs(s.Accumulated / float64(s.ConfirmationTicks))

	if s.ConfirmationTicks < g.cfg.MinPersistenceTicks {
		return OutcomeAccumulating, false
	}
	if strength < g.cfg.MinStrengthRatio*s.AvgStrength {
		return OutcomeWeakStrength, false
	}
	return OutcomeTrade, true
}

// State returns a snapshot of the filter state.
func (g *Generator) State() FilterState {
	return g.state
}

// Reset clears the filter.
func (g *Generator) Reset() {
	g.state = FilterState{}
}

// Config returns the effective configuration.
func (g *Generator) Config() Config {
	return g.cfg
}
