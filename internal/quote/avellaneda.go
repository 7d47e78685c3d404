// Package quote computes inventory-aware bid/ask quotes with an
// Avellaneda-Stoikov style closed form.
package quote

import (
	"math"

	"github.com/shopspring/decimal"
)

// TradingSecondsPerYear converts annualised volatility to per-second volatility.
const TradingSecondsPerYear = 252.0 * 6.5 * 3600.0

// Default parameter values.
const (
	DefaultRiskAversion   = 0.01
	DefaultVolatility     = 0.20
	DefaultTimeHorizonSec = 600.0
	DefaultArrivalRate    = 10.0
	DefaultTickSize       = 0.01
	DefaultMaxInventory   = 1000
	DefaultBaseSize       = 100.0

	// quoteSafetyMargin is the required ratio of half-spread profit to latency cost.
	quoteSafetyMargin = 1.1
)

// Params configures the quote model.
type Params struct {
	RiskAversion   float64 // gamma
	Volatility     float64 // annualised sigma
	TimeHorizonSec float64 // T
	ArrivalRate    float64 // k
	TickSize       float64
	LatencyNs      int64 // round-trip latency used for latency cost
	MaxInventory   int64
	BaseSize       float64
}

// DefaultParams returns the parameters used by the backtest for the given latency.
func DefaultParams(latencyNs int64) Params {
	return Params{
		RiskAversion:   DefaultRiskAversion,
		Volatility:     DefaultVolatility,
		TimeHorizonSec: DefaultTimeHorizonSec,
		ArrivalRate:    DefaultArrivalRate,
		TickSize:       DefaultTickSize,
		LatencyNs:      latencyNs,
		MaxInventory:   DefaultMaxInventory,
		BaseSize:       DefaultBaseSize,
	}
}

// Pair is a two-sided quote.
type Pair struct {
	Mid              float64
	ReservationPrice float64
	BidPrice         float64
	AskPrice         float64
	Spread           float64 // ask - bid after rounding
	BidSize          uint64
	AskSize          uint64
}

// Valid reports whether 0 < bid < ask.
func (p Pair) Valid() bool {
	return p.BidPrice > 0 && p.AskPrice > 0 && p.BidPrice < p.AskPrice
}

// Model is a pure function of its inputs and configured parameters.
// Setters mutate parameters and are not safe for concurrent use with Quotes.
type Model struct {
	gamma        float64
	sigma        float64
	sigmaSqSec   float64
	horizon      float64
	k            float64
	tick         float64
	tickDec      decimal.Decimal
	latencyNs    int64
	minSpread    float64
	maxInventory int64
	baseSize     float64
}

// NewModel creates a quote model. Invalid tick sizes, inventories and sizes fall back to defaults.
func NewModel(p Params) *Model {
	if p.TickSize <= 0 {
		p.TickSize = DefaultTickSize
	}
	if p.MaxInventory <= 0 {
		p.MaxInventory = DefaultMaxInventory
	}
	if p.BaseSize <= 0 {
		p.BaseSize = DefaultBaseSize
	}
	if p.ArrivalRate <= 0 {
		p.ArrivalRate = DefaultArrivalRate
	}
	if p.RiskAversion <= 0 {
		p.RiskAversion = DefaultRiskAversion
	}

	m := &Model{
		gamma:        p.RiskAversion,
		horizon:      p.TimeHorizonSec,
		k:            p.ArrivalRate,
		tick:         p.TickSize,
		tickDec:      decimal.NewFromFloat(p.TickSize),
		latencyNs:    p.LatencyNs,
		minSpread:    2.0 * p.TickSize,
		maxInventory: p.MaxInventory,
		baseSize:     p.BaseSize,
	}
	m.SetVolatility(p.Volatility)
	return m
}

// Quotes computes the bid/ask pair for the current mid, inventory (positive = long),
// remaining horizon and per-trade latency cost. Returns a zero pair for a non-positive
// mid or horizon.
func (m *Model) Quotes(mid float64, inventory int64, timeRemainingSec, latencyCost float64) Pair {
	q := Pair{Mid: mid}
	if mid <= 0 || timeRemainingSec <= 0 {
		return q
	}

	inv := float64(inventory)
	timeComponent := m.gamma * m.sigmaSqSec * timeRemainingSec
	q.ReservationPrice = mid - inv*timeComponent

	arrivalComponent := (2.0 / m.gamma) * math.Log(1.0+m.gamma/m.k)
	totalSpread := math.Max(timeComponent+arrivalComponent, m.minSpread)

	half := totalSpread / 2.0
	if latencyCost > half {
		totalSpread += 2.0 * (latencyCost - half)
		half = totalSpread / 2.0
	}

	skew := m.inventorySkew(inventory)
	q.BidPrice = m.RoundToTick(q.ReservationPrice - half*(1.0-skew))
	q.AskPrice = m.RoundToTick(q.ReservationPrice + half*(1.0+skew))
	if q.BidPrice >= q.AskPrice {
		q.BidPrice = m.RoundToTick(q.AskPrice - m.tick)
	}
	q.Spread = q.AskPrice - q.BidPrice

	q.BidSize = m.quoteSize(true, inventory)
	q.AskSize = m.quoteSize(false, inventory)
	return q
}

// LatencyCost is the expected adverse drift over the configured latency:
// volatility * sqrt(latency_seconds) * mid.
func (m *Model) LatencyCost(volatility, mid float64) float64 {
	if m.latencyNs <= 0 || mid <= 0 {
		return 0
	}
	return volatility * math.Sqrt(float64(m.latencyNs)*1e-9) * mid
}

// ShouldQuote reports whether half the spread exceeds the latency cost with a 10% margin.
func (m *Model) ShouldQuote(spread, latencyCost float64) bool {
	return spread/2.0 > latencyCost*quoteSafetyMargin
}

// RoundToTick rounds price to the nearest tick multiple.
func (m *Model) RoundToTick(price float64) float64 {
	return decimal.NewFromFloat(price).
		Div(m.tickDec).
		Round(0).
		Mul(m.tickDec).
		InexactFloat64()
}

// SetRiskAversion updates gamma. Non-positive values are ignored.
func (m *Model) SetRiskAversion(gamma float64) {
	if gamma > 0 {
		m.gamma = gamma
	}
}

// SetVolatility updates the annualised volatility.
func (m *Model) SetVolatility(sigma float64) {
	m.sigma = sigma
	perSecond := sigma / math.Sqrt(TradingSecondsPerYear)
	m.sigmaSqSec = perSecond * perSecond
}

// SetLatency updates the latency used by LatencyCost.
func (m *Model) SetLatency(latencyNs int64) {
	m.latencyNs = latencyNs
}

// RiskAversion returns gamma.
func (m *Model) RiskAversion() float64 { return m.gamma }

// Volatility returns the annualised volatility.
func (m *Model) Volatility() float64 { return m.sigma }

// LatencyNs returns the configured latency.
func (m *Model) LatencyNs() int64 { return m.latencyNs }

// TimeHorizonSec returns the configured horizon.
func (m *Model) TimeHorizonSec() float64 { return m.horizon }

// inventorySkew maps inventory into [-1, 1] with tanh(2 * inventory / max).
func (m *Model) inventorySkew(inventory int64) float64 {
	return math.Tanh(2.0 * float64(inventory) / float64(m.maxInventory))
}

// quoteSize enlarges the side that reduces inventory.
func (m *Model) quoteSize(bid bool, inventory int64) uint64 {
	size := m.baseSize
	if (!bid && inventory > 0) || (bid && inventory < 0) {
		ratio := math.Abs(float64(inventory)) / float64(m.maxInventory)
		size *= 1.0 + ratio
	}
	return uint64(math.Round(size))
}
