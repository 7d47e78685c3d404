// Package risk implements the pre-trade risk gate shared by the decision and
// settlement paths. All state mutations are compare-and-swap loops so the gate
// can be used from concurrent callers.
package risk

import (
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"mm-replay-lab/internal/domain"
)

// DefaultResetToken is the authorization token accepted by ResetKillSwitch.
const DefaultResetToken = "EMERGENCY_RESET"

// Regime is a discrete risk-capacity tier.
type Regime int32

// Regime constants.
const (
	RegimeNormal Regime = iota
	RegimeElevated
	RegimeHighStress
	RegimeHalted
)

// String returns the regime name.
func (r Regime) String() string {
	switch r {
	case RegimeElevated:
		return "ELEVATED"
	case RegimeHighStress:
		return "HIGH_STRESS"
	case RegimeHalted:
		return "HALTED"
	default:
		return "NORMAL"
	}
}

// State is the gate's trading state.
type State uint8

// State constants. Halted is latched until an authorized reset.
const (
	StateActive State = iota
	StateHalted
)

// Reason explains a rejection.
type Reason string

// Rejection reasons.
const (
	ReasonNone          Reason = ""
	ReasonKillSwitch    Reason = "kill_switch"
	ReasonPositionLimit Reason = "position_limit"
	ReasonOrderValue    Reason = "order_value"
	ReasonDailyTrades   Reason = "daily_trades"
	ReasonLossLimit     Reason = "loss_limit"
	ReasonRegimeHalted  Reason = "regime_halted"
	ReasonOrderRate     Reason = "order_rate"
)

// Decision is the result of a pre-trade evaluation.
type Decision struct {
	Allowed bool
	Reason  Reason
}

// Limits configures the gate. Zero values fall back to DefaultLimits.
type Limits struct {
	MaxPosition        int64
	MaxLossThreshold   float64
	MaxOrderValue      float64
	MaxDailyTrades     int64
	MaxOrdersPerSecond float64 // 0 disables the order-rate check
	OrderBurst         int
	ResetToken         string

	// RegimeThresholds are the volatility index upper bounds of Normal, Elevated and HighStress.
	RegimeThresholds [3]float64
	// RegimeMultipliers scale the base position limit for Normal, Elevated, HighStress and Halted.
	RegimeMultipliers [4]float64
}

// DefaultLimits returns the limits used by the backtest.
func DefaultLimits() Limits {
	return Limits{
		MaxPosition:       1000,
		MaxLossThreshold:  50000.0,
		MaxOrderValue:     100000.0,
		MaxDailyTrades:    10000,
		ResetToken:        DefaultResetToken,
		RegimeThresholds:  [3]float64{0.5, 1.0, 2.0},
		RegimeMultipliers: [4]float64{1.0, 0.7, 0.4, 0.0},
	}
}

// Breach describes a state transition into Halted.
type Breach struct {
	Reason   Reason
	TotalPnL float64
	Position int64
}

// Gate is the risk gate. It is safe for concurrent use.
type Gate struct {
	limits Limits

	killSwitch     atomic.Bool
	currentMax     atomic.Int64
	regime         atomic.Int32
	multiplierBits atomic.Uint64
	pnlBits        atomic.Uint64
	position       atomic.Int64
	tradeCount     atomic.Int64

	limiter  *rate.Limiter
	onBreach atomic.Pointer[func(Breach)]
}

// NewGate creates a gate in the Normal regime.
func NewGate(limits Limits) *Gate {
	def := DefaultLimits()
	if limits.MaxPosition <= 0 {
		limits.MaxPosition = def.MaxPosition
	}
	if limits.MaxLossThreshold <= 0 {
		limits.MaxLossThreshold = def.MaxLossThreshold
	}
	if limits.MaxOrderValue <= 0 {
		limits.MaxOrderValue = def.MaxOrderValue
	}
	if limits.MaxDailyTrades <= 0 {
		limits.MaxDailyTrades = def.MaxDailyTrades
	}
	if limits.ResetToken == "" {
		limits.ResetToken = def.ResetToken
	}
	if limits.RegimeThresholds == ([3]float64{}) {
		limits.RegimeThresholds = def.RegimeThresholds
	}
	if limits.RegimeMultipliers == ([4]float64{}) {
		limits.RegimeMultipliers = def.RegimeMultipliers
	}

	g := &Gate{limits: limits}
	g.currentMax.Store(limits.MaxPosition)
	g.regime.Store(int32(RegimeNormal))
	g.multiplierBits.Store(math.Float64bits(limits.RegimeMultipliers[RegimeNormal]))

	if limits.MaxOrdersPerSecond > 0 {
		burst := limits.OrderBurst
		if burst <= 0 {
			burst = int(math.Ceil(limits.MaxOrdersPerSecond))
		}
		g.limiter = rate.NewLimiter(rate.Limit(limits.MaxOrdersPerSecond), burst)
	}
	return g
}

// OnBreach registers a callback invoked when the kill switch trips.
func (g *Gate) OnBreach(fn func(Breach)) {
	g.onBreach.Store(&fn)
}

// CheckPreTrade reports whether the order may be sent given the current position.
func (g *Gate) CheckPreTrade(order domain.Order, currentPosition int64) bool {
	return g.Evaluate(order, currentPosition).Allowed
}

// Evaluate runs the pre-trade checks in order and returns the first failing reason.
// A breached loss threshold also trips the kill switch.
func (g *Gate) Evaluate(order domain.Order, currentPosition int64) Decision {
	if g.killSwitch.Load() {
		return reject(ReasonKillSwitch)
	}

	newPosition := currentPosition + order.SignedQuantity()
	if abs64(newPosition) > g.currentMax.Load() {
		return reject(ReasonPositionLimit)
	}

	if order.Notional() > g.limits.MaxOrderValue {
		return reject(ReasonOrderValue)
	}

	if g.tradeCount.Load() >= g.limits.MaxDailyTrades {
		return reject(ReasonDailyTrades)
	}

	if g.TotalPnL() < -g.limits.MaxLossThreshold {
		g.TriggerKillSwitch(ReasonLossLimit)
		return reject(ReasonLossLimit)
	}

	if Regime(g.regime.Load()) == RegimeHalted {
		return reject(ReasonRegimeHalted)
	}

	return Decision{Allowed: true}
}

// AllowOrderAt consumes one order-rate token at the given event time.
// Always true when no order rate is configured.
func (g *Gate) AllowOrderAt(timestampNs int64) bool {
	if g.limiter == nil {
		return true
	}
	return g.limiter.AllowN(time.Unix(0, timestampNs), 1)
}

// SetRegime maps a volatility index to a regime and rescales the position limit.
func (g *Gate) SetRegime(volatilityIndex float64) Regime {
	th := g.limits.RegimeThresholds
	var regime Regime
	switch {
	case volatilityIndex < th[0]:
		regime = RegimeNormal
	case volatilityIndex < th[1]:
		regime = RegimeElevated
	case volatilityIndex < th[2]:
		regime = RegimeHighStress
	default:
		regime = RegimeHalted
	}

	multiplier := g.limits.RegimeMultipliers[regime]
	g.regime.Store(int32(regime))
	g.multiplierBits.Store(math.Float64bits(multiplier))
	g.currentMax.Store(int64(float64(g.limits.MaxPosition) * multiplier))
	return regime
}

// TriggerKillSwitch latches the gate into Halted.
func (g *Gate) TriggerKillSwitch(reason Reason) {
	if !g.killSwitch.CompareAndSwap(false, true) {
		return
	}
	if fn := g.onBreach.Load(); fn != nil {
		(*fn)(Breach{Reason: reason, TotalPnL: g.TotalPnL(), Position: g.position.Load()})
	}
}

// ResetKillSwitch clears the kill switch when token matches. Any other token is a no-op.
func (g *Gate) ResetKillSwitch(token string) bool {
	if token != g.limits.ResetToken {
		return false
	}
	g.killSwitch.Store(false)
	return true
}

// UpdatePnL adds delta to cumulative P&L and trips the kill switch below the loss threshold.
func (g *Gate) UpdatePnL(delta float64) {
	for {
		old := g.pnlBits.Load()
		next := math.Float64frombits(old) + delta
		if g.pnlBits.CompareAndSwap(old, math.Float64bits(next)) {
			break
		}
	}
	if g.TotalPnL() < -g.limits.MaxLossThreshold {
		g.TriggerKillSwitch(ReasonLossLimit)
	}
}

// UpdatePosition applies a fill of quantity on side.
func (g *Gate) UpdatePosition(side domain.Side, quantity uint64) {
	delta := side.Sign() * int64(quantity)
	for {
		old := g.position.Load()
		if g.position.CompareAndSwap(old, old+delta) {
			return
		}
	}
}

// IncrementTradeCount counts one trade towards the daily limit.
func (g *Gate) IncrementTradeCount() {
	g.tradeCount.Add(1)
}

// ResetDailyCounters clears the trade count and cumulative P&L.
func (g *Gate) ResetDailyCounters() {
	g.tradeCount.Store(0)
	g.pnlBits.Store(math.Float64bits(0))
}

// SafeQuoteSize scales baseSize by the remaining position capacity.
func (g *Gate) SafeQuoteSize(currentPosition int64, baseSize float64) float64 {
	maxPos := g.currentMax.Load()
	available := maxPos - abs64(currentPosition)
	if available <= 0 || maxPos <= 0 {
		return 0
	}
	return baseSize * math.Min(float64(available)/float64(maxPos), 1.0)
}

// UnwindRecommendation returns the signed quantity to unwind once |position|
// exceeds 80% of the limit, bringing it back to 50%. Zero otherwise.
func (g *Gate) UnwindRecommendation(currentPosition int64) int64 {
	maxPos := float64(g.currentMax.Load())
	absPos := abs64(currentPosition)
	if float64(absPos) <= maxPos*0.8 {
		return 0
	}
	excess := absPos - int64(maxPos*0.5)
	if currentPosition > 0 {
		return excess
	}
	return -excess
}

// State returns Halted when the kill switch is latched.
func (g *Gate) State() State {
	if g.killSwitch.Load() {
		return StateHalted
	}
	return StateActive
}

// IsKillSwitchTriggered reports whether the kill switch is latched.
func (g *Gate) IsKillSwitchTriggered() bool { return g.killSwitch.Load() }

// MaxPosition returns the regime-adjusted position limit.
func (g *Gate) MaxPosition() int64 { return g.currentMax.Load() }

// Position returns the gate's view of the current position.
func (g *Gate) Position() int64 { return g.position.Load() }

// TotalPnL returns cumulative P&L.
func (g *Gate) TotalPnL() float64 { return math.Float64frombits(g.pnlBits.Load()) }

// Regime returns the current regime.
func (g *Gate) Regime() Regime { return Regime(g.regime.Load()) }

// RegimeMultiplier returns the current position limit multiplier.
func (g *Gate) RegimeMultiplier() float64 { return math.Float64frombits(g.multiplierBits.Load()) }

// DailyTradeCount returns the trades counted since the last daily reset.
func (g *Gate) DailyTradeCount() int64 { return g.tradeCount.Load() }

func reject(reason Reason) Decision {
	return Decision{Allowed: false, Reason: reason}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
