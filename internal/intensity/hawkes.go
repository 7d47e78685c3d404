// Package intensity estimates buy/sell order arrival rates with a self-exciting
// (Hawkes) process using exponential kernels.
package intensity

import (
	"math"

	"mm-replay-lab/internal/domain"
)

// imbalanceFloor is the smallest total intensity for which an imbalance is reported.
const imbalanceFloor = 1e-10

// Kernel is one exponential decay component.
type Kernel struct {
	DecayRate float64 // per second
	Weight    float64 // contribution multiplier
}

// Params configures the intensity model.
type Params struct {
	BaselineBuy  float64
	BaselineSell float64
	SelfCoef     float64  // excitation of the same side
	CrossCoef    float64  // excitation of the opposite side
	Kernels      []Kernel // summed contributions; one kernel if empty
}

// DefaultParams returns the parameters used by the backtest.
func DefaultParams() Params {
	return Params{
		BaselineBuy:  0.5,
		BaselineSell: 0.5,
		SelfCoef:     0.3,
		CrossCoef:    0.1,
		Kernels:      []Kernel{{DecayRate: 1.0, Weight: 1.0}},
	}
}

// Model holds the intensity state. It is not safe for concurrent use.
type Model struct {
	params Params

	// per-kernel accumulators
	buyState  []float64
	sellState []float64

	lastUpdateNs int64
	started      bool

	buyIntensity  float64
	sellIntensity float64

	buyEvents  int
	sellEvents int
}

// NewModel creates a model. Non-positive decay rates and weights fall back to 1.0.
func NewModel(params Params) *Model {
	if len(params.Kernels) == 0 {
		params.Kernels = []Kernel{{DecayRate: 1.0, Weight: 1.0}}
	}
	kernels := make([]Kernel, len(params.Kernels))
	for i, k := range params.Kernels {
		if k.DecayRate <= 0 {
			k.DecayRate = 1.0
		}
		if k.Weight <= 0 {
			k.Weight = 1.0
		}
		kernels[i] = k
	}
	params.Kernels = kernels

	m := &Model{
		params:    params,
		buyState:  make([]float64, len(kernels)),
		sellState: make([]float64, len(kernels)),
	}
	m.recalc()
	return m
}

// Update decays both accumulators to eventTimeNs and adds the event to its side.
// Out-of-order timestamps are treated as zero elapsed time.
func (m *Model) Update(eventTimeNs int64, side domain.Side) {
	if m.started && eventTimeNs > m.lastUpdateNs {
		m.decay(float64(eventTimeNs-m.lastUpdateNs) * 1e-9)
	}
	if !m.started || eventTimeNs > m.lastUpdateNs {
		m.lastUpdateNs = eventTimeNs
	}
	m.started = true

	for k := range m.params.Kernels {
		if side == domain.SideSell {
			m.sellState[k]++
		} else {
			m.buyState[k]++
		}
	}
	if side == domain.SideSell {
		m.sellEvents++
	} else {
		m.buyEvents++
	}

	m.recalc()
}

// BuyIntensity returns the buy intensity as of the last update.
func (m *Model) BuyIntensity() float64 { return m.buyIntensity }

// SellIntensity returns the sell intensity as of the last update.
func (m *Model) SellIntensity() float64 { return m.sellIntensity }

// Imbalance returns (buy - sell) / (buy + sell), or 0 when the total is negligible.
func (m *Model) Imbalance() float64 {
	return imbalance(m.buyIntensity, m.sellIntensity)
}

// PredictBuy returns the buy intensity horizonNs after the last update, assuming no new events.
func (m *Model) PredictBuy(horizonNs int64) float64 {
	buy, _ := m.project(horizonNs)
	return buy
}

// PredictSell returns the sell intensity horizonNs after the last update, assuming no new events.
func (m *Model) PredictSell(horizonNs int64) float64 {
	_, sell := m.project(horizonNs)
	return sell
}

// Reset clears history and returns intensities to their baselines.
func (m *Model) Reset() {
	for k := range m.params.Kernels {
		m.buyState[k] = 0
		m.sellState[k] = 0
	}
	m.lastUpdateNs = 0
	m.started = false
	m.buyEvents = 0
	m.sellEvents = 0
	m.recalc()
}

// EventCounts returns the number of buy and sell events seen since the last reset.
func (m *Model) EventCounts() (buys, sells int) {
	return m.buyEvents, m.sellEvents
}

// LastUpdateNs returns the time of the most recent update.
func (m *Model) LastUpdateNs() int64 { return m.lastUpdateNs }

func (m *Model) decay(dtSeconds float64) {
	for k, kern := range m.params.Kernels {
		f := math.Exp(-kern.DecayRate * dtSeconds)
		m.buyState[k] *= f
		m.sellState[k] *= f
	}
}

func (m *Model) recalc() {
	m.buyIntensity, m.sellIntensity = m.intensitiesAfter(0)
}

func (m *Model) project(horizonNs int64) (float64, float64) {
	if horizonNs <= 0 {
		return m.buyIntensity, m.sellIntensity
	}
	return m.intensitiesAfter(float64(horizonNs) * 1e-9)
}

// intensitiesAfter evaluates both sides dtSeconds after the last update.
func (m *Model) intensitiesAfter(dtSeconds float64) (float64, float64) {
	buy := m.params.BaselineBuy
	sell := m.params.BaselineSell
	for k, kern := range m.params.Kernels {
		scale := kern.Weight * kern.DecayRate
		if dtSeconds > 0 {
			scale *= math.Exp(-kern.DecayRate * dtSeconds)
		}
		buy += scale * (m.params.SelfCoef*m.buyState[k] + m.params.CrossCoef*m.sellState[k])
		sell += scale * (m.params.SelfCoef*m.sellState[k] + m.params.CrossCoef*m.buyState[k])
	}
	return buy, sell
}

func imbalance(buy, sell float64) float64 {
	total := buy + sell
	if total < imbalanceFloor {
		return 0
	}
	return (buy - sell) / total
}
