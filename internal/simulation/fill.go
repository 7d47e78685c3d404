// Package simulation models how resting quotes get filled: a fill probability
// model and the order lifecycle simulator that draws against it.
package simulation

import (
	"math"

	"mm-replay-lab/internal/domain"
)

// worseThanTouchFactor scales the probability of an order priced behind its own touch.
const worseThanTouchFactor = 0.1

// baseImpactBps is the slippage impact at a size fraction of 1.
const baseImpactBps = 0.5

// FillParams are the coefficients of the fill probability model.
type FillParams struct {
	BaseProbability         float64
	QueueDecay              float64 // per queue position unit
	SpreadSensitivity       float64 // per bps of spread
	VolatilityImpact        float64 // per unit of annualized volatility
	AdverseSelectionPenalty float64
	LatencyPenaltyPerUs     float64
}

// DefaultFillParams returns the calibrated defaults.
func DefaultFillParams() FillParams {
	return FillParams{
		BaseProbability:         0.70,
		QueueDecay:              0.15,
		SpreadSensitivity:       0.05,
		VolatilityImpact:        0.10,
		AdverseSelectionPenalty: 0.20,
		LatencyPenaltyPerUs:     0.001,
	}
}

// FillModel computes fill probabilities and slippage.
type FillModel struct {
	params           FillParams
	adverseSelection bool
}

// NewFillModel creates a fill model. adverseSelection enables the adverse move penalty.
func NewFillModel(params FillParams, adverseSelection bool) *FillModel {
	return &FillModel{params: params, adverseSelection: adverseSelection}
}

// Params returns the model coefficients.
func (m *FillModel) Params() FillParams {
	return m.params
}

// Probability returns the probability in [0,1] that order fills against quote.
// An order at or through the opposing touch is marketable and fills with probability 1.
func (m *FillModel) Probability(order domain.Order, quote domain.NormalizedQuote, queuePosition int, volatility float64, latencyUs int64) float64 {
	if isMarketable(order, quote) {
		return 1.0
	}

	p := m.params.BaseProbability
	p *= math.Exp(-m.params.QueueDecay * float64(queuePosition))
	p *= math.Exp(-m.params.SpreadSensitivity * quote.SpreadBps())
	p *= math.Exp(-m.params.VolatilityImpact * volatility)

	if isBehindTouch(order, quote) {
		p *= worseThanTouchFactor
	}

	p *= math.Exp(-m.params.LatencyPenaltyPerUs * float64(latencyUs))

	if m.adverseSelection && isAdverseMove(order, quote) {
		p *= 1.0 - m.params.AdverseSelectionPenalty
	}

	return clamp01(p)
}

// Slippage returns the absolute price impact for an order consuming sizeFraction
// of the visible touch liquidity.
func (m *FillModel) Slippage(_ domain.Order, quote domain.NormalizedQuote, sizeFraction float64) float64 {
	if sizeFraction <= 0 || quote.Mid <= 0 {
		return 0
	}
	impact := baseImpactBps * math.Sqrt(sizeFraction)
	return impact / 10000.0 * quote.Mid
}

// SizeFraction returns quantity relative to the combined touch size, 0 on an empty book.
func SizeFraction(quantity uint64, quote domain.NormalizedQuote) float64 {
	total := quote.BidSize + quote.AskSize
	if total == 0 {
		return 0
	}
	return float64(quantity) / float64(total)
}

func isMarketable(order domain.Order, quote domain.NormalizedQuote) bool {
	if order.Side == domain.SideBuy {
		return quote.AskPrice > 0 && order.Price >= quote.AskPrice
	}
	return quote.BidPrice > 0 && order.Price <= quote.BidPrice
}

func isBehindTouch(order domain.Order, quote domain.NormalizedQuote) bool {
	if order.Side == domain.SideBuy {
		return order.Price < quote.BidPrice
	}
	return order.Price > quote.AskPrice
}

func isAdverseMove(order domain.Order, quote domain.NormalizedQuote) bool {
	if order.Side == domain.SideBuy {
		return quote.Mid > order.Price
	}
	return quote.Mid < order.Price
}

func clamp01(p float64) float64 {
	if p < 0 || math.IsNaN(p) {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
