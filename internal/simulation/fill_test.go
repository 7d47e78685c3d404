package simulation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"mm-replay-lab/internal/domain"
)

func quoteAt(bid, ask float64, bidSize, askSize uint64) domain.NormalizedQuote {
	ev := domain.MarketEvent{BidPrice: bid, AskPrice: ask, BidSize: bidSize, AskSize: askSize}
	return ev.Normalize()
}

func TestFillModel_ThroughTheTouchIsCertain(t *testing.T) {
	m := NewFillModel(DefaultFillParams(), true)
	q := quoteAt(99.99, 100.01, 500, 500)

	buy := domain.Order{Side: domain.SideBuy, Price: 100.01, Quantity: 100}
	sell := domain.Order{Side: domain.SideSell, Price: 99.95, Quantity: 100}

	assert.Equal(t, 1.0, m.Probability(buy, q, 250, 5.0, 10_000))
	assert.Equal(t, 1.0, m.Probability(sell, q, 250, 5.0, 10_000))
}

func TestFillModel_PassiveOrderAtTouch(t *testing.T) {
	m := NewFillModel(DefaultFillParams(), false)
	q := quoteAt(99.99, 100.01, 0, 0)
	order := domain.Order{Side: domain.SideBuy, Price: 99.99, Quantity: 1}

	got := m.Probability(order, q, 0, 0, 0)

	want := 0.70 * math.Exp(-0.05*q.SpreadBps())
	assert.InDelta(t, want, got, 1e-12)
}

func TestFillModel_BehindTouchAndAdverseMove(t *testing.T) {
	q := quoteAt(99.99, 100.01, 0, 0)
	order := domain.Order{Side: domain.SideBuy, Price: 99.90, Quantity: 1}

	plain := NewFillModel(DefaultFillParams(), false).Probability(order, q, 0, 0, 0)
	adverse := NewFillModel(DefaultFillParams(), true).Probability(order, q, 0, 0, 0)

	want := 0.70 * math.Exp(-0.05*q.SpreadBps()) * 0.1
	assert.InDelta(t, want, plain, 1e-12)
	assert.InDelta(t, want*0.8, adverse, 1e-12)
}

func TestFillModel_AdverseMoveUsesCurrentMidAgainstOrderPrice(t *testing.T) {
	with := NewFillModel(DefaultFillParams(), true)
	without := NewFillModel(DefaultFillParams(), false)
	q := quoteAt(99.5, 100.5, 0, 0) // mid 100

	ratio := func(o domain.Order) float64 {
		return with.Probability(o, q, 1, 0.2, 1) / without.Probability(o, q, 1, 0.2, 1)
	}

	// Resting inside the book on either side always counts as adverse.
	assert.InDelta(t, 0.8, ratio(domain.Order{Side: domain.SideBuy, Price: 99.75, Quantity: 1}), 1e-12)
	assert.InDelta(t, 0.8, ratio(domain.Order{Side: domain.SideSell, Price: 100.25, Quantity: 1}), 1e-12)

	// At the mid neither side is penalised.
	assert.InDelta(t, 1.0, ratio(domain.Order{Side: domain.SideBuy, Price: 100.00, Quantity: 1}), 1e-12)
	assert.InDelta(t, 1.0, ratio(domain.Order{Side: domain.SideSell, Price: 100.00, Quantity: 1}), 1e-12)
}

func TestFillModel_ProbabilityBounds(t *testing.T) {
	m := NewFillModel(DefaultFillParams(), true)
	q := quoteAt(99.5, 100.5, 1000, 1000)

	for _, price := range []float64{90, 99.4, 99.5, 100, 100.5, 101, 110} {
		for _, side := range []domain.Side{domain.SideBuy, domain.SideSell} {
			for _, queue := range []int{0, 10, 500} {
				for _, latency := range []int64{0, 1, 1000, 1_000_000} {
					p := m.Probability(domain.Order{Side: side, Price: price, Quantity: 10}, q, queue, 0.2, latency)
					assert.GreaterOrEqual(t, p, 0.0)
					assert.LessOrEqual(t, p, 1.0)
				}
			}
		}
	}
}

func TestFillModel_ZeroMidSpreadTermNeutral(t *testing.T) {
	m := NewFillModel(DefaultFillParams(), false)
	q := domain.NormalizedQuote{}
	order := domain.Order{Side: domain.SideSell, Price: 1, Quantity: 1}

	// Sell above an empty ask is behind the touch.
	assert.InDelta(t, 0.07, m.Probability(order, q, 0, 0, 0), 1e-12)
}

func TestFillModel_LatencyReducesProbability(t *testing.T) {
	m := NewFillModel(DefaultFillParams(), false)
	q := quoteAt(99.99, 100.01, 0, 0)
	order := domain.Order{Side: domain.SideSell, Price: 100.01, Quantity: 1}

	fast := m.Probability(order, q, 0, 0, 0)
	slow := m.Probability(order, q, 0, 0, 100)
	assert.Greater(t, fast, slow)
	assert.InDelta(t, fast*math.Exp(-0.1), slow, 1e-12)
}

func TestFillModel_Slippage(t *testing.T) {
	m := NewFillModel(DefaultFillParams(), true)
	q := quoteAt(99.99, 100.01, 100, 100)

	f := SizeFraction(50, q)
	assert.InDelta(t, 0.25, f, 1e-12)
	assert.InDelta(t, 0.5*0.5/10000*100.0, m.Slippage(domain.Order{}, q, f), 1e-12)
	assert.Equal(t, 0.0, m.Slippage(domain.Order{}, q, 0))
	assert.Equal(t, 0.0, SizeFraction(10, domain.NormalizedQuote{}))
}
