package metrics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"mm-replay-lab/internal/domain"
)

func TestCompute_EmptyCurve(t *testing.T) {
	r := Compute(Input{RunID: "r", LatencyNs: 500})

	assert.Equal(t, "r", r.RunID)
	assert.Equal(t, 0.0, r.TotalPnL)
	assert.Equal(t, 0.0, r.SharpeRatio)
	assert.Equal(t, 0, r.TotalTrades)
}

func TestCompute_ZeroVarianceRatiosAreZero(t *testing.T) {
	r := Compute(Input{
		InitialCapital: 100000,
		EquityCurve:    []float64{0, 0, 0, 0},
	})

	assert.Equal(t, 0.0, r.Volatility)
	assert.Equal(t, 0.0, r.SharpeRatio)
	assert.Equal(t, 0.0, r.SortinoRatio)
	assert.Equal(t, 0.0, r.CalmarRatio)
	assert.Equal(t, 0.0, r.MaxDrawdown)
}

func TestCompute_ConstantPositiveSteps(t *testing.T) {
	r := Compute(Input{
		InitialCapital: 1000,
		EquityCurve:    []float64{0, 1, 2, 3},
	})

	// Constant returns: zero volatility, no downside.
	assert.Equal(t, 3.0, r.TotalPnL)
	assert.Equal(t, 0.0, r.SharpeRatio)
	assert.Equal(t, 0.0, r.SortinoRatio)
}

func TestCompute_ReturnsAndRatios(t *testing.T) {
	curve := []float64{0, 10, 5, 15, 10}
	r := Compute(Input{InitialCapital: 1000, EquityCurve: curve})

	// returns: 10, -5, 10, -5 → mean 2.5, population stddev 7.5
	assert.InDelta(t, 7.5, r.Volatility, 1e-12)
	assert.InDelta(t, 2.5/7.5*AnnualizationFactor, r.SharpeRatio, 1e-6)
	assert.InDelta(t, 5.0, r.DownsideDeviation, 1e-12)
	assert.InDelta(t, 2.5/5.0*AnnualizationFactor, r.SortinoRatio, 1e-6)

	// Peak 10 → 5 is a 50% drawdown; peak 15 → 10 is 33%.
	assert.InDelta(t, 0.5, r.MaxDrawdown, 1e-9)
	assert.InDelta(t, (10.0/1000.0)/0.5, r.CalmarRatio, 1e-9)
}

func TestCompute_TradeStats(t *testing.T) {
	filled := []*domain.SimulatedOrder{
		{Order: domain.Order{Side: domain.SideBuy, Quantity: 10}, FillPrice: 99.9, FilledQuantity: 10, Commission: 0.005, DecisionMid: 100, FillMid: 100},
		{Order: domain.Order{Side: domain.SideSell, Quantity: 10}, FillPrice: 100.1, FilledQuantity: 10, Commission: 0.005, DecisionMid: 100, FillMid: 100},
		{Order: domain.Order{Side: domain.SideBuy, Quantity: 10}, FillPrice: 100.5, FilledQuantity: 10, Commission: 0.005, DecisionMid: 100, FillMid: 100},
	}
	r := Compute(Input{
		InitialCapital:   100000,
		EquityCurve:      []float64{0, 1, 2},
		QuotedSpreadsBps: []float64{2, 2, 2},
		FinalMid:         100,
		Filled:           filled,
		OrdersSubmitted:  6,
		FillLatencies:    []int64{500, 500, 1000},
	})

	assert.Equal(t, 3, r.TotalTrades)
	assert.Equal(t, 2, r.WinningTrades)
	assert.Equal(t, 1, r.LosingTrades)
	assert.InDelta(t, 2.0/3.0, r.WinRate, 1e-12)
	assert.InDelta(t, 0.995, r.AvgWin, 1e-9)
	assert.InDelta(t, 5.005, r.AvgLoss, 1e-9)
	assert.InDelta(t, 1.99/5.005, r.ProfitFactor, 1e-9)
	assert.InDelta(t, 2.0/3.0, r.AvgTradePnL, 1e-12)
	assert.InDelta(t, 0.5, r.FillRate, 1e-12)

	assert.Equal(t, 3, r.OrderToFill.Count)
	assert.Equal(t, 500.0, r.OrderToFill.P50)
	assert.Equal(t, 1000.0, r.OrderToFill.Max)
}

func TestCompute_SpreadCapture(t *testing.T) {
	// Bid filled 1bp below decision mid; mid then drops to the fill price.
	filled := []*domain.SimulatedOrder{
		{Order: domain.Order{Side: domain.SideBuy}, FillPrice: 99.99, FilledQuantity: 1, DecisionMid: 100, FillMid: 99.99},
	}
	r := Compute(Input{
		EquityCurve:      []float64{0, 0},
		QuotedSpreadsBps: []float64{4, 4},
		Filled:           filled,
		FinalMid:         99.99,
	})

	assert.InDelta(t, 2.0, r.EffectiveSpreadBps, 1e-9)
	assert.InDelta(t, 0.0, r.RealizedSpreadBps, 1e-9)
	assert.InDelta(t, 0.5, r.AdverseSelectionRatio, 1e-9)
	assert.InDelta(t, 0.0, r.CaptureRatio, 1e-9)
}

func TestTradePnL(t *testing.T) {
	buy := &domain.SimulatedOrder{Order: domain.Order{Side: domain.SideBuy}, FillPrice: 10, FilledQuantity: 5, Commission: 0.1}
	sell := &domain.SimulatedOrder{Order: domain.Order{Side: domain.SideSell}, FillPrice: 10, FilledQuantity: 5, Commission: 0.1}

	assert.InDelta(t, 4.9, TradePnL(buy, 11), 1e-12)
	assert.InDelta(t, -5.1, TradePnL(sell, 11), 1e-12)
}

func TestEstimateVolatility(t *testing.T) {
	assert.Equal(t, DefaultVolatility, EstimateVolatility(make([]float64, 9), 1000))
	assert.Equal(t, 0.0, EstimateVolatility(make([]float64, 50), 1000))

	curve := make([]float64, 200)
	for i := range curve {
		if i%2 == 1 {
			curve[i] = 10
		}
	}
	vol := EstimateVolatility(curve, 1000)
	assert.Greater(t, vol, 0.0)
	assert.False(t, math.IsNaN(vol))
}

func TestComputeLatencyStats(t *testing.T) {
	s := ComputeLatencyStats([]int64{300, 100, 200})
	assert.Equal(t, 3, s.Count)
	assert.Equal(t, 200.0, s.Mean)
	assert.Equal(t, 200.0, s.P50)
	assert.Equal(t, 300.0, s.Max)

	assert.Equal(t, domain.LatencyStats{}, ComputeLatencyStats(nil))
}
