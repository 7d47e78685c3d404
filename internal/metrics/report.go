// Package metrics computes run performance statistics from an equity curve
// and the filled orders of a backtest.
package metrics

import (
	"math"
	"sort"

	"mm-replay-lab/internal/domain"
)

// AnnualizationFactor scales per-step ratios to annual figures (trading seconds per year).
var AnnualizationFactor = math.Sqrt(252.0 * 6.5 * 3600.0)

// Input carries everything a report is computed from.
type Input struct {
	RunID          string
	DatasetID      string
	LatencyNs      int64
	Seed           uint64
	InputChecksum  string
	InitialCapital float64

	EquityCurve      []float64 // P&L relative to initial capital, one sample per event
	Timestamps       []int64
	QuotedSpreadsBps []float64 // market spread per event
	FinalMid         float64

	Filled          []*domain.SimulatedOrder
	FillLatencies   []int64
	SignalCount     int
	OrdersSubmitted int
	OrdersCancelled int
	RiskRejections  int
	FinalPosition   int64
}

// Compute builds the performance report. Every ratio with a vanishing
// denominator is reported as 0.
func Compute(in Input) *domain.PerformanceReport {
	r := &domain.PerformanceReport{
		RunID:           in.RunID,
		DatasetID:       in.DatasetID,
		LatencyNs:       in.LatencyNs,
		Seed:            in.Seed,
		InputChecksum:   in.InputChecksum,
		InitialCapital:  in.InitialCapital,
		SignalCount:     in.SignalCount,
		OrdersSubmitted: in.OrdersSubmitted,
		OrdersFilled:    len(in.Filled),
		OrdersCancelled: in.OrdersCancelled,
		RiskRejections:  in.RiskRejections,
		FinalPosition:   in.FinalPosition,
		EquityCurve:     append([]float64(nil), in.EquityCurve...),
		Timestamps:      append([]int64(nil), in.Timestamps...),
	}
	r.FillRate = safeDiv(float64(len(in.Filled)), float64(in.OrdersSubmitted))
	r.OrderToFill = ComputeLatencyStats(in.FillLatencies)

	if len(in.EquityCurve) == 0 {
		return r
	}

	r.TotalPnL = in.EquityCurve[len(in.EquityCurve)-1]

	returns := computeDiffs(in.EquityCurve)
	mean := computeMean(returns)
	r.Volatility = computePopulationStddev(returns, mean)
	r.DownsideDeviation = computeDownsideDeviation(returns)
	if r.Volatility > epsilon {
		r.SharpeRatio = mean / r.Volatility * AnnualizationFactor
	}
	if r.DownsideDeviation > epsilon {
		r.SortinoRatio = mean / r.DownsideDeviation * AnnualizationFactor
	}

	r.MaxDrawdown = computeMaxDrawdown(in.EquityCurve)
	if r.MaxDrawdown > epsilon && in.InitialCapital > 0 {
		r.CalmarRatio = (r.TotalPnL / in.InitialCapital) / r.MaxDrawdown
	}

	r.ValueAtRisk95, r.ConditionalVaR95 = computeVaR(returns)

	computeTradeStats(r, in.Filled, in.FinalMid)
	computeSpreadStats(r, in.Filled, in.QuotedSpreadsBps)

	return r
}

// TradePnL marks a filled order to markMid, net of commission.
func TradePnL(o *domain.SimulatedOrder, markMid float64) float64 {
	qty := float64(o.FilledQuantity)
	var gross float64
	if o.Side == domain.SideBuy {
		gross = (markMid - o.FillPrice) * qty
	} else {
		gross = (o.FillPrice - markMid) * qty
	}
	return gross - o.Commission
}

func computeTradeStats(r *domain.PerformanceReport, filled []*domain.SimulatedOrder, finalMid float64) {
	r.TotalTrades = len(filled)
	if r.TotalTrades == 0 {
		return
	}

	grossProfit, grossLoss := 0.0, 0.0
	for _, o := range filled {
		pnl := TradePnL(o, finalMid)
		if pnl > 0 {
			r.WinningTrades++
			grossProfit += pnl
		} else {
			r.LosingTrades++
			grossLoss += math.Abs(pnl)
		}
	}

	r.WinRate = computeWinRate(r.WinningTrades, r.TotalTrades)
	r.ProfitFactor = safeDiv(grossProfit, grossLoss)
	if r.WinningTrades > 0 {
		r.AvgWin = grossProfit / float64(r.WinningTrades)
	}
	if r.LosingTrades > 0 {
		r.AvgLoss = grossLoss / float64(r.LosingTrades)
	}
	r.AvgTradePnL = r.TotalPnL / float64(r.TotalTrades)
}

// computeSpreadStats measures the spread earned by fills from the maker's side:
// effective against the mid at decision time, realized against the mid at fill time.
func computeSpreadStats(r *domain.PerformanceReport, filled []*domain.SimulatedOrder, quoted []float64) {
	r.QuotedSpreadBps = computeMean(quoted)

	var effective, realized []float64
	for _, o := range filled {
		sign := float64(o.Side.Sign())
		if o.DecisionMid > 0 {
			effective = append(effective, 2*sign*(o.DecisionMid-o.FillPrice)/o.DecisionMid*10000)
		}
		if o.FillMid > 0 {
			realized = append(realized, 2*sign*(o.FillMid-o.FillPrice)/o.FillMid*10000)
		}
	}
	r.EffectiveSpreadBps = computeMean(effective)
	r.RealizedSpreadBps = computeMean(realized)

	if r.QuotedSpreadBps > epsilon {
		r.CaptureRatio = r.RealizedSpreadBps / r.QuotedSpreadBps
		r.AdverseSelectionRatio = r.EffectiveSpreadBps / r.QuotedSpreadBps
	}
}

// ComputeLatencyStats summarises latency samples in nanoseconds.
func ComputeLatencyStats(samples []int64) domain.LatencyStats {
	if len(samples) == 0 {
		return domain.LatencyStats{}
	}
	sorted := make([]float64, len(samples))
	for i, s := range samples {
		sorted[i] = float64(s)
	}
	sort.Float64s(sorted)

	return domain.LatencyStats{
		Count: len(sorted),
		Mean:  computeMean(sorted),
		P50:   computePercentile(sorted, 0.50),
		P90:   computePercentile(sorted, 0.90),
		P99:   computePercentile(sorted, 0.99),
		Max:   sorted[len(sorted)-1],
	}
}

// DefaultVolatility is returned by EstimateVolatility until enough samples exist.
const DefaultVolatility = 0.20

// minVolatilitySamples is the curve length below which the default is used.
const minVolatilitySamples = 10

// VolatilityWindow is the number of trailing curve samples used by EstimateVolatility.
const VolatilityWindow = 100

// EstimateVolatility returns the annualised volatility of equity returns over
// the trailing window of a P&L curve. Equity is initialCapital + P&L.
func EstimateVolatility(curve []float64, initialCapital float64) float64 {
	if len(curve) < minVolatilitySamples {
		return DefaultVolatility
	}
	start := 0
	if len(curve) > VolatilityWindow {
		start = len(curve) - VolatilityWindow
	}
	window := curve[start:]

	returns := make([]float64, 0, len(window)-1)
	for i := 1; i < len(window); i++ {
		prev := initialCapital + window[i-1]
		returns = append(returns, (window[i]-window[i-1])/(math.Abs(prev)+epsilon))
	}
	mean := computeMean(returns)
	return computePopulationStddev(returns, mean) * AnnualizationFactor
}
