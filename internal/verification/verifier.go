// Package verification checks that backtest runs are reproducible: a replay of
// the same events with the same configuration and seed must reproduce the
// stored report, fills and equity curve.
package verification

import (
	"context"
	"fmt"
	"math"

	"mm-replay-lab/internal/domain"
)

// FloatTolerance is the tolerance for float64 comparisons against persisted values.
// Run-to-run determinism checks use ExactTolerance.
const FloatTolerance = 1e-7

// ExactTolerance requires bit-identical floats.
const ExactTolerance = 0.0

// maxCurveDivergences caps how many differing curve points are listed.
const maxCurveDivergences = 10

// FieldDivergence represents a mismatch between stored and replayed values.
type FieldDivergence struct {
	Field    string      // field name
	Expected interface{} // stored value
	Actual   interface{} // replayed value
}

// String formats the divergence for logs and reports.
func (d FieldDivergence) String() string {
	return fmt.Sprintf("%s: expected %v, got %v", d.Field, d.Expected, d.Actual)
}

// VerificationResult contains the result of verifying one latency point of a run.
type VerificationResult struct {
	RunID         string
	LatencyNs     int64
	Match         bool              // true if all fields match
	Divergences   []FieldDivergence // list of divergent fields
	StoredPnL     float64           // total P&L from the stored (or first) run
	ReplayedPnL   float64           // total P&L from the replay
	FillsCompared int
}

// VerificationReport contains results for every latency point of a run.
type VerificationReport struct {
	RunID           string
	TotalPoints     int
	MatchedPoints   int
	DivergentPoints int
	Results         []VerificationResult
}

// Match reports whether every point matched.
func (r *VerificationReport) Match() bool {
	return r.TotalPoints > 0 && r.DivergentPoints == 0
}

// Verifier replays stored runs and compares them with what was persisted.
type Verifier interface {
	// VerifyRun verifies every latency point of a stored run.
	VerifyRun(ctx context.Context, runID string) (*VerificationReport, error)
}

// comparer accumulates divergences for one comparison.
type comparer struct {
	tolerance   float64
	divergences []FieldDivergence
}

func (c *comparer) add(field string, expected, actual interface{}) {
	c.divergences = append(c.divergences, FieldDivergence{Field: field, Expected: expected, Actual: actual})
}

func (c *comparer) str(field, expected, actual string) {
	if expected != actual {
		c.add(field, expected, actual)
	}
}

func (c *comparer) i64(field string, expected, actual int64) {
	if expected != actual {
		c.add(field, expected, actual)
	}
}

func (c *comparer) f64(field string, expected, actual float64) {
	if !floatEquals(expected, actual, c.tolerance) {
		c.add(field, expected, actual)
	}
}

// CompareReports compares two performance reports field by field.
// Equity curves are compared only when both reports carry one.
func CompareReports(stored, replayed *domain.PerformanceReport, tolerance float64) []FieldDivergence {
	c := &comparer{tolerance: tolerance}

	// Identity
	c.str("RunID", stored.RunID, replayed.RunID)
	c.str("DatasetID", stored.DatasetID, replayed.DatasetID)
	c.i64("LatencyNs", stored.LatencyNs, replayed.LatencyNs)
	if stored.Seed != replayed.Seed {
		c.add("Seed", stored.Seed, replayed.Seed)
	}
	c.str("InputChecksum", stored.InputChecksum, replayed.InputChecksum)
	c.f64("InitialCapital", stored.InitialCapital, replayed.InitialCapital)

	// Returns
	c.f64("TotalPnL", stored.TotalPnL, replayed.TotalPnL)
	c.f64("SharpeRatio", stored.SharpeRatio, replayed.SharpeRatio)
	c.f64("SortinoRatio", stored.SortinoRatio, replayed.SortinoRatio)
	c.f64("MaxDrawdown", stored.MaxDrawdown, replayed.MaxDrawdown)
	c.f64("CalmarRatio", stored.CalmarRatio, replayed.CalmarRatio)
	c.f64("Volatility", stored.Volatility, replayed.Volatility)
	c.f64("DownsideDeviation", stored.DownsideDeviation, replayed.DownsideDeviation)

	// Trades
	c.i64("TotalTrades", int64(stored.TotalTrades), int64(replayed.TotalTrades))
	c.i64("WinningTrades", int64(stored.WinningTrades), int64(replayed.WinningTrades))
	c.i64("LosingTrades", int64(stored.LosingTrades), int64(replayed.LosingTrades))
	c.f64("WinRate", stored.WinRate, replayed.WinRate)
	c.f64("ProfitFactor", stored.ProfitFactor, replayed.ProfitFactor)
	c.f64("AvgTradePnL", stored.AvgTradePnL, replayed.AvgTradePnL)
	c.f64("AvgWin", stored.AvgWin, replayed.AvgWin)
	c.f64("AvgLoss", stored.AvgLoss, replayed.AvgLoss)

	// Tail risk
	c.f64("ValueAtRisk95", stored.ValueAtRisk95, replayed.ValueAtRisk95)
	c.f64("ConditionalVaR95", stored.ConditionalVaR95, replayed.ConditionalVaR95)

	// Execution
	c.i64("SignalCount", int64(stored.SignalCount), int64(replayed.SignalCount))
	c.i64("OrdersSubmitted", int64(stored.OrdersSubmitted), int64(replayed.OrdersSubmitted))
	c.i64("OrdersFilled", int64(stored.OrdersFilled), int64(replayed.OrdersFilled))
	c.i64("OrdersCancelled", int64(stored.OrdersCancelled), int64(replayed.OrdersCancelled))
	c.i64("RiskRejections", int64(stored.RiskRejections), int64(replayed.RiskRejections))
	c.f64("FillRate", stored.FillRate, replayed.FillRate)
	c.i64("FinalPosition", stored.FinalPosition, replayed.FinalPosition)
	c.i64("OrderToFill.Count", int64(stored.OrderToFill.Count), int64(replayed.OrderToFill.Count))
	c.f64("OrderToFill.P50", stored.OrderToFill.P50, replayed.OrderToFill.P50)
	c.f64("OrderToFill.P99", stored.OrderToFill.P99, replayed.OrderToFill.P99)

	// Spread analysis
	c.f64("QuotedSpreadBps", stored.QuotedSpreadBps, replayed.QuotedSpreadBps)
	c.f64("RealizedSpreadBps", stored.RealizedSpreadBps, replayed.RealizedSpreadBps)
	c.f64("EffectiveSpreadBps", stored.EffectiveSpreadBps, replayed.EffectiveSpreadBps)
	c.f64("CaptureRatio", stored.CaptureRatio, replayed.CaptureRatio)
	c.f64("AdverseSelectionRatio", stored.AdverseSelectionRatio, replayed.AdverseSelectionRatio)

	if len(stored.EquityCurve) > 0 && len(replayed.EquityCurve) > 0 {
		c.divergences = append(c.divergences, CompareCurves(stored.EquityCurve, replayed.EquityCurve, tolerance)...)
	}
	return c.divergences
}

// CompareCurves compares two equity curves element-wise. A length mismatch is a
// single divergence; otherwise at most maxCurveDivergences points are listed.
func CompareCurves(expected, actual []float64, tolerance float64) []FieldDivergence {
	if len(expected) != len(actual) {
		return []FieldDivergence{{Field: "EquityCurve.Len", Expected: len(expected), Actual: len(actual)}}
	}
	var out []FieldDivergence
	for i := range expected {
		if floatEquals(expected[i], actual[i], tolerance) {
			continue
		}
		out = append(out, FieldDivergence{
			Field:    fmt.Sprintf("EquityCurve[%d]", i),
			Expected: expected[i],
			Actual:   actual[i],
		})
		if len(out) == maxCurveDivergences {
			break
		}
	}
	return out
}

// CompareFills compares two fill lists in order.
func CompareFills(stored, replayed []*domain.Fill, tolerance float64) []FieldDivergence {
	if len(stored) != len(replayed) {
		return []FieldDivergence{{Field: "Fills.Len", Expected: len(stored), Actual: len(replayed)}}
	}
	c := &comparer{tolerance: tolerance}
	for i := range stored {
		s, r := stored[i], replayed[i]
		prefix := fmt.Sprintf("Fills[%d].", i)
		c.str(prefix+"FillID", s.FillID, r.FillID)
		c.str(prefix+"Side", s.Side.String(), r.Side.String())
		c.i64(prefix+"FillTimeNs", s.FillTimeNs, r.FillTimeNs)
		c.i64(prefix+"Quantity", int64(s.Quantity), int64(r.Quantity))
		c.f64(prefix+"Price", s.Price, r.Price)
		c.f64(prefix+"Commission", s.Commission, r.Commission)
	}
	return c.divergences
}

// floatEquals compares two float64 values within tolerance.
// A zero tolerance compares bit patterns, so NaN equals NaN and -0 differs from +0.
func floatEquals(a, b, tolerance float64) bool {
	if tolerance == 0 {
		return math.Float64bits(a) == math.Float64bits(b)
	}
	return math.Abs(a-b) <= tolerance
}
