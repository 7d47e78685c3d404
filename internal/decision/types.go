// Package decision certifies a latency sweep as latency-agnostic or not.
package decision

import (
	"errors"
	"fmt"
	"math"
)

// Decision represents the certification verdict.
type Decision string

const (
	DecisionGO               Decision = "GO"
	DecisionNOGO             Decision = "NO-GO"
	DecisionInsufficientData Decision = "INSUFFICIENT_DATA"
)

// Validation errors.
var (
	ErrEmptyRunID        = errors.New("run_id is empty")
	ErrUnsortedLatencies = errors.New("latency points are not strictly ascending")
	ErrNegativeLatency   = errors.New("latency is negative")
)

// Point is the outcome of one latency in a sweep.
type Point struct {
	LatencyNs    int64
	TotalPnL     float64
	SharpeRatio  float64
	FillRate     float64
	OrdersFilled int
	KillSwitch   bool
}

// DecisionInput contains the numeric facts the verdict is based on.
type DecisionInput struct {
	RunID  string
	Points []Point // ascending by latency

	// WorstPnLPer100ns is the largest P&L drop per 100ns over adjacent points,
	// as a positive number. Zero when P&L never falls.
	WorstPnLPer100ns float64

	// HeadlinePnLPer100ns is the absolute change between the two lowest latencies.
	HeadlinePnLPer100ns float64

	DeterminismChecked bool
	DeterminismMatch   bool
}

// Validate checks the input is well-formed. An input with too few points is
// valid; it evaluates to INSUFFICIENT_DATA.
func (d *DecisionInput) Validate() error {
	if d == nil {
		return errors.New("decision input is nil")
	}
	if d.RunID == "" {
		return ErrEmptyRunID
	}
	for i, p := range d.Points {
		if p.LatencyNs < 0 {
			return fmt.Errorf("point %d: %w", i, ErrNegativeLatency)
		}
		if i > 0 && p.LatencyNs <= d.Points[i-1].LatencyNs {
			return fmt.Errorf("point %d: %w", i, ErrUnsortedLatencies)
		}
	}
	return nil
}

// ProfitablePoints counts points with a finite, positive P&L.
func (d *DecisionInput) ProfitablePoints() int {
	n := 0
	for _, p := range d.Points {
		if isProfitable(p.TotalPnL) {
			n++
		}
	}
	return n
}

// Stability returns worst/best P&L over profitable points, or 0 when none are profitable.
func (d *DecisionInput) Stability() float64 {
	best, worst := math.Inf(-1), math.Inf(1)
	for _, p := range d.Points {
		if !isProfitable(p.TotalPnL) {
			continue
		}
		best = math.Max(best, p.TotalPnL)
		worst = math.Min(worst, p.TotalPnL)
	}
	if math.IsInf(best, -1) || best <= 0 {
		return 0
	}
	return worst / best
}

func isProfitable(pnl float64) bool {
	return pnl > 0 && !math.IsInf(pnl, 0) && !math.IsNaN(pnl)
}

// Thresholds configure the certification criteria.
type Thresholds struct {
	MinPoints           int     // fewer points yield INSUFFICIENT_DATA
	MinProfitableShare  float64 // share of profitable points, 0..1
	MinProfitablePoints int
	MinStability        float64 // worst/best profitable P&L
	MaxPnLDropPer100ns  float64 // largest tolerated adjacent drop; 0 disables
	RequirePositivePnL  bool    // any unprofitable point is a NO-GO trigger
}

// DefaultThresholds returns the latency-agnostic certification bar.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinPoints:           2,
		MinProfitableShare:  0.95,
		MinProfitablePoints: 10,
		MinStability:        0.80,
		MaxPnLDropPer100ns:  0,
		RequirePositivePnL:  false,
	}
}

// CriterionResult represents pass/fail for one criterion.
type CriterionResult struct {
	Name      string
	Threshold string
	Actual    string
	Pass      bool
}

// DecisionResult contains the final decision with checklist.
type DecisionResult struct {
	Decision   Decision
	RunID      string
	Points     int
	GOCriteria []CriterionResult
	NOGOChecks []CriterionResult // Pass=false means triggered
}
