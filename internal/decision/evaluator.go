package decision

import (
	"fmt"
	"math"
	"strings"
)

// Evaluator evaluates decision criteria.
type Evaluator struct {
	thresholds Thresholds
}

// NewEvaluator creates a new decision evaluator.
func NewEvaluator(thresholds Thresholds) *Evaluator {
	if thresholds.MinPoints < 2 {
		thresholds.MinPoints = 2
	}
	return &Evaluator{thresholds: thresholds}
}

// Evaluate produces DecisionResult from DecisionInput.
// INSUFFICIENT_DATA if fewer than MinPoints latencies were run.
// GO if ALL criteria pass and NO NO-GO triggers.
// NO-GO if ANY criterion fails or ANY trigger fires.
func (e *Evaluator) Evaluate(input DecisionInput) (*DecisionResult, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	result := &DecisionResult{
		RunID:  input.RunID,
		Points: len(input.Points),
	}
	if len(input.Points) < e.thresholds.MinPoints {
		result.Decision = DecisionInsufficientData
		return result, nil
	}

	result.GOCriteria = e.evaluateGOCriteria(input)
	result.NOGOChecks = e.evaluateNOGOTriggers(input)

	allGOPass := true
	for _, c := range result.GOCriteria {
		if !c.Pass {
			allGOPass = false
			break
		}
	}

	anyNOGOTriggered := false
	for _, c := range result.NOGOChecks {
		if !c.Pass { // Pass=false means triggered
			anyNOGOTriggered = true
			break
		}
	}

	result.Decision = DecisionGO
	if !allGOPass || anyNOGOTriggered {
		result.Decision = DecisionNOGO
	}
	return result, nil
}

// evaluateGOCriteria evaluates the GO criteria.
func (e *Evaluator) evaluateGOCriteria(input DecisionInput) []CriterionResult {
	th := e.thresholds
	profitable := input.ProfitablePoints()
	share := float64(profitable) / float64(len(input.Points))

	criteria := []CriterionResult{
		{
			Name:      "Profitable latency share",
			Threshold: fmt.Sprintf(">= %.0f%%", th.MinProfitableShare*100),
			Actual:    fmt.Sprintf("%.1f%% (%d/%d)", share*100, profitable, len(input.Points)),
			Pass:      share >= th.MinProfitableShare,
		},
		{
			Name:      "Profitable latencies",
			Threshold: fmt.Sprintf(">= %d", th.MinProfitablePoints),
			Actual:    fmt.Sprintf("%d", profitable),
			Pass:      profitable >= th.MinProfitablePoints,
		},
		{
			Name:      "P&L stability (worst/best)",
			Threshold: fmt.Sprintf(">= %.0f%%", th.MinStability*100),
			Actual:    fmt.Sprintf("%.1f%%", input.Stability()*100),
			Pass:      profitable > 0 && input.Stability() >= th.MinStability,
		},
	}

	if th.MaxPnLDropPer100ns > 0 {
		criteria = append(criteria, CriterionResult{
			Name:      "P&L drop per 100ns",
			Threshold: fmt.Sprintf("<= %.2f", th.MaxPnLDropPer100ns),
			Actual:    fmt.Sprintf("%.2f", input.WorstPnLPer100ns),
			Pass:      input.WorstPnLPer100ns <= th.MaxPnLDropPer100ns,
		})
	}
	return criteria
}

// evaluateNOGOTriggers evaluates the NO-GO triggers.
// Pass=true means NOT triggered, Pass=false means triggered.
func (e *Evaluator) evaluateNOGOTriggers(input DecisionInput) []CriterionResult {
	var nonFinite, killSwitch, unprofitable []int64
	for _, p := range input.Points {
		if math.IsNaN(p.TotalPnL) || math.IsInf(p.TotalPnL, 0) {
			nonFinite = append(nonFinite, p.LatencyNs)
		}
		if p.KillSwitch {
			killSwitch = append(killSwitch, p.LatencyNs)
		}
		if !isProfitable(p.TotalPnL) {
			unprofitable = append(unprofitable, p.LatencyNs)
		}
	}

	checks := []CriterionResult{
		{
			Name:      "Non-finite P&L",
			Threshold: "any latency",
			Actual:    formatLatencies(nonFinite),
			Pass:      len(nonFinite) == 0,
		},
		{
			Name:      "Kill switch tripped",
			Threshold: "any latency",
			Actual:    formatLatencies(killSwitch),
			Pass:      len(killSwitch) == 0,
		},
	}

	if e.thresholds.RequirePositivePnL {
		checks = append(checks, CriterionResult{
			Name:      "Unprofitable latency",
			Threshold: "P&L <= 0 at any latency",
			Actual:    formatLatencies(unprofitable),
			Pass:      len(unprofitable) == 0,
		})
	}

	determinism := "not checked"
	if input.DeterminismChecked {
		determinism = "match"
		if !input.DeterminismMatch {
			determinism = "diverged"
		}
	}
	checks = append(checks, CriterionResult{
		Name:      "Replay divergence",
		Threshold: "second run differs",
		Actual:    determinism,
		Pass:      !input.DeterminismChecked || input.DeterminismMatch,
	})
	return checks
}

func formatLatencies(ls []int64) string {
	if len(ls) == 0 {
		return "none"
	}
	parts := make([]string, len(ls))
	for i, l := range ls {
		parts[i] = fmt.Sprintf("%dns", l)
	}
	return strings.Join(parts, ", ")
}
