package decision

import (
	"fmt"
	"strings"
)

// RenderMarkdown renders the certification verdict. input supplies the
// per-latency table and may be nil.
func RenderMarkdown(result *DecisionResult, input *DecisionInput) string {
	var sb strings.Builder

	sb.WriteString("# Latency Certification Report\n\n")
	fmt.Fprintf(&sb, "Run: `%s`\n\n", result.RunID)
	fmt.Fprintf(&sb, "## Decision: %s\n\n", result.Decision)

	if input != nil && len(input.Points) > 0 {
		writePoints(&sb, input)
	}

	if result.Decision == DecisionInsufficientData {
		sb.WriteString("## Summary\n\n")
		fmt.Fprintf(&sb, "Only %d latency point(s) were evaluated; a sweep over at least two latencies is required.\n", result.Points)
		return sb.String()
	}

	goPassed := writeChecks(&sb, "GO Criteria", "Criterion", "Threshold", result.GOCriteria, "PASS", "FAIL")
	fmt.Fprintf(&sb, "GO Criteria: %d/%d passed\n\n", goPassed, len(result.GOCriteria))

	// A NO-GO check that does not pass has fired.
	notFired := writeChecks(&sb, "NO-GO Triggers", "Trigger", "Condition", result.NOGOChecks, "NOT TRIGGERED", "TRIGGERED")
	fmt.Fprintf(&sb, "NO-GO Triggers: %d/%d triggered\n\n", len(result.NOGOChecks)-notFired, len(result.NOGOChecks))

	sb.WriteString("## Summary\n\n")
	if result.Decision == DecisionGO {
		sb.WriteString("All GO criteria passed and no NO-GO triggers fired. The strategy is latency-agnostic over the swept range.\n")
		return sb.String()
	}
	sb.WriteString("Decision is NO-GO due to:\n")
	for _, c := range result.GOCriteria {
		if !c.Pass {
			fmt.Fprintf(&sb, "- GO criterion failed: %s (actual: %s)\n", c.Name, c.Actual)
		}
	}
	for _, c := range result.NOGOChecks {
		if !c.Pass {
			fmt.Fprintf(&sb, "- NO-GO trigger fired: %s (actual: %s)\n", c.Name, c.Actual)
		}
	}
	return sb.String()
}

func writePoints(sb *strings.Builder, input *DecisionInput) {
	sb.WriteString("## Latency Points\n\n")
	sb.WriteString("| Latency (ns) | P&L | Sharpe | Fill Rate | Fills | Kill Switch |\n")
	sb.WriteString("|--------------|-----|--------|-----------|-------|-------------|\n")
	for _, p := range input.Points {
		fmt.Fprintf(sb, "| %d | %.2f | %.3f | %.1f%% | %d | %t |\n",
			p.LatencyNs, p.TotalPnL, p.SharpeRatio, p.FillRate*100, p.OrdersFilled, p.KillSwitch)
	}
	fmt.Fprintf(sb, "\nPerformance degradation: $%.2f per 100 ns of additional latency\n\n", input.HeadlinePnLPer100ns)
}

// writeChecks renders one criteria table and returns how many checks passed.
func writeChecks(sb *strings.Builder, title, nameCol, limitCol string, checks []CriterionResult, passLabel, failLabel string) int {
	fmt.Fprintf(sb, "## %s\n\n", title)
	fmt.Fprintf(sb, "| # | %s | %s | Actual | Status |\n", nameCol, limitCol)
	sb.WriteString("|---|---|---|---|---|\n")

	passed := 0
	for i, c := range checks {
		status := failLabel
		if c.Pass {
			status = passLabel
			passed++
		}
		fmt.Fprintf(sb, "| %d | %s | %s | %s | %s |\n", i+1, c.Name, c.Threshold, c.Actual, status)
	}
	sb.WriteString("\n")
	return passed
}
