package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Latency Sensitivity Report\n\n")
	sb.WriteString(fmt.Sprintf("Run: `%s`\n\n", r.RunID))
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))

	// Dataset
	sb.WriteString("## Dataset\n\n")
	if d := r.Dataset; d != nil {
		sb.WriteString("| Metric | Value |\n")
		sb.WriteString("|--------|-------|\n")
		sb.WriteString(fmt.Sprintf("| Dataset ID | %s |\n", d.DatasetID))
		sb.WriteString(fmt.Sprintf("| Source | %s |\n", d.Source))
		sb.WriteString(fmt.Sprintf("| Checksum | `%s` |\n", d.Checksum))
		sb.WriteString(fmt.Sprintf("| Events | %d |\n", d.EventCount))
		sb.WriteString(fmt.Sprintf("| Skipped Rows | %d |\n", d.SkippedRows))
		sb.WriteString(fmt.Sprintf("| First Event (ns) | %d |\n", d.FirstTimestampNs))
		sb.WriteString(fmt.Sprintf("| Last Event (ns) | %d |\n", d.LastTimestampNs))
	} else {
		sb.WriteString("Dataset not recorded.\n")
	}
	sb.WriteString("\n")

	// Data Quality
	sb.WriteString("## Data Quality\n\n")
	if len(r.DataQuality.SufficiencyChecks) > 0 {
		sb.WriteString("### Sufficiency Checks\n\n")
		sb.WriteString("| Check | Threshold | Actual | Status |\n")
		sb.WriteString("|-------|-----------|--------|--------|\n")
		for _, check := range r.DataQuality.SufficiencyChecks {
			status := "FAIL"
			if check.Pass {
				status = "PASS"
			}
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
				check.Name, check.Threshold, check.Actual, status))
		}
		sb.WriteString("\n")

		if r.DataQuality.AllChecksPassed {
			sb.WriteString("**All checks passed.**\n\n")
		} else {
			sb.WriteString("**Some checks failed.** Certification will report INSUFFICIENT_DATA or NO-GO.\n\n")
		}
	} else if len(r.DataQuality.IntegrityErrors) == 0 {
		sb.WriteString("No data quality checks performed.\n\n")
	}

	// Integrity errors are shown even without sufficiency checks
	if len(r.DataQuality.IntegrityErrors) > 0 {
		sb.WriteString("### Integrity Errors\n\n")
		for _, err := range r.DataQuality.IntegrityErrors {
			sb.WriteString(fmt.Sprintf("- %s\n", err))
		}
		sb.WriteString("\n")
	}

	// Latency metrics
	sb.WriteString("## Latency Metrics\n\n")
	if len(r.Latency) > 0 {
		sb.WriteString("| Latency (ns) | P&L | Sharpe | Sortino | MaxDD | WinRate | FillRate | Submitted | Filled | Cancelled | Rejected | Position | Quoted bps | Realized bps | Capture | AdvSel | O2F p50 | O2F p99 |\n")
		sb.WriteString("|--------------|-----|--------|---------|-------|---------|----------|-----------|--------|-----------|----------|----------|------------|--------------|---------|--------|---------|---------|\n")
		for _, m := range r.Latency {
			sb.WriteString(fmt.Sprintf("| %d | %.2f | %.3f | %.3f | %.4f | %.4f | %.4f | %d | %d | %d | %d | %d | %.2f | %.2f | %.3f | %.3f | %.0f | %.0f |\n",
				m.LatencyNs, m.TotalPnL, m.SharpeRatio, m.SortinoRatio, m.MaxDrawdown,
				m.WinRate, m.FillRate, m.OrdersSubmitted, m.OrdersFilled, m.OrdersCancelled,
				m.RiskRejections, m.FinalPosition, m.QuotedSpreadBps, m.RealizedSpreadBps,
				m.CaptureRatio, m.AdverseSelectionRatio, m.OrderToFillP50, m.OrderToFillP99))
		}
	} else {
		sb.WriteString("No latency points available.\n")
	}
	sb.WriteString("\n")

	// Degradation
	sb.WriteString("## Latency Degradation\n\n")
	if len(r.Degradation) > 0 {
		sb.WriteString("| From (ns) | To (ns) | P&L Delta | P&L per 100ns |\n")
		sb.WriteString("|-----------|---------|-----------|---------------|\n")
		for _, d := range r.Degradation {
			sb.WriteString(fmt.Sprintf("| %d | %d | %.2f | %.4f |\n",
				d.FromNs, d.ToNs, d.PnLDelta, d.PnLPer100ns))
		}
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("Performance degradation: $%.2f per 100 ns of additional latency\n", r.PnLPer100ns))
	} else {
		sb.WriteString("At least two latency points are needed to measure degradation.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}
