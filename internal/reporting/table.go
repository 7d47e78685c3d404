package reporting

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
)

// RenderTable writes the latency metrics as a console table.
func RenderTable(w io.Writer, r *Report) error {
	fmt.Fprintf(w, "\nRun %s: %d latency point(s)\n", r.RunID, len(r.Latency))

	table := tablewriter.NewWriter(w)
	table.Header("Latency ns", "P&L", "Sharpe", "MaxDD", "Fill rate", "Filled", "Rejected", "Capture", "O2F p50")
	for _, m := range r.Latency {
		table.Append(
			fmt.Sprintf("%d", m.LatencyNs),
			fmt.Sprintf("%.2f", m.TotalPnL),
			fmt.Sprintf("%.3f", m.SharpeRatio),
			fmt.Sprintf("%.2f%%", m.MaxDrawdown*100),
			fmt.Sprintf("%.1f%%", m.FillRate*100),
			fmt.Sprintf("%d", m.OrdersFilled),
			fmt.Sprintf("%d", m.RiskRejections),
			fmt.Sprintf("%.3f", m.CaptureRatio),
			fmt.Sprintf("%.0f", m.OrderToFillP50),
		)
	}
	if err := table.Render(); err != nil {
		return err
	}

	if len(r.Degradation) > 0 {
		fmt.Fprintf(w, "Degradation: $%.2f per 100ns\n", r.PnLPer100ns)
	}
	if !r.DataQuality.AllChecksPassed {
		for _, c := range r.DataQuality.SufficiencyChecks {
			if !c.Pass {
				fmt.Fprintf(w, "  check failed: %s (%s, want %s)\n", c.Name, c.Actual, c.Threshold)
			}
		}
		for _, e := range r.DataQuality.IntegrityErrors {
			fmt.Fprintf(w, "  integrity: %s\n", e)
		}
	}
	return nil
}
