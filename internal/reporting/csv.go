package reporting

import (
	"fmt"
	"strings"

	"mm-replay-lab/internal/domain"
)

// RenderCSV renders the latency metrics table as CSV string.
func RenderCSV(rows []LatencyRow) string {
	var sb strings.Builder

	// Header
	sb.WriteString("latency_ns,total_pnl,sharpe_ratio,sortino_ratio,max_drawdown,win_rate,fill_rate,")
	sb.WriteString("total_trades,orders_submitted,orders_filled,orders_cancelled,risk_rejections,final_position,")
	sb.WriteString("quoted_spread_bps,realized_spread_bps,capture_ratio,adverse_selection_ratio,")
	sb.WriteString("o2f_p50_ns,o2f_p99_ns\n")

	// Rows
	for _, r := range rows {
		sb.WriteString(fmt.Sprintf("%d,%.6f,%.6f,%.6f,%.6f,%.6f,%.6f,%d,%d,%d,%d,%d,%d,%.6f,%.6f,%.6f,%.6f,%.0f,%.0f\n",
			r.LatencyNs,
			r.TotalPnL,
			r.SharpeRatio,
			r.SortinoRatio,
			r.MaxDrawdown,
			r.WinRate,
			r.FillRate,
			r.TotalTrades,
			r.OrdersSubmitted,
			r.OrdersFilled,
			r.OrdersCancelled,
			r.RiskRejections,
			r.FinalPosition,
			r.QuotedSpreadBps,
			r.RealizedSpreadBps,
			r.CaptureRatio,
			r.AdverseSelectionRatio,
			r.OrderToFillP50,
			r.OrderToFillP99,
		))
	}

	return sb.String()
}

// RenderFillsCSV renders fills in the given order.
func RenderFillsCSV(fills []*domain.Fill) string {
	var sb strings.Builder
	sb.WriteString("fill_id,run_id,latency_ns,order_id,side,price,quantity,submit_time_ns,fill_time_ns,decision_mid,fill_mid,commission\n")
	for _, f := range fills {
		sb.WriteString(fmt.Sprintf("%s,%s,%d,%d,%s,%.8f,%d,%d,%d,%.8f,%.8f,%.8f\n",
			f.FillID, f.RunID, f.LatencyNs, f.OrderID, f.Side, f.Price, f.Quantity,
			f.SubmitTimeNs, f.FillTimeNs, f.DecisionMid, f.FillMid, f.Commission))
	}
	return sb.String()
}

// RenderEquityCSV renders an equity curve in the given order.
func RenderEquityCSV(samples []*domain.EquitySample) string {
	var sb strings.Builder
	sb.WriteString("run_id,latency_ns,seq,timestamp_ns,equity,position\n")
	for _, s := range samples {
		sb.WriteString(fmt.Sprintf("%s,%d,%d,%d,%.8f,%d\n",
			s.RunID, s.LatencyNs, s.Seq, s.TimestampNs, s.Equity, s.Position))
	}
	return sb.String()
}
