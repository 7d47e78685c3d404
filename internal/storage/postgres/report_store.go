package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"mm-replay-lab/internal/domain"
	"mm-replay-lab/internal/storage"
)

// ReportStore implements storage.ReportStore using PostgreSQL.
// Equity curves are not stored here; see the ClickHouse EquitySampleStore.
type ReportStore struct {
	pool *Pool
}

// NewReportStore creates a new ReportStore.
func NewReportStore(pool *Pool) *ReportStore {
	return &ReportStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ReportStore = (*ReportStore)(nil)

const reportColumns = `run_id, latency_ns, dataset_id, seed, input_checksum, initial_capital,
	total_pnl, sharpe_ratio, sortino_ratio, max_drawdown, calmar_ratio, volatility, downside_deviation,
	total_trades, winning_trades, losing_trades, win_rate, profit_factor, avg_trade_pnl, avg_win, avg_loss,
	value_at_risk_95, conditional_var_95,
	signal_count, orders_submitted, orders_filled, orders_cancelled, risk_rejections, fill_rate, final_position,
	o2f_count, o2f_mean, o2f_p50, o2f_p90, o2f_p99, o2f_max,
	quoted_spread_bps, realized_spread_bps, effective_spread_bps, capture_ratio, adverse_selection_ratio`

const reportColumnCount = 41

// Insert adds a report. Returns ErrDuplicateKey if (run_id, latency_ns) exists.
func (s *ReportStore) Insert(ctx context.Context, r *domain.PerformanceReport) error {
	if r == nil || r.RunID == "" {
		return storage.ErrInvalidInput
	}

	query := `INSERT INTO run_reports (` + reportColumns + `) VALUES (` + placeholders(reportColumnCount) + `)`

	_, err := s.pool.Exec(ctx, query, reportValues(r)...)
	return translate("insert report", err)
}

// GetByRunID retrieves all reports of a run ordered by latency_ns ASC.
// Returns ErrNotFound if the run has no reports.
func (s *ReportStore) GetByRunID(ctx context.Context, runID string) ([]*domain.PerformanceReport, error) {
	query := `SELECT ` + reportColumns + ` FROM run_reports WHERE run_id = $1 ORDER BY latency_ns ASC`

	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("get reports by run id: %w", err)
	}
	defer rows.Close()

	reports, err := scanReports(rows)
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return nil, storage.ErrNotFound
	}
	return reports, nil
}

// ListRunIDs retrieves distinct run ids ordered ASC.
func (s *ReportStore) ListRunIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT run_id FROM run_reports ORDER BY run_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list run ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run ids: %w", err)
	}
	return ids, nil
}

// reportValues lists the report fields in reportColumns order.
// The seed is stored bit-for-bit in a signed BIGINT.
func reportValues(r *domain.PerformanceReport) []any {
	return []any{
		r.RunID, r.LatencyNs, r.DatasetID, int64(r.Seed), r.InputChecksum, r.InitialCapital,
		r.TotalPnL, r.SharpeRatio, r.SortinoRatio, r.MaxDrawdown, r.CalmarRatio, r.Volatility, r.DownsideDeviation,
		r.TotalTrades, r.WinningTrades, r.LosingTrades, r.WinRate, r.ProfitFactor, r.AvgTradePnL, r.AvgWin, r.AvgLoss,
		r.ValueAtRisk95, r.ConditionalVaR95,
		r.SignalCount, r.OrdersSubmitted, r.OrdersFilled, r.OrdersCancelled, r.RiskRejections, r.FillRate, r.FinalPosition,
		r.OrderToFill.Count, r.OrderToFill.Mean, r.OrderToFill.P50, r.OrderToFill.P90, r.OrderToFill.P99, r.OrderToFill.Max,
		r.QuotedSpreadBps, r.RealizedSpreadBps, r.EffectiveSpreadBps, r.CaptureRatio, r.AdverseSelectionRatio,
	}
}

// scanReports scans multiple rows into a slice of PerformanceReport.
func scanReports(rows pgx.Rows) ([]*domain.PerformanceReport, error) {
	var reports []*domain.PerformanceReport

	for rows.Next() {
		var r domain.PerformanceReport
		var seed int64

		err := rows.Scan(
			&r.RunID, &r.LatencyNs, &r.DatasetID, &seed, &r.InputChecksum, &r.InitialCapital,
			&r.TotalPnL, &r.SharpeRatio, &r.SortinoRatio, &r.MaxDrawdown, &r.CalmarRatio, &r.Volatility, &r.DownsideDeviation,
			&r.TotalTrades, &r.WinningTrades, &r.LosingTrades, &r.WinRate, &r.ProfitFactor, &r.AvgTradePnL, &r.AvgWin, &r.AvgLoss,
			&r.ValueAtRisk95, &r.ConditionalVaR95,
			&r.SignalCount, &r.OrdersSubmitted, &r.OrdersFilled, &r.OrdersCancelled, &r.RiskRejections, &r.FillRate, &r.FinalPosition,
			&r.OrderToFill.Count, &r.OrderToFill.Mean, &r.OrderToFill.P50, &r.OrderToFill.P90, &r.OrderToFill.P99, &r.OrderToFill.Max,
			&r.QuotedSpreadBps, &r.RealizedSpreadBps, &r.EffectiveSpreadBps, &r.CaptureRatio, &r.AdverseSelectionRatio,
		)
		if err != nil {
			return nil, fmt.Errorf("scan report row: %w", err)
		}

		r.Seed = uint64(seed)
		reports = append(reports, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate report rows: %w", err)
	}

	return reports, nil
}

func placeholders(n int) string {
	b := make([]byte, 0, n*4)
	for i := 1; i <= n; i++ {
		if i > 1 {
			b = append(b, ", "...)
		}
		b = fmt.Appendf(b, "$%d", i)
	}
	return string(b)
}
