// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mm-replay-lab/internal/domain"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "mm_replay_lab"

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Replay metrics
	EventsReplayed  prometheus.Counter
	SignalsFired    prometheus.Counter
	OrdersSubmitted prometheus.Counter
	OrdersFilled    prometheus.Counter
	OrdersCancelled prometheus.Counter
	RiskRejections  *prometheus.CounterVec
	KillSwitch      prometheus.Gauge
	LastRunPnL      *prometheus.GaugeVec

	// Run metrics
	RunsTotal      *prometheus.CounterVec
	RunDuration    *prometheus.HistogramVec
	SweepPoints    prometheus.Counter
	EventsIngested prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance registered on a fresh registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		EventsReplayed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replay",
			Name:      "events_total",
			Help:      "Total number of market events replayed",
		}),
		SignalsFired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replay",
			Name:      "signals_total",
			Help:      "Total number of trade signals accepted",
		}),
		OrdersSubmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "submitted_total",
			Help:      "Total number of simulated orders submitted",
		}),
		OrdersFilled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "filled_total",
			Help:      "Total number of simulated orders filled",
		}),
		OrdersCancelled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "cancelled_total",
			Help:      "Total number of simulated orders cancelled",
		}),
		RiskRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "rejections_total",
			Help:      "Total number of risk gate rejections by reason",
		}, []string{"reason"}),
		KillSwitch: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "kill_switch",
			Help:      "1 when the last run ended with the kill switch latched",
		}),
		LastRunPnL: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "last_total_pnl",
			Help:      "Total P&L of the last completed run by latency",
		}, []string{"latency_ns"}),

		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "total",
			Help:      "Total number of runs by mode and status",
		}, []string{"mode", "status"}),
		RunDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Run execution duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"mode"}),
		SweepPoints: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "points_total",
			Help:      "Total number of latency points evaluated",
		}),
		EventsIngested: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "events_total",
			Help:      "Total number of market events ingested",
		}),

		DBQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RunStats are the per-run counters published after a run completes.
type RunStats struct {
	Events         int
	KillSwitch     bool
	RejectsByCause map[string]int
}

// RecordRun publishes the counters of one completed run.
func (m *Metrics) RecordRun(r *domain.PerformanceReport, stats RunStats) {
	if m == nil || r == nil {
		return
	}
	m.EventsReplayed.Add(float64(stats.Events))
	m.SignalsFired.Add(float64(r.SignalCount))
	m.OrdersSubmitted.Add(float64(r.OrdersSubmitted))
	m.OrdersFilled.Add(float64(r.OrdersFilled))
	m.OrdersCancelled.Add(float64(r.OrdersCancelled))
	for reason, n := range stats.RejectsByCause {
		m.RiskRejections.WithLabelValues(reason).Add(float64(n))
	}
	if stats.KillSwitch {
		m.KillSwitch.Set(1)
	} else {
		m.KillSwitch.Set(0)
	}
	m.LastRunPnL.WithLabelValues(formatLatency(r.LatencyNs)).Set(r.TotalPnL)
}

// RecordRunOutcome records a run by mode ("backtest", "sweep", "verify") and status.
func (m *Metrics) RecordRunOutcome(mode, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(mode, status).Inc()
	m.RunDuration.WithLabelValues(mode).Observe(durationSeconds)
}

// RecordSweepPoint counts one evaluated latency point.
func (m *Metrics) RecordSweepPoint() {
	if m == nil {
		return
	}
	m.SweepPoints.Inc()
}

// RecordIngest counts ingested events.
func (m *Metrics) RecordIngest(events int) {
	if m == nil {
		return
	}
	m.EventsIngested.Add(float64(events))
}

// RecordDBQuery records database query metrics.
func (m *Metrics) RecordDBQuery(database, operation string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		m.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
