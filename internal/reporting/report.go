// Package reporting turns stored or in-memory sweep results into the run
// report: a per-latency metrics table, the degradation curve and data quality
// checks, rendered as Markdown, CSV or a console table.
package reporting

import "time"

// Report represents one run across all of its latency points.
type Report struct {
	// Metadata
	GeneratedAt time.Time
	RunID       string

	// Dataset the run replayed; nil when unknown.
	Dataset *DatasetSummary

	// Data Quality (sufficiency checks)
	DataQuality DataQualitySection

	// Per-latency metrics, ascending by latency
	Latency []LatencyRow

	// Adjacent latency steps
	Degradation []DegradationRow
	PnLPer100ns float64 // absolute change between the two lowest latencies
}

// DataQualitySection contains data sufficiency checks and integrity errors.
type DataQualitySection struct {
	SufficiencyChecks []SufficiencyCheckRow
	IntegrityErrors   []string
	AllChecksPassed   bool
}

// SufficiencyCheckRow represents one sufficiency criterion.
type SufficiencyCheckRow struct {
	Name      string
	Threshold string
	Actual    string
	Pass      bool
}

// DatasetSummary describes the replayed input.
type DatasetSummary struct {
	DatasetID        string
	Source           string
	Checksum         string
	EventCount       int
	SkippedRows      int
	FirstTimestampNs int64
	LastTimestampNs  int64
}

// LatencyRow represents one row in the latency metrics table.
type LatencyRow struct {
	LatencyNs       int64
	TotalPnL        float64
	SharpeRatio     float64
	SortinoRatio    float64
	MaxDrawdown     float64
	WinRate         float64
	FillRate        float64
	TotalTrades     int
	OrdersSubmitted int
	OrdersFilled    int
	OrdersCancelled int
	RiskRejections  int
	FinalPosition   int64

	QuotedSpreadBps       float64
	RealizedSpreadBps     float64
	CaptureRatio          float64
	AdverseSelectionRatio float64

	OrderToFillP50 float64 // ns
	OrderToFillP99 float64 // ns
}

// DegradationRow is the P&L change between two adjacent latency points.
type DegradationRow struct {
	FromNs      int64
	ToNs        int64
	PnLDelta    float64
	PnLPer100ns float64
}
