package domain

// Fill is the persisted record of a filled simulated order.
type Fill struct {
	FillID    string // deterministic hash
	RunID     string // backtest run identifier
	LatencyNs int64  // configured simulated latency of the run

	OrderID      uint64
	Side         Side
	Price        float64 // after slippage
	Quantity     uint64
	SubmitTimeNs int64
	FillTimeNs   int64
	DecisionMid  float64 // mid when the order was decided
	FillMid      float64 // mid when the order resolved
	Commission   float64
}

// EquitySample is one point of the mark-to-market equity curve.
type EquitySample struct {
	RunID       string
	LatencyNs   int64
	Seq         int // position within the run's curve
	TimestampNs int64
	Equity      float64 // realized + unrealized P&L
	Position    int64
}
