package domain

// LatencyStats summarises a distribution of latency samples (ns).
type LatencyStats struct {
	Count int
	Mean  float64
	P50   float64
	P90   float64
	P99   float64
	Max   float64
}

// PerformanceReport is the write-once summary of a backtest run.
type PerformanceReport struct {
	RunID          string
	DatasetID      string  // source dataset, if loaded from storage
	LatencyNs      int64   // configured simulated latency
	Seed           uint64  // fill RNG seed
	InputChecksum  string  // SHA256 of the replayed input, if known
	InitialCapital float64 // starting capital

	// Returns
	TotalPnL          float64
	SharpeRatio       float64
	SortinoRatio      float64
	MaxDrawdown       float64 // fraction of peak equity
	CalmarRatio       float64
	Volatility        float64 // stddev of per-step P&L changes
	DownsideDeviation float64

	// Trades
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64
	ProfitFactor  float64
	AvgTradePnL   float64
	AvgWin        float64
	AvgLoss       float64

	// Tail risk
	ValueAtRisk95    float64
	ConditionalVaR95 float64

	// Execution
	SignalCount     int
	OrdersSubmitted int
	OrdersFilled    int
	OrdersCancelled int
	RiskRejections  int
	FillRate        float64
	FinalPosition   int64
	OrderToFill     LatencyStats

	// Spread analysis (bps)
	QuotedSpreadBps       float64
	RealizedSpreadBps     float64
	EffectiveSpreadBps    float64
	CaptureRatio          float64 // realized / quoted
	AdverseSelectionRatio float64 // effective / quoted

	EquityCurve []float64
	Timestamps  []int64
}
