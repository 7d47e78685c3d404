// Package backtest drives the market-making pipeline over a recorded event
// stream: intensity, signal, quote, risk gate and order lifecycle, then
// reduces the run to a performance report.
package backtest

import (
	"context"
	"log/slog"
	"math"

	"mm-replay-lab/internal/audit"
	"mm-replay-lab/internal/domain"
	"mm-replay-lab/internal/idhash"
	"mm-replay-lab/internal/intensity"
	"mm-replay-lab/internal/metrics"
	"mm-replay-lab/internal/quote"
	"mm-replay-lab/internal/replay"
	"mm-replay-lab/internal/risk"
	"mm-replay-lab/internal/signal"
	"mm-replay-lab/internal/simulation"
)

// Default run settings.
const (
	DefaultInitialCapital    = 100_000.0
	DefaultCommissionPerUnit = 0.0005
	DefaultSeed              = 42
)

// Config configures one backtest run at one latency.
type Config struct {
	RunID          string
	DatasetID      string
	InputChecksum  string
	LatencyNs      int64
	InitialCapital float64

	CommissionPerUnit      float64
	EnableSlippage         bool
	EnableAdverseSelection bool
	Seed                   uint64

	Intensity intensity.Params
	Quote     quote.Params // LatencyNs is overridden by Config.LatencyNs
	Risk      risk.Limits
	Signal    signal.Config
	Fill      simulation.FillParams

	// RegimeFromVolatility reclassifies the risk regime from the running
	// volatility estimate on every event.
	RegimeFromVolatility bool
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		RunID:                  "run",
		InitialCapital:         DefaultInitialCapital,
		CommissionPerUnit:      DefaultCommissionPerUnit,
		EnableSlippage:         true,
		EnableAdverseSelection: true,
		Seed:                   DefaultSeed,
		Intensity:              intensity.DefaultParams(),
		Quote:                  quote.DefaultParams(0),
		Risk:                   risk.DefaultLimits(),
		Signal:                 signal.DefaultConfig(),
		Fill:                   simulation.DefaultFillParams(),
	}
}

// ImbalanceSource supplies the order-flow imbalance fed to the signal filter.
type ImbalanceSource interface {
	Update(eventTimeNs int64, side domain.Side)
	Imbalance() float64
}

// IntensityForecaster is implemented by imbalance sources that can project
// their buy and sell intensities forward in event time.
type IntensityForecaster interface {
	PredictBuy(horizonNs int64) float64
	PredictSell(horizonNs int64) float64
}

// Options carries run collaborators that are not part of the configuration.
type Options struct {
	Audit     audit.Sink      // defaults to audit.Nop
	Logger    *slog.Logger    // defaults to slog.Default
	Imbalance ImbalanceSource // defaults to a Hawkes model built from Config.Intensity
}

// Result holds everything one run produced.
type Result struct {
	Report         *domain.PerformanceReport
	Fills          []*domain.Fill
	Equity         []*domain.EquitySample
	Cancelled      []*domain.SimulatedOrder
	EventCount     int
	KillSwitch     bool
	RejectsByCause map[string]int
}

// Engine processes one event at a time. Implements replay.Handler.
// An Engine serves a single run and is not safe for concurrent use.
type Engine struct {
	cfg    Config
	sink   audit.Sink
	logger *slog.Logger

	imbalance ImbalanceSource
	gate      *risk.Gate
	generator *signal.Generator
	sim       *simulation.Simulator

	primed    bool
	lastQuote domain.NormalizedQuote
	currentNs int64
	index     int
	lastPnL   float64

	curve      []float64
	timestamps []int64
	quoted     []float64
	positions  []int64

	signals        int
	riskRejections int
	rejects        map[string]int
}

// NewEngine wires a fresh pipeline for one run.
func NewEngine(cfg Config, opts Options) *Engine {
	def := DefaultConfig()
	if cfg.InitialCapital <= 0 {
		cfg.InitialCapital = def.InitialCapital
	}
	if cfg.RunID == "" {
		cfg.RunID = def.RunID
	}
	cfg.Quote.LatencyNs = cfg.LatencyNs

	if opts.Audit == nil {
		opts.Audit = audit.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Imbalance == nil {
		opts.Imbalance = intensity.NewModel(cfg.Intensity)
	}

	gate := risk.NewGate(cfg.Risk)
	model := quote.NewModel(cfg.Quote)
	sim := simulation.NewSimulator(
		simulation.Config{
			LatencyNs:         cfg.LatencyNs,
			InitialCapital:    cfg.InitialCapital,
			CommissionPerUnit: cfg.CommissionPerUnit,
			EnableSlippage:    cfg.EnableSlippage,
		},
		simulation.NewFillModel(cfg.Fill, cfg.EnableAdverseSelection),
		simulation.NewRand(cfg.Seed),
		gate,
	)

	e := &Engine{
		cfg:       cfg,
		sink:      opts.Audit,
		logger:    opts.Logger.With("run_id", cfg.RunID, "latency_ns", cfg.LatencyNs),
		imbalance: opts.Imbalance,
		gate:      gate,
		generator: signal.NewGenerator(cfg.Signal, model, gate),
		sim:       sim,
		rejects:   make(map[string]int),
	}
	gate.OnBreach(e.onBreach)
	return e
}

// OnEvent advances the pipeline by one event.
func (e *Engine) OnEvent(_ context.Context, event *domain.MarketEvent) error {
	q := event.Normalize()
	e.currentNs = q.TimestampNs
	defer func() {
		e.lastQuote = q
		e.index++
	}()

	if !e.primed {
		e.primed = true
		e.recordConfig()
		return nil
	}

	if q.TradeVolume > 0 {
		e.imbalance.Update(q.TimestampNs, q.TradeSide)
	}

	vol := metrics.EstimateVolatility(e.curve, e.cfg.InitialCapital)
	if e.cfg.RegimeFromVolatility {
		e.gate.SetRegime(vol)
	}

	sig := e.generator.Evaluate(q.TimestampNs, e.imbalance.Imbalance(), q, e.sim.Position())
	switch {
	case sig.ShouldTrade:
		e.signals++
		position := e.sim.Position()
		bidSize := e.safeSize(position, sig.BidSize)
		askSize := e.safeSize(position, sig.AskSize)
		attrs := []slog.Attr{
			slog.String("direction", sig.Direction.String()),
			slog.Float64("strength", sig.Strength),
			slog.Int("confirmation_ticks", sig.ConfirmationTicks),
			slog.Float64("bid", sig.BidPrice),
			slog.Float64("ask", sig.AskPrice),
			slog.Uint64("bid_size", bidSize),
			slog.Uint64("ask_size", askSize),
			slog.Int64("position", position),
			slog.Float64("latency_cost", sig.LatencyCost),
		}
		// Intensities expected when the orders reach the book.
		if f, ok := e.imbalance.(IntensityForecaster); ok {
			attrs = append(attrs,
				slog.Float64("predicted_buy", f.PredictBuy(e.cfg.LatencyNs)),
				slog.Float64("predicted_sell", f.PredictSell(e.cfg.LatencyNs)),
			)
		}
		e.record(audit.KindSignal, attrs...)
		e.submit(domain.SideBuy, sig.BidPrice, bidSize, q)
		e.submit(domain.SideSell, sig.AskPrice, askSize, q)
	case sig.Outcome == signal.OutcomeRiskRejected:
		e.reject(string(sig.RiskReason))
	}

	for _, o := range e.sim.Resolve(q.TimestampNs, q, vol) {
		e.recordResolved(o)
	}

	pnl := e.sim.PnL(q.Mid)
	e.gate.UpdatePnL(pnl - e.lastPnL)
	e.lastPnL = pnl

	e.curve = append(e.curve, pnl)
	e.timestamps = append(e.timestamps, q.TimestampNs)
	e.quoted = append(e.quoted, q.SpreadBps())
	e.positions = append(e.positions, e.sim.Position())

	if e.index%audit.TickSampleInterval == 0 {
		e.record(audit.KindMarketTick,
			slog.Int("index", e.index),
			slog.Float64("bid", q.BidPrice),
			slog.Float64("ask", q.AskPrice),
			slog.Float64("imbalance", sig.Imbalance),
		)
	}
	if e.index%audit.PnLSampleInterval == 0 {
		position := e.sim.Position()
		e.record(audit.KindPnLUpdate,
			slog.Float64("pnl", pnl),
			slog.Int64("position", position),
			slog.Float64("cash", e.sim.Cash()),
			slog.Int64("unwind", e.gate.UnwindRecommendation(position)),
		)
	}
	return nil
}

// safeSize scales a quoted size by the remaining position capacity.
func (e *Engine) safeSize(position int64, size uint64) uint64 {
	return uint64(math.Floor(e.gate.SafeQuoteSize(position, float64(size))))
}

func (e *Engine) submit(side domain.Side, price float64, size uint64, q domain.NormalizedQuote) {
	if price <= 0 || size == 0 {
		return
	}
	o, ok := e.sim.Submit(side, price, size, q, q.TimestampNs)
	if !ok {
		e.reject(string(risk.ReasonOrderRate))
		return
	}
	e.record(audit.KindOrderSubmit,
		slog.Uint64("order_id", o.ID),
		slog.String("side", side.String()),
		slog.Float64("price", price),
		slog.Uint64("qty", size),
		slog.Int("queue_position", o.QueuePosition),
	)
}

func (e *Engine) recordResolved(o *domain.SimulatedOrder) {
	if o.Status == domain.OrderStatusFilled {
		e.record(audit.KindOrderFill,
			slog.Uint64("order_id", o.ID),
			slog.String("side", o.Side.String()),
			slog.Float64("fill_price", o.FillPrice),
			slog.Uint64("qty", o.FilledQuantity),
			slog.Int64("latency_ns", o.LatencyNs()),
		)
		return
	}
	e.record(audit.KindOrderCancel,
		slog.Uint64("order_id", o.ID),
		slog.String("reason", o.CancelReason),
	)
}

func (e *Engine) reject(reason string) {
	e.riskRejections++
	e.rejects[reason]++
}

func (e *Engine) onBreach(b risk.Breach) {
	e.logger.Warn("kill switch triggered",
		"reason", string(b.Reason),
		"total_pnl", b.TotalPnL,
		"position", b.Position,
		"ts_ns", e.currentNs,
	)
	e.record(audit.KindRiskBreach,
		slog.String("reason", string(b.Reason)),
		slog.Float64("total_pnl", b.TotalPnL),
		slog.Int64("position", b.Position),
	)
}

func (e *Engine) recordConfig() {
	e.record(audit.KindConfig,
		slog.String("dataset_id", e.cfg.DatasetID),
		slog.String("input_checksum", e.cfg.InputChecksum),
		slog.Uint64("seed", e.cfg.Seed),
		slog.Float64("initial_capital", e.cfg.InitialCapital),
		slog.Float64("commission_per_unit", e.cfg.CommissionPerUnit),
		slog.Bool("slippage", e.cfg.EnableSlippage),
		slog.Bool("adverse_selection", e.cfg.EnableAdverseSelection),
		slog.Int64("max_position", e.gate.MaxPosition()),
	)
}

func (e *Engine) record(kind audit.Kind, attrs ...slog.Attr) {
	e.sink.Record(audit.Record{
		RunID:       e.cfg.RunID,
		LatencyNs:   e.cfg.LatencyNs,
		TimestampNs: e.currentNs,
		Kind:        kind,
		Attrs:       attrs,
	})
}

// Result reduces the processed events to the run result.
func (e *Engine) Result() *Result {
	report := metrics.Compute(metrics.Input{
		RunID:            e.cfg.RunID,
		DatasetID:        e.cfg.DatasetID,
		LatencyNs:        e.cfg.LatencyNs,
		Seed:             e.cfg.Seed,
		InputChecksum:    e.cfg.InputChecksum,
		InitialCapital:   e.cfg.InitialCapital,
		EquityCurve:      e.curve,
		Timestamps:       e.timestamps,
		QuotedSpreadsBps: e.quoted,
		FinalMid:         e.lastQuote.Mid,
		Filled:           e.sim.Filled(),
		FillLatencies:    e.sim.FillLatencies(),
		SignalCount:      e.signals,
		OrdersSubmitted:  e.sim.Submitted(),
		OrdersCancelled:  len(e.sim.Cancelled()),
		RiskRejections:   e.riskRejections,
		FinalPosition:    e.sim.Position(),
	})

	fills := make([]*domain.Fill, 0, len(e.sim.Filled()))
	for _, o := range e.sim.Filled() {
		fills = append(fills, &domain.Fill{
			FillID:       idhash.ComputeFillID(e.cfg.RunID, e.cfg.LatencyNs, o.ID, o.FillTimeNs),
			RunID:        e.cfg.RunID,
			LatencyNs:    e.cfg.LatencyNs,
			OrderID:      o.ID,
			Side:         o.Side,
			Price:        o.FillPrice,
			Quantity:     o.FilledQuantity,
			SubmitTimeNs: o.SubmitTimeNs,
			FillTimeNs:   o.FillTimeNs,
			DecisionMid:  o.DecisionMid,
			FillMid:      o.FillMid,
			Commission:   o.Commission,
		})
	}

	equity := make([]*domain.EquitySample, len(e.curve))
	for i := range e.curve {
		equity[i] = &domain.EquitySample{
			RunID:       e.cfg.RunID,
			LatencyNs:   e.cfg.LatencyNs,
			Seq:         i,
			TimestampNs: e.timestamps[i],
			Equity:      e.curve[i],
			Position:    e.positions[i],
		}
	}

	rejects := make(map[string]int, len(e.rejects))
	for k, v := range e.rejects {
		rejects[k] = v
	}

	return &Result{
		Report:         report,
		Fills:          fills,
		Equity:         equity,
		Cancelled:      e.sim.Cancelled(),
		EventCount:     e.index,
		KillSwitch:     e.gate.IsKillSwitchTriggered(),
		RejectsByCause: rejects,
	}
}

// Gate returns the run's risk gate.
func (e *Engine) Gate() *risk.Gate {
	return e.gate
}

// Run replays events through a fresh engine and flushes the audit trail.
// events is not modified; a sorted copy is replayed.
func Run(ctx context.Context, events []*domain.MarketEvent, cfg Config, opts Options) (*Result, error) {
	if len(events) == 0 {
		return nil, replay.ErrNoEvents
	}
	sorted := make([]*domain.MarketEvent, len(events))
	copy(sorted, events)
	replay.SortEvents(sorted)

	engine := NewEngine(cfg, opts)
	if err := replay.Replay(ctx, sorted, engine); err != nil {
		return nil, err
	}
	if err := engine.sink.Flush(ctx); err != nil {
		return nil, err
	}

	res := engine.Result()
	engine.logger.Info("backtest complete",
		"events", res.EventCount,
		"signals", res.Report.SignalCount,
		"fills", res.Report.OrdersFilled,
		"total_pnl", res.Report.TotalPnL,
	)
	return res, nil
}

// Ensure Engine implements replay.Handler
var _ replay.Handler = (*Engine)(nil)

// Ensure the Hawkes model can forecast
var _ IntensityForecaster = (*intensity.Model)(nil)
