package simulation

import (
	"math/rand/v2"

	"mm-replay-lab/internal/domain"
	"mm-replay-lab/internal/risk"
)

// Config configures the order lifecycle simulator.
type Config struct {
	LatencyNs         int64
	InitialCapital    float64
	CommissionPerUnit float64
	EnableSlippage    bool
}

// NewRand returns the deterministic PRNG used for fill draws.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Simulator moves orders from Pending to Filled or Cancelled once the configured
// latency has elapsed in event time. Not safe for concurrent use; each backtest
// run owns its simulator.
type Simulator struct {
	cfg   Config
	model *FillModel
	rng   *rand.Rand
	gate  *risk.Gate

	nextID    uint64
	active    []*domain.SimulatedOrder
	filled    []*domain.SimulatedOrder
	cancelled []*domain.SimulatedOrder

	position        int64
	cash            float64
	totalCommission float64
	rateRejections  int
	latencies       []int64
}

// NewSimulator creates a simulator. gate may be nil.
func NewSimulator(cfg Config, model *FillModel, rng *rand.Rand, gate *risk.Gate) *Simulator {
	if model == nil {
		model = NewFillModel(DefaultFillParams(), true)
	}
	return &Simulator{
		cfg:    cfg,
		model:  model,
		rng:    rng,
		gate:   gate,
		nextID: 1,
		cash:   cfg.InitialCapital,
	}
}

// Submit registers a new pending order priced against quote at nowNs.
// Returns false when the order-rate limit rejects it.
func (s *Simulator) Submit(side domain.Side, price float64, quantity uint64, quote domain.NormalizedQuote, nowNs int64) (*domain.SimulatedOrder, bool) {
	if s.gate != nil && !s.gate.AllowOrderAt(nowNs) {
		s.rateRejections++
		return nil, false
	}

	o := &domain.SimulatedOrder{
		Order: domain.Order{
			ID:       s.nextID,
			Side:     side,
			Price:    price,
			Quantity: quantity,
		},
		SubmitTimeNs:  nowNs,
		QueuePosition: int(quote.TouchSize(side) / 2),
		Status:        domain.OrderStatusPending,
		DecisionMid:   quote.Mid,
	}
	s.nextID++
	s.active = append(s.active, o)
	return o, true
}

// Resolve draws a fill outcome for every pending order whose latency has elapsed
// at nowNs. Orders still inside their latency window stay pending. The returned
// orders reached a terminal state in this call, in submission order.
func (s *Simulator) Resolve(nowNs int64, quote domain.NormalizedQuote, volatility float64) []*domain.SimulatedOrder {
	var resolved []*domain.SimulatedOrder
	remaining := s.active[:0]

	for _, o := range s.active {
		elapsed := nowNs - o.SubmitTimeNs
		if elapsed < s.cfg.LatencyNs {
			remaining = append(remaining, o)
			continue
		}

		prob := s.model.Probability(o.Order, quote, o.QueuePosition, volatility, elapsed/1000)
		if s.rng.Float64() < prob {
			s.fill(o, quote, nowNs)
			s.filled = append(s.filled, o)
		} else {
			o.Status = domain.OrderStatusCancelled
			o.CancelReason = domain.CancelReasonNotFilled
			o.FillTimeNs = nowNs
			o.FillMid = quote.Mid
			s.cancelled = append(s.cancelled, o)
		}
		resolved = append(resolved, o)
	}

	for i := len(remaining); i < len(s.active); i++ {
		s.active[i] = nil
	}
	s.active = remaining
	return resolved
}

func (s *Simulator) fill(o *domain.SimulatedOrder, quote domain.NormalizedQuote, nowNs int64) {
	price := o.Price
	if s.cfg.EnableSlippage {
		slip := s.model.Slippage(o.Order, quote, SizeFraction(o.Quantity, quote))
		if o.Side == domain.SideBuy {
			price += slip
		} else {
			price -= slip
		}
	}

	o.Status = domain.OrderStatusFilled
	o.FillTimeNs = nowNs
	o.FillPrice = price
	o.FilledQuantity = o.Quantity
	o.FillMid = quote.Mid
	o.Commission = s.cfg.CommissionPerUnit * float64(o.Quantity)

	notional := price * float64(o.Quantity)
	if o.Side == domain.SideBuy {
		s.position += int64(o.Quantity)
		s.cash -= notional
	} else {
		s.position -= int64(o.Quantity)
		s.cash += notional
	}
	s.cash -= o.Commission
	s.totalCommission += o.Commission
	s.latencies = append(s.latencies, nowNs-o.SubmitTimeNs)

	if s.gate != nil {
		s.gate.UpdatePosition(o.Side, o.Quantity)
		s.gate.IncrementTradeCount()
	}
}

// Equity returns cash plus position marked at mid.
func (s *Simulator) Equity(mid float64) float64 {
	return s.cash + float64(s.position)*mid
}

// PnL returns equity at mid relative to initial capital.
func (s *Simulator) PnL(mid float64) float64 {
	return s.Equity(mid) - s.cfg.InitialCapital
}

// Position returns the net filled position.
func (s *Simulator) Position() int64 { return s.position }

// Cash returns the current cash balance.
func (s *Simulator) Cash() float64 { return s.cash }

// TotalCommission returns commission paid so far.
func (s *Simulator) TotalCommission() float64 { return s.totalCommission }

// Active returns the pending orders.
func (s *Simulator) Active() []*domain.SimulatedOrder { return s.active }

// Filled returns filled orders in fill order.
func (s *Simulator) Filled() []*domain.SimulatedOrder { return s.filled }

// Cancelled returns cancelled orders in cancellation order.
func (s *Simulator) Cancelled() []*domain.SimulatedOrder { return s.cancelled }

// Submitted returns the number of orders accepted by Submit.
func (s *Simulator) Submitted() int { return int(s.nextID - 1) }

// RateRejections returns the number of orders refused by the order-rate limit.
func (s *Simulator) RateRejections() int { return s.rateRejections }

// FillLatencies returns submit-to-fill latencies in nanoseconds.
func (s *Simulator) FillLatencies() []int64 { return s.latencies }

// LatencyNs returns the configured order latency.
func (s *Simulator) LatencyNs() int64 { return s.cfg.LatencyNs }
