package domain

// OrderStatus is the lifecycle state of a simulated order.
type OrderStatus uint8

// Order status constants. Filled and Cancelled are terminal.
const (
	OrderStatusPending OrderStatus = iota
	OrderStatusFilled
	OrderStatusCancelled
)

// String returns the status name.
func (s OrderStatus) String() string {
	switch s {
	case OrderStatusFilled:
		return "FILLED"
	case OrderStatusCancelled:
		return "CANCELLED"
	default:
		return "PENDING"
	}
}

// IsTerminal reports whether no further transitions are allowed.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled
}

// Cancel reason codes.
const (
	CancelReasonNotFilled = "not_filled"
)

// Order is a limit order as decided by the strategy.
type Order struct {
	ID       uint64
	Side     Side
	Price    float64
	Quantity uint64
}

// Notional returns price * quantity.
func (o Order) Notional() float64 {
	return o.Price * float64(o.Quantity)
}

// SignedQuantity returns +quantity for buys and -quantity for sells.
func (o Order) SignedQuantity() int64 {
	return o.Side.Sign() * int64(o.Quantity)
}

// SimulatedOrder tracks an order from submission to its terminal state.
type SimulatedOrder struct {
	Order
	SubmitTimeNs   int64
	QueuePosition  int
	Status         OrderStatus
	FillTimeNs     int64
	FillPrice      float64
	FilledQuantity uint64
	DecisionMid    float64 // mid at submission
	FillMid        float64 // mid at resolution
	Commission     float64
	CancelReason   string
}

// LatencyNs returns the time from submission to resolution, or 0 while pending.
func (o *SimulatedOrder) LatencyNs() int64 {
	if o.Status != OrderStatusFilled {
		return 0
	}
	return o.FillTimeNs - o.SubmitTimeNs
}
