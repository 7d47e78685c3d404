package domain

// MaxDepthLevels is the number of book levels carried per event.
const MaxDepthLevels = 10

// Side is the aggressor side of a trade or the side of an order.
type Side int8

// Side constants.
const (
	SideBuy  Side = 1
	SideSell Side = -1
)

// Sign returns +1 for buys and -1 for sells.
func (s Side) Sign() int64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// String returns "BUY" or "SELL".
func (s Side) String() string {
	if s == SideSell {
		return "SELL"
	}
	return "BUY"
}

// ParseSide maps "B"/"BUY" and "S"/"SELL" to a Side. Unknown values map to SideBuy.
func ParseSide(v string) Side {
	switch v {
	case "S", "s", "SELL", "sell":
		return SideSell
	default:
		return SideBuy
	}
}

// DepthLevel is a single price level of one side of the book.
type DepthLevel struct {
	BidPrice float64
	BidSize  uint64
	AskPrice float64
	AskSize  uint64
}

// MarketEvent is one recorded top-of-book update or trade print.
// Streams are ordered by TimestampNs (non-decreasing).
type MarketEvent struct {
	TimestampNs int64  // event time (ns)
	AssetID     uint32 // instrument identifier
	BidPrice    float64
	AskPrice    float64
	BidSize     uint64
	AskSize     uint64
	TradeVolume uint64 // 0 for quote-only updates
	TradeSide   Side   // aggressor side when TradeVolume > 0

	Depth       [MaxDepthLevels]DepthLevel
	DepthLevels uint8 // number of populated Depth entries
}

// IsTrade reports whether the event carries a trade print.
func (e *MarketEvent) IsTrade() bool {
	return e.TradeVolume > 0
}

// NormalizedQuote is a read-only view of a MarketEvent with derived prices.
type NormalizedQuote struct {
	TimestampNs int64
	AssetID     uint32
	BidPrice    float64
	AskPrice    float64
	Mid         float64 // (bid + ask) / 2
	Spread      float64 // ask - bid
	BidSize     uint64
	AskSize     uint64
	TradeVolume uint64
	TradeSide   Side

	BidPrices   [MaxDepthLevels]float64
	AskPrices   [MaxDepthLevels]float64
	BidSizes    [MaxDepthLevels]uint64
	AskSizes    [MaxDepthLevels]uint64
	DepthLevels uint8
}

// Normalize derives the quote view of the event.
func (e *MarketEvent) Normalize() NormalizedQuote {
	q := NormalizedQuote{
		TimestampNs: e.TimestampNs,
		AssetID:     e.AssetID,
		BidPrice:    e.BidPrice,
		AskPrice:    e.AskPrice,
		Mid:         (e.BidPrice + e.AskPrice) / 2.0,
		Spread:      e.AskPrice - e.BidPrice,
		BidSize:     e.BidSize,
		AskSize:     e.AskSize,
		TradeVolume: e.TradeVolume,
		TradeSide:   e.TradeSide,
		DepthLevels: e.DepthLevels,
	}
	for i := 0; i < MaxDepthLevels; i++ {
		q.BidPrices[i] = e.Depth[i].BidPrice
		q.AskPrices[i] = e.Depth[i].AskPrice
		q.BidSizes[i] = e.Depth[i].BidSize
		q.AskSizes[i] = e.Depth[i].AskSize
	}
	return q
}

// SpreadBps returns the quoted spread in basis points of mid, or 0 when mid is not positive.
func (q NormalizedQuote) SpreadBps() float64 {
	if q.Mid <= 0 {
		return 0
	}
	return q.Spread / q.Mid * 10000.0
}

// TouchSize returns the displayed size on the side an order of the given side would join.
func (q NormalizedQuote) TouchSize(side Side) uint64 {
	if side == SideSell {
		return q.AskSize
	}
	return q.BidSize
}
