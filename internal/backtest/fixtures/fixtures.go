// Package fixtures builds event streams and fill settings under which the
// backtest actually trades. Shared by the engine, sweep, verification and
// orchestrator tests.
package fixtures

import (
	"mm-replay-lab/internal/domain"
	"mm-replay-lab/internal/simulation"
)

// EventSpacingNs is the gap between consecutive ActiveEvents.
const EventSpacingNs = int64(1_000)

// ActiveEvents returns n events with a 30 bps book that drifts one tick per
// event over a six-event cycle, and three buy prints for every sell print.
// Touch sizes of 2 put the simulated queue position at 1, and the book is wide
// enough that the default quotes rest inside it.
func ActiveEvents(n int) []*domain.MarketEvent {
	events := make([]*domain.MarketEvent, n)
	for i := range events {
		drift := float64(i%6) * 0.01
		events[i] = &domain.MarketEvent{
			TimestampNs: int64(i+1) * EventSpacingNs,
			AssetID:     1,
			BidPrice:    99.85 + drift,
			AskPrice:    100.15 + drift,
			BidSize:     2,
			AskSize:     2,
			TradeVolume: 5,
			TradeSide:   domain.SideBuy,
		}
		if i%4 == 3 {
			events[i].TradeSide = domain.SideSell
		}
	}
	return events
}

// FillParams returns fill coefficients giving roughly even odds per resting
// order on ActiveEvents.
func FillParams() simulation.FillParams {
	p := simulation.DefaultFillParams()
	p.QueueDecay = 0.05
	p.SpreadSensitivity = 0
	return p
}
