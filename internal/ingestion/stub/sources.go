package stub

import (
	"context"

	"mm-replay-lab/internal/domain"
	"mm-replay-lab/internal/ingestion"
)

// StubEventSource returns fixed in-memory events for testing.
// Events can be intentionally unordered to test sorting.
// Implements ingestion.EventSource interface.
type StubEventSource struct {
	source   string
	checksum string
	events   []*domain.MarketEvent
}

// NewStubEventSource creates a new stub event source with the given events.
func NewStubEventSource(checksum string, events []*domain.MarketEvent) *StubEventSource {
	return &StubEventSource{source: "stub", checksum: checksum, events: events}
}

// Fetch returns copies of the events to prevent mutation.
func (s *StubEventSource) Fetch(_ context.Context) (*ingestion.Batch, error) {
	out := make([]*domain.MarketEvent, len(s.events))
	for i, e := range s.events {
		copy := *e
		out[i] = &copy
	}
	return &ingestion.Batch{Source: s.source, Checksum: s.checksum, Events: out}, nil
}
