package ingestion

import (
	"context"

	"mm-replay-lab/internal/domain"
)

// Batch is the result of reading one event source.
type Batch struct {
	Source   string // path or URI the events came from
	Checksum string // SHA256 of the raw input
	Events   []*domain.MarketEvent
	Skipped  int // malformed rows dropped by the parser
}

// EventSource provides raw market events from an external source.
type EventSource interface {
	// Fetch returns every event of the source in input order.
	// Events may be unordered; Manager enforces deterministic ordering.
	Fetch(ctx context.Context) (*Batch, error)
}
