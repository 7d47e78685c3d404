package replay

import (
	"context"

	"mm-replay-lab/internal/domain"
)

// Handler processes market events in deterministic order.
type Handler interface {
	// OnEvent is called for each event in order.
	// Events are guaranteed to be ordered by (timestamp_ns, asset_id), stable on input order.
	OnEvent(ctx context.Context, event *domain.MarketEvent) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, event *domain.MarketEvent) error

// OnEvent calls f(ctx, event).
func (f HandlerFunc) OnEvent(ctx context.Context, event *domain.MarketEvent) error {
	return f(ctx, event)
}

// Replay drives events through handler, checking for cancellation between events.
// Events must already be ordered.
func Replay(ctx context.Context, events []*domain.MarketEvent, handler Handler) error {
	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := handler.OnEvent(ctx, event); err != nil {
			return err
		}
	}
	return nil
}
