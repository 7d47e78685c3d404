package replay

import (
	"context"
	"errors"
	"testing"

	"mm-replay-lab/internal/domain"
	"mm-replay-lab/internal/storage/memory"
)

// collectingHandler collects events for verification.
type collectingHandler struct {
	events []*domain.MarketEvent
}

func (h *collectingHandler) OnEvent(_ context.Context, event *domain.MarketEvent) error {
	h.events = append(h.events, event)
	return nil
}

// orderValidatingHandler validates that events are received in order.
type orderValidatingHandler struct {
	last       *domain.MarketEvent
	orderError error
}

func (h *orderValidatingHandler) OnEvent(_ context.Context, event *domain.MarketEvent) error {
	if h.last != nil && compareEvents(h.last, event) > 0 {
		h.orderError = ErrInvalidOrdering
		return h.orderError
	}
	h.last = event
	return nil
}

func TestRunner_OrdersEventsDeterministically(t *testing.T) {
	store := memory.NewMarketEventStore()
	ctx := context.Background()

	// Insert unordered events
	events := []*domain.MarketEvent{
		{TimestampNs: 3000, AssetID: 1},
		{TimestampNs: 1000, AssetID: 2},
		{TimestampNs: 1000, AssetID: 1},
		{TimestampNs: 2000, AssetID: 1},
	}
	if err := store.InsertBulk(ctx, "ds1", events); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	runner := NewRunner(store)
	handler := &orderValidatingHandler{}

	if err := runner.RunAll(ctx, "ds1", handler); err != nil {
		t.Fatalf("RunAll failed: %v", err)
	}

	if handler.orderError != nil {
		t.Error("Events were not received in order")
	}
}

func TestRunner_TimeRange(t *testing.T) {
	store := memory.NewMarketEventStore()
	ctx := context.Background()

	var events []*domain.MarketEvent
	for i := int64(1); i <= 10; i++ {
		events = append(events, &domain.MarketEvent{TimestampNs: i * 100})
	}
	if err := store.InsertBulk(ctx, "ds1", events); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	runner := NewRunner(store)
	handler := &collectingHandler{}

	if err := runner.Run(ctx, "ds1", 300, 700, handler); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(handler.events) != 5 {
		t.Errorf("Expected 5 events, got %d", len(handler.events))
	}
}

func TestRunner_EmptyDatasetIsError(t *testing.T) {
	runner := NewRunner(memory.NewMarketEventStore())

	err := runner.RunAll(context.Background(), "missing", &collectingHandler{})
	if !errors.Is(err, ErrNoEvents) {
		t.Errorf("Expected ErrNoEvents, got %v", err)
	}

	err = runner.Run(context.Background(), "missing", 0, 100, &collectingHandler{})
	if !errors.Is(err, ErrNoEvents) {
		t.Errorf("Expected ErrNoEvents, got %v", err)
	}
}

func TestRunner_HandlerErrorStopsReplay(t *testing.T) {
	store := memory.NewMarketEventStore()
	ctx := context.Background()

	events := []*domain.MarketEvent{{TimestampNs: 1}, {TimestampNs: 2}, {TimestampNs: 3}}
	if err := store.InsertBulk(ctx, "ds1", events); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	boom := errors.New("boom")
	seen := 0
	handler := HandlerFunc(func(_ context.Context, _ *domain.MarketEvent) error {
		seen++
		if seen == 2 {
			return boom
		}
		return nil
	})

	err := NewRunner(store).RunAll(ctx, "ds1", handler)
	if !errors.Is(err, boom) {
		t.Errorf("Expected handler error, got %v", err)
	}
	if seen != 2 {
		t.Errorf("Expected replay to stop after 2 events, saw %d", seen)
	}
}

func TestReplay_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	handler := &collectingHandler{}
	err := Replay(ctx, []*domain.MarketEvent{{TimestampNs: 1}}, handler)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if len(handler.events) != 0 {
		t.Errorf("Expected no events after cancel, got %d", len(handler.events))
	}
}
