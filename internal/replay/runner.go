package replay

import (
	"context"
	"fmt"

	"mm-replay-lab/internal/domain"
	"mm-replay-lab/internal/storage"
)

// Runner loads events from storage and replays them in deterministic order.
type Runner struct {
	eventStore storage.MarketEventStore
}

// NewRunner creates a new replay runner.
func NewRunner(eventStore storage.MarketEventStore) *Runner {
	return &Runner{eventStore: eventStore}
}

// Load retrieves and sorts the events of a dataset. Returns ErrNoEvents if the
// dataset is empty.
func (r *Runner) Load(ctx context.Context, datasetID string) ([]*domain.MarketEvent, error) {
	events, err := r.eventStore.GetByDataset(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("load dataset %s: %w", datasetID, err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("dataset %s: %w", datasetID, ErrNoEvents)
	}
	SortEvents(events)
	return events, nil
}

// Run loads events within [from, to] and replays them through the handler.
func (r *Runner) Run(ctx context.Context, datasetID string, from, to int64, handler Handler) error {
	events, err := r.eventStore.GetByTimeRange(ctx, datasetID, from, to)
	if err != nil {
		return fmt.Errorf("load dataset %s: %w", datasetID, err)
	}
	if len(events) == 0 {
		return fmt.Errorf("dataset %s [%d, %d]: %w", datasetID, from, to, ErrNoEvents)
	}
	SortEvents(events)
	return Replay(ctx, events, handler)
}

// RunAll loads all events of a dataset and replays them through the handler.
func (r *Runner) RunAll(ctx context.Context, datasetID string, handler Handler) error {
	events, err := r.Load(ctx, datasetID)
	if err != nil {
		return err
	}
	return Replay(ctx, events, handler)
}
