package backtest

import (
	"context"

	"mm-replay-lab/internal/replay"
)

// Runner runs backtests over datasets held in the event store.
type Runner struct {
	replayRunner *replay.Runner
}

// NewRunner creates a Runner that loads events through replayRunner.
func NewRunner(replayRunner *replay.Runner) *Runner {
	return &Runner{replayRunner: replayRunner}
}

// Run loads the dataset and replays every event once. cfg.DatasetID is
// overwritten with datasetID so the report names its input.
func (r *Runner) Run(ctx context.Context, datasetID string, cfg Config, opts Options) (*Result, error) {
	events, err := r.replayRunner.Load(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	cfg.DatasetID = datasetID
	return Run(ctx, events, cfg, opts)
}
