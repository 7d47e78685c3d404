package backtest

import "mm-replay-lab/internal/domain"

// FixedImbalance is an ImbalanceSource that always reports the same value.
// It isolates the downstream pipeline from the intensity model in tests and
// what-if runs.
type FixedImbalance float64

// Update ignores the event.
func (FixedImbalance) Update(int64, domain.Side) {}

// Imbalance returns the fixed value.
func (f FixedImbalance) Imbalance() float64 { return float64(f) }

// Ensure FixedImbalance implements ImbalanceSource
var _ ImbalanceSource = FixedImbalance(0)
