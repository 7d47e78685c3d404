package replay

import (
	"errors"
	"testing"

	"mm-replay-lab/internal/domain"
)

func TestSortEvents_TimestampThenAsset(t *testing.T) {
	events := []*domain.MarketEvent{
		{TimestampNs: 20, AssetID: 1, BidPrice: 1},
		{TimestampNs: 10, AssetID: 2, BidPrice: 2},
		{TimestampNs: 10, AssetID: 1, BidPrice: 3},
		{TimestampNs: 10, AssetID: 1, BidPrice: 4},
	}

	SortEvents(events)

	want := []float64{3, 4, 2, 1}
	for i, e := range events {
		if e.BidPrice != want[i] {
			t.Errorf("Position %d: got %v, want %v", i, e.BidPrice, want[i])
		}
	}

	if err := ValidateOrdering(events); err != nil {
		t.Errorf("Sorted events failed validation: %v", err)
	}
}

func TestValidateOrdering_Rejects(t *testing.T) {
	events := []*domain.MarketEvent{
		{TimestampNs: 10},
		{TimestampNs: 30},
		{TimestampNs: 20},
	}

	err := ValidateOrdering(events)
	if !errors.Is(err, ErrInvalidOrdering) {
		t.Errorf("Expected ErrInvalidOrdering, got %v", err)
	}
}

func TestValidateOrdering_EmptyAndSingle(t *testing.T) {
	if err := ValidateOrdering(nil); err != nil {
		t.Errorf("nil: %v", err)
	}
	if err := ValidateOrdering([]*domain.MarketEvent{{TimestampNs: 5}}); err != nil {
		t.Errorf("single: %v", err)
	}
}
