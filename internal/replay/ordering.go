package replay

import (
	"fmt"
	"sort"

	"mm-replay-lab/internal/domain"
)

// SortEvents orders events by (timestamp_ns ASC, asset_id ASC).
// The sort is stable so events sharing a key keep their input order.
func SortEvents(events []*domain.MarketEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return compareEvents(events[i], events[j]) < 0
	})
}

// ValidateOrdering returns ErrInvalidOrdering wrapped with the offending index
// if events are not ordered as SortEvents would order them.
func ValidateOrdering(events []*domain.MarketEvent) error {
	for i := 1; i < len(events); i++ {
		if compareEvents(events[i-1], events[i]) > 0 {
			return fmt.Errorf("%w: event %d (ts=%d) precedes event %d (ts=%d)",
				ErrInvalidOrdering, i-1, events[i-1].TimestampNs, i, events[i].TimestampNs)
		}
	}
	return nil
}

// compareEvents returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
//
// Order: (timestamp_ns ASC, asset_id ASC)
func compareEvents(a, b *domain.MarketEvent) int {
	if a.TimestampNs != b.TimestampNs {
		if a.TimestampNs < b.TimestampNs {
			return -1
		}
		return 1
	}
	if a.AssetID != b.AssetID {
		if a.AssetID < b.AssetID {
			return -1
		}
		return 1
	}
	return 0
}
