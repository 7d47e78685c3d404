package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeFillID computes a deterministic fill_id using SHA256.
// Formula: SHA256(run_id|latency_ns|order_id|fill_time_ns)
// Returns hex-encoded hash (64 characters).
func ComputeFillID(
	runID string,
	latencyNs int64,
	orderID uint64,
	fillTimeNs int64,
) string {
	data := fmt.Sprintf("%s|%d|%d|%d",
		runID,
		latencyNs,
		orderID,
		fillTimeNs,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
