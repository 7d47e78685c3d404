package idhash

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math"

	"mm-replay-lab/internal/domain"
)

// ComputeChecksum returns the hex SHA256 of everything read from r.
func ComputeChecksum(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("checksum: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ComputeEventsChecksum hashes the replay-relevant fields of an ordered event
// stream. Two streams with the same checksum replay identically.
func ComputeEventsChecksum(events []*domain.MarketEvent) string {
	h := sha256.New()
	var buf [8]byte
	putU64 := func(v uint64) {
		binary.BigEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	for _, e := range events {
		putU64(uint64(e.TimestampNs))
		putU64(uint64(e.AssetID))
		putU64(math.Float64bits(e.BidPrice))
		putU64(math.Float64bits(e.AskPrice))
		putU64(e.BidSize)
		putU64(e.AskSize)
		putU64(e.TradeVolume)
		putU64(uint64(int64(e.TradeSide)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ComputeDatasetID derives a short dataset identifier from an input checksum.
func ComputeDatasetID(checksum string) string {
	if len(checksum) > 16 {
		checksum = checksum[:16]
	}
	return "ds-" + checksum
}
