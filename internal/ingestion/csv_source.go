package ingestion

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"mm-replay-lab/internal/domain"
	"mm-replay-lab/internal/idhash"
)

// CSV defaults for empty cells and the synthetic book.
const (
	DefaultSpreadFraction = 0.0002 // 2 bps full spread around the printed price
	DefaultAssetID        = 1
	defaultPrice          = 100.0
	defaultSize           = 100
	headerMarker          = "ts_us"
)

// ErrNoRows is returned when a CSV input yields no valid events.
var ErrNoRows = errors.New("no valid rows")

// CSVSource reads historical events from a file with the columns
// ts_us,event_type,side,price,size.
type CSVSource struct {
	Path           string
	SpreadFraction float64 // defaults to DefaultSpreadFraction
	AssetID        uint32  // defaults to DefaultAssetID
}

// NewCSVSource creates a CSV source with default book synthesis.
func NewCSVSource(path string) *CSVSource {
	return &CSVSource{Path: path, SpreadFraction: DefaultSpreadFraction, AssetID: DefaultAssetID}
}

// Fetch reads and parses the whole file. A missing file is an error.
func (s *CSVSource) Fetch(ctx context.Context) (*Batch, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.Path, err)
	}

	checksum, err := idhash.ComputeChecksum(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	p := Parser{SpreadFraction: s.SpreadFraction, AssetID: s.AssetID}
	events, skipped, err := p.Parse(ctx, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.Path, err)
	}

	return &Batch{
		Source:   s.Path,
		Checksum: checksum,
		Events:   events,
		Skipped:  skipped,
	}, nil
}

// Parser converts CSV rows to market events.
type Parser struct {
	SpreadFraction float64
	AssetID        uint32
}

// Parse reads every row of r. Header rows are dropped silently; malformed rows
// are dropped and counted. Returns ErrNoRows if nothing parsed.
func (p Parser) Parse(ctx context.Context, r io.Reader) ([]*domain.MarketEvent, int, error) {
	if p.SpreadFraction <= 0 {
		p.SpreadFraction = DefaultSpreadFraction
	}
	if p.AssetID == 0 {
		p.AssetID = DefaultAssetID
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	var (
		events  []*domain.MarketEvent
		skipped int
	)
	for row := 0; ; row++ {
		if row%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, skipped, err
			}
		}

		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				skipped++
				continue
			}
			return nil, skipped, err
		}

		if len(record) > 0 && strings.Contains(record[0], headerMarker) {
			continue
		}

		event, ok := p.parseRecord(record)
		if !ok {
			skipped++
			continue
		}
		events = append(events, event)
	}

	if len(events) == 0 {
		return nil, skipped, ErrNoRows
	}
	return events, skipped, nil
}

// parseRecord converts one row. Missing trailing cells fall back to
// side B, price 100 and size 100.
func (p Parser) parseRecord(record []string) (*domain.MarketEvent, bool) {
	cell := func(i int) string {
		if i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}

	tsUs, err := strconv.ParseInt(cell(0), 10, 64)
	if err != nil {
		return nil, false
	}

	price := defaultPrice
	if v := cell(3); v != "" {
		price, err = strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
			return nil, false
		}
	}

	size := uint64(defaultSize)
	if v := cell(4); v != "" {
		size, err = strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, false
		}
	}

	side := domain.SideBuy
	if v := cell(2); v != "" && v[0] == 'S' {
		side = domain.SideSell
	}

	half := price * p.SpreadFraction / 2.0
	event := &domain.MarketEvent{
		TimestampNs: tsUs * 1000,
		AssetID:     p.AssetID,
		BidPrice:    price - half,
		AskPrice:    price + half,
		BidSize:     size,
		AskSize:     size,
		TradeSide:   side,
		DepthLevels: 1,
	}
	event.Depth[0] = domain.DepthLevel{
		BidPrice: event.BidPrice,
		BidSize:  size,
		AskPrice: event.AskPrice,
		AskSize:  size,
	}
	if cell(1) == "trade" {
		event.TradeVolume = size
	}
	return event, true
}
