package ingestion

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mm-replay-lab/internal/domain"
	"mm-replay-lab/internal/idhash"
)

const sampleCSV = `ts_us,event_type,side,price,size
1000,trade,B,100.00,50
2000,quote,S,100.10,200
3000,trade,S,99.90,75
`

func TestParser_Parse(t *testing.T) {
	events, skipped, err := Parser{}.Parse(context.Background(), strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if skipped != 0 {
		t.Errorf("Expected 0 skipped rows, got %d", skipped)
	}
	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}

	first := events[0]
	if first.TimestampNs != 1_000_000 {
		t.Errorf("TimestampNs = %d, want 1000000", first.TimestampNs)
	}
	if math.Abs(first.BidPrice-99.99) > 1e-9 || math.Abs(first.AskPrice-100.01) > 1e-9 {
		t.Errorf("Expected 2bps book around 100, got %v/%v", first.BidPrice, first.AskPrice)
	}
	if first.TradeVolume != 50 || first.TradeSide != domain.SideBuy {
		t.Errorf("Expected buy trade of 50, got %d %v", first.TradeVolume, first.TradeSide)
	}
	if first.AssetID != DefaultAssetID || first.DepthLevels != 1 {
		t.Errorf("Unexpected asset/depth: %d %d", first.AssetID, first.DepthLevels)
	}
	if first.Depth[0].BidSize != 50 {
		t.Errorf("Depth[0] not populated: %+v", first.Depth[0])
	}

	if events[1].IsTrade() {
		t.Error("Quote row must not carry trade volume")
	}
	if events[1].BidSize != 200 || events[1].AskSize != 200 {
		t.Errorf("Quote sizes = %d/%d, want 200/200", events[1].BidSize, events[1].AskSize)
	}
	if events[2].TradeSide != domain.SideSell {
		t.Error("Expected sell side for 'S'")
	}
}

func TestParser_SkipsMalformedRows(t *testing.T) {
	input := `ts_us,event_type,side,price,size
1000,trade,B,100,10
abc,trade,B,100,10
2000,trade,B,notaprice,10
3000,trade,B,100,-5
4000,trade,B,-1,10
5000,trade,B,100,10
`
	events, skipped, err := Parser{}.Parse(context.Background(), strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("Expected 2 events, got %d", len(events))
	}
	if skipped != 4 {
		t.Errorf("Expected 4 skipped rows, got %d", skipped)
	}
}

func TestParser_EmptyCellsUseDefaults(t *testing.T) {
	events, _, err := Parser{}.Parse(context.Background(), strings.NewReader("7,,,,\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	e := events[0]
	if e.TimestampNs != 7000 {
		t.Errorf("TimestampNs = %d, want 7000", e.TimestampNs)
	}
	if math.Abs((e.BidPrice+e.AskPrice)/2-defaultPrice) > 1e-9 {
		t.Errorf("Mid = %v, want %v", (e.BidPrice+e.AskPrice)/2, defaultPrice)
	}
	if e.BidSize != defaultSize || e.TradeVolume != 0 || e.TradeSide != domain.SideBuy {
		t.Errorf("Unexpected defaults: %+v", e)
	}
}

func TestParser_CustomSpread(t *testing.T) {
	p := Parser{SpreadFraction: 0.01, AssetID: 9}
	events, _, err := p.Parse(context.Background(), strings.NewReader("1,quote,B,100,1\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if events[0].AskPrice-events[0].BidPrice != 1.0 {
		t.Errorf("Spread = %v, want 1.0", events[0].AskPrice-events[0].BidPrice)
	}
	if events[0].AssetID != 9 {
		t.Errorf("AssetID = %d, want 9", events[0].AssetID)
	}
}

func TestParser_NoRows(t *testing.T) {
	_, skipped, err := Parser{}.Parse(context.Background(), strings.NewReader("ts_us,event_type,side,price,size\nbad\n"))
	if !errors.Is(err, ErrNoRows) {
		t.Errorf("Expected ErrNoRows, got %v", err)
	}
	if skipped != 1 {
		t.Errorf("Expected 1 skipped row, got %d", skipped)
	}
}

func TestParser_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := Parser{}.Parse(ctx, strings.NewReader(sampleCSV))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestCSVSource_Fetch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.csv")
	if err := os.WriteFile(path, []byte(sampleCSV), 0o600); err != nil {
		t.Fatal(err)
	}

	batch, err := NewCSVSource(path).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	want, _ := idhash.ComputeChecksum(strings.NewReader(sampleCSV))
	if batch.Checksum != want {
		t.Errorf("Checksum = %s, want %s", batch.Checksum, want)
	}
	if batch.Source != path {
		t.Errorf("Source = %s, want %s", batch.Source, path)
	}
	if len(batch.Events) != 3 {
		t.Errorf("Expected 3 events, got %d", len(batch.Events))
	}
}

func TestCSVSource_MissingFile(t *testing.T) {
	_, err := NewCSVSource(filepath.Join(t.TempDir(), "missing.csv")).Fetch(context.Background())
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected os.ErrNotExist, got %v", err)
	}
}
