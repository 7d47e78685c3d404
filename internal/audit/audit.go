// Package audit records the decision trail of a backtest run. Records are
// buffered during replay and written out only at flush checkpoints.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Kind identifies the type of an audit record.
type Kind string

// Record kinds.
const (
	KindConfig      Kind = "config"
	KindMarketTick  Kind = "market_tick"
	KindSignal      Kind = "signal"
	KindOrderSubmit Kind = "order_submit"
	KindOrderFill   Kind = "order_fill"
	KindOrderCancel Kind = "order_cancel"
	KindPnLUpdate   Kind = "pnl_update"
	KindRiskBreach  Kind = "risk_breach"
)

// Sampling intervals in processed events.
const (
	TickSampleInterval = 100
	PnLSampleInterval  = 1000
)

// Record is one flat audit entry.
type Record struct {
	RunID       string
	LatencyNs   int64
	TimestampNs int64 // event time, never wall-clock
	Kind        Kind
	Attrs       []slog.Attr
}

// Sink accepts records during a run.
type Sink interface {
	Record(rec Record)
	Flush(ctx context.Context) error
}

// Writer persists batches of records.
type Writer interface {
	Write(ctx context.Context, recs []Record) error
}

// Nop discards everything.
type Nop struct{}

// Record implements Sink.
func (Nop) Record(Record) {}

// Flush implements Sink.
func (Nop) Flush(context.Context) error { return nil }

// Buffer accumulates records in memory and hands them to a Writer on Flush.
type Buffer struct {
	mu      sync.Mutex
	writer  Writer
	pending []Record
	written int
}

// NewBuffer creates a buffer in front of w. A nil w discards flushed records.
func NewBuffer(w Writer) *Buffer {
	return &Buffer{writer: w}
}

// Record appends rec to the pending batch.
func (b *Buffer) Record(rec Record) {
	b.mu.Lock()
	b.pending = append(b.pending, rec)
	b.mu.Unlock()
}

// Flush writes the pending batch. On error the batch is kept for a retry.
func (b *Buffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.pending) == 0 {
		return nil
	}
	if b.writer != nil {
		if err := b.writer.Write(ctx, b.pending); err != nil {
			return err
		}
	}
	b.written += len(b.pending)
	b.pending = nil
	return nil
}

// Pending returns a copy of the records not yet flushed.
func (b *Buffer) Pending() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Record(nil), b.pending...)
}

// Written returns the number of records flushed so far.
func (b *Buffer) Written() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.written
}

// Fanout writes every batch to all writers and joins their errors.
type Fanout []Writer

// Write implements Writer.
func (f Fanout) Write(ctx context.Context, recs []Record) error {
	var errs []error
	for _, w := range f {
		if w == nil {
			continue
		}
		if err := w.Write(ctx, recs); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Memory keeps every written record. Used by tests and the in-process dashboard.
type Memory struct {
	mu      sync.Mutex
	records []Record
}

// Write implements Writer.
func (m *Memory) Write(_ context.Context, recs []Record) error {
	m.mu.Lock()
	m.records = append(m.records, recs...)
	m.mu.Unlock()
	return nil
}

// Records returns a copy of everything written.
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

// Count returns the number of written records of the given kind.
func (m *Memory) Count(kind Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.records {
		if r.Kind == kind {
			n++
		}
	}
	return n
}
