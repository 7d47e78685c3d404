package audit

import (
	"context"
	"log/slog"
)

// SlogWriter emits each record as one structured log line.
type SlogWriter struct {
	logger *slog.Logger
	level  slog.Level
}

// NewSlogWriter creates a writer on logger (nil means slog.Default) at level.
func NewSlogWriter(logger *slog.Logger, level slog.Level) *SlogWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogWriter{logger: logger, level: level}
}

// Write implements Writer.
func (w *SlogWriter) Write(ctx context.Context, recs []Record) error {
	if !w.logger.Enabled(ctx, w.level) {
		return nil
	}
	for _, r := range recs {
		attrs := make([]slog.Attr, 0, len(r.Attrs)+3)
		attrs = append(attrs,
			slog.String("run_id", r.RunID),
			slog.Int64("latency_ns", r.LatencyNs),
			slog.Int64("ts_ns", r.TimestampNs),
		)
		attrs = append(attrs, r.Attrs...)
		w.logger.LogAttrs(ctx, w.level, "audit."+string(r.Kind), attrs...)
	}
	return nil
}
