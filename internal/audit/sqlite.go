package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_log (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id      TEXT    NOT NULL,
    latency_ns  INTEGER NOT NULL,
    ts_ns       INTEGER NOT NULL,
    kind        TEXT    NOT NULL,
    fields      TEXT    NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_audit_run ON audit_log(run_id, latency_ns, id);
CREATE INDEX IF NOT EXISTS idx_audit_kind ON audit_log(kind);
`

// StoredRecord is a record read back from SQLite.
type StoredRecord struct {
	ID          int64
	RunID       string
	LatencyNs   int64
	TimestampNs int64
	Kind        Kind
	Fields      string // JSON object
}

// SQLiteWriter persists records into a single audit_log table.
type SQLiteWriter struct {
	db *sql.DB
}

// NewSQLiteWriter opens (or creates) the database at path and applies the schema.
func NewSQLiteWriter(path string) (*SQLiteWriter, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit.NewSQLiteWriter: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit.NewSQLiteWriter: apply schema: %w", err)
	}
	return &SQLiteWriter{db: db}, nil
}

// Write inserts the batch in one transaction.
func (w *SQLiteWriter) Write(ctx context.Context, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("audit.Write: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO audit_log (run_id, latency_ns, ts_ns, kind, fields) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("audit.Write: prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range recs {
		fields, err := encodeAttrs(r.Attrs)
		if err != nil {
			return fmt.Errorf("audit.Write: encode %s: %w", r.Kind, err)
		}
		if _, err := stmt.ExecContext(ctx, r.RunID, r.LatencyNs, r.TimestampNs, string(r.Kind), fields); err != nil {
			return fmt.Errorf("audit.Write: insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("audit.Write: commit: %w", err)
	}
	return nil
}

// ReadRun returns the records of one run in insertion order.
func (w *SQLiteWriter) ReadRun(ctx context.Context, runID string) ([]StoredRecord, error) {
	rows, err := w.db.QueryContext(ctx,
		`SELECT id, run_id, latency_ns, ts_ns, kind, fields FROM audit_log WHERE run_id = ? ORDER BY latency_ns, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("audit.ReadRun: query: %w", err)
	}
	defer rows.Close()

	var out []StoredRecord
	for rows.Next() {
		var r StoredRecord
		var kind string
		if err := rows.Scan(&r.ID, &r.RunID, &r.LatencyNs, &r.TimestampNs, &kind, &r.Fields); err != nil {
			return nil, fmt.Errorf("audit.ReadRun: scan: %w", err)
		}
		r.Kind = Kind(kind)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (w *SQLiteWriter) Close() error {
	return w.db.Close()
}

// encodeAttrs renders attrs as a JSON object preserving attribute order.
func encodeAttrs(attrs []slog.Attr) (string, error) {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, a := range attrs {
		if i > 0 {
			sb.WriteByte(',')
		}
		key, err := json.Marshal(a.Key)
		if err != nil {
			return "", err
		}
		val, err := json.Marshal(a.Value.Resolve().Any())
		if err != nil {
			return "", err
		}
		sb.Write(key)
		sb.WriteByte(':')
		sb.Write(val)
	}
	sb.WriteByte('}')
	return sb.String(), nil
}
