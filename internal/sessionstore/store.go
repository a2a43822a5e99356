// Package sessionstore is the embedded per-session database: a freshly
// created SQLite file holding a materialized, time- and service-filtered
// slice of the warehouse, isolated from every other session.
//
// Grounded on the teacher's internal/database DBService: WAL-mode DSN,
// a single-writer connection pool, and transaction-batched inserts.
package sessionstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/wessleyai/otelwarehouse/internal/errs"
	"github.com/wessleyai/otelwarehouse/internal/model"
)

// jsonText marshals v (an attribute slice, event slice, or link slice) into
// a TEXT column value. A nil/empty v marshals to "[]" rather than NULL so
// every row has a parseable value.
func jsonText(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return "[]", nil
	}
	return string(b), nil
}

// Store owns one session's SQLite database file.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// Open creates (or opens) the SQLite file at path in WAL mode. SQLite only
// supports one writer at a time, so the pool is capped at a single connection.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=ON", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errs.Wrap(errs.ErrSessionBuild, "sessionstore.Open", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	return &Store{db: db, path: path}, nil
}

// CreateTables creates the mirror table for each requested signal type.
func (s *Store) CreateTables(signals []model.SignalType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sig := range signals {
		ddl, ok := tableDDL[tableNameFor(sig)]
		if !ok {
			continue
		}
		if _, err := s.db.Exec(ddl); err != nil {
			return errs.Wrap(errs.ErrSessionBuild, "sessionstore.CreateTables", err)
		}
	}
	return nil
}

func tableNameFor(sig model.SignalType) string {
	switch sig {
	case model.SignalTraces:
		return "otel_traces"
	case model.SignalLogs:
		return "otel_logs"
	case model.SignalMetrics:
		return "otel_metrics"
	default:
		return ""
	}
}

// InsertSpans batch-inserts spans into the session's otel_traces table
// within a single transaction.
func (s *Store) InsertSpans(ctx context.Context, spans []model.Span) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.ErrSessionBuild, "sessionstore.InsertSpans", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO otel_traces (
		timestamp, trace_id, span_id, parent_span_id, service_name, span_name, span_kind,
		duration_nanos, status_code, status_message, resource_attributes, span_attributes,
		scope_name, scope_version, events, links
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errs.Wrap(errs.ErrSessionBuild, "sessionstore.InsertSpans", err)
	}
	defer stmt.Close()

	for _, sp := range spans {
		resAttrs, err := jsonText(sp.ResourceAttributes)
		if err != nil {
			return errs.Wrap(errs.ErrSessionBuild, "sessionstore.InsertSpans", err)
		}
		spanAttrs, err := jsonText(sp.SpanAttributes)
		if err != nil {
			return errs.Wrap(errs.ErrSessionBuild, "sessionstore.InsertSpans", err)
		}
		events, err := jsonText(sp.Events)
		if err != nil {
			return errs.Wrap(errs.ErrSessionBuild, "sessionstore.InsertSpans", err)
		}
		links, err := jsonText(sp.Links)
		if err != nil {
			return errs.Wrap(errs.ErrSessionBuild, "sessionstore.InsertSpans", err)
		}

		_, err = stmt.ExecContext(ctx, sp.Timestamp.Format(time.RFC3339Nano), sp.TraceID, sp.SpanID, sp.ParentSpanID,
			sp.ServiceName, sp.SpanName, string(sp.SpanKind), sp.DurationNanos, string(sp.StatusCode), sp.StatusMessage,
			resAttrs, spanAttrs, sp.ScopeName, sp.ScopeVersion, events, links)
		if err != nil {
			return errs.Wrap(errs.ErrSessionBuild, "sessionstore.InsertSpans", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.ErrSessionBuild, "sessionstore.InsertSpans", err)
	}
	return nil
}

// InsertLogs batch-inserts log records into the session's otel_logs table.
func (s *Store) InsertLogs(ctx context.Context, logs []model.LogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.ErrSessionBuild, "sessionstore.InsertLogs", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO otel_logs (
		timestamp, trace_id, span_id, severity_number, severity_text, body, service_name,
		resource_attributes, log_attributes
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errs.Wrap(errs.ErrSessionBuild, "sessionstore.InsertLogs", err)
	}
	defer stmt.Close()

	for _, lr := range logs {
		resAttrs, err := jsonText(lr.ResourceAttributes)
		if err != nil {
			return errs.Wrap(errs.ErrSessionBuild, "sessionstore.InsertLogs", err)
		}
		logAttrs, err := jsonText(lr.LogAttributes)
		if err != nil {
			return errs.Wrap(errs.ErrSessionBuild, "sessionstore.InsertLogs", err)
		}

		_, err = stmt.ExecContext(ctx, lr.Timestamp.Format(time.RFC3339Nano), lr.TraceID, lr.SpanID,
			lr.SeverityNumber, lr.SeverityText, lr.Body, lr.ServiceName, resAttrs, logAttrs)
		if err != nil {
			return errs.Wrap(errs.ErrSessionBuild, "sessionstore.InsertLogs", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.ErrSessionBuild, "sessionstore.InsertLogs", err)
	}
	return nil
}

// InsertMetrics batch-inserts metric points into the session's otel_metrics table.
func (s *Store) InsertMetrics(ctx context.Context, points []model.MetricPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.ErrSessionBuild, "sessionstore.InsertMetrics", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO otel_metrics (
		timestamp, metric_name, description, unit, metric_type, value, service_name,
		resource_attributes, metric_attributes
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errs.Wrap(errs.ErrSessionBuild, "sessionstore.InsertMetrics", err)
	}
	defer stmt.Close()

	for _, mp := range points {
		resAttrs, err := jsonText(mp.ResourceAttributes)
		if err != nil {
			return errs.Wrap(errs.ErrSessionBuild, "sessionstore.InsertMetrics", err)
		}
		metricAttrs, err := jsonText(mp.MetricAttributes)
		if err != nil {
			return errs.Wrap(errs.ErrSessionBuild, "sessionstore.InsertMetrics", err)
		}

		_, err = stmt.ExecContext(ctx, mp.Timestamp.Format(time.RFC3339Nano), mp.MetricName, mp.Description,
			mp.Unit, string(mp.MetricType), mp.Value, mp.ServiceName, resAttrs, metricAttrs)
		if err != nil {
			return errs.Wrap(errs.ErrSessionBuild, "sessionstore.InsertMetrics", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.ErrSessionBuild, "sessionstore.InsertMetrics", err)
	}
	return nil
}

// TableManifest describes the materialized table: its row count, column
// names/types (via PRAGMA table_info), and up to 3 sample rows ordered by
// timestamp ascending.
func (s *Store) TableManifest(ctx context.Context, table string) (model.TableManifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tm model.TableManifest

	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&tm.RowCount); err != nil {
		return model.TableManifest{}, errs.Wrap(errs.ErrSessionBuild, "sessionstore.TableManifest", err)
	}

	colRows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return model.TableManifest{}, errs.Wrap(errs.ErrSessionBuild, "sessionstore.TableManifest", err)
	}
	var colNames []string
	for colRows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt any
		if err := colRows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			colRows.Close()
			return model.TableManifest{}, errs.Wrap(errs.ErrSessionBuild, "sessionstore.TableManifest", err)
		}
		tm.Columns = append(tm.Columns, model.Column{Name: name, Type: ctype})
		colNames = append(colNames, name)
	}
	colRows.Close()
	if err := colRows.Err(); err != nil {
		return model.TableManifest{}, errs.Wrap(errs.ErrSessionBuild, "sessionstore.TableManifest", err)
	}

	sampleRows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s ORDER BY timestamp ASC LIMIT 3", table))
	if err != nil {
		return model.TableManifest{}, errs.Wrap(errs.ErrSessionBuild, "sessionstore.TableManifest", err)
	}
	defer sampleRows.Close()

	for sampleRows.Next() {
		vals := make([]any, len(colNames))
		ptrs := make([]any, len(colNames))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := sampleRows.Scan(ptrs...); err != nil {
			return model.TableManifest{}, errs.Wrap(errs.ErrSessionBuild, "sessionstore.TableManifest", err)
		}
		tm.SampleRows = append(tm.SampleRows, vals)
	}

	return tm, sampleRows.Err()
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
