// Package warehouse wraps the ClickHouse columnar store: schema setup,
// batched columnar inserts for the three signal tables, file-watermark and
// enricher-watermark bookkeeping, and the query-and-copy source reads the
// session builder needs.
//
// Conn is a narrow subset of clickhouse-go/v2's driver.Conn, following the
// teacher's pkg/repo/neo4j.go trick of defining the smallest interface a
// caller needs so fakes can stand in during tests without a live server.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	chdriver "github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/wessleyai/otelwarehouse/internal/config"
	"github.com/wessleyai/otelwarehouse/internal/errs"
	"github.com/wessleyai/otelwarehouse/internal/model"
)

// Conn is the subset of driver.Conn the warehouse package depends on.
type Conn interface {
	Exec(ctx context.Context, query string, args ...any) error
	Query(ctx context.Context, query string, args ...any) (chdriver.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) chdriver.Row
	PrepareBatch(ctx context.Context, query string, opts ...chdriver.PrepareBatchOption) (chdriver.Batch, error)
}

// Warehouse is the shared entry point for all ClickHouse operations.
type Warehouse struct {
	conn Conn
}

// Open dials ClickHouse using the given settings and returns a Warehouse.
func Open(cfg config.ClickHouse) (*Warehouse, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr()},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, errs.Wrap(errs.ErrConfig, "warehouse.Open", err)
	}
	return &Warehouse{conn: conn}, nil
}

// New wraps an already-constructed Conn, primarily for tests.
func New(conn Conn) *Warehouse { return &Warehouse{conn: conn} }

// Migrate creates every table this module owns if it does not already exist.
func (w *Warehouse) Migrate(ctx context.Context) error {
	for _, stmt := range DDL {
		if err := w.conn.Exec(ctx, stmt); err != nil {
			return errs.Wrap(errs.ErrConfig, "warehouse.Migrate", err)
		}
	}
	return nil
}

// watermarkTable returns the per-signal file watermark table name.
func watermarkTable(signal model.SignalType) string {
	switch signal {
	case model.SignalLogs:
		return "log_loader_file_watermark"
	case model.SignalMetrics:
		return "metric_loader_file_watermark"
	default:
		return "loader_file_watermark"
	}
}

// ProcessedFiles returns the set of filenames with a terminal watermark
// status for the given signal, using latest-by-processed_at semantics.
func (w *Warehouse) ProcessedFiles(ctx context.Context, signal model.SignalType) (map[string]bool, error) {
	query := fmt.Sprintf(`SELECT filename FROM %s FINAL`, watermarkTable(signal))
	rows, err := w.conn.Query(ctx, query)
	if err != nil {
		return nil, errs.Wrap(errs.ErrTransient, "warehouse.ProcessedFiles", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var filename string
		if err := rows.Scan(&filename); err != nil {
			return nil, errs.Wrap(errs.ErrTransient, "warehouse.ProcessedFiles", err)
		}
		out[filename] = true
	}
	return out, rows.Err()
}

// RecordFileWatermark appends a (done|failed) watermark row for filename.
func (w *Warehouse) RecordFileWatermark(ctx context.Context, signal model.SignalType, wm model.FileWatermark) error {
	query := fmt.Sprintf(`INSERT INTO %s (filename, status, processed_at, row_count, error_message) VALUES`, watermarkTable(signal))
	batch, err := w.conn.PrepareBatch(ctx, query)
	if err != nil {
		return errs.Wrap(errs.ErrTransient, "warehouse.RecordFileWatermark", err)
	}
	if err := batch.Append(wm.Filename, string(wm.Status), wm.ProcessedAt, wm.RowCount, wm.ErrorMessage); err != nil {
		return errs.Wrap(errs.ErrTransient, "warehouse.RecordFileWatermark", err)
	}
	if err := batch.Send(); err != nil {
		return errs.Wrap(errs.ErrTransient, "warehouse.RecordFileWatermark", err)
	}
	return nil
}

// InsertSpans writes spans into otel_traces in contiguous batches of batchSize.
// A partial tail batch is still written.
func (w *Warehouse) InsertSpans(ctx context.Context, spans []model.Span, batchSize int) error {
	for _, chunk := range chunk(spans, batchSize) {
		batch, err := w.conn.PrepareBatch(ctx, `INSERT INTO otel_traces (
			timestamp, trace_id, span_id, parent_span_id, service_name, span_name, span_kind,
			duration_nanos, status_code, status_message, resource_attributes, span_attr_keys, span_attr_values,
			scope_name, scope_version, event_names, event_timestamps, link_trace_ids, link_span_ids
		) VALUES`)
		if err != nil {
			return errs.Wrap(errs.ErrInsert, "warehouse.InsertSpans", err)
		}
		for _, sp := range chunk {
			eventNames := make([]string, len(sp.Events))
			eventTimes := make([]time.Time, len(sp.Events))
			for i, ev := range sp.Events {
				eventNames[i] = ev.Name
				eventTimes[i] = ev.Timestamp
			}
			linkTraceIDs := make([]string, len(sp.Links))
			linkSpanIDs := make([]string, len(sp.Links))
			for i, l := range sp.Links {
				linkTraceIDs[i] = l.TraceID
				linkSpanIDs[i] = l.SpanID
			}
			attrKeys, attrValues := kvArrays(sp.SpanAttributes)
			err := batch.Append(
				sp.Timestamp, sp.TraceID, sp.SpanID, sp.ParentSpanID, sp.ServiceName, sp.SpanName, string(sp.SpanKind),
				sp.DurationNanos, string(sp.StatusCode), sp.StatusMessage, kvMap(sp.ResourceAttributes), attrKeys, attrValues,
				sp.ScopeName, sp.ScopeVersion, eventNames, eventTimes, linkTraceIDs, linkSpanIDs,
			)
			if err != nil {
				return errs.Wrap(errs.ErrInsert, "warehouse.InsertSpans", err)
			}
		}
		if err := batch.Send(); err != nil {
			return errs.Wrap(errs.ErrInsert, "warehouse.InsertSpans", err)
		}
	}
	return nil
}

// InsertLogs writes log records into otel_logs in contiguous batches.
func (w *Warehouse) InsertLogs(ctx context.Context, logs []model.LogRecord, batchSize int) error {
	for _, chunk := range chunk(logs, batchSize) {
		batch, err := w.conn.PrepareBatch(ctx, `INSERT INTO otel_logs (
			timestamp, trace_id, span_id, severity_number, severity_text, body, service_name,
			resource_attributes, log_attributes
		) VALUES`)
		if err != nil {
			return errs.Wrap(errs.ErrInsert, "warehouse.InsertLogs", err)
		}
		for _, lr := range chunk {
			err := batch.Append(
				lr.Timestamp, lr.TraceID, lr.SpanID, uint8(lr.SeverityNumber), lr.SeverityText, lr.Body, lr.ServiceName,
				kvMap(lr.ResourceAttributes), kvMap(lr.LogAttributes),
			)
			if err != nil {
				return errs.Wrap(errs.ErrInsert, "warehouse.InsertLogs", err)
			}
		}
		if err := batch.Send(); err != nil {
			return errs.Wrap(errs.ErrInsert, "warehouse.InsertLogs", err)
		}
	}
	return nil
}

// InsertMetrics writes metric points into otel_metrics in contiguous batches.
func (w *Warehouse) InsertMetrics(ctx context.Context, points []model.MetricPoint, batchSize int) error {
	for _, chunk := range chunk(points, batchSize) {
		batch, err := w.conn.PrepareBatch(ctx, `INSERT INTO otel_metrics (
			timestamp, metric_name, description, unit, metric_type, value, service_name,
			resource_attributes, metric_attributes
		) VALUES`)
		if err != nil {
			return errs.Wrap(errs.ErrInsert, "warehouse.InsertMetrics", err)
		}
		for _, mp := range chunk {
			err := batch.Append(
				mp.Timestamp, mp.MetricName, mp.Description, mp.Unit, string(mp.MetricType), mp.Value, mp.ServiceName,
				kvMap(mp.ResourceAttributes), kvMap(mp.MetricAttributes),
			)
			if err != nil {
				return errs.Wrap(errs.ErrInsert, "warehouse.InsertMetrics", err)
			}
		}
		if err := batch.Send(); err != nil {
			return errs.Wrap(errs.ErrInsert, "warehouse.InsertMetrics", err)
		}
	}
	return nil
}

// EnricherWatermark reads the single global enricher watermark row, latest-wins.
// Absent rows return the zero watermark (epoch, empty span id), matching the
// spec's initial value.
func (w *Warehouse) EnricherWatermark(ctx context.Context) (model.EnrichWatermark, error) {
	row := w.conn.QueryRow(ctx, `SELECT last_timestamp, last_span_id, updated_at FROM enricher_watermark FINAL WHERE watermark_key = 'global'`)
	var wm model.EnrichWatermark
	wm.WatermarkKey = "global"
	if err := row.Scan(&wm.LastTimestamp, &wm.LastSpanID, &wm.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return model.EnrichWatermark{WatermarkKey: "global", LastTimestamp: time.Unix(0, 0).UTC()}, nil
		}
		return model.EnrichWatermark{}, errs.Wrap(errs.ErrTransient, "warehouse.EnricherWatermark", err)
	}
	return wm, nil
}

// AdvanceEnricherWatermark appends a new latest-wins watermark row.
func (w *Warehouse) AdvanceEnricherWatermark(ctx context.Context, ts time.Time, spanID string) error {
	err := w.conn.Exec(ctx, `INSERT INTO enricher_watermark (watermark_key, last_timestamp, last_span_id, updated_at) VALUES (?, ?, ?, ?)`,
		"global", ts, spanID, time.Now().UTC())
	if err != nil {
		return errs.Wrap(errs.ErrTransient, "warehouse.AdvanceEnricherWatermark", err)
	}
	return nil
}

// NextSpansAfter returns up to limit spans strictly greater than (ts, spanID)
// in lexicographic (timestamp, span_id) order, for the enricher's prefetch stage.
func (w *Warehouse) NextSpansAfter(ctx context.Context, ts time.Time, spanID string, limit int) ([]model.Span, error) {
	rows, err := w.conn.Query(ctx, `
		SELECT timestamp, trace_id, span_id, parent_span_id, service_name, span_name, span_kind,
			duration_nanos, status_code, status_message, resource_attributes, span_attr_keys, span_attr_values,
			scope_name, scope_version
		FROM otel_traces
		WHERE (timestamp, span_id) > (?, ?)
		ORDER BY timestamp, span_id
		LIMIT ?`, ts, spanID, limit)
	if err != nil {
		return nil, errs.Wrap(errs.ErrTransient, "warehouse.NextSpansAfter", err)
	}
	defer rows.Close()

	var out []model.Span
	for rows.Next() {
		var sp model.Span
		var resAttrs map[string]string
		var attrKeys, attrValues []string
		if err := rows.Scan(&sp.Timestamp, &sp.TraceID, &sp.SpanID, &sp.ParentSpanID, &sp.ServiceName, &sp.SpanName,
			&sp.SpanKind, &sp.DurationNanos, &sp.StatusCode, &sp.StatusMessage, &resAttrs, &attrKeys, &attrValues,
			&sp.ScopeName, &sp.ScopeVersion); err != nil {
			return nil, errs.Wrap(errs.ErrTransient, "warehouse.NextSpansAfter", err)
		}
		sp.ResourceAttributes = mapToKV(resAttrs)
		sp.SpanAttributes, err = arraysToKV(attrKeys, attrValues)
		if err != nil {
			return nil, errs.Wrap(errs.ErrTransient, "warehouse.NextSpansAfter", err)
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

// InsertEnrichedSpans writes enriched rows keyed by (timestamp, span_id).
func (w *Warehouse) InsertEnrichedSpans(ctx context.Context, rows []model.EnrichedSpan) error {
	batch, err := w.conn.PrepareBatch(ctx, `INSERT INTO otel_traces_enriched (timestamp, span_id, embedding_text, embedding) VALUES`)
	if err != nil {
		return errs.Wrap(errs.ErrInsert, "warehouse.InsertEnrichedSpans", err)
	}
	for _, r := range rows {
		if err := batch.Append(r.Timestamp, r.SpanID, r.EmbeddingText, r.Embedding); err != nil {
			return errs.Wrap(errs.ErrInsert, "warehouse.InsertEnrichedSpans", err)
		}
	}
	if err := batch.Send(); err != nil {
		return errs.Wrap(errs.ErrInsert, "warehouse.InsertEnrichedSpans", err)
	}
	return nil
}

// ListServiceNames returns the distinct service names observed across all
// three signal tables, for the session builder's discovery helper.
func (w *Warehouse) ListServiceNames(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT service_name FROM otel_traces
		UNION DISTINCT
		SELECT DISTINCT service_name FROM otel_logs
		UNION DISTINCT
		SELECT DISTINCT service_name FROM otel_metrics
		ORDER BY service_name`
	rows, err := w.conn.Query(ctx, query)
	if err != nil {
		return nil, errs.Wrap(errs.ErrTransient, "warehouse.ListServiceNames", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errs.Wrap(errs.ErrTransient, "warehouse.ListServiceNames", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// QuerySpansFiltered returns up to limit spans matching the service and time
// filters, ordered by timestamp ascending, for session materialization. An
// empty services slice means all services.
func (w *Warehouse) QuerySpansFiltered(ctx context.Context, services []string, start, end time.Time, limit int) ([]model.Span, error) {
	query := `SELECT timestamp, trace_id, span_id, parent_span_id, service_name, span_name, span_kind,
		duration_nanos, status_code, status_message, resource_attributes, span_attr_keys, span_attr_values,
		scope_name, scope_version
		FROM otel_traces
		WHERE timestamp BETWEEN ? AND ?` + serviceFilterClause(services) + `
		ORDER BY timestamp ASC
		LIMIT ?`
	args := append([]any{start, end}, serviceFilterArgs(services)...)
	args = append(args, limit)

	rows, err := w.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.ErrTransient, "warehouse.QuerySpansFiltered", err)
	}
	defer rows.Close()

	var out []model.Span
	for rows.Next() {
		var sp model.Span
		var resAttrs map[string]string
		var attrKeys, attrValues []string
		if err := rows.Scan(&sp.Timestamp, &sp.TraceID, &sp.SpanID, &sp.ParentSpanID, &sp.ServiceName, &sp.SpanName,
			&sp.SpanKind, &sp.DurationNanos, &sp.StatusCode, &sp.StatusMessage, &resAttrs, &attrKeys, &attrValues,
			&sp.ScopeName, &sp.ScopeVersion); err != nil {
			return nil, errs.Wrap(errs.ErrTransient, "warehouse.QuerySpansFiltered", err)
		}
		sp.ResourceAttributes = mapToKV(resAttrs)
		sp.SpanAttributes, err = arraysToKV(attrKeys, attrValues)
		if err != nil {
			return nil, errs.Wrap(errs.ErrTransient, "warehouse.QuerySpansFiltered", err)
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

// QueryLogsFiltered returns up to limit log records matching the filters,
// ordered by timestamp ascending.
func (w *Warehouse) QueryLogsFiltered(ctx context.Context, services []string, start, end time.Time, limit int) ([]model.LogRecord, error) {
	query := `SELECT timestamp, trace_id, span_id, severity_number, severity_text, body, service_name,
		resource_attributes, log_attributes
		FROM otel_logs
		WHERE timestamp BETWEEN ? AND ?` + serviceFilterClause(services) + `
		ORDER BY timestamp ASC
		LIMIT ?`
	args := append([]any{start, end}, serviceFilterArgs(services)...)
	args = append(args, limit)

	rows, err := w.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.ErrTransient, "warehouse.QueryLogsFiltered", err)
	}
	defer rows.Close()

	var out []model.LogRecord
	for rows.Next() {
		var lr model.LogRecord
		var resAttrs, logAttrs map[string]string
		if err := rows.Scan(&lr.Timestamp, &lr.TraceID, &lr.SpanID, &lr.SeverityNumber, &lr.SeverityText, &lr.Body,
			&lr.ServiceName, &resAttrs, &logAttrs); err != nil {
			return nil, errs.Wrap(errs.ErrTransient, "warehouse.QueryLogsFiltered", err)
		}
		lr.ResourceAttributes = mapToKV(resAttrs)
		lr.LogAttributes = mapToKV(logAttrs)
		out = append(out, lr)
	}
	return out, rows.Err()
}

// QueryMetricsFiltered returns up to limit metric points matching the
// filters, ordered by timestamp ascending.
func (w *Warehouse) QueryMetricsFiltered(ctx context.Context, services []string, start, end time.Time, limit int) ([]model.MetricPoint, error) {
	query := `SELECT timestamp, metric_name, description, unit, metric_type, value, service_name,
		resource_attributes, metric_attributes
		FROM otel_metrics
		WHERE timestamp BETWEEN ? AND ?` + serviceFilterClause(services) + `
		ORDER BY timestamp ASC
		LIMIT ?`
	args := append([]any{start, end}, serviceFilterArgs(services)...)
	args = append(args, limit)

	rows, err := w.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.ErrTransient, "warehouse.QueryMetricsFiltered", err)
	}
	defer rows.Close()

	var out []model.MetricPoint
	for rows.Next() {
		var mp model.MetricPoint
		var resAttrs, metricAttrs map[string]string
		if err := rows.Scan(&mp.Timestamp, &mp.MetricName, &mp.Description, &mp.Unit, &mp.MetricType, &mp.Value,
			&mp.ServiceName, &resAttrs, &metricAttrs); err != nil {
			return nil, errs.Wrap(errs.ErrTransient, "warehouse.QueryMetricsFiltered", err)
		}
		mp.ResourceAttributes = mapToKV(resAttrs)
		mp.MetricAttributes = mapToKV(metricAttrs)
		out = append(out, mp)
	}
	return out, rows.Err()
}

// serviceFilterClause returns an " AND service_name IN (?, ?, ...)" clause,
// or "" when services is empty (meaning all services).
func serviceFilterClause(services []string) string {
	if len(services) == 0 {
		return ""
	}
	placeholders := make([]string, len(services))
	for i := range services {
		placeholders[i] = "?"
	}
	return " AND service_name IN (" + joinPlaceholders(placeholders) + ")"
}

func serviceFilterArgs(services []string) []any {
	args := make([]any, len(services))
	for i, s := range services {
		args[i] = s
	}
	return args
}

func joinPlaceholders(ph []string) string {
	out := ph[0]
	for _, p := range ph[1:] {
		out += "," + p
	}
	return out
}

func chunk[T any](items []T, n int) [][]T {
	if n <= 0 {
		n = len(items)
	}
	if n == 0 {
		return nil
	}
	var out [][]T
	for i := 0; i < len(items); i += n {
		end := i + n
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[i:end])
	}
	return out
}

func kvMap(kvs []model.KV) map[string]string {
	m := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		m[kv.Key] = kv.Value
	}
	return m
}

func mapToKV(m map[string]string) []model.KV {
	if len(m) == 0 {
		return nil
	}
	out := make([]model.KV, 0, len(m))
	for k, v := range m {
		out = append(out, model.KV{Key: k, Value: v})
	}
	return out
}

// kvArrays splits an ordered []model.KV into parallel key/value arrays,
// preserving insertion order across the ClickHouse round trip. Span
// attributes use this instead of kvMap/mapToKV because the enricher derives
// embedding text from attribute order, and Go map iteration is randomized.
func kvArrays(kvs []model.KV) ([]string, []string) {
	keys := make([]string, len(kvs))
	values := make([]string, len(kvs))
	for i, kv := range kvs {
		keys[i] = kv.Key
		values[i] = kv.Value
	}
	return keys, values
}

// arraysToKV reassembles kvArrays' output back into ordered pairs.
func arraysToKV(keys, values []string) ([]model.KV, error) {
	if len(keys) != len(values) {
		return nil, fmt.Errorf("warehouse: span attribute key/value array length mismatch (%d keys, %d values)", len(keys), len(values))
	}
	if len(keys) == 0 {
		return nil, nil
	}
	out := make([]model.KV, len(keys))
	for i := range keys {
		out[i] = model.KV{Key: keys[i], Value: values[i]}
	}
	return out, nil
}

