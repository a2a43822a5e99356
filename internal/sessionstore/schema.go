package sessionstore

// tableDDL holds the CREATE TABLE statement for each signal's session-local
// mirror table. Types are SQLite's dynamic affinities, not ClickHouse's.
// Attribute maps, events, and links carry over as JSON-encoded TEXT columns
// rather than the warehouse's Map/Array column types, which SQLite has no
// equivalent for; this keeps the session table's column set a superset match
// for the warehouse's otel_traces/otel_logs/otel_metrics rather than a
// reduction of it.
var tableDDL = map[string]string{
	"otel_traces": `CREATE TABLE IF NOT EXISTS otel_traces (
		timestamp TEXT NOT NULL,
		trace_id TEXT NOT NULL,
		span_id TEXT NOT NULL,
		parent_span_id TEXT,
		service_name TEXT NOT NULL,
		span_name TEXT NOT NULL,
		span_kind TEXT NOT NULL,
		duration_nanos INTEGER NOT NULL,
		status_code TEXT NOT NULL,
		status_message TEXT,
		resource_attributes TEXT,
		span_attributes TEXT,
		scope_name TEXT,
		scope_version TEXT,
		events TEXT,
		links TEXT
	)`,
	"otel_logs": `CREATE TABLE IF NOT EXISTS otel_logs (
		timestamp TEXT NOT NULL,
		trace_id TEXT,
		span_id TEXT,
		severity_number INTEGER,
		severity_text TEXT,
		body TEXT,
		service_name TEXT NOT NULL,
		resource_attributes TEXT,
		log_attributes TEXT
	)`,
	"otel_metrics": `CREATE TABLE IF NOT EXISTS otel_metrics (
		timestamp TEXT NOT NULL,
		metric_name TEXT NOT NULL,
		description TEXT,
		unit TEXT,
		metric_type TEXT NOT NULL,
		value REAL NOT NULL,
		service_name TEXT NOT NULL,
		resource_attributes TEXT,
		metric_attributes TEXT
	)`,
}
