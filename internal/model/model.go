// Package model defines the closed record types shared by the loader,
// enricher, and session builder: spans, logs, metric points, and their
// enriched/watermark counterparts.
package model

import "time"

// KV is an ordered attribute key/value pair. A plain map[string]string would
// lose the insertion order that the embedding text construction depends on,
// so attributes travel as a slice instead.
type KV struct {
	Key   string
	Value string
}

// SpanKind mirrors the OTLP span kind enumeration. Unknown values decode to SpanKindUnspecified.
type SpanKind string

const (
	SpanKindUnspecified SpanKind = "UNSPECIFIED"
	SpanKindInternal    SpanKind = "INTERNAL"
	SpanKindServer      SpanKind = "SERVER"
	SpanKindClient      SpanKind = "CLIENT"
	SpanKindProducer    SpanKind = "PRODUCER"
	SpanKindConsumer    SpanKind = "CONSUMER"
)

// StatusCode mirrors the OTLP span status code enumeration.
type StatusCode string

const (
	StatusCodeUnset StatusCode = "UNSET"
	StatusCodeOK    StatusCode = "OK"
	StatusCodeError StatusCode = "ERROR"
)

// Event is a timestamped annotation attached to a span, in payload order.
type Event struct {
	Timestamp  time.Time
	Name       string
	Attributes []KV
}

// Link references another span, in payload order.
type Link struct {
	TraceID    string
	SpanID     string
	Attributes []KV
}

// Span is the normalized row shape for otel_traces. Identity is (Timestamp, SpanID).
type Span struct {
	Timestamp           time.Time
	TraceID             string
	SpanID              string
	ParentSpanID        string
	ServiceName         string
	SpanName            string
	SpanKind            SpanKind
	DurationNanos       uint64
	StatusCode          StatusCode
	StatusMessage       string
	ResourceAttributes  []KV
	SpanAttributes      []KV
	ScopeName           string
	ScopeVersion        string
	Events              []Event
	Links               []Link
}

// LogRecord is the normalized row shape for otel_logs.
type LogRecord struct {
	Timestamp          time.Time
	TraceID            string
	SpanID             string
	SeverityNumber     int
	SeverityText       string
	Body               string
	ServiceName        string
	ResourceAttributes []KV
	LogAttributes      []KV
}

// MetricType mirrors the OTLP metric point type.
type MetricType string

const (
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeSum       MetricType = "sum"
	MetricTypeHistogram MetricType = "histogram"
	MetricTypeSummary   MetricType = "summary"
)

// MetricPoint is the normalized row shape for otel_metrics. Histogram and
// summary points flatten to their sum as Value.
type MetricPoint struct {
	Timestamp          time.Time
	MetricName         string
	Description        string
	Unit               string
	MetricType         MetricType
	Value              float64
	ServiceName        string
	ResourceAttributes []KV
	MetricAttributes   []KV
}

// EnrichedSpan is a span plus its derived text and embedding vector.
// Identity matches the underlying span (Timestamp, SpanID).
type EnrichedSpan struct {
	Timestamp     time.Time
	SpanID        string
	EmbeddingText string
	Embedding     []float32
}

// FileWatermarkStatus is the terminal state recorded for a processed file.
type FileWatermarkStatus string

const (
	FileStatusDone   FileWatermarkStatus = "done"
	FileStatusFailed FileWatermarkStatus = "failed"
)

// FileWatermark records that a file has been attempted, successfully or not.
// Identity is Filename; latest ProcessedAt wins.
type FileWatermark struct {
	Filename     string
	Status       FileWatermarkStatus
	ProcessedAt  time.Time
	RowCount     uint64
	ErrorMessage string
}

// EnrichWatermark is the single global progress marker for the enricher,
// read with latest-wins semantics under WatermarkKey="global".
type EnrichWatermark struct {
	WatermarkKey  string
	LastTimestamp time.Time
	LastSpanID    string
	UpdatedAt     time.Time
}

// Before reports whether (ts, spanID) is strictly less than the watermark
// under lexicographic order, matching the enricher's progression predicate.
func (w EnrichWatermark) Before(ts time.Time, spanID string) bool {
	if ts.Before(w.LastTimestamp) {
		return true
	}
	if ts.After(w.LastTimestamp) {
		return false
	}
	return spanID < w.LastSpanID
}

// SessionStatus is the session descriptor's lifecycle state.
type SessionStatus string

const (
	SessionStatusBuilding SessionStatus = "building"
	SessionStatusReady    SessionStatus = "ready"
	SessionStatusError    SessionStatus = "error"
)

// SignalType is one of the three telemetry kinds a session can filter on.
type SignalType string

const (
	SignalTraces  SignalType = "traces"
	SignalLogs    SignalType = "logs"
	SignalMetrics SignalType = "metrics"
)

// Column describes one column of a materialized session table.
type Column struct {
	Name string
	Type string
}

// TableManifest describes one table inside a session manifest.
type TableManifest struct {
	RowCount   uint64
	Columns    []Column
	SampleRows [][]any
}

// Manifest maps table name to its description. Built once at SessionStatusReady.
type Manifest map[string]TableManifest

// Counts maps signal type to the number of rows materialized for it.
type Counts map[SignalType]uint64

// SessionRequest is the input to a session build.
type SessionRequest struct {
	Services    []string
	SignalTypes []SignalType
	Start       time.Time
	End         time.Time
}

// SessionDescriptor is the registry's record of one session's lifecycle.
type SessionDescriptor struct {
	ID           string
	Owner        string
	Status       SessionStatus
	Services     []string
	SignalTypes  []SignalType
	Start        time.Time
	End          time.Time
	CreatedAt    time.Time
	Manifest     Manifest
	Counts       Counts
	ErrorMessage string
}
