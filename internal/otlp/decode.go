// Package otlp decodes OTLP protobuf-in-JSON envelopes (one Export*ServiceRequest
// per object-store file) into the warehouse's normalized row shapes.
package otlp

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"

	collectorlogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	collectormetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	collectortracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"

	"github.com/wessleyai/otelwarehouse/internal/model"
)

// unmarshalOpts tolerates both the idiomatic JSON field-name form and the
// numeric-enum rendering some exporters emit, and ignores fields from newer
// collector versions instead of failing the whole file on them.
var unmarshalOpts = protojson.UnmarshalOptions{DiscardUnknown: true}

// resourceServiceName extracts the "service.name" resource attribute, or ""
// when absent.
func resourceServiceName(kvs []model.KV) string {
	for _, kv := range kvs {
		if kv.Key == "service.name" {
			return kv.Value
		}
	}
	return ""
}

// DecodeTraces decodes one ExportTraceServiceRequest JSON payload into spans.
func DecodeTraces(data []byte) ([]model.Span, error) {
	var req collectortracepb.ExportTraceServiceRequest
	if err := unmarshalOpts.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("otlp: unmarshal trace envelope: %w", err)
	}

	var out []model.Span
	for _, rs := range req.GetResourceSpans() {
		resAttrs := kvSlice(rs.GetResource().GetAttributes())
		svc := resourceServiceName(resAttrs)
		for _, ss := range rs.GetScopeSpans() {
			scopeName := ss.GetScope().GetName()
			scopeVersion := ss.GetScope().GetVersion()
			for _, sp := range ss.GetSpans() {
				out = append(out, decodeSpan(sp, svc, resAttrs, scopeName, scopeVersion))
			}
		}
	}
	return out, nil
}

func decodeSpan(sp *tracepb.Span, svc string, resAttrs []model.KV, scopeName, scopeVersion string) model.Span {
	start := sp.GetStartTimeUnixNano()
	end := sp.GetEndTimeUnixNano()
	var duration uint64
	if end > start {
		duration = end - start
	}

	events := make([]model.Event, 0, len(sp.GetEvents()))
	for _, ev := range sp.GetEvents() {
		events = append(events, model.Event{
			Timestamp:  time.Unix(0, int64(ev.GetTimeUnixNano())).UTC(),
			Name:       ev.GetName(),
			Attributes: kvSlice(ev.GetAttributes()),
		})
	}

	links := make([]model.Link, 0, len(sp.GetLinks()))
	for _, l := range sp.GetLinks() {
		links = append(links, model.Link{
			TraceID:    toHex(l.GetTraceId()),
			SpanID:     toHex(l.GetSpanId()),
			Attributes: kvSlice(l.GetAttributes()),
		})
	}

	return model.Span{
		Timestamp:          time.Unix(0, int64(start)).UTC(),
		TraceID:            toHex(sp.GetTraceId()),
		SpanID:             toHex(sp.GetSpanId()),
		ParentSpanID:       toHex(sp.GetParentSpanId()),
		ServiceName:        svc,
		SpanName:           sp.GetName(),
		SpanKind:           decodeSpanKind(sp.GetKind()),
		DurationNanos:      duration,
		StatusCode:         decodeStatusCode(sp.GetStatus().GetCode()),
		StatusMessage:      sp.GetStatus().GetMessage(),
		ResourceAttributes: resAttrs,
		SpanAttributes:     kvSlice(sp.GetAttributes()),
		ScopeName:          scopeName,
		ScopeVersion:       scopeVersion,
		Events:             events,
		Links:              links,
	}
}

func decodeSpanKind(k tracepb.Span_SpanKind) model.SpanKind {
	switch k {
	case tracepb.Span_SPAN_KIND_INTERNAL:
		return model.SpanKindInternal
	case tracepb.Span_SPAN_KIND_SERVER:
		return model.SpanKindServer
	case tracepb.Span_SPAN_KIND_CLIENT:
		return model.SpanKindClient
	case tracepb.Span_SPAN_KIND_PRODUCER:
		return model.SpanKindProducer
	case tracepb.Span_SPAN_KIND_CONSUMER:
		return model.SpanKindConsumer
	default:
		return model.SpanKindUnspecified
	}
}

func decodeStatusCode(c tracepb.Status_StatusCode) model.StatusCode {
	switch c {
	case tracepb.Status_STATUS_CODE_OK:
		return model.StatusCodeOK
	case tracepb.Status_STATUS_CODE_ERROR:
		return model.StatusCodeError
	default:
		return model.StatusCodeUnset
	}
}

// DecodeLogs decodes one ExportLogsServiceRequest JSON payload into log records.
func DecodeLogs(data []byte) ([]model.LogRecord, error) {
	var req collectorlogspb.ExportLogsServiceRequest
	if err := unmarshalOpts.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("otlp: unmarshal logs envelope: %w", err)
	}

	var out []model.LogRecord
	for _, rl := range req.GetResourceLogs() {
		resAttrs := kvSlice(rl.GetResource().GetAttributes())
		svc := resourceServiceName(resAttrs)
		for _, sl := range rl.GetScopeLogs() {
			for _, lr := range sl.GetLogRecords() {
				out = append(out, decodeLogRecord(lr, svc, resAttrs))
			}
		}
	}
	return out, nil
}

func decodeLogRecord(lr *logspb.LogRecord, svc string, resAttrs []model.KV) model.LogRecord {
	sevNum := int(lr.GetSeverityNumber())
	sevText := lr.GetSeverityText()
	if sevText == "" {
		sevText = severityText(sevNum)
	}
	return model.LogRecord{
		Timestamp:          time.Unix(0, int64(lr.GetTimeUnixNano())).UTC(),
		TraceID:            toHex(lr.GetTraceId()),
		SpanID:             toHex(lr.GetSpanId()),
		SeverityNumber:     sevNum,
		SeverityText:       sevText,
		Body:               anyValueToString(lr.GetBody()),
		ServiceName:        svc,
		ResourceAttributes: resAttrs,
		LogAttributes:      kvSlice(lr.GetAttributes()),
	}
}

var severityNames = [...]string{
	0: "UNSPECIFIED",
	1: "TRACE", 2: "TRACE2", 3: "TRACE3", 4: "TRACE4",
	5: "DEBUG", 6: "DEBUG2", 7: "DEBUG3", 8: "DEBUG4",
	9: "INFO", 10: "INFO2", 11: "INFO3", 12: "INFO4",
	13: "WARN", 14: "WARN2", 15: "WARN3", 16: "WARN4",
	17: "ERROR", 18: "ERROR2", 19: "ERROR3", 20: "ERROR4",
	21: "FATAL", 22: "FATAL2", 23: "FATAL3", 24: "FATAL4",
}

// severityText maps a severity number to its canonical text. Number 0 (and
// anything out of the defined 1..24 range) maps to UNSPECIFIED.
func severityText(n int) string {
	if n < 0 || n >= len(severityNames) {
		return "UNSPECIFIED"
	}
	return severityNames[n]
}

// DecodeMetrics decodes one ExportMetricsServiceRequest JSON payload into metric points.
func DecodeMetrics(data []byte) ([]model.MetricPoint, error) {
	var req collectormetricspb.ExportMetricsServiceRequest
	if err := unmarshalOpts.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("otlp: unmarshal metrics envelope: %w", err)
	}

	var out []model.MetricPoint
	for _, rm := range req.GetResourceMetrics() {
		resAttrs := kvSlice(rm.GetResource().GetAttributes())
		svc := resourceServiceName(resAttrs)
		for _, sm := range rm.GetScopeMetrics() {
			for _, m := range sm.GetMetrics() {
				out = append(out, decodeMetric(m, svc, resAttrs)...)
			}
		}
	}
	return out, nil
}

func decodeMetric(m *metricspb.Metric, svc string, resAttrs []model.KV) []model.MetricPoint {
	base := model.MetricPoint{
		MetricName:         m.GetName(),
		Description:        m.GetDescription(),
		Unit:               m.GetUnit(),
		ServiceName:        svc,
		ResourceAttributes: resAttrs,
	}

	switch data := m.GetData().(type) {
	case *metricspb.Metric_Gauge:
		return numberPoints(data.Gauge.GetDataPoints(), base, model.MetricTypeGauge)
	case *metricspb.Metric_Sum:
		return numberPoints(data.Sum.GetDataPoints(), base, model.MetricTypeSum)
	case *metricspb.Metric_Histogram:
		out := make([]model.MetricPoint, 0, len(data.Histogram.GetDataPoints()))
		for _, dp := range data.Histogram.GetDataPoints() {
			p := base
			p.MetricType = model.MetricTypeHistogram
			p.Value = dp.GetSum()
			p.Timestamp = tsOrEpoch(dp.GetTimeUnixNano())
			p.MetricAttributes = kvSlice(dp.GetAttributes())
			out = append(out, p)
		}
		return out
	case *metricspb.Metric_Summary:
		out := make([]model.MetricPoint, 0, len(data.Summary.GetDataPoints()))
		for _, dp := range data.Summary.GetDataPoints() {
			p := base
			p.MetricType = model.MetricTypeSummary
			p.Value = dp.GetSum()
			p.Timestamp = tsOrEpoch(dp.GetTimeUnixNano())
			p.MetricAttributes = kvSlice(dp.GetAttributes())
			out = append(out, p)
		}
		return out
	default:
		return nil
	}
}

func numberPoints(dps []*metricspb.NumberDataPoint, base model.MetricPoint, typ model.MetricType) []model.MetricPoint {
	out := make([]model.MetricPoint, 0, len(dps))
	for _, dp := range dps {
		p := base
		p.MetricType = typ
		p.Timestamp = tsOrEpoch(dp.GetTimeUnixNano())
		p.MetricAttributes = kvSlice(dp.GetAttributes())
		switch v := dp.GetValue().(type) {
		case *metricspb.NumberDataPoint_AsDouble:
			p.Value = v.AsDouble
		case *metricspb.NumberDataPoint_AsInt:
			p.Value = float64(v.AsInt)
		}
		out = append(out, p)
	}
	return out
}

func tsOrEpoch(nanos uint64) time.Time {
	if nanos == 0 {
		return time.Unix(0, 0).UTC()
	}
	return time.Unix(0, int64(nanos)).UTC()
}
