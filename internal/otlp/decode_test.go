package otlp

import (
	"testing"
)

// Trace/span ids are protobuf bytes fields, so their canonical JSON form is
// base64: traceId "qqqq...g==" is 16 bytes of 0xaa (hex aaaa...aaaa), spanId
// "u7u7...s=" is 8 bytes of 0xbb (hex bbbb...bbbb), and so on.
const traceEnvelope = `{
  "resourceSpans": [{
    "resource": {"attributes": [{"key": "service.name", "value": {"stringValue": "auth-service"}}]},
    "scopeSpans": [{
      "scope": {"name": "test-scope", "version": "1.0"},
      "spans": [
        {
          "traceId": "qqqqqqqqqqqqqqqqqqqqqg==",
          "spanId": "u7u7u7u7u7s=",
          "name": "verify_jwt",
          "kind": "SPAN_KIND_INTERNAL",
          "startTimeUnixNano": "1000000000",
          "endTimeUnixNano": "1001500000",
          "status": {"code": "STATUS_CODE_OK"},
          "attributes": [{"key": "user.id", "value": {"stringValue": "u1"}}]
        },
        {
          "traceId": "qqqqqqqqqqqqqqqqqqqqqg==",
          "spanId": "zMzMzMzMzMw=",
          "name": "check_scope",
          "kind": "SPAN_KIND_INTERNAL",
          "startTimeUnixNano": "1000000000",
          "endTimeUnixNano": "1000500000"
        },
        {
          "traceId": "qqqqqqqqqqqqqqqqqqqqqg==",
          "spanId": "3d3d3d3d3d0=",
          "name": "root",
          "kind": "SPAN_KIND_SERVER",
          "startTimeUnixNano": "999000000",
          "endTimeUnixNano": "1002000000"
        }
      ]
    }]
  }]
}`

func TestDecodeTraces_SingleFileRoundtrip(t *testing.T) {
	spans, err := DecodeTraces([]byte(traceEnvelope))
	if err != nil {
		t.Fatalf("DecodeTraces: %v", err)
	}
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(spans))
	}
	for _, sp := range spans {
		if sp.TraceID != "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa" {
			t.Errorf("TraceID = %q, want all-aa hex", sp.TraceID)
		}
	}
}

func TestDecodeTraces_FieldsAndDuration(t *testing.T) {
	spans, err := DecodeTraces([]byte(traceEnvelope))
	if err != nil {
		t.Fatalf("DecodeTraces: %v", err)
	}
	first := spans[0]
	if first.ServiceName != "auth-service" {
		t.Errorf("ServiceName = %q, want auth-service", first.ServiceName)
	}
	if first.SpanName != "verify_jwt" {
		t.Errorf("SpanName = %q, want verify_jwt", first.SpanName)
	}
	if first.SpanKind != "INTERNAL" {
		t.Errorf("SpanKind = %q, want INTERNAL", first.SpanKind)
	}
	if first.StatusCode != "OK" {
		t.Errorf("StatusCode = %q, want OK", first.StatusCode)
	}
	if first.DurationNanos != 1_500_000 {
		t.Errorf("DurationNanos = %d, want 1500000", first.DurationNanos)
	}
	if len(first.SpanAttributes) != 1 || first.SpanAttributes[0].Key != "user.id" || first.SpanAttributes[0].Value != "u1" {
		t.Errorf("SpanAttributes = %+v", first.SpanAttributes)
	}

	second := spans[1]
	if second.StatusCode != "UNSET" {
		t.Errorf("unset-status span StatusCode = %q, want UNSET", second.StatusCode)
	}

	third := spans[2]
	if third.ParentSpanID != "" {
		t.Errorf("root span ParentSpanID = %q, want empty", third.ParentSpanID)
	}
	if third.SpanKind != "SERVER" {
		t.Errorf("SpanKind = %q, want SERVER", third.SpanKind)
	}
}

func TestDecodeTraces_EmptyEnvelope(t *testing.T) {
	spans, err := DecodeTraces([]byte(`{}`))
	if err != nil {
		t.Fatalf("DecodeTraces on empty envelope: %v", err)
	}
	if len(spans) != 0 {
		t.Fatalf("expected 0 spans, got %d", len(spans))
	}
}

func TestDecodeLogs_SeverityTextDerivedFromNumber(t *testing.T) {
	envelope := `{
	  "resourceLogs": [{
	    "resource": {"attributes": [{"key": "service.name", "value": {"stringValue": "checkout"}}]},
	    "scopeLogs": [{
	      "logRecords": [
	        {"timeUnixNano": "1000000000", "severityNumber": "SEVERITY_NUMBER_WARN", "body": {"stringValue": "low stock"}}
	      ]
	    }]
	  }]
	}`
	logs, err := DecodeLogs([]byte(envelope))
	if err != nil {
		t.Fatalf("DecodeLogs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 log, got %d", len(logs))
	}
	if logs[0].SeverityText != "WARN" {
		t.Errorf("SeverityText = %q, want WARN", logs[0].SeverityText)
	}
	if logs[0].ServiceName != "checkout" {
		t.Errorf("ServiceName = %q, want checkout", logs[0].ServiceName)
	}
}

func TestDecodeMetrics_HistogramUsesSum(t *testing.T) {
	envelope := `{
	  "resourceMetrics": [{
	    "resource": {"attributes": [{"key": "service.name", "value": {"stringValue": "billing"}}]},
	    "scopeMetrics": [{
	      "metrics": [{
	        "name": "request_latency",
	        "unit": "ms",
	        "histogram": {
	          "dataPoints": [{"timeUnixNano": "1000000000", "count": "4", "sum": 12.5}]
	        }
	      }]
	    }]
	  }]
	}`
	points, err := DecodeMetrics([]byte(envelope))
	if err != nil {
		t.Fatalf("DecodeMetrics: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("expected 1 point, got %d", len(points))
	}
	if points[0].MetricType != "histogram" {
		t.Errorf("MetricType = %q, want histogram", points[0].MetricType)
	}
	if points[0].Value != 12.5 {
		t.Errorf("Value = %v, want 12.5", points[0].Value)
	}
}

func TestSeverityText_UnspecifiedOutOfRange(t *testing.T) {
	if got := severityText(0); got != "UNSPECIFIED" {
		t.Errorf("severityText(0) = %q, want UNSPECIFIED", got)
	}
	if got := severityText(99); got != "UNSPECIFIED" {
		t.Errorf("severityText(99) = %q, want UNSPECIFIED", got)
	}
}
