package enricher

import (
	"testing"
	"time"

	"github.com/wessleyai/otelwarehouse/internal/model"
)

func TestBuildEmbeddingText_CoreFieldsOnly(t *testing.T) {
	sp := model.Span{
		ServiceName:   "checkout",
		SpanName:      "POST /cart",
		SpanKind:      model.SpanKindServer,
		StatusCode:    model.StatusCodeOK,
		DurationNanos: 1_500_000, // 1.5ms
	}
	got := BuildEmbeddingText(sp)
	want := "service=checkout span=POST /cart kind=SERVER status=OK duration=1.5ms"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestBuildEmbeddingText_MessageAndAttributesInOrder(t *testing.T) {
	sp := model.Span{
		ServiceName:   "checkout",
		SpanName:      "POST /cart",
		SpanKind:      model.SpanKindServer,
		StatusCode:    model.StatusCodeError,
		StatusMessage: "timeout",
		DurationNanos: 2_000_000,
		SpanAttributes: []model.KV{
			{Key: "http.method", Value: "POST"},
			{Key: "http.status_code", Value: "504"},
		},
	}
	got := BuildEmbeddingText(sp)
	want := "service=checkout span=POST /cart kind=SERVER status=ERROR duration=2.0ms message=timeout http.method=POST http.status_code=504"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestBuildEmbeddingText_Deterministic(t *testing.T) {
	sp := model.Span{
		Timestamp:     time.Now(),
		ServiceName:   "svc",
		SpanName:      "op",
		SpanKind:      model.SpanKindInternal,
		StatusCode:    model.StatusCodeUnset,
		DurationNanos: 999,
		SpanAttributes: []model.KV{
			{Key: "a", Value: "1"},
			{Key: "b", Value: "2"},
		},
	}
	first := BuildEmbeddingText(sp)
	second := BuildEmbeddingText(sp)
	if first != second {
		t.Fatalf("embedding text not deterministic: %q vs %q", first, second)
	}
}
