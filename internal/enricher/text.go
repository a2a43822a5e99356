package enricher

import (
	"fmt"
	"strings"

	"github.com/wessleyai/otelwarehouse/internal/model"
)

// BuildEmbeddingText constructs the deterministic text an embedding is
// derived from. It is a pure function of the span's core fields plus its
// attributes in decode order, so re-processing the same span always yields
// the same text.
func BuildEmbeddingText(sp model.Span) string {
	var b strings.Builder
	fmt.Fprintf(&b, "service=%s span=%s kind=%s status=%s duration=%.1fms",
		sp.ServiceName, sp.SpanName, sp.SpanKind, sp.StatusCode, float64(sp.DurationNanos)/1e6)

	if sp.StatusMessage != "" {
		fmt.Fprintf(&b, " message=%s", sp.StatusMessage)
	}

	for _, kv := range sp.SpanAttributes {
		fmt.Fprintf(&b, " %s=%s", kv.Key, kv.Value)
	}

	return b.String()
}
