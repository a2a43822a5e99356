package vectorsink

// Point is a single enriched span queued for the optional Qdrant sink.
type Point struct {
	SpanID    string
	Embedding []float32
	Payload   map[string]any // embedding_text, service_name, span_name, timestamp
}
