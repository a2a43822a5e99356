// Package enricher runs the single-consumer pipeline that turns newly loaded
// spans into embedding text and vectors, writing the enriched mirror table
// and advancing a monotonic (timestamp, span_id) watermark only after a
// cycle's writes succeed.
package enricher

import (
	"context"
	"log/slog"
	"time"

	"github.com/wessleyai/otelwarehouse/internal/config"
	"github.com/wessleyai/otelwarehouse/internal/embedder"
	"github.com/wessleyai/otelwarehouse/internal/errs"
	"github.com/wessleyai/otelwarehouse/internal/eventbus"
	"github.com/wessleyai/otelwarehouse/internal/model"
	"github.com/wessleyai/otelwarehouse/internal/vectorsink"
	"github.com/wessleyai/otelwarehouse/internal/warehouse"
	"github.com/wessleyai/otelwarehouse/pkg/metrics"
	"github.com/wessleyai/otelwarehouse/pkg/resilience"
)

// embedSubBatch caps how many texts go into a single EncodeBatch call, per
// the spec's memory-pacing requirement.
const embedSubBatch = 512

// prefetchDepth bounds how many cycles' worth of unprocessed spans the
// prefetcher may pull ahead of the compute stage.
const prefetchDepth = 2

// Enricher owns the warehouse, embedding client, and optional vector sink
// used to enrich spans.
type Enricher struct {
	WH      *warehouse.Warehouse
	Embed   embedder.Embedder
	Sink    *vectorsink.Sink // nil disables the optional Qdrant mirror
	Cfg     config.Enricher
	Log     *slog.Logger
	Bus     eventbus.Bus
	Reg     *metrics.Registry
	Breaker *resilience.Breaker
}

// New builds an Enricher. The embedding server call is wrapped in the same
// circuit breaker style the loader uses for object-store fetches, so a
// sustained outage sheds load instead of retrying every cycle immediately.
func New(wh *warehouse.Warehouse, embed embedder.Embedder, sink *vectorsink.Sink, cfg config.Enricher, log *slog.Logger, bus eventbus.Bus, reg *metrics.Registry) *Enricher {
	return &Enricher{
		WH:      wh,
		Embed:   embed,
		Sink:    sink,
		Cfg:     cfg,
		Log:     log,
		Bus:     bus,
		Reg:     reg,
		Breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
	}
}

// Run polls the warehouse for unprocessed spans and enriches them in
// batches until ctx is cancelled.
func (e *Enricher) Run(ctx context.Context) error {
	rowsCounter := e.Reg.Counter("enricher_rows_written_total", "rows written to the enriched mirror table")
	cyclesCounter := e.Reg.Counter("enricher_cycles_total", "completed enrichment cycles")

	prefetch := make(chan []model.Span, prefetchDepth)
	errc := make(chan error, 1)

	go e.prefetchLoop(ctx, prefetch, errc)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			return err
		case spans, ok := <-prefetch:
			if !ok {
				return nil
			}
			if len(spans) == 0 {
				continue
			}
			if err := e.runCycle(ctx, spans); err != nil {
				e.Log.Error("enrichment cycle failed, watermark not advanced", "err", err)
				continue
			}
			rowsCounter.Add(int64(len(spans)))
			cyclesCounter.Inc()
		}
	}
}

// prefetchLoop pulls unprocessed spans ahead of the compute stage, bounded
// by the prefetch channel's capacity so the consumer never falls more than
// prefetchDepth cycles behind.
func (e *Enricher) prefetchLoop(ctx context.Context, out chan<- []model.Span, errc chan<- error) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		wm, err := e.WH.EnricherWatermark(ctx)
		if err != nil {
			e.Log.Error("read enricher watermark failed", "err", err)
			if !sleepCtx(ctx, e.Cfg.PollInterval) {
				return
			}
			continue
		}

		spans, err := e.WH.NextSpansAfter(ctx, wm.LastTimestamp, wm.LastSpanID, e.Cfg.BatchSize)
		if err != nil {
			e.Log.Error("read next spans failed", "err", err)
			if !sleepCtx(ctx, e.Cfg.PollInterval) {
				return
			}
			continue
		}

		select {
		case out <- spans:
		case <-ctx.Done():
			return
		}

		if len(spans) == 0 {
			if !sleepCtx(ctx, e.Cfg.PollInterval) {
				return
			}
		}
	}
}

// runCycle encodes and writes one batch of spans, advancing the watermark
// only once every write has succeeded.
func (e *Enricher) runCycle(ctx context.Context, spans []model.Span) error {
	texts := make([]string, len(spans))
	for i, sp := range spans {
		texts[i] = BuildEmbeddingText(sp)
	}

	embeddings := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embedSubBatch {
		end := start + embedSubBatch
		if end > len(texts) {
			end = len(texts)
		}
		var sub [][]float32
		callErr := e.Breaker.Call(ctx, func(ctx context.Context) error {
			var innerErr error
			sub, innerErr = e.Embed.EncodeBatch(ctx, texts[start:end])
			return innerErr
		})
		if callErr != nil {
			return errs.Wrap(errs.ErrEnrich, "enricher.runCycle", callErr)
		}
		embeddings = append(embeddings, sub...)
	}

	enriched := make([]model.EnrichedSpan, len(spans))
	for i, sp := range spans {
		enriched[i] = model.EnrichedSpan{
			Timestamp:     sp.Timestamp,
			SpanID:        sp.SpanID,
			EmbeddingText: texts[i],
			Embedding:     embeddings[i],
		}
	}

	if err := e.WH.InsertEnrichedSpans(ctx, enriched); err != nil {
		return errs.Wrap(errs.ErrEnrich, "enricher.runCycle", err)
	}

	if e.Sink != nil {
		points := make([]vectorsink.Point, len(spans))
		for i, sp := range spans {
			points[i] = vectorsink.Point{
				SpanID:    sp.SpanID,
				Embedding: embeddings[i],
				Payload: map[string]any{
					"embedding_text": texts[i],
					"service_name":   sp.ServiceName,
					"span_name":      sp.SpanName,
					"timestamp":      sp.Timestamp.Unix(),
				},
			}
		}
		if err := e.Sink.Upsert(ctx, points); err != nil {
			// The vector mirror is best-effort; the warehouse write already
			// succeeded and the watermark still advances.
			e.Log.Warn("vector sink upsert failed", "err", err)
		}
	}

	last := spans[len(spans)-1]
	if err := e.WH.AdvanceEnricherWatermark(ctx, last.Timestamp, last.SpanID); err != nil {
		return errs.Wrap(errs.ErrEnrich, "enricher.runCycle", err)
	}

	eventbus.Publish(ctx, e.Bus, eventbus.SubjectWatermarkAdvance, eventbus.WatermarkAdvanced{
		LastTimestamp: last.Timestamp,
		LastSpanID:    last.SpanID,
		RowsWritten:   len(spans),
	})

	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
