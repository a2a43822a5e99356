// Command enricher runs the embedding enrichment pipeline until interrupted.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"

	"github.com/wessleyai/otelwarehouse/internal/config"
	"github.com/wessleyai/otelwarehouse/internal/embedder"
	"github.com/wessleyai/otelwarehouse/internal/enricher"
	"github.com/wessleyai/otelwarehouse/internal/eventbus"
	"github.com/wessleyai/otelwarehouse/internal/vectorsink"
	"github.com/wessleyai/otelwarehouse/internal/warehouse"
	"github.com/wessleyai/otelwarehouse/pkg/metrics"
	"github.com/wessleyai/otelwarehouse/pkg/mid"
)

var met = metrics.New()

// embeddingDims is the vector width produced by the configured model and the
// dimension the optional Qdrant collection is created with.
const embeddingDims = 768

func main() {
	log := slog.Default()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.LoadEnricher()
	if err != nil {
		log.Error("config load failed", "error", err)
		os.Exit(1)
	}

	wh, err := warehouse.Open(cfg.ClickHouse)
	if err != nil {
		log.Error("warehouse connect failed", "error", err)
		os.Exit(1)
	}
	if err := wh.Migrate(ctx); err != nil {
		log.Error("warehouse migrate failed", "error", err)
		os.Exit(1)
	}

	embed := embedder.NewHTTPClient(cfg.EmbedURL, cfg.ModelName)
	log.Info("using embedding server", "url", cfg.EmbedURL, "model", cfg.ModelName)

	var sink *vectorsink.Sink
	if cfg.VectorSink == "qdrant" {
		sink, err = vectorsink.New(cfg.QdrantAddr, "otel_spans")
		if err != nil {
			log.Error("qdrant connect failed", "error", err)
			os.Exit(1)
		}
		defer sink.Close()
		if err := sink.EnsureCollection(ctx, embeddingDims); err != nil {
			log.Error("qdrant ensure collection failed", "error", err)
			os.Exit(1)
		}
		log.Info("mirroring enriched spans to qdrant", "addr", cfg.QdrantAddr)
	}

	bus, err := eventbus.Connect(os.Getenv("NATS_URL"))
	if err != nil {
		log.Warn("event bus connect failed, continuing without it", "error", err)
		bus = nil
	}

	serveOperationalHTTP(log, ":9101")

	e := enricher.New(wh, embed, sink, cfg, log, bus, met)
	if err := e.Run(ctx); err != nil {
		log.Error("enricher exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("enricher shut down cleanly")
}

func serveOperationalHTTP(log *slog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", met.Handler())
	handler := mid.Chain(mux, mid.Recover(log), mid.Logger(log))

	go func() {
		if err := http.ListenAndServe(addr, handler); err != nil {
			log.Error("operational HTTP server exited", "error", err)
		}
	}()
}
