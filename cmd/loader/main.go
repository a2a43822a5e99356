// Command loader runs the three OTLP-to-warehouse signal pipelines until
// interrupted.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/wessleyai/otelwarehouse/internal/config"
	"github.com/wessleyai/otelwarehouse/internal/eventbus"
	"github.com/wessleyai/otelwarehouse/internal/loader"
	"github.com/wessleyai/otelwarehouse/internal/objectstore"
	"github.com/wessleyai/otelwarehouse/internal/warehouse"
	"github.com/wessleyai/otelwarehouse/pkg/metrics"
	"github.com/wessleyai/otelwarehouse/pkg/mid"

	"net/http"
)

var met = metrics.New()

func main() {
	log := slog.Default()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.LoadLoader()
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
	log.Info("connected to warehouse", "addr", cfg.ClickHouse.Addr())

	store, err := objectstore.Open(ctx, cfg.S3)
	if err != nil {
		log.Error("object store connect failed", "error", err)
		os.Exit(1)
	}
	log.Info("connected to object store", "endpoint", cfg.S3.Endpoint, "bucket", cfg.S3.Bucket)

	bus, err := eventbus.Connect(os.Getenv("NATS_URL"))
	if err != nil {
		log.Warn("event bus connect failed, continuing without it", "error", err)
		bus = nil
	}

	serveOperationalHTTP(log, ":9100")

	l := loader.New(store, wh, cfg, log, bus, met)
	if err := l.Run(ctx); err != nil {
		log.Error("loader exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("loader shut down cleanly")
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
