// Package loader runs the three independent signal pipelines (traces, logs,
// metrics) that discover new OTLP files in object storage, decode them, and
// bulk-insert the rows into the warehouse with per-file watermarks.
package loader

import (
	"context"
	"log/slog"
	"time"

	"github.com/wessleyai/otelwarehouse/internal/config"
	"github.com/wessleyai/otelwarehouse/internal/errs"
	"github.com/wessleyai/otelwarehouse/internal/eventbus"
	"github.com/wessleyai/otelwarehouse/internal/model"
	"github.com/wessleyai/otelwarehouse/internal/otlp"
	"github.com/wessleyai/otelwarehouse/pkg/fn"
	"github.com/wessleyai/otelwarehouse/pkg/metrics"
	"github.com/wessleyai/otelwarehouse/pkg/resilience"
)

// objStore is the subset of *objectstore.Store the loader depends on.
type objStore interface {
	List(ctx context.Context, prefix string) ([]string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// sink is the subset of *warehouse.Warehouse the loader writes through,
// following the same narrow-interface-for-testability pattern as
// warehouse.Conn and sessionbuilder's source interface.
type sink interface {
	ProcessedFiles(ctx context.Context, signal model.SignalType) (map[string]bool, error)
	RecordFileWatermark(ctx context.Context, signal model.SignalType, wm model.FileWatermark) error
	InsertSpans(ctx context.Context, spans []model.Span, batchSize int) error
	InsertLogs(ctx context.Context, logs []model.LogRecord, batchSize int) error
	InsertMetrics(ctx context.Context, points []model.MetricPoint, batchSize int) error
}

// Loader owns the object-store and warehouse clients shared by all three
// signal pipelines. Each pipeline is single-writer per signal, per §9.
type Loader struct {
	Store   objStore
	WH      sink
	Cfg     config.Loader
	Log     *slog.Logger
	Bus     eventbus.Bus // may be nil; Publish no-ops on a nil bus
	Reg     *metrics.Registry
	Breaker *resilience.Breaker
	Limiter *resilience.Limiter
}

// New builds a Loader with default resilience settings.
func New(store objStore, wh sink, cfg config.Loader, log *slog.Logger, bus eventbus.Bus, reg *metrics.Registry) *Loader {
	return &Loader{
		Store:   store,
		WH:      wh,
		Cfg:     cfg,
		Log:     log,
		Bus:     bus,
		Reg:     reg,
		Breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
		Limiter: resilience.NewLimiter(resilience.LimiterOpts{Rate: 50, Burst: 50}),
	}
}

// Run starts the three signal pipelines concurrently and blocks until ctx is
// cancelled; each pipeline finishes its in-flight poll cycle before returning.
func (l *Loader) Run(ctx context.Context) error {
	done := make(chan error, 3)
	go func() { done <- runSignal(ctx, l, model.SignalTraces, l.Cfg.S3.TracesPrefix, decodeAndInsertTraces) }()
	go func() { done <- runSignal(ctx, l, model.SignalLogs, l.Cfg.S3.LogsPrefix, decodeAndInsertLogs) }()
	go func() { done <- runSignal(ctx, l, model.SignalMetrics, l.Cfg.S3.MetricsPrefix, decodeAndInsertMetrics) }()

	var firstErr error
	for i := 0; i < 3; i++ {
		if err := <-done; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// fileHandler decodes and inserts one downloaded file's bytes, returning the
// row count on success.
type fileHandler func(ctx context.Context, wh sink, data []byte, batchSize int) (uint64, error)

func decodeAndInsertTraces(ctx context.Context, wh sink, data []byte, batchSize int) (uint64, error) {
	spans, err := otlp.DecodeTraces(data)
	if err != nil {
		return 0, errs.Wrap(errs.ErrDecode, "loader.decodeAndInsertTraces", err)
	}
	if err := wh.InsertSpans(ctx, spans, batchSize); err != nil {
		return 0, err
	}
	return uint64(len(spans)), nil
}

func decodeAndInsertLogs(ctx context.Context, wh sink, data []byte, batchSize int) (uint64, error) {
	logs, err := otlp.DecodeLogs(data)
	if err != nil {
		return 0, errs.Wrap(errs.ErrDecode, "loader.decodeAndInsertLogs", err)
	}
	if err := wh.InsertLogs(ctx, logs, batchSize); err != nil {
		return 0, err
	}
	return uint64(len(logs)), nil
}

func decodeAndInsertMetrics(ctx context.Context, wh sink, data []byte, batchSize int) (uint64, error) {
	points, err := otlp.DecodeMetrics(data)
	if err != nil {
		return 0, errs.Wrap(errs.ErrDecode, "loader.decodeAndInsertMetrics", err)
	}
	if err := wh.InsertMetrics(ctx, points, batchSize); err != nil {
		return 0, err
	}
	return uint64(len(points)), nil
}

// runSignal is the per-signal poll loop: list, diff against the watermark,
// fan out downloader-parsers, sleep busy or idle, repeat until ctx is done.
func runSignal(ctx context.Context, l *Loader, signal model.SignalType, prefix string, handle fileHandler) error {
	log := l.Log.With("signal", string(signal))
	filesCounter := l.Reg.Counter(metrics.WithLabels("loader_files_processed_total", "signal", string(signal)), "files processed by the loader")
	rowsCounter := l.Reg.Counter(metrics.WithLabels("loader_rows_inserted_total", "signal", string(signal)), "rows inserted by the loader")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		processed, err := l.WH.ProcessedFiles(ctx, signal)
		if err != nil {
			log.Error("list watermark failed, retrying after idle interval", "err", err)
			if !sleepCtx(ctx, l.Cfg.PollIdle) {
				return nil
			}
			continue
		}

		allFiles, err := l.Store.List(ctx, prefix)
		if err != nil {
			log.Error("list objects failed, retrying after idle interval", "err", err)
			if !sleepCtx(ctx, l.Cfg.PollIdle) {
				return nil
			}
			continue
		}

		var newFiles []string
		for _, f := range allFiles {
			if !processed[f] {
				newFiles = append(newFiles, f)
			}
		}

		if len(newFiles) == 0 {
			if !sleepCtx(ctx, l.Cfg.PollIdle) {
				return nil
			}
			continue
		}

		results := fn.ParMap(newFiles, l.Cfg.MaxFileWorkers, func(key string) error {
			return processFile(ctx, l, signal, key, handle, filesCounter, rowsCounter, log)
		})
		for _, err := range results {
			if err != nil {
				log.Warn("file processing reported failure (already recorded)", "err", err)
			}
		}

		if !sleepCtx(ctx, l.Cfg.PollBusy) {
			return nil
		}
	}
}

// processFile downloads, decodes, and inserts one file, recording a done or
// failed watermark entry. A per-file error is captured in the watermark and
// also returned; runSignal only logs it, and the file is not retried.
func processFile(ctx context.Context, l *Loader, signal model.SignalType, key string, handle fileHandler,
	filesCounter *metrics.Counter, rowsCounter *metrics.Counter, log *slog.Logger) error {

	var data []byte
	err := l.Limiter.Wait(ctx)
	if err == nil {
		err = l.Breaker.Call(ctx, func(ctx context.Context) error {
			var innerErr error
			data, innerErr = l.Store.Get(ctx, key)
			return innerErr
		})
	}

	var rowCount uint64
	if err == nil {
		rowCount, err = handle(ctx, l.WH, data, l.Cfg.BatchSize)
	}

	wm := model.FileWatermark{
		Filename:    key,
		ProcessedAt: time.Now().UTC(),
		RowCount:    rowCount,
	}
	if err != nil {
		wm.Status = model.FileStatusFailed
		wm.ErrorMessage = err.Error()
		log.Error("file failed", "file", key, "err", err)
	} else {
		wm.Status = model.FileStatusDone
		filesCounter.Inc()
		rowsCounter.Add(int64(rowCount))
	}

	if wmErr := l.WH.RecordFileWatermark(ctx, signal, wm); wmErr != nil {
		log.Error("failed to record watermark", "file", key, "err", wmErr)
		return wmErr
	}

	eventbus.Publish(ctx, l.Bus, eventbus.SubjectFileProcessed, eventbus.FileProcessed{
		Signal: string(signal), Filename: key, Status: string(wm.Status), RowCount: rowCount,
	})

	return err
}

// sleepCtx sleeps for d or returns false early if ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
