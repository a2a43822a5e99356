package loader

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/wessleyai/otelwarehouse/internal/config"
	"github.com/wessleyai/otelwarehouse/internal/errs"
	"github.com/wessleyai/otelwarehouse/internal/model"
	"github.com/wessleyai/otelwarehouse/pkg/metrics"
	"github.com/wessleyai/otelwarehouse/pkg/resilience"
)

type fakeObjStore struct {
	files map[string][]byte
}

func (f *fakeObjStore) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	for k := range f.files {
		out = append(out, k)
	}
	return out, nil
}

func (f *fakeObjStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, ok := f.files[key]
	if !ok {
		return nil, errs.Wrap(errs.ErrTransient, "fakeObjStore.Get", context.DeadlineExceeded)
	}
	return data, nil
}

type fakeSink struct {
	mu        sync.Mutex
	processed map[string]bool
	watermarks []model.FileWatermark
	spanRows  int
}

func newFakeSink() *fakeSink {
	return &fakeSink{processed: make(map[string]bool)}
}

func (f *fakeSink) ProcessedFiles(ctx context.Context, signal model.SignalType) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]bool, len(f.processed))
	for k, v := range f.processed {
		out[k] = v
	}
	return out, nil
}

func (f *fakeSink) RecordFileWatermark(ctx context.Context, signal model.SignalType, wm model.FileWatermark) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watermarks = append(f.watermarks, wm)
	// Any recorded status counts as processed, as in warehouse.ProcessedFiles.
	f.processed[wm.Filename] = true
	return nil
}

func (f *fakeSink) InsertSpans(ctx context.Context, spans []model.Span, batchSize int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spanRows += len(spans)
	return nil
}

func (f *fakeSink) InsertLogs(ctx context.Context, logs []model.LogRecord, batchSize int) error {
	return nil
}

func (f *fakeSink) InsertMetrics(ctx context.Context, points []model.MetricPoint, batchSize int) error {
	return nil
}

// traceEnvelope is a minimal OTLP JSON export of a single span, used to
// exercise the loader's download-decode-insert path without a live object
// store or warehouse.
const traceEnvelope = `{
  "resourceSpans": [{
    "resource": {"attributes": [{"key": "service.name", "value": {"stringValue": "checkout"}}]},
    "scopeSpans": [{
      "scope": {"name": "test-scope", "version": "1.0"},
      "spans": [
        {
          "traceId": "qqqqqqqqqqqqqqqqqqqqqg==",
          "spanId": "u7u7u7u7u7s=",
          "name": "op",
          "kind": "SPAN_KIND_SERVER",
          "startTimeUnixNano": "1000000000",
          "endTimeUnixNano": "1001500000",
          "status": {"code": "STATUS_CODE_OK"}
        }
      ]
    }]
  }]
}`

func encodedTraceFile(t *testing.T) []byte {
	t.Helper()
	return []byte(traceEnvelope)
}

func newTestLoader(store objStore, wh sink) *Loader {
	return &Loader{
		Store: store,
		WH:    wh,
		Cfg: config.Loader{
			BatchSize:      100,
			MaxFileWorkers: 2,
			PollBusy:       time.Millisecond,
			PollIdle:       time.Millisecond,
		},
		Log:     slog.Default(),
		Reg:     metrics.New(),
		Breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
		Limiter: resilience.NewLimiter(resilience.LimiterOpts{Rate: 50, Burst: 50}),
	}
}

func TestProcessFile_SuccessRecordsDoneWatermark(t *testing.T) {
	store := &fakeObjStore{files: map[string][]byte{"traces/a.json": encodedTraceFile(t)}}
	wh := newFakeSink()
	l := newTestLoader(store, wh)

	log := slog.Default()
	filesCounter := l.Reg.Counter("test_files_total", "test")
	rowsCounter := l.Reg.Counter("test_rows_total", "test")

	err := processFile(context.Background(), l, model.SignalTraces, "traces/a.json", decodeAndInsertTraces, filesCounter, rowsCounter, log)
	if err != nil {
		t.Fatalf("processFile: %v", err)
	}

	if wh.spanRows != 1 {
		t.Fatalf("expected 1 span row inserted, got %d", wh.spanRows)
	}
	if len(wh.watermarks) != 1 || wh.watermarks[0].Status != model.FileStatusDone {
		t.Fatalf("expected a done watermark, got %v", wh.watermarks)
	}
}

func TestProcessFile_DownloadFailureRecordsFailedWatermarkNotRetried(t *testing.T) {
	store := &fakeObjStore{files: map[string][]byte{}}
	wh := newFakeSink()
	l := newTestLoader(store, wh)

	log := slog.Default()
	filesCounter := l.Reg.Counter("test_files_total2", "test")
	rowsCounter := l.Reg.Counter("test_rows_total2", "test")

	err := processFile(context.Background(), l, model.SignalTraces, "traces/missing.json", decodeAndInsertTraces, filesCounter, rowsCounter, log)
	if err == nil {
		t.Fatal("expected an error for a missing object")
	}

	if len(wh.watermarks) != 1 || wh.watermarks[0].Status != model.FileStatusFailed {
		t.Fatalf("expected a failed watermark, got %v", wh.watermarks)
	}
	if !wh.processed["traces/missing.json"] {
		t.Fatal("a failed file must be marked processed, so it is never retried")
	}
}

func TestRunSignal_SkipsAlreadyProcessedFiles(t *testing.T) {
	store := &fakeObjStore{files: map[string][]byte{"traces/a.json": encodedTraceFile(t)}}
	wh := newFakeSink()
	wh.processed["traces/a.json"] = true
	l := newTestLoader(store, wh)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_ = runSignal(ctx, l, model.SignalTraces, "traces/", decodeAndInsertTraces)

	if wh.spanRows != 0 {
		t.Fatalf("expected an already-processed file to be skipped, got %d rows inserted", wh.spanRows)
	}
}
