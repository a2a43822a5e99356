// Package sessionbuilder materializes a time- and service-filtered slice of
// the warehouse into an isolated per-session SQLite database using the
// query-and-copy strategy, and produces the manifest describing it.
package sessionbuilder

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wessleyai/otelwarehouse/internal/config"
	"github.com/wessleyai/otelwarehouse/internal/errs"
	"github.com/wessleyai/otelwarehouse/internal/model"
	"github.com/wessleyai/otelwarehouse/internal/sessionstore"
)

// source is the subset of *warehouse.Warehouse the builder depends on,
// following the same narrow-interface-for-testability pattern warehouse
// itself uses over the ClickHouse driver.
type source interface {
	QuerySpansFiltered(ctx context.Context, services []string, start, end time.Time, limit int) ([]model.Span, error)
	QueryLogsFiltered(ctx context.Context, services []string, start, end time.Time, limit int) ([]model.LogRecord, error)
	QueryMetricsFiltered(ctx context.Context, services []string, start, end time.Time, limit int) ([]model.MetricPoint, error)
	ListServiceNames(ctx context.Context) ([]string, error)
}

// metadataSource is the subset of *objectstore.Store the builder falls back
// to for service discovery when the warehouse is unreachable. A nil
// metadataSource disables the fallback; ListServices then just surfaces the
// warehouse error.
type metadataSource interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// metadataKey is the well-known object holding the service inventory side
// channel, written alongside the signal prefixes in the same bucket.
const metadataKey = "metadata.json"

// serviceInventory is metadataKey's shape.
type serviceInventory struct {
	Services []string `json:"services"`
}

// Builder materializes sessions against a single warehouse.
type Builder struct {
	WH      source
	Objects metadataSource // optional; enables the metadata.json fallback
	Cfg     config.Session
}

// New builds a Builder. objects may be nil, in which case ListServices has
// no fallback and simply returns the warehouse error.
func New(wh source, objects metadataSource, cfg config.Session) *Builder {
	return &Builder{WH: wh, Objects: objects, Cfg: cfg}
}

// BuildSession materializes req into <SESSION_DIR>/<id>/session.db, copying
// every matching row up to the configured per-table row cap, and returns the
// per-signal counts plus the resulting manifest.
func (b *Builder) BuildSession(ctx context.Context, id string, req model.SessionRequest) (model.Counts, model.Manifest, error) {
	dir := filepath.Join(b.Cfg.SessionDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, errs.Wrap(errs.ErrSessionBuild, "sessionbuilder.BuildSession", err)
	}

	store, err := sessionstore.Open(filepath.Join(dir, "session.db"))
	if err != nil {
		return nil, nil, errs.Wrap(errs.ErrSessionBuild, "sessionbuilder.BuildSession", err)
	}
	defer store.Close()

	if err := store.CreateTables(req.SignalTypes); err != nil {
		return nil, nil, errs.Wrap(errs.ErrSessionBuild, "sessionbuilder.BuildSession", err)
	}

	counts := make(model.Counts)
	limit := b.Cfg.MaxRowsPerTable

	for _, sig := range req.SignalTypes {
		switch sig {
		case model.SignalTraces:
			spans, err := b.WH.QuerySpansFiltered(ctx, req.Services, req.Start, req.End, limit)
			if err != nil {
				return nil, nil, errs.Wrap(errs.ErrSessionBuild, "sessionbuilder.BuildSession", err)
			}
			if err := store.InsertSpans(ctx, spans); err != nil {
				return nil, nil, errs.Wrap(errs.ErrSessionBuild, "sessionbuilder.BuildSession", err)
			}
			counts[model.SignalTraces] = uint64(len(spans))

		case model.SignalLogs:
			logs, err := b.WH.QueryLogsFiltered(ctx, req.Services, req.Start, req.End, limit)
			if err != nil {
				return nil, nil, errs.Wrap(errs.ErrSessionBuild, "sessionbuilder.BuildSession", err)
			}
			if err := store.InsertLogs(ctx, logs); err != nil {
				return nil, nil, errs.Wrap(errs.ErrSessionBuild, "sessionbuilder.BuildSession", err)
			}
			counts[model.SignalLogs] = uint64(len(logs))

		case model.SignalMetrics:
			points, err := b.WH.QueryMetricsFiltered(ctx, req.Services, req.Start, req.End, limit)
			if err != nil {
				return nil, nil, errs.Wrap(errs.ErrSessionBuild, "sessionbuilder.BuildSession", err)
			}
			if err := store.InsertMetrics(ctx, points); err != nil {
				return nil, nil, errs.Wrap(errs.ErrSessionBuild, "sessionbuilder.BuildSession", err)
			}
			counts[model.SignalMetrics] = uint64(len(points))
		}
	}

	manifest, err := buildManifest(ctx, store, req.SignalTypes)
	if err != nil {
		return nil, nil, errs.Wrap(errs.ErrSessionBuild, "sessionbuilder.BuildSession", err)
	}

	return counts, manifest, nil
}

func buildManifest(ctx context.Context, store *sessionstore.Store, signals []model.SignalType) (model.Manifest, error) {
	manifest := make(model.Manifest)
	for _, sig := range signals {
		table := tableNameFor(sig)
		if table == "" {
			continue
		}
		tm, err := store.TableManifest(ctx, table)
		if err != nil {
			return nil, err
		}
		manifest[table] = tm
	}
	return manifest, nil
}

func tableNameFor(sig model.SignalType) string {
	switch sig {
	case model.SignalTraces:
		return "otel_traces"
	case model.SignalLogs:
		return "otel_logs"
	case model.SignalMetrics:
		return "otel_metrics"
	default:
		return ""
	}
}

// DropSession removes the session's directory (and its database file inside
// it), leaving no files or database objects under the session namespace.
func (b *Builder) DropSession(id string) error {
	dir := filepath.Join(b.Cfg.SessionDir, id)
	if err := os.RemoveAll(dir); err != nil {
		return errs.Wrap(errs.ErrSessionBuild, "sessionbuilder.DropSession", err)
	}
	return nil
}

// ListServices returns the distinct service names observed in the
// warehouse. When the warehouse client is unavailable and a metadataSource
// is configured, it falls back to reading the bucket's metadata.json service
// inventory instead of failing outright.
func (b *Builder) ListServices(ctx context.Context) ([]string, error) {
	names, whErr := b.WH.ListServiceNames(ctx)
	if whErr == nil {
		return names, nil
	}
	if b.Objects == nil {
		return nil, fmt.Errorf("sessionbuilder: list services: %w", whErr)
	}

	data, err := b.Objects.Get(ctx, metadataKey)
	if err != nil {
		return nil, fmt.Errorf("sessionbuilder: list services: warehouse unavailable (%v), metadata.json fallback failed: %w", whErr, err)
	}
	var inv serviceInventory
	if err := json.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("sessionbuilder: list services: warehouse unavailable (%v), metadata.json malformed: %w", whErr, err)
	}
	return inv.Services, nil
}
