// Package eventbus fans out lifecycle events (file processed, watermark
// advanced, session ready/error) over NATS, adapted from the teacher's
// pkg/natsutil. Events are informational: every publish happens strictly
// after the state it reports is already durably committed, so a dropped
// event or a nil bus never violates a pipeline invariant.
package eventbus

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/wessleyai/otelwarehouse/pkg/natsutil"
)

const (
	SubjectFileProcessed    = "otelwarehouse.file.processed"
	SubjectWatermarkAdvance = "otelwarehouse.watermark.advanced"
	SubjectSessionReady     = "otelwarehouse.session.ready"
	SubjectSessionError     = "otelwarehouse.session.error"
)

// FileProcessed reports that the loader recorded a terminal watermark for a file.
type FileProcessed struct {
	Signal   string `json:"signal"`
	Filename string `json:"filename"`
	Status   string `json:"status"`
	RowCount uint64 `json:"row_count"`
}

// WatermarkAdvanced reports that the enricher committed a cycle.
type WatermarkAdvanced struct {
	LastTimestamp time.Time `json:"last_timestamp"`
	LastSpanID    string    `json:"last_span_id"`
	RowsWritten   int       `json:"rows_written"`
}

// SessionTransition reports a session reaching ready or error.
type SessionTransition struct {
	SessionID string `json:"session_id"`
	Owner     string `json:"owner"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
}

// Bus is the minimal publish capability the core pipelines need. A nil Bus
// is valid and makes Publish a no-op, so the event bus is never load-bearing.
type Bus interface {
	publish(ctx context.Context, subject string, v any) error
}

type natsBus struct {
	conn *nats.Conn
}

func (b *natsBus) publish(ctx context.Context, subject string, v any) error {
	switch val := v.(type) {
	case FileProcessed:
		return natsutil.Publish(ctx, b.conn, subject, val)
	case WatermarkAdvanced:
		return natsutil.Publish(ctx, b.conn, subject, val)
	case SessionTransition:
		return natsutil.Publish(ctx, b.conn, subject, val)
	default:
		return nil
	}
}

// Connect dials NATS and returns a Bus. An empty url disables the bus (nil, nil).
func Connect(url string) (Bus, error) {
	if url == "" {
		return nil, nil
	}
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &natsBus{conn: conn}, nil
}

// Publish fans out an event, logging is left to the caller; publish errors
// are swallowed by design since lifecycle events are best-effort.
func Publish[T any](ctx context.Context, bus Bus, subject string, v T) {
	if bus == nil {
		return
	}
	_ = bus.publish(ctx, subject, v)
}
