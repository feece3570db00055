// Package audit records plugin lifecycle activity as JSON lines.
package audit

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/chive/pluginrt/internal/tracing"
	"github.com/chive/pluginrt/pkg/eventbus"
)

// Event is one entry of the audit trail.
type Event struct {
	Type      string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Actor     string         `json:"actor,omitempty"` // plugin id, empty for host events
	Action    string         `json:"action"`          // e.g. "load", "unload", "startup"
	Status    string         `json:"status"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
}

// Logger writes audit events.
type Logger struct {
	mu     sync.Mutex
	logger zerolog.Logger
	closer io.Closer
}

// New creates an audit logger writing to w.
func New(w io.Writer) *Logger {
	return &Logger{logger: zerolog.New(w)}
}

// Open creates an audit logger appending to the file at path.
func Open(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Logger{logger: zerolog.New(file), closer: file}, nil
}

// Record writes event and mirrors it as an event on the active span.
func (a *Logger) Record(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.TraceID == "" {
		event.TraceID = tracing.GetTraceID(ctx)
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event.TraceID = span.SpanContext().TraceID().String()
		span.AddEvent("audit."+event.Action, trace.WithAttributes(
			attribute.String("audit.type", event.Type),
			attribute.String("audit.status", event.Status),
			attribute.String("audit.actor", event.Actor),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Time("timestamp", event.Timestamp).
		Str("event_type", event.Type).
		Str("action", event.Action).
		Str("status", event.Status)
	if event.Actor != "" {
		entry.Str("actor", event.Actor)
	}
	if event.TraceID != "" {
		entry.Str("trace_id", event.TraceID)
	}
	if len(event.Metadata) > 0 {
		entry.Interface("metadata", event.Metadata)
	}
	entry.Send()
}

// Close closes the underlying file, if any.
func (a *Logger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}

// topics maps the audited bus topics to their event type and action.
var topics = map[string]struct{ typ, action string }{
	"plugin.loaded":   {"lifecycle", "load"},
	"plugin.unloaded": {"lifecycle", "unload"},
	"system.startup":  {"system", "startup"},
	"system.shutdown": {"system", "shutdown"},
}

// Attach records the lifecycle topics published on bus. The returned func
// detaches the subscriptions.
func (a *Logger) Attach(bus *eventbus.Bus) func() {
	ids := make(map[string]eventbus.HandlerID, len(topics))
	for topic, kind := range topics {
		kind := kind
		ids[topic] = bus.On(topic, func(ctx context.Context, evt eventbus.Event) error {
			event := Event{
				Type:      kind.typ,
				Timestamp: evt.Timestamp,
				Action:    kind.action,
				Status:    "success",
			}
			if data, ok := evt.Payload.(map[string]any); ok {
				if id, ok := data["pluginId"].(string); ok {
					event.Actor = id
				}
				if len(data) > 0 && event.Actor == "" {
					event.Metadata = data
				}
			}
			a.Record(ctx, event)
			return nil
		})
	}

	return func() {
		for topic, id := range ids {
			bus.Off(topic, id)
		}
	}
}
