package eventbus

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// Event is a single emission on the bus.
type Event struct {
	Topic     string
	Payload   any
	Timestamp time.Time
}

// Handler handles an event. A returned error (or a panic) is logged by the
// bus and never reaches the emitter or sibling handlers.
type Handler func(ctx context.Context, evt Event) error

// HandlerID identifies one registration. It is the handle used by Off.
type HandlerID string

// Recorder receives bus activity for metrics.
type Recorder interface {
	EventEmitted(namespace string)
	HandlerFailed(namespace string)
}

// Option configures a Bus.
type Option func(*Bus)

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(b *Bus) {
		b.recorder = r
	}
}

type handlerEntry struct {
	id       HandlerID
	pattern  string
	original Handler
	wrapped  Handler
	once     bool
	fired    atomic.Bool
	seq      uint64
}

// Bus is a process-wide publish/subscribe primitive over dot-delimited
// topics. It only keeps subscription bookkeeping.
type Bus struct {
	logger   zerolog.Logger
	recorder Recorder

	mu       sync.RWMutex
	handlers map[string][]*handlerEntry
	seq      uint64

	inflight sync.WaitGroup
}

// New creates an event bus.
func New(logger zerolog.Logger, opts ...Option) *Bus {
	b := &Bus{
		logger:   logger.With().Str("component", "event-bus").Logger(),
		handlers: make(map[string][]*handlerEntry),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// On registers handler for pattern and returns its id.
func (b *Bus) On(pattern string, handler Handler) HandlerID {
	return b.add(pattern, handler, false)
}

// Once registers handler for a single invocation. The registration is
// removed before the handler runs, whatever its outcome.
func (b *Bus) Once(pattern string, handler Handler) HandlerID {
	return b.add(pattern, handler, true)
}

func (b *Bus) add(pattern string, handler Handler, once bool) HandlerID {
	entry := &handlerEntry{
		id:       HandlerID(uuid.NewString()),
		pattern:  pattern,
		original: handler,
		once:     once,
	}
	entry.wrapped = b.wrap(entry)

	b.mu.Lock()
	b.seq++
	entry.seq = b.seq
	b.handlers[pattern] = append(b.handlers[pattern], entry)
	b.mu.Unlock()

	b.logger.Debug().
		Str("pattern", pattern).
		Str("handler_id", string(entry.id)).
		Bool("once", once).
		Msg("Handler registered")

	return entry.id
}

// wrap isolates a handler: errors and panics are logged, never returned.
func (b *Bus) wrap(entry *handlerEntry) Handler {
	return func(ctx context.Context, evt Event) error {
		var err error
		var catcher panics.Catcher
		catcher.Try(func() {
			err = entry.original(ctx, evt)
		})
		if recovered := catcher.Recovered(); recovered != nil {
			err = fmt.Errorf("handler panicked: %w", recovered.AsError())
		}
		if err != nil {
			b.logger.Error().
				Err(err).
				Str("event", evt.Topic).
				Str("pattern", entry.pattern).
				Str("handler_id", string(entry.id)).
				Msg("Event handler failed")
			if b.recorder != nil {
				b.recorder.HandlerFailed(namespace(evt.Topic))
			}
		}
		return nil
	}
}

// Off removes the registration with the given id. Unknown ids are ignored.
func (b *Bus) Off(pattern string, id HandlerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(pattern, id)
}

func (b *Bus) removeLocked(pattern string, id HandlerID) bool {
	entries := b.handlers[pattern]
	for i, entry := range entries {
		if entry.id != id {
			continue
		}
		remaining := make([]*handlerEntry, 0, len(entries)-1)
		remaining = append(remaining, entries[:i]...)
		remaining = append(remaining, entries[i+1:]...)
		if len(remaining) == 0 {
			delete(b.handlers, pattern)
		} else {
			b.handlers[pattern] = remaining
		}
		return true
	}
	return false
}

// Emit fires matching handlers without waiting for them. Dispatch happens on
// a background goroutine whose context is detached from ctx cancellation;
// Wait drains it.
func (b *Bus) Emit(ctx context.Context, topic string, payload any) {
	evt := b.newEvent(topic, payload)
	entries := b.match(topic)
	if len(entries) == 0 {
		return
	}

	dispatchCtx := context.WithoutCancel(ctx)
	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		b.dispatch(dispatchCtx, evt, entries)
	}()
}

// EmitAsync fires matching handlers concurrently and returns once every one
// of them has settled, including those whose failure was isolated.
func (b *Bus) EmitAsync(ctx context.Context, topic string, payload any) {
	evt := b.newEvent(topic, payload)
	b.dispatch(ctx, evt, b.match(topic))
}

// Wait blocks until every background dispatch started by Emit has finished.
func (b *Bus) Wait() {
	b.inflight.Wait()
}

func (b *Bus) newEvent(topic string, payload any) Event {
	if b.recorder != nil {
		b.recorder.EventEmitted(namespace(topic))
	}
	return Event{Topic: topic, Payload: payload, Timestamp: time.Now()}
}

// dispatch runs every entry on its own goroutine so a slow handler never
// delays its siblings. Handlers are started in match order; dispatch returns
// once all of them have settled.
func (b *Bus) dispatch(ctx context.Context, evt Event, entries []*handlerEntry) {
	var wg conc.WaitGroup
	for _, entry := range entries {
		if entry.once {
			if !entry.fired.CompareAndSwap(false, true) {
				continue
			}
			b.Off(entry.pattern, entry.id)
		}

		entry := entry
		started := make(chan struct{})
		wg.Go(func() {
			close(started)
			_ = entry.wrapped(ctx, evt)
		})
		<-started
	}
	wg.Wait()
}

// match snapshots the handlers for topic: exact registrations first, then
// wildcard registrations, each group in registration order.
func (b *Bus) match(topic string) []*handlerEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	matched := append([]*handlerEntry(nil), b.handlers[topic]...)

	var wildcard []*handlerEntry
	for pattern, entries := range b.handlers {
		if pattern == topic || !IsWildcard(pattern) || !Matches(pattern, topic) {
			continue
		}
		wildcard = append(wildcard, entries...)
	}
	sort.Slice(wildcard, func(i, j int) bool { return wildcard[i].seq < wildcard[j].seq })

	return append(matched, wildcard...)
}

// ListenerCount returns the number of handlers registered under pattern.
func (b *Bus) ListenerCount(pattern string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[pattern])
}

// EventNames returns every pattern with at least one handler, sorted.
func (b *Bus) EventNames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.handlers))
	for pattern := range b.handlers {
		names = append(names, pattern)
	}
	sort.Strings(names)
	return names
}

// RemoveAllListeners drops every handler for the given patterns, or every
// handler on the bus when none are given.
func (b *Bus) RemoveAllListeners(patterns ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(patterns) == 0 {
		b.handlers = make(map[string][]*handlerEntry)
		return
	}
	for _, pattern := range patterns {
		delete(b.handlers, pattern)
	}
}
