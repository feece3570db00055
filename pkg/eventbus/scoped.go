package eventbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrScopeClosed is returned by a scoped bus once its plugin has been torn
// down.
var ErrScopeClosed = errors.New("eventbus: scope closed")

// PermissionError is returned when a plugin uses a hook outside its
// declared allow-list.
type PermissionError struct {
	PluginID string
	Hook     string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("plugin %s is not permitted to use hook:%s", e.PluginID, e.Hook)
}

// Invoker runs a handler invocation, typically inside the owning plugin's
// sandbox so execution limits apply.
type Invoker func(ctx context.Context, fn func(ctx context.Context) error) error

// ScopedOption configures a Scoped bus.
type ScopedOption func(*Scoped)

// WithInvoker routes every handler invocation through invoke.
func WithInvoker(invoke Invoker) ScopedOption {
	return func(s *Scoped) {
		s.invoke = invoke
	}
}

// WithDenialHook is called for every denied operation.
func WithDenialHook(fn func(pluginID, hook string)) ScopedOption {
	return func(s *Scoped) {
		s.onDenied = fn
	}
}

type registration struct {
	pattern string
	id      HandlerID
}

// Scoped is a plugin's view of the shared Bus. Every operation is checked
// against the hooks declared in the plugin manifest.
type Scoped struct {
	bus      *Bus
	pluginID string
	allowed  []string
	invoke   Invoker
	onDenied func(pluginID, hook string)

	mu         sync.Mutex
	registered []registration
	closed     bool
}

// NewScoped creates a scoped view over bus for pluginID.
func NewScoped(bus *Bus, pluginID string, hooks []string, opts ...ScopedOption) *Scoped {
	s := &Scoped{
		bus:      bus,
		pluginID: pluginID,
		allowed:  append([]string(nil), hooks...),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PluginID returns the owning plugin id.
func (s *Scoped) PluginID() string {
	return s.pluginID
}

// IsHookAllowed reports whether hook is covered by the allow-list.
//
//	"a.b"  allows exactly "a.b"
//	"a.*"  allows "a.x" but not "a.x.y"
//	"a.**" allows "a", "a.x" and "a.x.y"
func (s *Scoped) IsHookAllowed(hook string) bool {
	for _, pattern := range s.allowed {
		if hookAllowed(pattern, hook) {
			return true
		}
	}
	return false
}

func hookAllowed(pattern, hook string) bool {
	if pattern == hook {
		return true
	}

	if prefix, ok := strings.CutSuffix(pattern, Separator+WildcardMulti); ok {
		return hook == prefix || strings.HasPrefix(hook, prefix+Separator)
	}

	if prefix, ok := strings.CutSuffix(pattern, Separator+WildcardSingle); ok {
		rest, found := strings.CutPrefix(hook, prefix+Separator)
		if !found || rest == "" || strings.Contains(rest, Separator) {
			return false
		}
		// "a.*" must not grant the multi-segment subscription "a.**".
		return rest != WildcardMulti
	}

	return false
}

func (s *Scoped) check(hook string) error {
	if s.IsHookAllowed(hook) {
		return nil
	}
	if s.onDenied != nil {
		s.onDenied(s.pluginID, hook)
	}
	return &PermissionError{PluginID: s.pluginID, Hook: hook}
}

// On subscribes handler to pattern.
func (s *Scoped) On(pattern string, handler Handler) (HandlerID, error) {
	if err := s.check(pattern); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrScopeClosed
	}

	id := s.bus.On(pattern, s.guard(handler))
	s.registered = append(s.registered, registration{pattern: pattern, id: id})
	return id, nil
}

// Once subscribes handler to pattern for a single invocation.
func (s *Scoped) Once(pattern string, handler Handler) (HandlerID, error) {
	if err := s.check(pattern); err != nil {
		return "", err
	}
	guarded := s.guard(handler)

	// Held across registration so the handler cannot forget an id that has
	// not been recorded yet.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrScopeClosed
	}

	var id HandlerID
	id = s.bus.Once(pattern, func(ctx context.Context, evt Event) error {
		s.mu.Lock()
		s.forgetLocked(pattern, id)
		s.mu.Unlock()
		return guarded(ctx, evt)
	})
	s.registered = append(s.registered, registration{pattern: pattern, id: id})
	return id, nil
}

// Emit publishes on the shared bus without waiting for handlers.
func (s *Scoped) Emit(ctx context.Context, topic string, payload any) error {
	if err := s.check(topic); err != nil {
		return err
	}
	if s.isClosed() {
		return ErrScopeClosed
	}
	s.bus.Emit(ctx, topic, payload)
	return nil
}

// EmitAsync publishes on the shared bus and waits for every handler.
func (s *Scoped) EmitAsync(ctx context.Context, topic string, payload any) error {
	if err := s.check(topic); err != nil {
		return err
	}
	if s.isClosed() {
		return ErrScopeClosed
	}
	s.bus.EmitAsync(ctx, topic, payload)
	return nil
}

// Off removes one of this plugin's registrations. Registrations made by
// anyone else are left alone.
func (s *Scoped) Off(pattern string, id HandlerID) {
	if s.forget(pattern, id) {
		s.bus.Off(pattern, id)
	}
}

func (s *Scoped) forget(pattern string, id HandlerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forgetLocked(pattern, id)
}

func (s *Scoped) forgetLocked(pattern string, id HandlerID) bool {
	for i, reg := range s.registered {
		if reg.pattern == pattern && reg.id == id {
			s.registered = append(s.registered[:i], s.registered[i+1:]...)
			return true
		}
	}
	return false
}

// ListenerCount returns how many registrations this plugin currently holds.
func (s *Scoped) ListenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.registered)
}

func (s *Scoped) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Cleanup removes every handler this scoped bus placed on the shared bus and
// closes the scope. Later subscriptions and emissions fail with
// ErrScopeClosed.
func (s *Scoped) Cleanup() {
	s.mu.Lock()
	registered := s.registered
	s.registered = nil
	s.closed = true
	s.mu.Unlock()

	for _, reg := range registered {
		s.bus.Off(reg.pattern, reg.id)
	}
}

// RemoveAllListeners is an alias for Cleanup.
func (s *Scoped) RemoveAllListeners() {
	s.Cleanup()
}

func (s *Scoped) guard(handler Handler) Handler {
	if s.invoke == nil {
		return handler
	}
	invoke := s.invoke
	return func(ctx context.Context, evt Event) error {
		return invoke(ctx, func(ctx context.Context) error {
			return handler(ctx, evt)
		})
	}
}
