// Package hooks runs operator-configured shell scripts when matching events
// cross the plugin event bus.
package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/chive/pluginrt/pkg/eventbus"
)

// DefaultTimeout bounds a hook script that declares no timeout.
const DefaultTimeout = 30 * time.Second

// Hook attaches a shell script to an event pattern.
type Hook struct {
	ID      string
	Event   string
	Script  string
	Timeout time.Duration
	Enabled bool
}

// Config configures a Hook manager.
type Config struct {
	Enabled bool
	Hooks   []Hook
	Logger  zerolog.Logger
}

// Manager executes configured hooks for bus events.
type Manager struct {
	enabled bool
	logger  zerolog.Logger

	mu             sync.RWMutex
	hooksByPattern map[string][]Hook
}

// NewManager creates a hook manager.
func NewManager(cfg Config) (*Manager, error) {
	manager := &Manager{
		enabled:        cfg.Enabled,
		logger:         cfg.Logger.With().Str("component", "hooks").Logger(),
		hooksByPattern: make(map[string][]Hook),
	}

	if !cfg.Enabled {
		return manager, nil
	}

	for _, hook := range cfg.Hooks {
		if !hook.Enabled {
			continue
		}
		pattern := strings.TrimSpace(hook.Event)
		if pattern == "" {
			return nil, fmt.Errorf("hook event is required")
		}
		if strings.TrimSpace(hook.Script) == "" {
			return nil, fmt.Errorf("hook script is required for event %q", pattern)
		}
		if hook.Timeout <= 0 {
			hook.Timeout = DefaultTimeout
		}
		manager.hooksByPattern[pattern] = append(manager.hooksByPattern[pattern], hook)
	}

	return manager, nil
}

// Patterns returns the event patterns with at least one hook, sorted.
func (m *Manager) Patterns() []string {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	patterns := make([]string, 0, len(m.hooksByPattern))
	for p := range m.hooksByPattern {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)
	return patterns
}

// Attach routes every event on bus through Trigger. Hook failures are logged
// and never reported to the bus. The returned func detaches again.
func (m *Manager) Attach(bus *eventbus.Bus) func() {
	if m == nil || !m.enabled || len(m.Patterns()) == 0 {
		return func() {}
	}

	id := bus.On(eventbus.WildcardMulti, func(ctx context.Context, evt eventbus.Event) error {
		if err := m.Trigger(ctx, evt.Topic, evt.Payload); err != nil {
			m.logger.Warn().Err(err).Str("event", evt.Topic).Msg("Hook failed")
		}
		return nil
	})

	m.logger.Debug().Strs("patterns", m.Patterns()).Msg("Hooks attached to event bus")

	return func() {
		bus.Off(eventbus.WildcardMulti, id)
	}
}

// Trigger executes every hook whose pattern matches event.
func (m *Manager) Trigger(ctx context.Context, event string, payload any) error {
	if m == nil || !m.enabled {
		return nil
	}
	event = strings.TrimSpace(event)
	if event == "" {
		return fmt.Errorf("event is required")
	}

	var errs []error
	for _, pattern := range m.Patterns() {
		if !eventbus.Matches(pattern, event) {
			continue
		}
		if err := m.run(ctx, pattern, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// run executes the hooks registered under pattern for event.
func (m *Manager) run(ctx context.Context, pattern, event string, payload any) error {
	m.mu.RLock()
	hooks := append([]Hook(nil), m.hooksByPattern[pattern]...)
	m.mu.RUnlock()

	var errs []error
	for _, hook := range hooks {
		if err := m.executeHook(ctx, event, hook, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) executeHook(ctx context.Context, event string, hook Hook, payload any) error {
	if ctx == nil {
		ctx = context.Background()
	}

	hookID := hook.ID
	if strings.TrimSpace(hookID) == "" {
		hookID = hook.Event
	}

	runCtx := ctx
	cancel := func() {}
	if hook.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, hook.Timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", hook.Script)
	cmd.Env = buildHookEnvironment(event, hook.Event, payload)

	output, err := cmd.CombinedOutput()
	outputText := strings.TrimSpace(string(output))
	if err != nil {
		if outputText != "" {
			return fmt.Errorf("hook %s failed: %w: %s", hookID, err, outputText)
		}
		return fmt.Errorf("hook %s failed: %w", hookID, err)
	}

	if outputText != "" {
		m.logger.Debug().
			Str("event", event).
			Str("hook_id", hookID).
			Str("output", outputText).
			Msg("Hook executed")
	}

	return nil
}

func buildHookEnvironment(event, pattern string, payload any) []string {
	env := append([]string{}, os.Environ()...)
	env = append(env,
		"CHIVE_HOOK_EVENT="+event,
		"CHIVE_HOOK_PATTERN="+pattern,
	)

	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			env = append(env, "CHIVE_HOOK_PAYLOAD="+string(data))
		}
	}

	data, ok := payload.(map[string]any)
	if !ok || len(data) == 0 {
		return env
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		envKey := "CHIVE_HOOK_DATA_" + normalizeEnvKey(key)
		env = append(env, envKey+"="+fmt.Sprintf("%v", data[key]))
	}
	return env
}

func normalizeEnvKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "UNKNOWN"
	}

	upper := strings.ToUpper(key)
	builder := strings.Builder{}
	builder.Grow(len(upper))
	for _, r := range upper {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			builder.WriteRune(r)
			continue
		}
		builder.WriteRune('_')
	}
	return builder.String()
}
