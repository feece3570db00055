package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"

	"github.com/chive/pluginrt/pkg/governor"
)

// HostSandbox runs plugin code in the host process. It enforces the
// execution time limit per invocation and recovers panics. Memory and CPU
// limits are left to the bound process, when there is one.
type HostSandbox struct {
	pluginID string
	limits   governor.Limits
	process  Process
	logger   zerolog.Logger

	mu       sync.RWMutex
	disposed bool
}

// NewHostSandbox creates a sandbox for pluginID. process may be nil.
func NewHostSandbox(pluginID string, limits governor.Limits, process Process, logger zerolog.Logger) *HostSandbox {
	return &HostSandbox{
		pluginID: pluginID,
		limits:   limits,
		process:  process,
		logger:   logger.With().Str("component", "sandbox").Str("plugin", pluginID).Logger(),
	}
}

// Invoke runs fn and waits for it, or for the execution deadline. On
// timeout fn is abandoned; it keeps its cancelled context.
func (h *HostSandbox) Invoke(ctx context.Context, fn func(ctx context.Context) error) error {
	h.mu.RLock()
	disposed := h.disposed
	h.mu.RUnlock()
	if disposed {
		return fmt.Errorf("plugin %s: %w", h.pluginID, ErrSandboxDisposed)
	}

	if ctx == nil {
		ctx = context.Background()
	}

	runCtx := ctx
	cancel := func() {}
	timeout := h.limits.ExecutionTimeout()
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() {
		var err error
		var catcher panics.Catcher
		catcher.Try(func() {
			err = fn(runCtx)
		})
		if recovered := catcher.Recovered(); recovered != nil {
			err = fmt.Errorf("%w: %w", ErrPanicked, recovered.AsError())
		}
		done <- err
	}()

	var err error
	select {
	case err = <-done:
	case <-runCtx.Done():
		err = runCtx.Err()
	}

	// fn may have returned after the deadline fired; that is still a timeout.
	if timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		h.logger.Warn().
			Dur("timeout", timeout).
			Msg("Plugin invocation exceeded execution time limit")
		return fmt.Errorf("plugin %s: %w after %s", h.pluginID, ErrExecutionTimeout, timeout)
	}
	return err
}

// Dispose marks the sandbox unusable and kills the bound process.
func (h *HostSandbox) Dispose(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.disposed {
		return nil
	}
	h.disposed = true

	if h.process != nil {
		h.process.Kill()
	}

	h.logger.Debug().Msg("Sandbox disposed")
	return nil
}

// IsDisposed reports whether Dispose has been called.
func (h *HostSandbox) IsDisposed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.disposed
}

// Limits returns the sandbox policy.
func (h *HostSandbox) Limits() governor.Limits {
	return h.limits
}

// PluginID returns the owning plugin id.
func (h *HostSandbox) PluginID() string {
	return h.pluginID
}
