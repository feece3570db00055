package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/chive/pluginrt/pkg/governor"
)

// Pool owns one sandbox per plugin id.
type Pool struct {
	logger zerolog.Logger

	mu        sync.Mutex
	sandboxes map[string]Sandbox
}

// NewPool creates an empty pool.
func NewPool(logger zerolog.Logger) *Pool {
	return &Pool{
		logger:    logger,
		sandboxes: make(map[string]Sandbox),
	}
}

// Acquire creates the sandbox for pluginID. process may be nil.
func (p *Pool) Acquire(pluginID string, limits governor.Limits, process Process) (Sandbox, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.sandboxes[pluginID]; exists {
		return nil, fmt.Errorf("plugin %s: %w", pluginID, ErrSandboxExists)
	}

	sb := NewHostSandbox(pluginID, limits, process, p.logger)
	p.sandboxes[pluginID] = sb
	return sb, nil
}

// Get returns the sandbox for pluginID.
func (p *Pool) Get(pluginID string) (Sandbox, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sb, ok := p.sandboxes[pluginID]
	return sb, ok
}

// Release disposes and forgets the sandbox for pluginID. Unknown ids are ignored.
func (p *Pool) Release(ctx context.Context, pluginID string) error {
	p.mu.Lock()
	sb, ok := p.sandboxes[pluginID]
	delete(p.sandboxes, pluginID)
	p.mu.Unlock()

	if !ok {
		return nil
	}
	return sb.Dispose(ctx)
}

// DisposeAll disposes every sandbox in the pool and empties it.
func (p *Pool) DisposeAll(ctx context.Context) error {
	p.mu.Lock()
	sandboxes := p.sandboxes
	p.sandboxes = make(map[string]Sandbox)
	p.mu.Unlock()

	var errs []error
	for id, sb := range sandboxes {
		if err := sb.Dispose(ctx); err != nil {
			p.logger.Warn().Err(err).Str("plugin", id).Msg("Failed to dispose sandbox")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of live sandboxes.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sandboxes)
}
