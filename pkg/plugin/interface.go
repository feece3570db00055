package plugin

import (
	"context"
	"sync"
)

// Plugin is the contract every plugin instance satisfies, builtin or remote.
type Plugin interface {
	// ID returns the manifest id
	ID() string

	// Manifest returns the manifest the instance was built from
	Manifest() *Manifest

	// Initialize is called once per load, inside the plugin sandbox. The
	// context is the plugin's only path to the rest of the system.
	Initialize(ctx context.Context, pctx *Context) error

	// Shutdown is called once per unload, inside the plugin sandbox
	Shutdown(ctx context.Context) error

	// State returns the state the plugin reports for itself
	State() State
}

// Constructor builds a plugin instance from its manifest.
type Constructor func(manifest *Manifest) (Plugin, error)

// Base is an embeddable helper that implements the bookkeeping half of
// Plugin. Embedders provide Initialize and Shutdown and call SetState.
type Base struct {
	manifest *Manifest

	mu    sync.RWMutex
	state State
}

// NewBase creates a Base for manifest.
func NewBase(manifest *Manifest) *Base {
	return &Base{manifest: manifest, state: StateUninitialized}
}

// ID returns the manifest id.
func (b *Base) ID() string {
	if b.manifest == nil {
		return ""
	}
	return b.manifest.ID
}

// Manifest returns the manifest.
func (b *Base) Manifest() *Manifest {
	return b.manifest
}

// State returns the last state set with SetState.
func (b *Base) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// SetState records the plugin-reported state.
func (b *Base) SetState(state State) {
	b.mu.Lock()
	b.state = state
	b.mu.Unlock()
}
