package plugin

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// registry tracks registered plugins and their lifecycle state. Entries are
// only handed out to the manager; callers outside the package see copies.
type registry struct {
	mu      sync.RWMutex
	plugins map[string]*LoadedPlugin
	seq     uint64
}

func newRegistry() *registry {
	return &registry{
		plugins: make(map[string]*LoadedPlugin),
	}
}

// Register adds entry if its id is free. The check and insert are atomic.
func (r *registry) Register(entry *LoadedPlugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := entry.Manifest.ID
	if _, exists := r.plugins[id]; exists {
		return ErrAlreadyLoaded
	}

	r.seq++
	entry.seq = r.seq
	if entry.LoadedAt.IsZero() {
		entry.LoadedAt = time.Now()
	}
	r.plugins[id] = entry
	return nil
}

// Get retrieves a plugin by ID
func (r *registry) Get(id string) (*LoadedPlugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, exists := r.plugins[id]
	return entry, exists
}

// State returns the registered state of id.
func (r *registry) State(id string) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, exists := r.plugins[id]
	if !exists {
		return "", false
	}
	return entry.State, true
}

// GetAll returns all registered plugins in registration order
func (r *registry) GetAll() []*LoadedPlugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*LoadedPlugin, 0, len(r.plugins))
	for _, entry := range r.plugins {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].seq < entries[j].seq
	})
	return entries
}

// UpdateState sets the state of entry if it is still the registered one.
func (r *registry) UpdateState(entry *LoadedPlugin, state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.plugins[entry.Manifest.ID] == entry {
		entry.State = state
	}
}

// Transition moves id from one of the allowed states to next and returns the
// entry. It fails with ErrNotLoaded or ErrBusy.
func (r *registry) Transition(id string, next State, allowed ...State) (*LoadedPlugin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.plugins[id]
	if !exists {
		return nil, ErrNotLoaded
	}
	for _, s := range allowed {
		if entry.State == s {
			entry.State = next
			return entry, nil
		}
	}
	return nil, fmt.Errorf("%w: %s is %s", ErrBusy, id, entry.State)
}

// Remove drops entry if it is still the registered one for its id.
func (r *registry) Remove(entry *LoadedPlugin) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := entry.Manifest.ID
	if r.plugins[id] != entry {
		return false
	}
	delete(r.plugins, id)
	return true
}

// Len returns the number of registered plugins.
func (r *registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// Manifests returns the manifests of every registered plugin.
func (r *registry) Manifests() []*Manifest {
	entries := r.GetAll()
	out := make([]*Manifest, len(entries))
	for i, e := range entries {
		out[i] = e.Manifest
	}
	return out
}

// info snapshots entry. Callers hold no lock; State is read under one.
func (r *registry) info(entry *LoadedPlugin) PluginInfo {
	r.mu.RLock()
	state := entry.State
	r.mu.RUnlock()

	m := entry.Manifest
	return PluginInfo{
		ID:           m.ID,
		Name:         m.Name,
		Version:      m.Version,
		State:        state,
		Builtin:      entry.Builtin,
		Hooks:        append([]string(nil), m.Hooks()...),
		Dependencies: append([]string(nil), m.Dependencies...),
		LoadedAt:     entry.LoadedAt,
	}
}
