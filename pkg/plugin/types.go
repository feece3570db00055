package plugin

import (
	"time"
)

// State represents the lifecycle state of a plugin
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateShuttingDown  State = "shutting_down"
	StateShutdown      State = "shutdown"
	StateError         State = "error"
)

// Terminal reports whether no further transition leaves s.
func (s State) Terminal() bool {
	return s == StateShutdown || s == StateError
}

// Well-known topics published by the manager on the shared bus.
const (
	EventPluginLoaded   = "plugin.loaded"
	EventPluginUnloaded = "plugin.unloaded"
	EventSystemStartup  = "system.startup"
	EventSystemShutdown = "system.shutdown"
)

// LoadedPlugin is the registry entry for one registered plugin. Only the
// manager mutates it, and only its State.
type LoadedPlugin struct {
	Plugin   Plugin
	Manifest *Manifest
	State    State
	LoadedAt time.Time

	// Builtin plugins are reloaded from the stored instance instead of code
	Builtin bool

	// Config is the call-site configuration of a builtin load
	Config map[string]any

	context *Context
	seq     uint64
}

// PluginInfo is a read-only snapshot of a registered plugin
type PluginInfo struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Version      string    `json:"version"`
	State        State     `json:"state"`
	Builtin      bool      `json:"builtin"`
	Hooks        []string  `json:"hooks"`
	Dependencies []string  `json:"dependencies"`
	LoadedAt     time.Time `json:"loadedAt"`
}

// LoadResult contains the results of a directory load
type LoadResult struct {
	Loaded []string         // Successfully loaded plugin IDs
	Failed []string         // Failed plugin IDs
	Errors map[string]error // Errors by plugin ID
}

func newLoadResult() *LoadResult {
	return &LoadResult{
		Loaded: []string{},
		Failed: []string{},
		Errors: make(map[string]error),
	}
}
