package plugin

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAlreadyLoaded is returned when a plugin id is already registered.
	ErrAlreadyLoaded = errors.New("plugin already loaded")

	// ErrNotLoaded is returned for operations on an unregistered plugin id.
	ErrNotLoaded = errors.New("plugin not loaded")

	// ErrDependencyMissing is returned when a declared dependency is not registered.
	ErrDependencyMissing = errors.New("dependency not loaded")

	// ErrDependencyNotReady is returned when a declared dependency is registered
	// but not in the ready state.
	ErrDependencyNotReady = errors.New("dependency not ready")

	// ErrNotCallable is returned when a builtin registration has no constructor.
	ErrNotCallable = errors.New("plugin constructor is not callable")

	// ErrCapabilityMismatch is returned when a produced instance does not
	// honour the plugin contract.
	ErrCapabilityMismatch = errors.New("plugin instance does not satisfy the plugin contract")

	// ErrBusy is returned when a lifecycle operation is already in progress
	// for the plugin.
	ErrBusy = errors.New("plugin lifecycle operation in progress")
)

// ValidationError reports every schema violation of a manifest, one message
// per violated constraint, each prefixed with a JSON pointer.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "invalid manifest: " + strings.Join(e.Errors, "; ")
}

// LoadError reports a failure to get a plugin registered: code loading,
// contract mismatch, duplicate id or unmet dependency.
type LoadError struct {
	PluginID string
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load plugin %s: %v", e.PluginID, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// InitializeError reports a failed Initialize call.
type InitializeError struct {
	PluginID string
	Err      error
}

func (e *InitializeError) Error() string {
	return fmt.Sprintf("initialize plugin %s: %v", e.PluginID, e.Err)
}

func (e *InitializeError) Unwrap() error {
	return e.Err
}

// ShutdownError reports a failed Shutdown call. It is logged, never returned
// from unload.
type ShutdownError struct {
	PluginID string
	Err      error
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("shutdown plugin %s: %v", e.PluginID, e.Err)
}

func (e *ShutdownError) Unwrap() error {
	return e.Err
}
