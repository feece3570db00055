package sandbox

import "errors"

var (
	// ErrExecutionTimeout is returned when an invocation exceeds the plugin's
	// execution time limit
	ErrExecutionTimeout = errors.New("execution timed out")

	// ErrSandboxDisposed is returned when invoking a disposed sandbox
	ErrSandboxDisposed = errors.New("sandbox is disposed")

	// ErrSandboxExists is returned when a plugin already holds a sandbox
	ErrSandboxExists = errors.New("sandbox already exists")

	// ErrPanicked wraps a panic recovered from plugin code
	ErrPanicked = errors.New("plugin code panicked")
)
