package sandbox

import (
	"context"

	"github.com/chive/pluginrt/pkg/governor"
)

// Sandbox is the isolation boundary plugin code runs behind. The runtime
// only relies on invocation with limits and on disposal.
type Sandbox interface {
	// Invoke runs fn under the sandbox's limits. A limit violation fails
	// this invocation only.
	Invoke(ctx context.Context, fn func(ctx context.Context) error) error

	// Dispose releases everything the sandbox holds. It is idempotent.
	Dispose(ctx context.Context) error

	// Limits returns the policy the sandbox enforces.
	Limits() governor.Limits

	// PluginID returns the owning plugin id.
	PluginID() string
}

// Process is an out-of-process plugin bound to a sandbox. Disposing the
// sandbox kills it.
type Process interface {
	Kill()
}
