package plugin

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// testManifest returns a valid in-memory manifest.
func testManifest(id string, hooks ...string) *Manifest {
	return &Manifest{
		ID:          id,
		Name:        "Test Plugin",
		Version:     "1.0.0",
		Description: "plugin used in tests",
		Author:      "chive",
		License:     "MIT",
		Entrypoint:  "index.js",
		Permissions: Permissions{Hooks: hooks},
	}
}

// manifestDoc returns a valid manifest document that tests can mutate.
func manifestDoc(id, version string) map[string]any {
	return map[string]any{
		"id":          id,
		"name":        "Test Plugin",
		"version":     version,
		"description": "plugin used in tests",
		"author":      "chive",
		"license":     "MIT",
		"entrypoint":  "index.js",
		"permissions": map[string]any{
			"hooks": []any{"system.*"},
		},
	}
}

// writePlugin writes doc as the manifest of root/name plus an entrypoint.
func writePlugin(t *testing.T, root, name string, doc map[string]any) string {
	t.Helper()

	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.js"), []byte("// plugin\n"), 0o644))
	return dir
}

// registerTestBuiltin registers ctor for the duration of the test.
func registerTestBuiltin(t *testing.T, id string, ctor Constructor) {
	t.Helper()
	RegisterBuiltin(id, ctor)
	t.Cleanup(func() {
		builtinMu.Lock()
		delete(builtins, id)
		builtinMu.Unlock()
	})
}

// testPlugin is a builtin whose behaviour is driven by the test.
type testPlugin struct {
	*Base

	onInit     func(ctx context.Context, pctx *Context) error
	onShutdown func(ctx context.Context) error

	mu          sync.Mutex
	pctx        *Context
	initCalls   atomic.Int32
	shutdownRun atomic.Int32
}

func newTestPlugin(manifest *Manifest) *testPlugin {
	return &testPlugin{Base: NewBase(manifest)}
}

func (p *testPlugin) Initialize(ctx context.Context, pctx *Context) error {
	p.initCalls.Add(1)
	p.SetState(StateInitializing)

	p.mu.Lock()
	p.pctx = pctx
	p.mu.Unlock()

	if p.onInit != nil {
		if err := p.onInit(ctx, pctx); err != nil {
			p.SetState(StateError)
			return err
		}
	}
	p.SetState(StateReady)
	return nil
}

func (p *testPlugin) Shutdown(ctx context.Context) error {
	p.shutdownRun.Add(1)
	p.SetState(StateShuttingDown)
	defer p.SetState(StateShutdown)

	if p.onShutdown != nil {
		return p.onShutdown(ctx)
	}
	return nil
}

func (p *testPlugin) context() *Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pctx
}

// recorder collects strings from concurrent callers.
type recorder struct {
	mu    sync.Mutex
	items []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.items = append(r.items, s)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.items...)
}
