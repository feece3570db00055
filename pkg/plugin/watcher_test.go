package plugin

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registerWatchBuiltins(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		registerTestBuiltin(t, id, func(m *Manifest) (Plugin, error) {
			return newTestPlugin(m), nil
		})
	}
}

func TestDirectoryWatcher_Reconcile(t *testing.T) {
	ctx := context.Background()
	registerWatchBuiltins(t, "pub.chive.plugin.watched", "pub.chive.plugin.renamed")

	t.Run("new directory is loaded", func(t *testing.T) {
		root := t.TempDir()
		f := newManagerFixture(t)
		w, err := NewDirectoryWatcher(zerolog.Nop(), f.manager, root)
		require.NoError(t, err)
		defer w.Stop()

		dir := writePlugin(t, root, "watched", manifestDoc("pub.chive.plugin.watched", "1.0.0"))
		w.Reconcile(ctx, dir)

		state, ok := f.manager.GetPluginState("pub.chive.plugin.watched")
		require.True(t, ok)
		assert.Equal(t, StateReady, state)
	})

	t.Run("changed manifest reloads", func(t *testing.T) {
		root := t.TempDir()
		f := newManagerFixture(t)
		w, err := NewDirectoryWatcher(zerolog.Nop(), f.manager, root)
		require.NoError(t, err)
		defer w.Stop()

		dir := writePlugin(t, root, "watched", manifestDoc("pub.chive.plugin.watched", "1.0.0"))
		w.Reconcile(ctx, dir)
		first, _ := f.manager.GetPlugin("pub.chive.plugin.watched")

		writePlugin(t, root, "watched", manifestDoc("pub.chive.plugin.watched", "1.1.0"))
		w.Reconcile(ctx, dir)

		second, ok := f.manager.GetPlugin("pub.chive.plugin.watched")
		require.True(t, ok)
		assert.NotSame(t, first, second)
		assert.Equal(t, "1.1.0", second.Manifest().Version)
	})

	t.Run("unchanged manifest is left alone", func(t *testing.T) {
		root := t.TempDir()
		f := newManagerFixture(t)
		w, err := NewDirectoryWatcher(zerolog.Nop(), f.manager, root)
		require.NoError(t, err)
		defer w.Stop()

		dir := writePlugin(t, root, "watched", manifestDoc("pub.chive.plugin.watched", "1.0.0"))
		w.Reconcile(ctx, dir)
		first, _ := f.manager.GetPlugin("pub.chive.plugin.watched")

		w.Reconcile(ctx, dir)

		second, _ := f.manager.GetPlugin("pub.chive.plugin.watched")
		assert.Same(t, first, second)
	})

	t.Run("id change swaps plugins", func(t *testing.T) {
		root := t.TempDir()
		f := newManagerFixture(t)
		w, err := NewDirectoryWatcher(zerolog.Nop(), f.manager, root)
		require.NoError(t, err)
		defer w.Stop()

		dir := writePlugin(t, root, "watched", manifestDoc("pub.chive.plugin.watched", "1.0.0"))
		w.Reconcile(ctx, dir)

		writePlugin(t, root, "watched", manifestDoc("pub.chive.plugin.renamed", "1.0.0"))
		w.Reconcile(ctx, dir)

		_, ok := f.manager.GetPlugin("pub.chive.plugin.watched")
		assert.False(t, ok)
		_, ok = f.manager.GetPlugin("pub.chive.plugin.renamed")
		assert.True(t, ok)
	})

	t.Run("invalid manifest keeps the running plugin", func(t *testing.T) {
		root := t.TempDir()
		f := newManagerFixture(t)
		w, err := NewDirectoryWatcher(zerolog.Nop(), f.manager, root)
		require.NoError(t, err)
		defer w.Stop()

		dir := writePlugin(t, root, "watched", manifestDoc("pub.chive.plugin.watched", "1.0.0"))
		w.Reconcile(ctx, dir)

		require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte("{"), 0o644))
		w.Reconcile(ctx, dir)

		_, ok := f.manager.GetPlugin("pub.chive.plugin.watched")
		assert.True(t, ok)
	})

	t.Run("removed directory unloads", func(t *testing.T) {
		root := t.TempDir()
		f := newManagerFixture(t)
		w, err := NewDirectoryWatcher(zerolog.Nop(), f.manager, root)
		require.NoError(t, err)
		defer w.Stop()

		dir := writePlugin(t, root, "watched", manifestDoc("pub.chive.plugin.watched", "1.0.0"))
		w.Reconcile(ctx, dir)

		require.NoError(t, os.RemoveAll(dir))
		w.Reconcile(ctx, dir)

		assert.Zero(t, f.manager.GetPluginCount())
	})
}

func TestDirectoryWatcher_Events(t *testing.T) {
	registerWatchBuiltins(t, "pub.chive.plugin.hot")

	root := t.TempDir()
	f := newManagerFixture(t)
	w, err := NewDirectoryWatcher(zerolog.Nop(), f.manager, root)
	require.NoError(t, err)
	w.SetDebounce(20 * time.Millisecond)
	require.NoError(t, w.Start())
	defer w.Stop()

	dir := writePlugin(t, root, "hot", manifestDoc("pub.chive.plugin.hot", "1.0.0"))

	assert.Eventually(t, func() bool {
		_, ok := f.manager.GetPlugin("pub.chive.plugin.hot")
		return ok
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, os.RemoveAll(dir))

	assert.Eventually(t, func() bool {
		return f.manager.GetPluginCount() == 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestDirectoryWatcher_StopWithoutStart(t *testing.T) {
	w, err := NewDirectoryWatcher(zerolog.Nop(), newManagerFixture(t).manager, t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}

func TestDirectoryWatcher_StopWaitsForReconcile(t *testing.T) {
	entered := make(chan struct{})
	var enter sync.Once
	var finished atomic.Bool
	registerTestBuiltin(t, "pub.chive.plugin.busy", func(m *Manifest) (Plugin, error) {
		p := newTestPlugin(m)
		p.onInit = func(context.Context, *Context) error {
			enter.Do(func() { close(entered) })
			time.Sleep(150 * time.Millisecond)
			finished.Store(true)
			return nil
		}
		return p, nil
	})

	root := t.TempDir()
	f := newManagerFixture(t)
	w, err := NewDirectoryWatcher(zerolog.Nop(), f.manager, root)
	require.NoError(t, err)
	w.SetDebounce(20 * time.Millisecond)
	require.NoError(t, w.Start())

	writePlugin(t, root, "busy", manifestDoc("pub.chive.plugin.busy", "1.0.0"))

	select {
	case <-entered:
	case <-time.After(3 * time.Second):
		t.Fatal("reconcile never started")
	}

	require.NoError(t, w.Stop())
	assert.True(t, finished.Load())

	_, ok := f.manager.GetPlugin("pub.chive.plugin.busy")
	assert.True(t, ok)
}
