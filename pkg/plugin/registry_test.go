package plugin

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEntry(id string) *LoadedPlugin {
	m := testManifest(id)
	return &LoadedPlugin{Plugin: newTestPlugin(m), Manifest: m, State: StateUninitialized}
}

func TestRegistry(t *testing.T) {
	t.Run("register rejects duplicates", func(t *testing.T) {
		r := newRegistry()
		require.NoError(t, r.Register(newEntry("p.a")))
		assert.ErrorIs(t, r.Register(newEntry("p.a")), ErrAlreadyLoaded)
		assert.Equal(t, 1, r.Len())
	})

	t.Run("concurrent registration admits exactly one", func(t *testing.T) {
		r := newRegistry()

		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if r.Register(newEntry("p.race")) == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, wins)
	})

	t.Run("GetAll is in registration order", func(t *testing.T) {
		r := newRegistry()
		for _, id := range []string{"p.c", "p.a", "p.b"} {
			require.NoError(t, r.Register(newEntry(id)))
		}

		var got []string
		for _, e := range r.GetAll() {
			got = append(got, e.Manifest.ID)
		}
		assert.Equal(t, []string{"p.c", "p.a", "p.b"}, got)
	})

	t.Run("transition", func(t *testing.T) {
		r := newRegistry()
		e := newEntry("p.a")
		require.NoError(t, r.Register(e))

		_, err := r.Transition("p.a", StateShuttingDown, StateReady)
		assert.ErrorIs(t, err, ErrBusy)

		r.UpdateState(e, StateReady)
		got, err := r.Transition("p.a", StateShuttingDown, StateReady)
		require.NoError(t, err)
		assert.Same(t, e, got)

		state, ok := r.State("p.a")
		require.True(t, ok)
		assert.Equal(t, StateShuttingDown, state)

		_, err = r.Transition("p.missing", StateShuttingDown, StateReady)
		assert.ErrorIs(t, err, ErrNotLoaded)
	})

	t.Run("remove only drops the same entry", func(t *testing.T) {
		r := newRegistry()
		stale := newEntry("p.a")
		require.NoError(t, r.Register(stale))
		require.True(t, r.Remove(stale))

		fresh := newEntry("p.a")
		require.NoError(t, r.Register(fresh))

		assert.False(t, r.Remove(stale))
		r.UpdateState(stale, StateError)

		state, ok := r.State("p.a")
		require.True(t, ok)
		assert.Equal(t, StateUninitialized, state)
	})

	t.Run("info snapshots the manifest", func(t *testing.T) {
		r := newRegistry()
		e := newEntry("p.a")
		e.Manifest.Permissions.Hooks = []string{"system.*"}
		e.Manifest.Dependencies = []string{"p.base"}
		e.Builtin = true
		require.NoError(t, r.Register(e))

		info := r.info(e)
		assert.Equal(t, "p.a", info.ID)
		assert.Equal(t, "1.0.0", info.Version)
		assert.True(t, info.Builtin)
		assert.Equal(t, []string{"system.*"}, info.Hooks)
		assert.Equal(t, []string{"p.base"}, info.Dependencies)
		assert.False(t, info.LoadedAt.IsZero())
	})
}
