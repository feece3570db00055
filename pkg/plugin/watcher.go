package plugin

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const defaultWatchDebounce = 500 * time.Millisecond

// DirectoryWatcher keeps the manager in sync with a plugin directory: a new
// plugin directory is loaded, a changed manifest reloads its plugin and a
// removed directory unloads it.
type DirectoryWatcher struct {
	watcher  *fsnotify.Watcher
	manager  *Manager
	logger   zerolog.Logger
	root     string
	debounce time.Duration

	mu      sync.Mutex
	timers  map[string]*time.Timer
	started bool
	stopped bool

	inflight sync.WaitGroup

	stopCh chan struct{}
	done   chan struct{}
}

// NewDirectoryWatcher creates a watcher for root. Call Start to begin.
func NewDirectoryWatcher(logger zerolog.Logger, manager *Manager, root string) (*DirectoryWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &DirectoryWatcher{
		watcher:  watcher,
		manager:  manager,
		logger:   logger.With().Str("component", "plugin-watcher").Logger(),
		root:     filepath.Clean(root),
		debounce: defaultWatchDebounce,
		timers:   make(map[string]*time.Timer),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// SetDebounce changes the quiet period before a directory is reconciled.
func (w *DirectoryWatcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	w.debounce = d
	w.mu.Unlock()
}

// Start watches root and every plugin directory below it.
func (w *DirectoryWatcher) Start() error {
	if err := w.watcher.Add(w.root); err != nil {
		return err
	}

	entries, err := os.ReadDir(w.root)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			w.watchDir(filepath.Join(w.root, entry.Name()))
		}
	}

	w.mu.Lock()
	w.started = true
	w.mu.Unlock()

	go w.run()
	w.logger.Info().Str("dir", w.root).Msg("Watching plugin directory")
	return nil
}

// Stop stops the watcher, cancels pending reconciliations and waits for a
// running one to finish.
func (w *DirectoryWatcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	started := w.started
	for dir, t := range w.timers {
		t.Stop()
		delete(w.timers, dir)
	}
	w.mu.Unlock()

	close(w.stopCh)
	err := w.watcher.Close()
	if started {
		<-w.done
	}
	w.inflight.Wait()
	return err
}

func (w *DirectoryWatcher) watchDir(dir string) {
	if err := w.watcher.Add(dir); err != nil {
		w.logger.Warn().Err(err).Str("dir", dir).Msg("Failed to watch plugin directory")
	}
}

// run processes file system events
func (w *DirectoryWatcher) run() {
	defer close(w.done)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			pluginDir, ok := w.pluginDir(event.Name)
			if !ok {
				continue
			}

			if event.Has(fsnotify.Create) && event.Name == pluginDir {
				if info, err := os.Stat(pluginDir); err == nil && info.IsDir() {
					w.watchDir(pluginDir)
				}
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.logger.Debug().
					Str("path", event.Name).
					Str("op", event.Op.String()).
					Msg("Plugin change detected")
				w.schedule(pluginDir)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Plugin watcher error")

		case <-w.stopCh:
			return
		}
	}
}

// pluginDir maps a changed path to the plugin directory containing it.
func (w *DirectoryWatcher) pluginDir(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, filepath.Clean(path))
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	first := strings.SplitN(filepath.ToSlash(rel), "/", 2)[0]
	return filepath.Join(w.root, first), true
}

// schedule debounces reconciliation per plugin directory.
func (w *DirectoryWatcher) schedule(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	if t, ok := w.timers[dir]; ok {
		t.Stop()
	}
	w.timers[dir] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, dir)
		if w.stopped {
			w.mu.Unlock()
			return
		}
		w.inflight.Add(1)
		w.mu.Unlock()

		defer w.inflight.Done()
		w.Reconcile(context.Background(), dir)
	})
}

// Reconcile brings the plugin loaded from dir in line with what is on disk.
func (w *DirectoryWatcher) Reconcile(ctx context.Context, dir string) {
	logger := w.logger.With().Str("dir", dir).Logger()
	current := w.loadedFrom(dir)

	manifest, err := w.manager.Loader().ReadManifest(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn().Err(err).Msg("Ignoring invalid plugin manifest")
			return
		}
		if current != nil {
			if err := w.manager.UnloadPlugin(ctx, current.ID); err != nil {
				logger.Warn().Err(err).Msg("Failed to unload removed plugin")
			}
		}
		return
	}

	if current != nil {
		if current.ID == manifest.ID && reflect.DeepEqual(*current, *manifest) {
			return
		}
		if err := w.manager.UnloadPlugin(ctx, current.ID); err != nil {
			logger.Warn().Err(err).Msg("Failed to unload changed plugin")
			return
		}
	}

	if err := w.manager.LoadPlugin(ctx, manifest); err != nil {
		logger.Warn().Err(err).Str("plugin", manifest.ID).Msg("Failed to load plugin")
		return
	}
	logger.Info().Str("plugin", manifest.ID).Msg("Plugin synced from disk")
}

// loadedFrom returns the manifest of the registered plugin scanned from dir.
func (w *DirectoryWatcher) loadedFrom(dir string) *Manifest {
	for _, entry := range w.manager.registry.GetAll() {
		if entry.Manifest.Dir() == dir {
			return entry.Manifest
		}
	}
	return nil
}
