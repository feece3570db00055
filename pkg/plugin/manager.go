package plugin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dario.cat/mergo"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"

	"github.com/chive/pluginrt/internal/metrics"
	"github.com/chive/pluginrt/internal/tracing"
	"github.com/chive/pluginrt/pkg/cache"
	"github.com/chive/pluginrt/pkg/eventbus"
	"github.com/chive/pluginrt/pkg/governor"
	"github.com/chive/pluginrt/pkg/sandbox"
)

// ManagerConfig holds the infrastructure a Manager drives. Nil fields are
// created with defaults.
type ManagerConfig struct {
	Bus       *eventbus.Bus
	Governor  *governor.Governor
	Sandboxes *sandbox.Pool
	Cache     *cache.Store
	Metrics   *metrics.Metrics
	Loader    *Loader

	// Limits applied to every plugin; the zero value selects governor.DefaultLimits
	Limits governor.Limits

	// PluginConfigs are the operator-provided per-plugin configurations
	PluginConfigs map[string]map[string]any
}

// Manager owns the plugin registry and drives every lifecycle transition.
type Manager struct {
	logger     zerolog.Logger
	rootLogger zerolog.Logger

	bus       *eventbus.Bus
	governor  *governor.Governor
	sandboxes *sandbox.Pool
	cache     *cache.Store
	metrics   *metrics.Metrics
	loader    *Loader
	resolver  *DependencyResolver
	limits    governor.Limits

	registry *registry

	configMu  sync.RWMutex
	defaults  map[string]map[string]any
	overrides map[string]map[string]any
}

// NewManager creates a plugin manager
func NewManager(logger zerolog.Logger, cfg ManagerConfig) *Manager {
	if cfg.Bus == nil {
		cfg.Bus = eventbus.New(logger, eventbus.WithRecorder(cfg.Metrics))
	}
	if cfg.Governor == nil {
		cfg.Governor = governor.New(logger, cfg.Metrics)
	}
	if cfg.Sandboxes == nil {
		cfg.Sandboxes = sandbox.NewPool(logger)
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.NewStore(4096, time.Hour)
	}
	if cfg.Loader == nil {
		cfg.Loader = NewLoader(logger)
	}
	if cfg.Limits == (governor.Limits{}) {
		cfg.Limits = governor.DefaultLimits()
	}

	defaults := make(map[string]map[string]any, len(cfg.PluginConfigs))
	for id, c := range cfg.PluginConfigs {
		defaults[id] = cloneConfig(c)
	}

	return &Manager{
		logger:     logger.With().Str("component", "plugin-manager").Logger(),
		rootLogger: logger,
		bus:        cfg.Bus,
		governor:   cfg.Governor,
		sandboxes:  cfg.Sandboxes,
		cache:      cfg.Cache,
		metrics:    cfg.Metrics,
		loader:     cfg.Loader,
		resolver:   NewDependencyResolver(logger),
		limits:     cfg.Limits,
		registry:   newRegistry(),
		defaults:   defaults,
		overrides:  make(map[string]map[string]any),
	}
}

// Bus returns the shared event bus. It is meant for host components such as
// operator hooks; plugins only ever see their scoped view.
func (m *Manager) Bus() *eventbus.Bus {
	return m.bus
}

// Loader returns the loader used for third-party plugins.
func (m *Manager) Loader() *Loader {
	return m.loader
}

// LoadPlugin loads the plugin described by manifest.
func (m *Manager) LoadPlugin(ctx context.Context, manifest *Manifest) error {
	return m.load(ctx, manifest, nil, nil)
}

// LoadBuiltinPlugin registers an already-constructed instance. config is
// merged over the stored configuration for its id.
func (m *Manager) LoadBuiltinPlugin(ctx context.Context, p Plugin, config map[string]any) error {
	if p == nil || p.Manifest() == nil {
		return &LoadError{Err: fmt.Errorf("%w: instance has no manifest", ErrCapabilityMismatch)}
	}
	manifest := p.Manifest()
	if err := checkContract(manifest, p); err != nil {
		return &LoadError{PluginID: manifest.ID, Err: err}
	}
	return m.load(ctx, manifest, p, config)
}

func (m *Manager) load(ctx context.Context, manifest *Manifest, instance Plugin, callConfig map[string]any) (err error) {
	id := manifest.ID
	ctx = tracing.NewOperationContext(ctx, "load", id)
	ctx, span := tracing.StartSpan(ctx, "plugin.load", tracing.PluginAttr(id))
	logger := tracing.LoggerFromContext(ctx, m.logger)

	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			m.metrics.PluginLoaded("failure")
		} else {
			m.metrics.PluginLoaded("success")
		}
		span.End()
	}()

	if _, exists := m.registry.Get(id); exists {
		return &LoadError{PluginID: id, Err: ErrAlreadyLoaded}
	}

	if err := m.checkDependencies(manifest); err != nil {
		return err
	}

	builtin := instance != nil
	if !builtin {
		instance, err = m.loader.LoadPluginCode(ctx, manifest)
		if err != nil {
			return err
		}
	}
	process := processOf(instance)

	entry := &LoadedPlugin{
		Plugin:   instance,
		Manifest: manifest,
		State:    StateUninitialized,
		Builtin:  builtin,
		Config:   callConfig,
	}
	if err := m.registry.Register(entry); err != nil {
		if !builtin {
			kill(process)
		}
		return &LoadError{PluginID: id, Err: err}
	}

	limits := m.limits.WithStorage(manifest.StorageMaxSize())
	if err := m.governor.Allocate(id, limits); err != nil {
		kill(process)
		m.evict(ctx, entry, StateError)
		return &InitializeError{PluginID: id, Err: err}
	}

	sb, err := m.sandboxes.Acquire(id, limits, process)
	if err != nil {
		kill(process)
		m.evict(ctx, entry, StateError)
		return &InitializeError{PluginID: id, Err: err}
	}

	pctx, err := m.newContext(manifest, sb, callConfig)
	if err != nil {
		m.evict(ctx, entry, StateError)
		return &InitializeError{PluginID: id, Err: err}
	}
	entry.context = pctx

	m.registry.UpdateState(entry, StateInitializing)
	if err := sb.Invoke(ctx, func(ctx context.Context) error {
		return instance.Initialize(ctx, pctx)
	}); err != nil {
		logger.Error().Err(err).Msg("Plugin failed to initialize")
		m.evict(ctx, entry, StateError)
		return &InitializeError{PluginID: id, Err: err}
	}

	m.registry.UpdateState(entry, StateReady)
	m.metrics.SetPluginsLoaded(m.registry.Len())

	logger.Info().
		Str("version", manifest.Version).
		Bool("builtin", builtin).
		Msg("Plugin loaded")

	m.bus.Emit(ctx, EventPluginLoaded, map[string]any{"pluginId": id})
	return nil
}

// checkDependencies requires every declared dependency to be registered and ready.
func (m *Manager) checkDependencies(manifest *Manifest) error {
	for _, dep := range manifest.Dependencies {
		state, ok := m.registry.State(dep)
		if !ok {
			return &LoadError{PluginID: manifest.ID, Err: fmt.Errorf("%w: %s", ErrDependencyMissing, dep)}
		}
		if state != StateReady {
			return &LoadError{
				PluginID: manifest.ID,
				Err:      fmt.Errorf("%w: %s is %s", ErrDependencyNotReady, dep, state),
			}
		}
	}
	return nil
}

// evict moves entry to its final state and releases everything it holds.
func (m *Manager) evict(ctx context.Context, entry *LoadedPlugin, final State) {
	id := entry.Manifest.ID

	m.registry.UpdateState(entry, final)
	m.registry.Remove(entry)
	m.governor.Release(id)
	if err := m.sandboxes.Release(ctx, id); err != nil {
		m.logger.Warn().Err(err).Str("plugin", id).Msg("Failed to dispose sandbox")
	}
	entry.context.teardown()
	m.metrics.ForgetPlugin(id)
	m.metrics.SetPluginsLoaded(m.registry.Len())
}

// UnloadPlugin shuts a ready plugin down and removes it. Shutdown errors are
// logged; cleanup always completes.
func (m *Manager) UnloadPlugin(ctx context.Context, id string) error {
	ctx = tracing.NewOperationContext(ctx, "unload", id)
	ctx, span := tracing.StartSpan(ctx, "plugin.unload", tracing.PluginAttr(id))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, m.logger)

	entry, err := m.registry.Transition(id, StateShuttingDown, StateReady)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("unload %s: %w", id, err)
	}

	var dependents []string
	for _, dep := range Dependents(m.registry.Manifests(), id) {
		if dep != id {
			dependents = append(dependents, dep)
		}
	}
	if len(dependents) > 0 {
		logger.Warn().Strs("dependents", dependents).Msg("Unloading plugin that loaded plugins depend on")
	}

	shutdown := func(ctx context.Context) error {
		return entry.Plugin.Shutdown(ctx)
	}
	if sb, ok := m.sandboxes.Get(id); ok {
		err = sb.Invoke(ctx, shutdown)
	} else {
		err = shutdown(ctx)
	}
	if err != nil {
		serr := &ShutdownError{PluginID: id, Err: err}
		span.RecordError(serr)
		logger.Warn().Err(serr).Msg("Plugin shutdown failed, continuing cleanup")
	}

	m.evict(ctx, entry, StateShutdown)
	m.metrics.PluginUnloaded()

	logger.Info().Msg("Plugin unloaded")

	m.bus.Emit(ctx, EventPluginUnloaded, map[string]any{"pluginId": id})
	return nil
}

// ReloadPlugin unloads id and loads it again from its stored manifest.
// Builtins are re-registered from the stored instance and call-site config.
func (m *Manager) ReloadPlugin(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "plugin.reload", tracing.PluginAttr(id))
	defer span.End()

	entry, ok := m.registry.Get(id)
	if !ok {
		return fmt.Errorf("reload %s: %w", id, ErrNotLoaded)
	}
	manifest, instance, builtin, config := entry.Manifest, entry.Plugin, entry.Builtin, entry.Config

	if err := m.UnloadPlugin(ctx, id); err != nil {
		return err
	}

	var err error
	if builtin {
		err = m.LoadBuiltinPlugin(ctx, instance, config)
	} else {
		err = m.LoadPlugin(ctx, manifest)
	}
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("reload %s: %w", id, err)
	}

	m.logger.Info().Str("plugin", id).Msg("Plugin reloaded")
	return nil
}

// LoadPluginsFromDirectory scans dir and loads every valid plugin in
// dependency order. Individual failures are recorded, never returned.
func (m *Manager) LoadPluginsFromDirectory(ctx context.Context, dir string) *LoadResult {
	m.logger.Info().Str("dir", dir).Msg("Loading plugins from directory")
	return m.LoadManifests(ctx, m.loader.ScanDirectory(dir))
}

// LoadManifests loads a batch of manifests in dependency order. Duplicate ids
// keep the highest version.
func (m *Manager) LoadManifests(ctx context.Context, manifests []*Manifest) *LoadResult {
	result := newLoadResult()

	ordered := m.resolver.TopologicalSort(m.resolver.Dedupe(manifests))
	for _, manifest := range ordered {
		if err := m.LoadPlugin(ctx, manifest); err != nil {
			m.logger.Warn().Err(err).Str("plugin", manifest.ID).Msg("Failed to load plugin")
			result.Failed = append(result.Failed, manifest.ID)
			result.Errors[manifest.ID] = err
			continue
		}
		result.Loaded = append(result.Loaded, manifest.ID)
	}

	m.logger.Info().
		Int("loaded", len(result.Loaded)).
		Int("failed", len(result.Failed)).
		Msg("Plugin batch loaded")
	return result
}

// ShutdownAll announces system.shutdown, waits for its handlers, then unloads
// every plugin in reverse registration order and disposes all sandboxes.
func (m *Manager) ShutdownAll(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "plugin.shutdown_all")
	defer span.End()

	m.bus.EmitAsync(ctx, EventSystemShutdown, map[string]any{})

	entries := m.registry.GetAll()
	for i := len(entries) - 1; i >= 0; i-- {
		id := entries[i].Manifest.ID
		if err := m.UnloadPlugin(ctx, id); err != nil {
			m.logger.Warn().Err(err).Str("plugin", id).Msg("Failed to unload plugin during shutdown")
		}
	}

	if err := m.sandboxes.DisposeAll(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to dispose sandboxes")
	}

	m.bus.Wait()
	m.logger.Info().Msg("All plugins shut down")
}

// SetPluginConfig stores configuration for id, applied on its next load.
func (m *Manager) SetPluginConfig(id string, config map[string]any) {
	m.configMu.Lock()
	defer m.configMu.Unlock()
	m.overrides[id] = cloneConfig(config)
}

// GetPlugin returns the registered instance for id.
func (m *Manager) GetPlugin(id string) (Plugin, bool) {
	entry, ok := m.registry.Get(id)
	if !ok {
		return nil, false
	}
	return entry.Plugin, true
}

// GetAllPlugins returns every registered instance in registration order.
func (m *Manager) GetAllPlugins() []Plugin {
	entries := m.registry.GetAll()
	out := make([]Plugin, len(entries))
	for i, e := range entries {
		out[i] = e.Plugin
	}
	return out
}

// GetPluginState returns the lifecycle state recorded for id.
func (m *Manager) GetPluginState(id string) (State, bool) {
	return m.registry.State(id)
}

// GetPluginInfo returns a snapshot of every registered plugin.
func (m *Manager) GetPluginInfo() []PluginInfo {
	entries := m.registry.GetAll()
	out := make([]PluginInfo, len(entries))
	for i, e := range entries {
		out[i] = m.registry.info(e)
	}
	return out
}

// GetPluginCount returns the number of registered plugins.
func (m *Manager) GetPluginCount() int {
	return m.registry.Len()
}

// Emit publishes a host-originated event on the shared bus.
func (m *Manager) Emit(ctx context.Context, topic string, payload any) {
	m.bus.Emit(ctx, topic, payload)
}

// EmitAsync publishes a host-originated event and waits for its handlers.
func (m *Manager) EmitAsync(ctx context.Context, topic string, payload any) {
	m.bus.EmitAsync(ctx, topic, payload)
}

// newContext builds the context handed to a plugin's Initialize.
func (m *Manager) newContext(manifest *Manifest, sb sandbox.Sandbox, callConfig map[string]any) (*Context, error) {
	id := manifest.ID

	cfg, err := m.mergedConfig(id, callConfig)
	if err != nil {
		return nil, fmt.Errorf("merge config: %w", err)
	}

	scoped := eventbus.NewScoped(m.bus, id, manifest.Hooks(),
		eventbus.WithInvoker(sb.Invoke),
		eventbus.WithDenialHook(m.permissionDenied),
	)

	return &Context{
		Logger:   m.rootLogger.With().Str("plugin", id).Logger(),
		Cache:    m.cache.Namespace(id),
		Metrics:  m.metrics.ForPlugin(id),
		EventBus: scoped,
		Config:   cfg,
	}, nil
}

func (m *Manager) permissionDenied(pluginID, hook string) {
	m.metrics.PermissionDenied(pluginID, hook)
	m.logger.Warn().Str("plugin", pluginID).Str("hook", hook).Msg("Hook permission denied")
}

// mergedConfig layers operator config, SetPluginConfig and call-site config.
func (m *Manager) mergedConfig(id string, callConfig map[string]any) (map[string]any, error) {
	m.configMu.RLock()
	layers := []map[string]any{m.defaults[id], m.overrides[id], callConfig}
	m.configMu.RUnlock()

	merged := make(map[string]any)
	for _, layer := range layers {
		if len(layer) == 0 {
			continue
		}
		if err := mergo.Merge(&merged, cloneConfig(layer), mergo.WithOverride); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

// cloneConfig deep-copies nested maps and slices so merged results never
// alias stored configuration.
func cloneConfig(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = cloneValue(v)
	}
	return dst
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneConfig(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

func processOf(p Plugin) sandbox.Process {
	if pb, ok := p.(ProcessBound); ok {
		return pb.Process()
	}
	return nil
}
