package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/chive/pluginrt/internal/audit"
	"github.com/chive/pluginrt/internal/config"
	"github.com/chive/pluginrt/internal/logger"
	"github.com/chive/pluginrt/internal/metrics"
	"github.com/chive/pluginrt/internal/tracing"
	"github.com/chive/pluginrt/pkg/cache"
	"github.com/chive/pluginrt/pkg/eventbus"
	"github.com/chive/pluginrt/pkg/governor"
	"github.com/chive/pluginrt/pkg/hooks"
	"github.com/chive/pluginrt/pkg/plugin"
	"github.com/chive/pluginrt/pkg/sandbox"
)

const shutdownTimeout = 30 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the plugin host in the foreground",
	Long: `Load every plugin from the plugin directory and keep them running until
SIGINT or SIGTERM. On shutdown plugins are unloaded in reverse load order.`,
	RunE: runHost,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// host wires the runtime components for one chived process.
type host struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *metrics.Metrics
	manager *plugin.Manager
	hooks   *hooks.Manager
	audit   *audit.Logger
	watcher *plugin.DirectoryWatcher
	server  *http.Server

	detach []func()
}

func newHost(cfg *config.Config, logger zerolog.Logger) (*host, error) {
	m := metrics.NewMetrics()

	bus := eventbus.New(logger, eventbus.WithRecorder(m))
	loader := plugin.NewLoader(logger,
		plugin.WithInterpreter(cfg.Plugins.Interpreter),
		plugin.WithHandshakeTimeout(cfg.Plugins.HandshakeTimeout),
	)

	manager := plugin.NewManager(logger, plugin.ManagerConfig{
		Bus:           bus,
		Governor:      governor.New(logger, m),
		Sandboxes:     sandbox.NewPool(logger),
		Cache:         cache.NewStore(cfg.Cache.Size, cfg.Cache.TTL),
		Metrics:       m,
		Loader:        loader,
		Limits:        cfg.Resources,
		PluginConfigs: cfg.Plugins.Configs,
	})

	hookManager, err := hooks.NewManager(hooks.Config{
		Enabled: cfg.Hooks.Enabled,
		Hooks:   hookEntries(cfg.Hooks.Entries),
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure hooks: %w", err)
	}

	h := &host{
		cfg:     cfg,
		logger:  logger.With().Str("component", "host").Logger(),
		metrics: m,
		manager: manager,
		hooks:   hookManager,
	}

	if cfg.Audit.Enabled {
		h.audit, err = audit.Open(cfg.Audit.File)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
	}

	if cfg.Plugins.Watch {
		h.watcher, err = plugin.NewDirectoryWatcher(logger, manager, cfg.Plugins.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to create plugin watcher: %w", err)
		}
	}

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		h.server = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return h, nil
}

func hookEntries(entries []config.HookEntry) []hooks.Hook {
	out := make([]hooks.Hook, 0, len(entries))
	for _, e := range entries {
		out = append(out, hooks.Hook{
			ID:      e.ID,
			Event:   e.Event,
			Script:  e.Script,
			Timeout: e.Timeout,
			Enabled: e.Enabled,
		})
	}
	return out
}

// start attaches hooks and the audit log, loads the plugin directory and announces startup.
func (h *host) start(ctx context.Context) (*plugin.LoadResult, error) {
	if h.server != nil {
		go func() {
			if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				h.logger.Error().Err(err).Str("addr", h.server.Addr).Msg("Metrics server stopped")
			}
		}()
		h.logger.Info().Str("addr", h.server.Addr).Msg("Serving metrics")
	}

	h.detach = append(h.detach, h.hooks.Attach(h.manager.Bus()))
	if h.audit != nil {
		h.detach = append(h.detach, h.audit.Attach(h.manager.Bus()))
	}

	if err := os.MkdirAll(h.cfg.Plugins.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create plugin directory: %w", err)
	}

	result := h.manager.LoadPluginsFromDirectory(ctx, h.cfg.Plugins.Dir)
	for _, id := range result.Failed {
		h.logger.Error().Err(result.Errors[id]).Str("plugin_id", id).Msg("Plugin failed to load")
	}
	h.logger.Info().
		Int("loaded", len(result.Loaded)).
		Int("failed", len(result.Failed)).
		Str("dir", h.cfg.Plugins.Dir).
		Msg("Plugins loaded")

	h.manager.EmitAsync(ctx, plugin.EventSystemStartup, map[string]any{
		"plugins": result.Loaded,
	})

	if h.watcher != nil {
		if err := h.watcher.Start(); err != nil {
			return result, fmt.Errorf("failed to watch plugin directory: %w", err)
		}
	}

	return result, nil
}

// stop unloads every plugin and tears the host down.
func (h *host) stop(ctx context.Context) {
	if h.watcher != nil {
		if err := h.watcher.Stop(); err != nil {
			h.logger.Warn().Err(err).Msg("Failed to stop plugin watcher")
		}
	}

	h.manager.ShutdownAll(ctx)

	for _, detach := range h.detach {
		detach()
	}
	if h.audit != nil {
		if err := h.audit.Close(); err != nil {
			h.logger.Warn().Err(err).Msg("Failed to close audit log")
		}
	}

	if h.server != nil {
		if err := h.server.Shutdown(ctx); err != nil {
			h.logger.Warn().Err(err).Msg("Failed to stop metrics server")
		}
	}
}

func runHost(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if f := cmd.Flag("log-level"); f != nil && f.Changed {
		cfg.Logging.Level = logLevel
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()
	cliLog := log.Component("cli")

	if cfg.Tracing.Enabled {
		if err := tracing.Init(cfg.Tracing.ServiceName); err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
	}

	h, err := newHost(cfg, log.Zerolog())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := h.start(ctx)
	if err == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "chived running with %d plugins (%d failed)\n",
			len(result.Loaded), len(result.Failed))
		<-ctx.Done()
		cliLog.Info().Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	h.stop(shutdownCtx)

	if cfg.Tracing.Enabled {
		if terr := tracing.Shutdown(shutdownCtx); terr != nil {
			cliLog.Warn().Err(terr).Msg("Failed to flush traces")
		}
	}

	return err
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func parseLevel(level string) zerolog.Level {
	l, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return l
}
