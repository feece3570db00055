package plugin

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-plugin"
	"github.com/rs/zerolog"

	"github.com/chive/pluginrt/pkg/sandbox"
)

// DefaultInterpreter runs entrypoints. Whatever it starts must serve the
// go-plugin net/rpc protocol with Handshake, so a JavaScript plugin
// needs a Go shim built on plugin.Serve with RemoteRPCPlugin. A plain Node
// script cannot complete the handshake.
const (
	DefaultInterpreter      = "node"
	DefaultHandshakeTimeout = 10 * time.Second
)

// Launcher starts the code behind entrypoint and returns its RPC surface
// together with the process handle that owns it.
type Launcher func(ctx context.Context, manifest *Manifest, entrypoint string) (Remote, sandbox.Process, error)

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithInterpreter sets the command entrypoints are run with.
func WithInterpreter(interpreter string) LoaderOption {
	return func(l *Loader) {
		l.interpreter = interpreter
	}
}

// WithHandshakeTimeout bounds how long a plugin process may take to connect.
func WithHandshakeTimeout(d time.Duration) LoaderOption {
	return func(l *Loader) {
		l.handshakeTimeout = d
	}
}

// WithLauncher replaces the go-plugin process launcher.
func WithLauncher(launch Launcher) LoaderOption {
	return func(l *Loader) {
		l.launch = launch
	}
}

// Loader discovers manifests on disk and produces plugin instances from them.
//
// Builtin ids resolve to registered constructors. Every other entrypoint is
// launched as a child process speaking go-plugin net/rpc (gob encoded), which
// has no implementation outside Go. Non-Go plugins therefore need a Go host
// process or a custom Launcher set with WithLauncher.
type Loader struct {
	logger           zerolog.Logger
	interpreter      string
	handshakeTimeout time.Duration
	launch           Launcher
}

// NewLoader creates a new plugin loader
func NewLoader(logger zerolog.Logger, opts ...LoaderOption) *Loader {
	l := &Loader{
		logger:           logger.With().Str("component", "plugin-loader").Logger(),
		interpreter:      DefaultInterpreter,
		handshakeTimeout: DefaultHandshakeTimeout,
	}
	l.launch = l.launchProcess
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ScanDirectory returns the valid manifests found in the immediate
// subdirectories of dir, ordered by subdirectory name. Unreadable or invalid
// manifests are logged and skipped; a missing dir yields no manifests.
func (l *Loader) ScanDirectory(dir string) []*Manifest {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			l.logger.Debug().Str("dir", dir).Msg("Plugin directory does not exist")
		} else {
			l.logger.Warn().Err(err).Str("dir", dir).Msg("Failed to read plugin directory")
		}
		return nil
	}

	var manifests []*Manifest
	for _, entry := range entries {
		pluginDir := filepath.Join(dir, entry.Name())

		info, err := os.Stat(pluginDir)
		if err != nil || !info.IsDir() {
			continue
		}

		manifest, err := l.ReadManifest(pluginDir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			l.logger.Warn().Err(err).Str("dir", pluginDir).Msg("Skipping plugin")
			continue
		}

		l.logger.Debug().
			Str("id", manifest.ID).
			Str("version", manifest.Version).
			Str("dir", pluginDir).
			Msg("Discovered plugin")
		manifests = append(manifests, manifest)
	}

	return manifests
}

// ReadManifest reads and validates the manifest of the plugin in pluginDir.
func (l *Loader) ReadManifest(pluginDir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(pluginDir, ManifestFile))
	if err != nil {
		return nil, err
	}

	manifest, err := l.ValidateManifest(data)
	if err != nil {
		return nil, err
	}
	return manifest.withDir(pluginDir), nil
}

// ValidateManifest validates raw manifest JSON.
func (l *Loader) ValidateManifest(data []byte) (*Manifest, error) {
	return Validate(data)
}

// LoadPluginCode produces a plugin instance for manifest. Builtin ids are
// served from the builtin table; everything else is launched as a plugin
// process. Every failure is a *LoadError.
func (l *Loader) LoadPluginCode(ctx context.Context, manifest *Manifest) (Plugin, error) {
	if ctor, ok := lookupBuiltin(manifest.ID); ok {
		if ctor == nil {
			return nil, &LoadError{PluginID: manifest.ID, Err: ErrNotCallable}
		}

		p, err := ctor(manifest)
		if err != nil {
			return nil, &LoadError{PluginID: manifest.ID, Err: err}
		}
		if err := checkContract(manifest, p); err != nil {
			return nil, &LoadError{PluginID: manifest.ID, Err: err}
		}
		return p, nil
	}

	if manifest.Dir() == "" {
		return nil, &LoadError{
			PluginID: manifest.ID,
			Err:      fmt.Errorf("no builtin registered and no plugin directory known"),
		}
	}

	entrypoint := filepath.Join(manifest.Dir(), filepath.FromSlash(manifest.Entrypoint))
	if _, err := os.Stat(entrypoint); err != nil {
		return nil, &LoadError{PluginID: manifest.ID, Err: fmt.Errorf("entrypoint not found: %w", err)}
	}

	if err := ctx.Err(); err != nil {
		return nil, &LoadError{PluginID: manifest.ID, Err: err}
	}

	remote, process, err := l.launch(ctx, manifest, entrypoint)
	if err != nil {
		return nil, &LoadError{PluginID: manifest.ID, Err: err}
	}

	id, err := remote.Describe()
	if err != nil {
		kill(process)
		return nil, &LoadError{PluginID: manifest.ID, Err: fmt.Errorf("describe: %w", err)}
	}
	if id != manifest.ID {
		kill(process)
		return nil, &LoadError{
			PluginID: manifest.ID,
			Err:      fmt.Errorf("%w: process reports id %q", ErrCapabilityMismatch, id),
		}
	}

	l.logger.Debug().
		Str("id", manifest.ID).
		Str("entrypoint", entrypoint).
		Msg("Plugin process started")

	return newRemotePlugin(manifest, remote, process, l.logger), nil
}

// launchProcess runs entrypoint under the interpreter and connects to it
// over go-plugin net/rpc.
func (l *Loader) launchProcess(ctx context.Context, manifest *Manifest, entrypoint string) (Remote, sandbox.Process, error) {
	cmd := exec.Command(l.interpreter, entrypoint)
	cmd.Dir = manifest.Dir()
	cmd.Env = append(os.Environ(), "CHIVE_PLUGIN_ID="+manifest.ID)

	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig:  Handshake,
		Plugins:          PluginMap,
		Cmd:              cmd,
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
		StartTimeout:     l.handshakeTimeout,
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, nil, fmt.Errorf("connect to plugin: %w", err)
	}

	raw, err := rpcClient.Dispense("plugin")
	if err != nil {
		client.Kill()
		return nil, nil, fmt.Errorf("dispense plugin: %w", err)
	}

	remote, ok := raw.(Remote)
	if !ok {
		client.Kill()
		return nil, nil, ErrCapabilityMismatch
	}

	return remote, client, nil
}

// checkContract verifies that a constructed instance belongs to manifest.
func checkContract(manifest *Manifest, p Plugin) error {
	if p == nil {
		return fmt.Errorf("%w: constructor returned nil", ErrCapabilityMismatch)
	}
	if p.ID() != manifest.ID {
		return fmt.Errorf("%w: instance reports id %q", ErrCapabilityMismatch, p.ID())
	}
	if p.Manifest() == nil {
		return fmt.Errorf("%w: instance has no manifest", ErrCapabilityMismatch)
	}
	return nil
}

func kill(process sandbox.Process) {
	if process != nil {
		process.Kill()
	}
}
