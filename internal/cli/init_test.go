package cli

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chive/pluginrt/internal/config"
)

func TestInitCommand(t *testing.T) {
	home := t.TempDir()
	configPath := filepath.Join(home, "plugins.json")

	out, err := execute(t, context.Background(), "init", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, configPath)
	assert.DirExists(t, filepath.Join(home, "plugins"))

	cfg, err := config.NewLoader(configPath).Load()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "plugins"), cfg.Plugins.Dir)
	assert.Equal(t, "node", cfg.Plugins.Interpreter)
	assert.Equal(t, config.DefaultConfig().Resources, cfg.Resources)

	_, err = execute(t, context.Background(), "init", "--config", configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = execute(t, context.Background(), "init", "--config", configPath, "--force")
	assert.NoError(t, err)
}
