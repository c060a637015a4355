package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fwupdcore/internal/config"
)

func TestReloadAppliesEnvOverride(t *testing.T) {
	t.Setenv("FWUPDCORE_REMOVE_DELAY", "30s")
	t.Setenv("FWUPDCORE_PLUGIN_DENY", "legacy,unsafe")

	cfg, err := config.Reload()
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, cfg.RemoveDelay)
	require.False(t, cfg.PluginAllowed("legacy"))
	require.True(t, cfg.PluginAllowed("anything-else"))
}

func TestEnvFileIsRead(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("FWUPDCORE_HTTP_LISTEN=127.0.0.1:9999\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module x\n"), 0644))

	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(cwd)

	cfg, err := config.Reload()
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9999", cfg.HTTPListenAddr)
}

func TestPluginAllowListRestrictsWhenNonEmpty(t *testing.T) {
	cfg := &config.Config{PluginAllowList: []string{"uf2"}}
	require.True(t, cfg.PluginAllowed("uf2"))
	require.False(t, cfg.PluginAllowed("ihex"))
}
