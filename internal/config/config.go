// Package config loads daemon configuration from a .env-style file with
// environment-variable overrides, the same two-layer approach the teacher
// used for its device credentials, generalized to the daemon's own knobs.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds every daemon-wide setting: where the quirk database lives,
// how long a device stays in the registry after it's unplugged, which
// plugins may load, and what the control surface listens on.
type Config struct {
	QuirkDBPath     string
	RemoveDelay     time.Duration
	PluginAllowList []string
	PluginDenyList  []string
	HTTPListenAddr  string
	GRPCListenAddr  string
}

var (
	loaded     *Config
	loadedOnce bool
)

const (
	defaultRemoveDelay    = 5 * time.Second
	defaultQuirkDBPath    = "/usr/share/fwupdcore/quirks.d"
	defaultHTTPListenAddr = ":8080"
	defaultGRPCListenAddr = ":8443"
)

// Load reads the daemon config from ./.env (or the nearest ancestor
// directory containing go.mod), then applies FWUPDCORE_* environment
// variable overrides. The result is cached; call Reload to force a
// re-read (tests use this to avoid cross-test state).
func Load() (*Config, error) {
	if loaded != nil && loadedOnce {
		return loaded, nil
	}
	return Reload()
}

// Reload re-reads configuration unconditionally.
func Reload() (*Config, error) {
	cfg := &Config{
		QuirkDBPath:    defaultQuirkDBPath,
		RemoveDelay:    defaultRemoveDelay,
		HTTPListenAddr: defaultHTTPListenAddr,
		GRPCListenAddr: defaultGRPCListenAddr,
	}

	envPath := filepath.Join(findProjectRoot(), ".env")
	if data, err := os.ReadFile(envPath); err == nil {
		parseEnvFile(string(data), cfg)
	}

	applyEnvOverrides(cfg)

	loaded = cfg
	loadedOnce = true
	return cfg, nil
}

func parseEnvFile(content string, cfg *Config) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		applyKV(cfg, strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]))
	}
}

func applyEnvOverrides(cfg *Config) {
	for _, key := range []string{
		"FWUPDCORE_QUIRK_DB_PATH", "FWUPDCORE_REMOVE_DELAY",
		"FWUPDCORE_PLUGIN_ALLOW", "FWUPDCORE_PLUGIN_DENY",
		"FWUPDCORE_HTTP_LISTEN", "FWUPDCORE_GRPC_LISTEN",
	} {
		if v := os.Getenv(key); v != "" {
			applyKV(cfg, key, v)
		}
	}
}

func applyKV(cfg *Config, key, value string) {
	switch key {
	case "FWUPDCORE_QUIRK_DB_PATH":
		cfg.QuirkDBPath = value
	case "FWUPDCORE_REMOVE_DELAY":
		if d, err := time.ParseDuration(value); err == nil {
			cfg.RemoveDelay = d
		} else if secs, err := strconv.Atoi(value); err == nil {
			cfg.RemoveDelay = time.Duration(secs) * time.Second
		}
	case "FWUPDCORE_PLUGIN_ALLOW":
		cfg.PluginAllowList = splitCSV(value)
	case "FWUPDCORE_PLUGIN_DENY":
		cfg.PluginDenyList = splitCSV(value)
	case "FWUPDCORE_HTTP_LISTEN":
		cfg.HTTPListenAddr = value
	case "FWUPDCORE_GRPC_LISTEN":
		cfg.GRPCListenAddr = value
	}
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func findProjectRoot() string {
	cwd, _ := os.Getwd()
	if _, err := os.Stat(filepath.Join(cwd, ".env")); err == nil {
		return cwd
	}
	for {
		if _, err := os.Stat(filepath.Join(cwd, "go.mod")); err == nil {
			return cwd
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return cwd
		}
		cwd = parent
	}
}

// PluginAllowed reports whether name passes the allow/deny lists: an
// explicit deny always wins, an empty allow list means "everything not
// denied is allowed".
func (c *Config) PluginAllowed(name string) bool {
	for _, d := range c.PluginDenyList {
		if d == name {
			return false
		}
	}
	if len(c.PluginAllowList) == 0 {
		return true
	}
	for _, a := range c.PluginAllowList {
		if a == name {
			return true
		}
	}
	return false
}
