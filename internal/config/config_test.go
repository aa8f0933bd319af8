package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
[telegram]
token = "123:abc"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, DefaultEngineBaseURL, cfg.Engine.BaseURL)
	require.True(t, cfg.Engine.Streaming)
	require.Equal(t, 1200, cfg.Render.MinEditIntervalMs)
	require.Equal(t, 500, cfg.Render.DebounceMs)
	require.Equal(t, DefaultStashTTLMinutes, cfg.Stash.TTLMinutes)
	require.Equal(t, DefaultStashSweepSpec, cfg.Stash.SweepSpec)
	require.Equal(t, DefaultCachePath, cfg.Media.CachePath)
	require.Equal(t, DefaultHTTPAddr, cfg.Server.Addr)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
[telegram]
token = "123:abc"
poll_timeout = 10

[engine]
base_url = "https://engine.internal"
streaming = false
timeout_seconds = 15

[render]
min_edit_interval_ms = 900
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "https://engine.internal", cfg.Engine.BaseURL)
	require.False(t, cfg.Engine.Streaming)
	require.Equal(t, 15, cfg.Engine.TimeoutSeconds)
	require.Equal(t, 10, cfg.Telegram.PollTimeout)
	require.Equal(t, 900, cfg.Render.MinEditIntervalMs)
	// Untouched sections keep their defaults.
	require.Equal(t, 500, cfg.Render.DebounceMs)
}

func TestLoadMissingTokenFails(t *testing.T) {
	path := writeConfig(t, `
[engine]
base_url = "https://engine.internal"
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverridesSecrets(t *testing.T) {
	path := writeConfig(t, `
[telegram]
token = "file-token"
`)
	t.Setenv("TELEGRAM_TOKEN", "env-token")
	t.Setenv("ENGINE_API_KEY", "env-key")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "env-token", cfg.Telegram.Token)
	require.Equal(t, "env-key", cfg.Engine.APIKey)
}

func TestLoadBadTOML(t *testing.T) {
	path := writeConfig(t, "not [valid toml")
	_, err := Load(path)
	require.Error(t, err)
}
