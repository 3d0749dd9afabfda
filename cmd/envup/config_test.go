package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every ENVUP_ variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, entry := range os.Environ() {
		if strings.HasPrefix(entry, "ENVUP_") {
			key, _, _ := strings.Cut(entry, "=")
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}
}

// =============================================================================
// Config Loading Tests
// =============================================================================

func TestLoadConfig_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 7319, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.NotEmpty(t, cfg.State.DSN)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadConfig_FromFile(t *testing.T) {
	clearEnv(t)

	configContent := `
server:
  host: "0.0.0.0"
  port: 9000
  read_timeout: 60s
  write_timeout: 60s
  shutdown_timeout: 15s

state:
  dsn: "/tmp/envup-test.db"

docker:
  host: "tcp://127.0.0.1:2375"

log:
  level: "debug"
  format: "json"
`
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(configContent), 0644))

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "/tmp/envup-test.db", cfg.State.DSN)
	assert.Equal(t, "tcp://127.0.0.1:2375", cfg.Docker.Host)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	clearEnv(t)

	t.Setenv("ENVUP_SERVER_HOST", "192.168.1.1")
	t.Setenv("ENVUP_SERVER_PORT", "3000")
	t.Setenv("ENVUP_STATE_DSN", "/custom/path.db")
	t.Setenv("ENVUP_LOG_LEVEL", "warn")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.1", cfg.Server.Host)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "/custom/path.db", cfg.State.DSN)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadConfig_FileNotFound_UsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("/nonexistent/path/config.yaml")
	require.NoError(t, err) // Should not error, just use defaults

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 7319, cfg.Server.Port)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	clearEnv(t)

	tmpFile := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte("invalid: yaml: content: [[["), 0644))

	_, err := LoadConfig(tmpFile)
	assert.Error(t, err)
}

func TestServerConfig_Address(t *testing.T) {
	cfg := ServerConfig{Host: "127.0.0.1", Port: 7319}
	assert.Equal(t, "127.0.0.1:7319", cfg.Address())
}

// =============================================================================
// Logger Setup Tests
// =============================================================================

func TestSetupLogger_TextFormat(t *testing.T) {
	cfg := &Config{Log: LogConfig{Level: "info", Format: "text"}}
	assert.NotNil(t, SetupLogger(cfg))
}

func TestSetupLogger_JSONFormat(t *testing.T) {
	cfg := &Config{Log: LogConfig{Level: "debug", Format: "json"}}
	assert.NotNil(t, SetupLogger(cfg))
}

func TestSetupLogger_InvalidLevel(t *testing.T) {
	cfg := &Config{Log: LogConfig{Level: "invalid", Format: "text"}}

	// Should fall back to info level, not panic
	assert.NotNil(t, SetupLogger(cfg))
}

// =============================================================================
// Flag Parsing Tests
// =============================================================================

func TestParseOverrides(t *testing.T) {
	overrides, err := parseOverrides([]string{"DATABASE_HOST=db.example.com:5432", "DEBUG=1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"DATABASE_HOST": "db.example.com:5432",
		"DEBUG":         "1",
	}, overrides)
}

func TestParseOverrides_Invalid(t *testing.T) {
	_, err := parseOverrides([]string{"NOEQUALS"})
	require.Error(t, err)

	_, err = parseOverrides([]string{"=value"})
	require.Error(t, err)
}

func TestEnvironmentName_ExplicitWins(t *testing.T) {
	name, err := environmentName(&commandFlags{name: "twin", manifestPath: "/srv/stacks/app/envup.yaml"})
	require.NoError(t, err)
	assert.Equal(t, "twin", name)
}

func TestEnvironmentName_DerivedFromManifestDir(t *testing.T) {
	name, err := environmentName(&commandFlags{manifestPath: "/srv/stacks/app/envup.yaml"})
	require.NoError(t, err)
	assert.Equal(t, "app", name)
}

func TestLoadExternalSources_LaterFilesWin(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.env")
	second := filepath.Join(dir, "b.env")
	require.NoError(t, os.WriteFile(first, []byte("A=1\nB=1\n"), 0644))
	require.NoError(t, os.WriteFile(second, []byte("B=2\n"), 0644))

	merged, err := loadExternalSources([]string{first, second})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "1", "B": "2"}, merged)
}
