package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeTestConfig(t, `
device_id = "dev-abc123"
device_name = "laptop"
data_dir = "/tmp/bdpsync"
listen = "0.0.0.0:9999"

[logging]
log_level = "debug"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "dev-abc123", cfg.DeviceID)
	assert.Equal(t, "laptop", cfg.DeviceName)
	assert.Equal(t, "/tmp/bdpsync", cfg.DataDir)
	assert.Equal(t, "0.0.0.0:9999", cfg.Listen)
	assert.Equal(t, "debug", cfg.Logging.LogLevel)
}

func TestLoad_MissingFile_ReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultListen, cfg.Listen)
	assert.Equal(t, "warn", cfg.Logging.LogLevel)
	assert.NotEmpty(t, cfg.DataDir)
}

func TestLoad_PartialConfig_FillsDefaults(t *testing.T) {
	path := writeTestConfig(t, `listen = "127.0.0.1:1234"`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:1234", cfg.Listen)
	assert.Equal(t, "warn", cfg.Logging.LogLevel)
}

func TestLoad_MalformedTOML(t *testing.T) {
	path := writeTestConfig(t, `[logging
not valid toml`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing")
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	path := writeTestConfig(t, `
[logging]
log_level = "verbose"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
}

func TestWrite_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.toml")

	cfg := DefaultConfig()
	cfg.DeviceID = "dev-xyz"
	cfg.DeviceName = "desktop"

	require.NoError(t, Write(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "dev-xyz", loaded.DeviceID)
	assert.Equal(t, "desktop", loaded.DeviceName)
}

func TestValidate_RejectsEmptyDataDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = ""

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data_dir")
}

func TestResolve_LayeringOrder(t *testing.T) {
	path := writeTestConfig(t, `
data_dir = "/from/file"
listen = "1.1.1.1:1"
`)

	env := EnvOverrides{DataDir: "/from/env"}
	cli := CLIOverrides{ConfigPath: path, Listen: "2.2.2.2:2"}

	cfg, resolvedPath, err := Resolve(env, cli)
	require.NoError(t, err)
	assert.Equal(t, path, resolvedPath)
	assert.Equal(t, "/from/env", cfg.DataDir, "CLI did not override data_dir, so env should win over the file")
	assert.Equal(t, "2.2.2.2:2", cfg.Listen, "CLI flag should win over both file and env")
}

func TestResolve_DefaultsWhenNothingSet(t *testing.T) {
	cfg, _, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: filepath.Join(t.TempDir(), "nope.toml")})
	require.NoError(t, err)
	assert.Equal(t, DefaultListen, cfg.Listen)
}
