// Package config implements A2: TOML configuration loading, environment
// overrides, and validation for the bdpsync CLI. Mirrors the teacher's
// internal/config package (Config struct and Validate here, Load, env
// overrides and Resolve in load.go, env.go and resolve.go), generalized from OneDrive's
// profile/drive-section config to BDP's device/data-dir/logging settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config is the top-level bdpsync configuration structure.
type Config struct {
	DeviceID   string        `toml:"device_id"`
	DeviceName string        `toml:"device_name"`
	DataDir    string        `toml:"data_dir"`
	Listen     string        `toml:"listen"`
	Logging    LoggingConfig `toml:"logging"`
}

// LoggingConfig controls the CLI's structured logging output.
type LoggingConfig struct {
	LogLevel string `toml:"log_level"`
}

// DefaultListen is the address bdpsync sync --serve binds by default.
const DefaultListen = "127.0.0.1:7773"

// DefaultConfig returns the built-in defaults applied before any config
// file or override is read.
func DefaultConfig() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Listen:  DefaultListen,
		Logging: LoggingConfig{LogLevel: "warn"},
	}
}

// defaultDataDir returns "$HOME/.bdpsync", mirroring the teacher's
// platform-specific sync-dir defaulting (internal/config/paths.go) but
// simplified to the single Linux/macOS case BDP targets.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bdpsync"
	}

	return filepath.Join(home, ".bdpsync")
}

// DefaultConfigPath returns "$DataDir/config.toml".
func DefaultConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config.toml")
}

// StorePath returns the SQLite database path for a data directory.
func StorePath(dataDir string) string {
	return filepath.Join(dataDir, "bdp.db")
}

// CASRoot returns the content-addressable blob root for a data directory.
func CASRoot(dataDir string) string {
	return filepath.Join(dataDir, "cas")
}

// Validate rejects configurations that would fail later in a confusing way,
// matching the teacher's "fail fast with an actionable error" convention
// (internal/config/validate.go).
func Validate(cfg *Config) error {
	if cfg.DataDir == "" {
		return fmt.Errorf("config: data_dir must not be empty")
	}

	switch cfg.Logging.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: logging.log_level %q must be one of debug/info/warn/error", cfg.Logging.LogLevel)
	}

	return nil
}
