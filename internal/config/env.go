package config

import "os"

// Environment variable names for overrides, mirroring the teacher's
// ONEDRIVE_GO_* naming convention (internal/config/env.go).
const (
	EnvConfig  = "BDP_CONFIG"
	EnvDataDir = "BDP_DATA_DIR"
	EnvListen  = "BDP_LISTEN"
)

// EnvOverrides holds values read from environment variables.
type EnvOverrides struct {
	ConfigPath string
	DataDir    string
	Listen     string
}

// ReadEnvOverrides reads the BDP_* environment variables.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		DataDir:    os.Getenv(EnvDataDir),
		Listen:     os.Getenv(EnvListen),
	}
}
