package config

// CLIOverrides holds values the user set explicitly on the command line.
// Only fields the caller marks as set should be populated — callers pass
// the zero value to mean "not set", the same convention the teacher's
// CLIOverrides uses for --drive.
type CLIOverrides struct {
	ConfigPath string
	DataDir    string
	Listen     string
}

// Resolve layers config file -> environment -> CLI flags, lowest to
// highest priority, mirroring the teacher's four-layer resolution
// (internal/config/resolve.go) minus the profile-selection layer BDP has
// no equivalent of.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Config, string, error) {
	path := cli.ConfigPath
	if path == "" {
		path = env.ConfigPath
	}

	if path == "" {
		dataDir := cli.DataDir
		if dataDir == "" {
			dataDir = env.DataDir
		}

		if dataDir == "" {
			dataDir = DefaultConfig().DataDir
		}

		path = DefaultConfigPath(dataDir)
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, "", err
	}

	if env.DataDir != "" {
		cfg.DataDir = env.DataDir
	}

	if env.Listen != "" {
		cfg.Listen = env.Listen
	}

	if cli.DataDir != "" {
		cfg.DataDir = cli.DataDir
	}

	if cli.Listen != "" {
		cfg.Listen = cli.Listen
	}

	if err := Validate(cfg); err != nil {
		return nil, "", err
	}

	return cfg, path, nil
}
