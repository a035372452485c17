package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Load reads and parses the TOML config file at path over DefaultConfig's
// baseline. A missing file is not an error — bdpsync runs on defaults until
// `bdpsync init` writes one, mirroring the teacher's LoadOrDefault.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}

	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Write serializes cfg as TOML to path, creating parent directories as
// needed. Used by `bdpsync init` to lay down an editable starting file.
func Write(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: creating %s: %w", filepath.Dir(path), err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: creating %s: %w", path, err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)

	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("config: encoding %s: %w", path, err)
	}

	return nil
}
