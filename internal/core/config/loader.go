package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file. Environment variables in the
// file are expanded before parsing, so secrets can come from the process
// environment.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Locking.DefaultTimeout == 0 {
		cfg.Locking.DefaultTimeout = 10 * time.Second
	}
	if cfg.Locking.StaleAge == 0 {
		cfg.Locking.StaleAge = 60 * time.Second
	}
	if cfg.Checkpoints.Backend == "" {
		cfg.Checkpoints.Backend = "fs"
	}
	if cfg.Checkpoints.Dir == "" {
		cfg.Checkpoints.Dir = "checkpoints"
	}
}
