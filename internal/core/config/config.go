package config

import (
	"time"

	"github.com/vietddude/sentinel/internal/checkpoint"
	"github.com/vietddude/sentinel/internal/health"
	redisclient "github.com/vietddude/sentinel/internal/infra/redis"
	"github.com/vietddude/sentinel/internal/infra/storage/postgres"
	"github.com/vietddude/sentinel/internal/recovery"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server      ServerConfig       `yaml:"server"`
	Logging     LoggingConfig      `yaml:"logging"`
	Locking     LockingConfig      `yaml:"locking"`
	Checkpoints CheckpointsConfig  `yaml:"checkpoints"`
	Recovery    recovery.Config    `yaml:"recovery"`
	Breaker     BreakerConfig      `yaml:"breaker"`
	Health      health.Config      `yaml:"health"`
	Redis       redisclient.Config `yaml:"redis"`
	Database    postgres.Config    `yaml:"database"`
}

// ServerConfig holds the health/metrics HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// LockingConfig holds lock registry and coordinator settings.
type LockingConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	StaleAge       time.Duration `yaml:"stale_age"`
}

// CheckpointsConfig holds checkpoint store settings. Backend "fs" (default)
// persists under Dir; backend "redis" uses the redis section.
type CheckpointsConfig struct {
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"`
	checkpoint.Config `yaml:",inline"`
}

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	Threshold int           `yaml:"threshold"`
	Window    time.Duration `yaml:"window"`
	Cooldown  time.Duration `yaml:"cooldown"`
}
