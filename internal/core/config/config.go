package config

import (
	"time"

	redisclient "github.com/vietddude/resilience/internal/infra/redis"
	"github.com/vietddude/resilience/internal/infra/storage/postgres"
	"github.com/vietddude/resilience/internal/infra/tracing"
	"github.com/vietddude/resilience/internal/resilience"
	"github.com/vietddude/resilience/internal/resilience/breaker"
	"github.com/vietddude/resilience/internal/resilience/errmetrics"
	"github.com/vietddude/resilience/internal/resilience/policy"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server     ServerConfig       `yaml:"server"`
	Redis      redisclient.Config `yaml:"redis"`
	Logging    LoggingConfig      `yaml:"logging"`
	Database   postgres.Config    `yaml:"database"`
	Tracing    tracing.Config     `yaml:"tracing"`
	Resilience ResilienceConfig   `yaml:"resilience"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// ResilienceConfig holds breaker, retry and error metrics settings.
type ResilienceConfig struct {
	Breaker      breaker.Config            `yaml:"breaker"`
	Dependencies map[string]breaker.Config `yaml:"dependencies"` // per-dependency overrides
	Metrics      MetricsConfig             `yaml:"metrics"`
	Policies     map[string]policy.Policy  `yaml:"policies"` // custom policies, built-in names are ignored
}

// MetricsConfig holds error metrics retention and snapshot settings.
type MetricsConfig struct {
	Retention         time.Duration `yaml:"retention"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	MaxSamples        int           `yaml:"max_samples"`
	SnapshotInterval  time.Duration `yaml:"snapshot_interval"`  // negative disables snapshots
	SnapshotRetention time.Duration `yaml:"snapshot_retention"` // negative keeps snapshots forever
}

// Service converts the section into the resilience service configuration.
func (c ResilienceConfig) Service() resilience.Config {
	return resilience.Config{
		Breaker:      c.Breaker,
		Dependencies: c.Dependencies,
		Metrics: errmetrics.Config{
			Retention:     c.Metrics.Retention,
			SweepInterval: c.Metrics.SweepInterval,
			MaxSamples:    c.Metrics.MaxSamples,
		},
		Policies: c.Policies,
	}
}
