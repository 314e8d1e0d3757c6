package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	redisclient "github.com/vietddude/resilience/internal/infra/redis"
	"github.com/vietddude/resilience/internal/resilience/breaker"
	"github.com/vietddude/resilience/internal/resilience/errmetrics"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
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
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Redis.Channel == "" {
		cfg.Redis.Channel = redisclient.DefaultChannel
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "resilience"
	}

	b := &cfg.Resilience.Breaker
	def := breaker.DefaultConfig()
	if b.Threshold == 0 {
		b.Threshold = def.Threshold
	}
	// A negative window disables the reset.
	if b.Window == 0 {
		b.Window = def.Window
	}
	if b.RecoveryTime == 0 {
		b.RecoveryTime = def.RecoveryTime
	}

	m := &cfg.Resilience.Metrics
	md := errmetrics.DefaultConfig()
	if m.Retention == 0 {
		m.Retention = md.Retention
	}
	if m.SweepInterval == 0 {
		m.SweepInterval = md.SweepInterval
	}
	if m.MaxSamples == 0 {
		m.MaxSamples = md.MaxSamples
	}
	if m.SnapshotInterval == 0 {
		m.SnapshotInterval = 5 * time.Minute
	}
	if m.SnapshotRetention == 0 {
		m.SnapshotRetention = 7 * 24 * time.Hour
	}
}
