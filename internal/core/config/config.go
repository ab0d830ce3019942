package config

import (
	"time"

	"github.com/vietddude/relink/internal/core/domain"
	redisclient "github.com/vietddude/relink/internal/infra/redis"
	"github.com/vietddude/relink/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig       `yaml:"server"`
	Logging   LoggingConfig      `yaml:"logging"`
	Recovery  RecoveryConfig     `yaml:"recovery"`
	Transport TransportConfig    `yaml:"transport"`
	Redis     redisclient.Config `yaml:"redis"`
	Database  postgres.Config    `yaml:"database"`

	// Policies and Strategies seed the runtime catalogs. When either
	// list is empty the built-in defaults are used; both stay editable
	// at runtime through the registries.
	Policies   []domain.RetryPolicy      `yaml:"policies"`
	Strategies []domain.RecoveryStrategy `yaml:"strategies"`
}

// ServerConfig holds health/metrics HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// RecoveryConfig holds coordinator tunables.
type RecoveryConfig struct {
	MaxConcurrentSessions int           `yaml:"max_concurrent_sessions"`
	FailureWindow         time.Duration `yaml:"failure_window"`
	Retention             time.Duration `yaml:"retention"`
	FailureHistoryCap     int           `yaml:"failure_history_cap"`
	MetricsHistoryCap     int           `yaml:"metrics_history_cap"`
	Adaptive              bool          `yaml:"adaptive"`
}

// TransportConfig holds settings for the link-bridge connection.
type TransportConfig struct {
	// Endpoint of the gRPC link bridge. Empty disables the bridge
	// (the engine then needs a transport injected programmatically).
	Endpoint    string        `yaml:"endpoint"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}
