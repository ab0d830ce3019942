package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	for i := range cfg.Policies {
		if err := cfg.Policies[i].Validate(); err != nil {
			return nil, err
		}
	}
	for i := range cfg.Strategies {
		if err := cfg.Strategies[i].Validate(); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Recovery.MaxConcurrentSessions == 0 {
		cfg.Recovery.MaxConcurrentSessions = 5
	}
	if cfg.Recovery.FailureWindow == 0 {
		cfg.Recovery.FailureWindow = 5 * time.Minute
	}
	if cfg.Recovery.Retention == 0 {
		cfg.Recovery.Retention = 24 * time.Hour
	}
	if cfg.Recovery.FailureHistoryCap == 0 {
		cfg.Recovery.FailureHistoryCap = 100
	}
	if cfg.Recovery.MetricsHistoryCap == 0 {
		cfg.Recovery.MetricsHistoryCap = 50
	}
	if cfg.Transport.DialTimeout == 0 {
		cfg.Transport.DialTimeout = 10 * time.Second
	}
	if len(cfg.Policies) == 0 {
		cfg.Policies = DefaultPolicies()
	}
	if len(cfg.Strategies) == 0 {
		cfg.Strategies = DefaultStrategies()
	}
}
