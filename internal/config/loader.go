package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Load reads and parses the configuration file and environment variables
func Load(configPath string) (*Config, *Secrets, error) {
	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse TOML
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply defaults
	applyDefaults(&cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Additional input security validation
	if err := cfg.ValidateInputs(); err != nil {
		return nil, nil, fmt.Errorf("input validation failed: %w", err)
	}

	// Load secrets from environment
	secrets, err := LoadSecrets()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load secrets: %w", err)
	}

	return &cfg, secrets, nil
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	// Data defaults
	if cfg.Data.MaxSeqLength == 0 {
		cfg.Data.MaxSeqLength = 128
	}
	if cfg.Data.SampleLogCount == 0 {
		cfg.Data.SampleLogCount = 3
	}
	if cfg.Data.CacheDir == "" {
		cfg.Data.CacheDir = DefaultCacheDir()
	}

	// Model defaults
	if cfg.Model.Revision == "" {
		cfg.Model.Revision = "main"
	}

	// Training defaults
	if cfg.Training.OutputDir == "" {
		cfg.Training.OutputDir = "runs"
	}
	// Default seed is 42
	// NOTE: In TOML, we can't distinguish 0 from unset, so:
	// - Unset (0) → defaults to 42
	// - Explicitly set to -1 → derived from wall clock by the engine
	// - Any positive number → use that value
	if cfg.Training.Seed == 0 {
		cfg.Training.Seed = 42
	}

	// Hub defaults
	if cfg.Hub.Dataset == "" {
		cfg.Hub.Dataset = "glue"
	}
	if cfg.Hub.RequestsPerMinute == 0 {
		cfg.Hub.RequestsPerMinute = 300
	}
}

// DefaultCacheDir resolves the cache root, preferring the user cache directory
func DefaultCacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(".", ".gluetune-cache")
	}
	return filepath.Join(base, "gluetune")
}
