package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any
// errors. The configuration is not modified by environment variables; use
// LoadConfigWithEnvOverrides for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and
// applies environment variable overrides. Environment variables follow the
// naming convention SATURN_SECTION_FIELD (e.g. SATURN_SERVER_LISTEN_ADDRESS)
// and always take precedence over file-based configuration.
//
// The loading sequence is:
//  1. Load YAML from file
//  2. Apply default values
//  3. Apply environment variable overrides
//  4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Environment variables use the format SATURN_SECTION_FIELD.
func applyEnvOverrides(cfg *Config) {
	// Server overrides
	if val := os.Getenv("SATURN_SERVER_LISTEN_ADDRESS"); val != "" {
		cfg.Server.ListenAddress = val
	}
	if val := os.Getenv("SATURN_SERVER_READ_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if val := os.Getenv("SATURN_SERVER_WRITE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}
	if val := os.Getenv("SATURN_SERVER_IDLE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Server.IdleTimeout = d
		}
	}
	if val := os.Getenv("SATURN_SERVER_SHUTDOWN_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Server.ShutdownTimeout = d
		}
	}
	if val := os.Getenv("SATURN_SERVER_MAX_HEADER_BYTES"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Server.MaxHeaderBytes = i
		}
	}

	// Limiter overrides
	if val := os.Getenv("SATURN_LIMITER_DEFAULT_LIMITS"); val != "" {
		cfg.Limiter.DefaultLimits = val
	}
	if val := os.Getenv("SATURN_LIMITER_KEY_PREFIX"); val != "" {
		cfg.Limiter.KeyPrefix = val
	}
	if val := os.Getenv("SATURN_LIMITER_STORAGE_URL"); val != "" {
		cfg.Limiter.StorageURL = val
	}
	if val := os.Getenv("SATURN_LIMITER_STRATEGY"); val != "" {
		cfg.Limiter.Strategy = val
	}
	if val := os.Getenv("SATURN_LIMITER_FAILURE_POLICY"); val != "" {
		cfg.Limiter.FailurePolicy = val
	}

	// Tiers overrides
	if val := os.Getenv("SATURN_TIERS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Tiers.Enabled = b
		}
	}
	if val := os.Getenv("SATURN_TIERS_PATH"); val != "" {
		cfg.Tiers.Path = val
	}
	if val := os.Getenv("SATURN_TIERS_WATCH"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Tiers.Watch = b
		}
	}

	// Journal overrides
	if val := os.Getenv("SATURN_JOURNAL_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Journal.Enabled = b
		}
	}
	if val := os.Getenv("SATURN_JOURNAL_PATH"); val != "" {
		cfg.Journal.Path = val
	}
	if val := os.Getenv("SATURN_JOURNAL_BUFFER_SIZE"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Journal.BufferSize = i
		}
	}
	if val := os.Getenv("SATURN_JOURNAL_BATCH_SIZE"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Journal.BatchSize = i
		}
	}
	if val := os.Getenv("SATURN_JOURNAL_FLUSH_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Journal.FlushInterval = d
		}
	}
	if val := os.Getenv("SATURN_JOURNAL_RETENTION_DAYS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Journal.Retention.Days = i
		}
	}
	if val := os.Getenv("SATURN_JOURNAL_RETENTION_SCHEDULE"); val != "" {
		cfg.Journal.Retention.Schedule = val
	}

	// Logging overrides
	if val := os.Getenv("SATURN_LOGGING_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("SATURN_LOGGING_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}
	if val := os.Getenv("SATURN_LOGGING_ADD_SOURCE"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Logging.AddSource = b
		}
	}

	// Metrics overrides
	if val := os.Getenv("SATURN_METRICS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Metrics.Enabled = b
		}
	}
	if val := os.Getenv("SATURN_METRICS_PATH"); val != "" {
		cfg.Metrics.Path = val
	}
}
