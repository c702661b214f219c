package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB

	// Limiter defaults
	DefaultStorageURL    = "memory://"
	DefaultStrategy      = "fixed-window"
	DefaultFailurePolicy = "fail-closed"

	// Tiers defaults
	DefaultTiersPath  = "./tiers.yaml"
	DefaultTiersWatch = true

	// Journal defaults
	DefaultJournalPath          = "data/journal.db"
	DefaultJournalBufferSize    = 1024
	DefaultJournalBatchSize     = 64
	DefaultJournalFlushInterval = 500 * time.Millisecond
	DefaultRetentionDays        = 30
	DefaultRetentionSchedule    = "0 3 * * *"

	// Logging defaults
	DefaultLoggingLevel  = "info"
	DefaultLoggingFormat = "json"

	// Metrics defaults
	DefaultMetricsEnabled = true
	DefaultMetricsPath    = "/metrics"
)

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}

	// Limiter defaults
	if cfg.Limiter.StorageURL == "" {
		cfg.Limiter.StorageURL = DefaultStorageURL
	}
	if cfg.Limiter.Strategy == "" {
		cfg.Limiter.Strategy = DefaultStrategy
	}
	if cfg.Limiter.FailurePolicy == "" {
		cfg.Limiter.FailurePolicy = DefaultFailurePolicy
	}

	// Tiers defaults
	if cfg.Tiers.Path == "" {
		cfg.Tiers.Path = DefaultTiersPath
	}

	// Journal defaults
	if cfg.Journal.Path == "" {
		cfg.Journal.Path = DefaultJournalPath
	}
	if cfg.Journal.BufferSize == 0 {
		cfg.Journal.BufferSize = DefaultJournalBufferSize
	}
	if cfg.Journal.BatchSize == 0 {
		cfg.Journal.BatchSize = DefaultJournalBatchSize
	}
	if cfg.Journal.FlushInterval == 0 {
		cfg.Journal.FlushInterval = DefaultJournalFlushInterval
	}
	if cfg.Journal.Retention.Days == 0 {
		cfg.Journal.Retention.Days = DefaultRetentionDays
	}
	if cfg.Journal.Retention.Schedule == "" {
		cfg.Journal.Retention.Schedule = DefaultRetentionSchedule
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLoggingFormat
	}

	// Metrics defaults
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
}

// DefaultConfig returns a fully defaulted configuration, the same one an
// empty YAML file would produce except that metrics are enabled and tier
// watching defaults on. YAML cannot default a bool to true, so file-based
// configurations opt into watching explicitly.
func DefaultConfig() *Config {
	cfg := &Config{
		Tiers:   TiersConfig{Watch: DefaultTiersWatch},
		Metrics: MetricsConfig{Enabled: DefaultMetricsEnabled},
	}
	ApplyDefaults(cfg)
	return cfg
}
