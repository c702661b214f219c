package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"

	"mercator-hq/saturn/pkg/admission/storage"
	"mercator-hq/saturn/pkg/rate"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateLimiter(&cfg.Limiter)...)
	errs = append(errs, validateTiers(&cfg.Tiers)...)
	errs = append(errs, validateJournal(&cfg.Journal)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateMetrics(&cfg.Metrics)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

// validateServer validates server configuration.
func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: "listen address is required",
		})
	}

	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.read_timeout",
			Message: "read timeout must be positive",
		})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.write_timeout",
			Message: "write timeout must be positive",
		})
	}
	if cfg.IdleTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.idle_timeout",
			Message: "idle timeout must be positive",
		})
	}
	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.shutdown_timeout",
			Message: "shutdown timeout must be positive",
		})
	}

	if cfg.MaxHeaderBytes < 0 {
		errs = append(errs, FieldError{
			Field:   "server.max_header_bytes",
			Message: "max header bytes must be non-negative",
		})
	}
	if cfg.MaxHeaderBytes > 10*1024*1024 { // 10MB is excessive
		errs = append(errs, FieldError{
			Field:   "server.max_header_bytes",
			Message: "max header bytes exceeds reasonable limit (10MB)",
		})
	}

	return errs
}

// validateLimiter validates limiter configuration.
func validateLimiter(cfg *LimiterConfig) []FieldError {
	var errs []FieldError

	if cfg.DefaultLimits != "" {
		if _, err := rate.Parse(cfg.DefaultLimits); err != nil {
			errs = append(errs, FieldError{
				Field:   "limiter.default_limits",
				Message: fmt.Sprintf("invalid limit expression: %v", err),
			})
		}
	}

	if _, err := storage.ParseStrategy(cfg.Strategy); err != nil {
		errs = append(errs, FieldError{
			Field:   "limiter.strategy",
			Message: err.Error(),
		})
	}

	switch cfg.FailurePolicy {
	case "", "fail-closed", "fail-open":
	default:
		errs = append(errs, FieldError{
			Field:   "limiter.failure_policy",
			Message: fmt.Sprintf("unknown policy %q (want fail-closed or fail-open)", cfg.FailurePolicy),
		})
	}

	if cfg.StorageURL != "" {
		u, err := url.Parse(cfg.StorageURL)
		if err != nil {
			errs = append(errs, FieldError{
				Field:   "limiter.storage_url",
				Message: fmt.Sprintf("invalid URL: %v", err),
			})
		} else {
			switch u.Scheme {
			case "memory", "redis", "rediss", "sqlite":
			default:
				errs = append(errs, FieldError{
					Field:   "limiter.storage_url",
					Message: fmt.Sprintf("unsupported scheme %q (want memory, redis, rediss or sqlite)", u.Scheme),
				})
			}
		}
	}

	return errs
}

// validateTiers validates tier configuration.
func validateTiers(cfg *TiersConfig) []FieldError {
	var errs []FieldError

	if cfg.Enabled && cfg.Path == "" {
		errs = append(errs, FieldError{
			Field:   "tiers.path",
			Message: "path is required when tiers are enabled",
		})
	}

	return errs
}

// validateJournal validates journal configuration.
func validateJournal(cfg *JournalConfig) []FieldError {
	var errs []FieldError

	if cfg.Enabled && cfg.Path == "" {
		errs = append(errs, FieldError{
			Field:   "journal.path",
			Message: "path is required when the journal is enabled",
		})
	}
	if cfg.BufferSize < 0 {
		errs = append(errs, FieldError{
			Field:   "journal.buffer_size",
			Message: "buffer size must be non-negative",
		})
	}
	if cfg.BatchSize < 0 {
		errs = append(errs, FieldError{
			Field:   "journal.batch_size",
			Message: "batch size must be non-negative",
		})
	}
	if cfg.Retention.Days < 0 {
		errs = append(errs, FieldError{
			Field:   "journal.retention.days",
			Message: "retention days must be non-negative",
		})
	}
	if cfg.Enabled && cfg.Retention.Days > 0 && cfg.Retention.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Retention.Schedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "journal.retention.schedule",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	}

	return errs
}

// validateLogging validates logging configuration.
func validateLogging(cfg *LoggingConfig) []FieldError {
	var errs []FieldError

	switch strings.ToLower(cfg.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, FieldError{
			Field:   "logging.level",
			Message: fmt.Sprintf("unknown level %q (want debug, info, warn or error)", cfg.Level),
		})
	}

	switch strings.ToLower(cfg.Format) {
	case "", "json", "text":
	default:
		errs = append(errs, FieldError{
			Field:   "logging.format",
			Message: fmt.Sprintf("unknown format %q (want json or text)", cfg.Format),
		})
	}

	return errs
}

// validateMetrics validates metrics configuration.
func validateMetrics(cfg *MetricsConfig) []FieldError {
	var errs []FieldError

	if cfg.Enabled && !strings.HasPrefix(cfg.Path, "/") {
		errs = append(errs, FieldError{
			Field:   "metrics.path",
			Message: "path must start with /",
		})
	}

	return errs
}
