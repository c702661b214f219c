package config

import "time"

// Config is the root configuration for the Saturn server. It is loaded
// from a YAML file, overlaid with SATURN_* environment variables, and
// validated before anything starts.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server"`

	// Limiter configures admission control.
	Limiter LimiterConfig `yaml:"limiter"`

	// Tiers configures the optional tier file with per-tier limits.
	Tiers TiersConfig `yaml:"tiers"`

	// Journal configures the optional decision journal.
	Journal JournalConfig `yaml:"journal"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// ListenAddress is the host:port to bind.
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout bounds reading the request, headers included.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout bounds writing the response.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout bounds keep-alive connections between requests.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown before in-flight requests
	// are abandoned.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes caps request header size.
	MaxHeaderBytes int `yaml:"max_header_bytes"`
}

// LimiterConfig configures admission control.
type LimiterConfig struct {
	// DefaultLimits is the process-wide limit expression, e.g.
	// "100 per minute; 2000 per hour". Empty means operations without
	// declared limits pass through unlimited.
	DefaultLimits string `yaml:"default_limits"`

	// KeyPrefix namespaces every storage key, so multiple applications
	// can share one backend.
	KeyPrefix string `yaml:"key_prefix"`

	// StorageURL selects the counter backend: memory://, redis://host:port,
	// rediss://host:port or sqlite:///path/to.db.
	StorageURL string `yaml:"storage_url"`

	// Strategy selects the counting algorithm: fixed-window,
	// fixed-window-elastic-expiry or moving-window.
	Strategy string `yaml:"strategy"`

	// FailurePolicy selects what storage failures do: fail-closed or
	// fail-open.
	FailurePolicy string `yaml:"failure_policy"`

	// StorageOptions carries backend-specific parameters, e.g.
	// pool_size for Redis or busy_timeout for SQLite.
	StorageOptions map[string]string `yaml:"storage_options"`
}

// TiersConfig configures tier-based dynamic limits.
type TiersConfig struct {
	// Enabled turns tier lookup on.
	Enabled bool `yaml:"enabled"`

	// Path is the tier file location.
	Path string `yaml:"path"`

	// Watch reloads the tier file when it changes on disk.
	Watch bool `yaml:"watch"`
}

// JournalConfig configures the decision journal.
type JournalConfig struct {
	// Enabled turns journaling on.
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database location.
	Path string `yaml:"path"`

	// BufferSize is the event channel capacity. Events beyond it are
	// dropped rather than blocking the serving path.
	BufferSize int `yaml:"buffer_size"`

	// BatchSize is how many events one insert transaction carries.
	BatchSize int `yaml:"batch_size"`

	// FlushInterval bounds how long a partial batch may wait.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// Retention configures periodic cleanup of old records.
	Retention RetentionConfig `yaml:"retention"`
}

// RetentionConfig configures journal retention.
type RetentionConfig struct {
	// Days is how long records are kept. Zero disables cleanup.
	Days int `yaml:"days"`

	// Schedule is a cron expression for when cleanup runs.
	Schedule string `yaml:"schedule"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is the minimum level: debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is the output encoding: json or text.
	Format string `yaml:"format"`

	// AddSource includes source file positions in log records.
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled mounts the exposition handler.
	Enabled bool `yaml:"enabled"`

	// Path is where the handler is mounted.
	Path string `yaml:"path"`
}
