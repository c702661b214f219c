package storage

import (
	"fmt"
	"net/url"
)

// New selects and builds a backend from a storage URL. Supported schemes:
//
//	memory://                          in-process counters (the default)
//	redis://host:port/db               shared counters on a Redis server
//	rediss://host:port/db              same, over TLS
//	sqlite:///var/lib/saturn/rl.db     persistent counters in a SQLite file
//
// An empty URL selects memory://. The strategy applies to whichever
// backend is selected; opts carries backend-specific parameters and may be
// nil.
func New(storageURL string, strategy Strategy, opts Options) (Backend, error) {
	if storageURL == "" {
		storageURL = "memory://"
	}
	if strategy == "" {
		strategy = FixedWindow
	}
	if !strategy.Valid() {
		return nil, fmt.Errorf("unknown strategy %q", strategy)
	}

	u, err := url.Parse(storageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse storage url: %w", err)
	}

	switch u.Scheme {
	case "memory":
		return NewMemoryBackendWithConfig(MemoryBackendConfig{
			Strategy:        strategy,
			MaxEntries:      opts.integer("max_entries", 0),
			CleanupInterval: opts.duration("cleanup_interval", 0),
		}), nil

	case "redis", "rediss":
		return NewRedisBackend(storageURL, strategy, opts)

	case "sqlite":
		// Accept sqlite:///abs/path, sqlite://rel/path and sqlite:path.
		path := u.Opaque
		if path == "" {
			path = u.Host + u.Path
		}
		return NewSQLiteBackendWithConfig(SQLiteBackendConfig{
			DBPath:             path,
			Strategy:           strategy,
			BusyTimeout:        opts.duration("busy_timeout", 0),
			CheckpointInterval: opts.duration("checkpoint_interval", 0),
			CleanupInterval:    opts.duration("cleanup_interval", 0),
		})

	default:
		return nil, fmt.Errorf("unsupported storage scheme %q", u.Scheme)
	}
}
