package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"mercator-hq/saturn/pkg/rate"
)

// SQLiteBackend implements Backend with SQLite persistence. Counters
// survive process restarts, which makes it suitable for single-instance
// deployments where limits must hold across redeploys.
//
// SQLiteBackend opens the database in write-ahead log (WAL) mode with a
// single writer connection; atomicity of CheckAndIncrement comes from
// running the check and the mutation inside one transaction on that
// connection.
type SQLiteBackend struct {
	db       *sql.DB
	strategy Strategy
	dbPath   string

	checkpointInterval time.Duration
	cleanupInterval    time.Duration
	done               chan struct{}
	closeOnce          sync.Once

	// now is the clock; tests substitute it to cross windows instantly.
	now func() time.Time

	// prepared statements for the read-only paths
	getWindowStmt *sql.Stmt
	countHitsStmt *sql.Stmt
	oldestHitStmt *sql.Stmt
}

// SQLiteBackendConfig configures the SQLite backend.
type SQLiteBackendConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// Strategy selects the counting algorithm. Default: FixedWindow.
	Strategy Strategy

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds. Option key: "busy_timeout".
	BusyTimeout time.Duration

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5 minutes. Option key: "checkpoint_interval".
	CheckpointInterval time.Duration

	// CleanupInterval is how often expired rows are deleted.
	// Default: 1 minute. Option key: "cleanup_interval".
	CleanupInterval time.Duration
}

// NewSQLiteBackend creates a SQLite backend with default settings.
func NewSQLiteBackend(dbPath string, strategy Strategy) (*SQLiteBackend, error) {
	return NewSQLiteBackendWithConfig(SQLiteBackendConfig{
		DBPath:   dbPath,
		Strategy: strategy,
	})
}

// NewSQLiteBackendWithConfig creates a SQLite backend with custom
// configuration.
func NewSQLiteBackendWithConfig(cfg SQLiteBackendConfig) (*SQLiteBackend, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.Strategy == "" {
		cfg.Strategy = FixedWindow
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}

	// Open database with WAL mode and busy timeout
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		cfg.DBPath, int(cfg.BusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	backend := &SQLiteBackend{
		db:                 db,
		strategy:           cfg.Strategy,
		dbPath:             cfg.DBPath,
		checkpointInterval: cfg.CheckpointInterval,
		cleanupInterval:    cfg.CleanupInterval,
		done:               make(chan struct{}),
		now:                time.Now,
	}

	if err := backend.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := backend.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	go backend.maintenanceLoop()

	return backend, nil
}

// initSchema creates the database schema if it doesn't exist.
func (s *SQLiteBackend) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS windows (
		counter_key TEXT PRIMARY KEY,
		count INTEGER NOT NULL,
		window_start INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_windows_expires_at ON windows(expires_at);

	CREATE TABLE IF NOT EXISTS hits (
		counter_key TEXT NOT NULL,
		hit_at INTEGER NOT NULL,
		window_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_hits_key_time ON hits(counter_key, hit_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// prepareStatements prepares the read-path statements for reuse.
func (s *SQLiteBackend) prepareStatements() error {
	var err error

	s.getWindowStmt, err = s.db.Prepare(`
		SELECT count, expires_at FROM windows WHERE counter_key = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare window statement: %w", err)
	}

	s.countHitsStmt, err = s.db.Prepare(`
		SELECT COUNT(*) FROM hits WHERE counter_key = ? AND hit_at > ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare hit count statement: %w", err)
	}

	s.oldestHitStmt, err = s.db.Prepare(`
		SELECT MIN(hit_at) FROM hits WHERE counter_key = ? AND hit_at > ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare oldest hit statement: %w", err)
	}

	return nil
}

// CanIncrement reports whether one more hit would fit, without recording.
func (s *SQLiteBackend) CanIncrement(ctx context.Context, key string, item rate.Item) (bool, error) {
	ck := counterKey(key, item)
	now := s.now()

	if s.strategy == MovingWindow {
		count, err := s.liveHitCount(ctx, ck, now, item.Window())
		if err != nil {
			return false, err
		}
		return count < item.Amount, nil
	}

	var (
		count     uint64
		expiresAt int64
	)
	err := s.getWindowStmt.QueryRowContext(ctx, ck).Scan(&count, &expiresAt)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load window: %w", err)
	}
	if expiresAt <= now.UnixMilli() {
		return true, nil
	}
	return count < item.Amount, nil
}

// Increment registers one hit unconditionally.
func (s *SQLiteBackend) Increment(ctx context.Context, key string, item rate.Item) error {
	_, err := s.apply(ctx, key, item, false)
	return err
}

// CheckAndIncrement atomically registers one hit only if it fits.
func (s *SQLiteBackend) CheckAndIncrement(ctx context.Context, key string, item rate.Item) (bool, error) {
	return s.apply(ctx, key, item, true)
}

// apply runs one hit through a transaction. When conditional is true the
// hit is recorded only if it fits; otherwise it is always recorded.
func (s *SQLiteBackend) apply(ctx context.Context, key string, item rate.Item, conditional bool) (bool, error) {
	ck := counterKey(key, item)
	now := s.now()
	nowMs := now.UnixMilli()
	windowMs := item.Window().Milliseconds()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	fits := true
	if s.strategy == MovingWindow {
		// Drop aged-out hits, then count what is left.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM hits WHERE counter_key = ? AND hit_at <= ?`,
			ck, nowMs-windowMs,
		); err != nil {
			return false, fmt.Errorf("failed to prune hits: %w", err)
		}

		var count uint64
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM hits WHERE counter_key = ?`, ck,
		).Scan(&count); err != nil {
			return false, fmt.Errorf("failed to count hits: %w", err)
		}

		fits = count < item.Amount
		if !conditional || fits {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO hits (counter_key, hit_at, window_ms) VALUES (?, ?, ?)`,
				ck, nowMs, windowMs,
			); err != nil {
				return false, fmt.Errorf("failed to record hit: %w", err)
			}
		}
	} else {
		var (
			count     uint64
			expiresAt int64
		)
		err := tx.QueryRowContext(ctx,
			`SELECT count, expires_at FROM windows WHERE counter_key = ?`, ck,
		).Scan(&count, &expiresAt)
		fresh := err == sql.ErrNoRows || (err == nil && expiresAt <= nowMs)
		if err != nil && err != sql.ErrNoRows {
			return false, fmt.Errorf("failed to load window: %w", err)
		}

		switch {
		case fresh:
			// First hit starts a new window.
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO windows (counter_key, count, window_start, expires_at)
				VALUES (?, 1, ?, ?)
				ON CONFLICT (counter_key) DO UPDATE SET
					count = 1,
					window_start = excluded.window_start,
					expires_at = excluded.expires_at
			`, ck, nowMs, nowMs+windowMs); err != nil {
				return false, fmt.Errorf("failed to start window: %w", err)
			}
		case count < item.Amount || !conditional:
			newExpiry := expiresAt
			if s.strategy == FixedWindowElasticExpiry {
				newExpiry = nowMs + windowMs
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE windows SET count = count + 1, expires_at = ? WHERE counter_key = ?`,
				newExpiry, ck,
			); err != nil {
				return false, fmt.Errorf("failed to update window: %w", err)
			}
		default:
			fits = false
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit: %w", err)
	}
	return fits, nil
}

// WindowStats returns remaining capacity and reset time for (key, item).
func (s *SQLiteBackend) WindowStats(ctx context.Context, key string, item rate.Item) (WindowStats, error) {
	ck := counterKey(key, item)
	now := s.now()

	if s.strategy == MovingWindow {
		count, err := s.liveHitCount(ctx, ck, now, item.Window())
		if err != nil {
			return WindowStats{}, err
		}
		stats := WindowStats{Remaining: 0, ResetAt: now}
		if count < item.Amount {
			stats.Remaining = item.Amount - count
		}

		var oldest sql.NullInt64
		err = s.oldestHitStmt.QueryRowContext(ctx, ck, now.Add(-item.Window()).UnixMilli()).Scan(&oldest)
		if err != nil && err != sql.ErrNoRows {
			return WindowStats{}, fmt.Errorf("failed to find oldest hit: %w", err)
		}
		if oldest.Valid {
			stats.ResetAt = time.UnixMilli(oldest.Int64).Add(item.Window())
		}
		return stats, nil
	}

	var (
		count     uint64
		expiresAt int64
	)
	err := s.getWindowStmt.QueryRowContext(ctx, ck).Scan(&count, &expiresAt)
	if err == sql.ErrNoRows {
		return WindowStats{Remaining: item.Amount, ResetAt: now}, nil
	}
	if err != nil {
		return WindowStats{}, fmt.Errorf("failed to load window: %w", err)
	}
	if expiresAt <= now.UnixMilli() {
		return WindowStats{Remaining: item.Amount, ResetAt: now}, nil
	}

	stats := WindowStats{Remaining: 0, ResetAt: time.UnixMilli(expiresAt)}
	if count < item.Amount {
		stats.Remaining = item.Amount - count
	}
	return stats, nil
}

// Check verifies the database connection is usable.
func (s *SQLiteBackend) Check(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases database resources. Close is idempotent.
func (s *SQLiteBackend) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		close(s.done)

		if s.getWindowStmt != nil {
			s.getWindowStmt.Close()
		}
		if s.countHitsStmt != nil {
			s.countHitsStmt.Close()
		}
		if s.oldestHitStmt != nil {
			s.oldestHitStmt.Close()
		}

		if s.db != nil {
			// Run final checkpoint
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			closeErr = s.db.Close()
		}
	})

	return closeErr
}

// Cleanup deletes expired windows and aged-out hits. It returns the number
// of rows removed.
func (s *SQLiteBackend) Cleanup(ctx context.Context) (int64, error) {
	nowMs := s.now().UnixMilli()

	var removed int64
	res, err := s.db.ExecContext(ctx, `DELETE FROM windows WHERE expires_at <= ?`, nowMs)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup windows: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		removed += n
	}

	res, err = s.db.ExecContext(ctx, `DELETE FROM hits WHERE hit_at + window_ms <= ?`, nowMs)
	if err != nil {
		return removed, fmt.Errorf("failed to cleanup hits: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		removed += n
	}

	return removed, nil
}

// liveHitCount counts moving-window hits still inside the window.
func (s *SQLiteBackend) liveHitCount(ctx context.Context, ck string, now time.Time, window time.Duration) (uint64, error) {
	var count uint64
	err := s.countHitsStmt.QueryRowContext(ctx, ck, now.Add(-window).UnixMilli()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count hits: %w", err)
	}
	return count, nil
}

// maintenanceLoop runs periodic WAL checkpoints and expired-row cleanup.
func (s *SQLiteBackend) maintenanceLoop() {
	checkpoint := time.NewTicker(s.checkpointInterval)
	defer checkpoint.Stop()
	cleanup := time.NewTicker(s.cleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-checkpoint.C:
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
		case <-cleanup.C:
			_, _ = s.Cleanup(context.Background())
		case <-s.done:
			return
		}
	}
}
