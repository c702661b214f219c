package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"mercator-hq/saturn/pkg/admission"
)

// Config contains configuration for the decision journal.
type Config struct {
	// Path is the database file path.
	Path string

	// BufferSize is the size of the async event channel. Events arriving
	// while the channel is full are dropped and counted.
	// Default: 1024
	BufferSize int

	// BatchSize is the maximum number of events written per transaction.
	// Default: 64
	BatchSize int

	// FlushInterval is how often a partial batch is written out.
	// Default: 500 milliseconds
	FlushInterval time.Duration

	// WriteTimeout is the timeout for writing a batch to the database.
	// Default: 5 seconds
	WriteTimeout time.Duration
}

// DefaultConfig returns the default journal configuration.
func DefaultConfig() *Config {
	return &Config{
		Path:          "data/admission.db",
		BufferSize:    1024,
		BatchSize:     64,
		FlushInterval: 500 * time.Millisecond,
		WriteTimeout:  5 * time.Second,
	}
}

// Record is the persisted form of an admission decision event.
type Record struct {
	ID        string
	Time      time.Time
	Group     string
	Operation string
	Key       string
	Allowed   bool
	Violated  string
	Error     string
	Duration  time.Duration
}

// Journal persists admission decision events to SQLite. It implements
// admission.Observer: ObserveDecision never blocks the serving path, so
// under sustained overload events are dropped rather than queued.
type Journal struct {
	db      *sql.DB
	config  *Config
	eventCh chan Record
	wg      sync.WaitGroup
	done    chan struct{}
	logger  *slog.Logger
	dropped atomic.Uint64
}

// Open opens or creates the journal database at config.Path and starts
// the background writer.
func Open(config *Config, logger *slog.Logger) (*Journal, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 1024
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 64
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 500 * time.Millisecond
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	j := &Journal{
		db:      db,
		config:  config,
		eventCh: make(chan Record, config.BufferSize),
		done:    make(chan struct{}),
		logger:  logger.With("component", "journal"),
	}

	if err := j.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	j.wg.Add(1)
	go j.worker()

	j.logger.Info("decision journal opened",
		"path", config.Path,
		"buffer_size", config.BufferSize,
		"batch_size", config.BatchSize,
		"flush_interval", config.FlushInterval,
	)

	return j, nil
}

// initialize sets up the database schema and enables WAL mode.
func (j *Journal) initialize() error {
	// WAL keeps readers unblocked while the writer goroutine commits
	if _, err := j.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := j.db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := j.db.Exec(Schema); err != nil {
		return fmt.Errorf("failed to create journal schema: %w", err)
	}
	if _, err := j.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return fmt.Errorf("failed to insert schema version: %w", err)
	}

	var version int
	err := j.db.QueryRow(GetSchemaVersion).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version != SchemaVersion {
		return fmt.Errorf("journal schema version mismatch: expected %d, got %d", SchemaVersion, version)
	}

	return nil
}

// ObserveDecision enqueues an event for async writing. It never blocks:
// when the buffer is full the event is dropped and counted.
func (j *Journal) ObserveDecision(ev admission.DecisionEvent) {
	select {
	case j.eventCh <- recordFromEvent(ev):
	default:
		j.dropped.Add(1)
	}
}

// Dropped returns the number of events dropped because the buffer was
// full.
func (j *Journal) Dropped() uint64 {
	return j.dropped.Load()
}

// Recent returns the most recent records, newest first. A non-positive
// limit defaults to 100.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := j.db.QueryContext(ctx, selectRecent, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan journal record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}

	return records, nil
}

// CleanupBefore deletes records older than cutoff and returns how many
// were removed.
func (j *Journal) CleanupBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := j.db.ExecContext(ctx, deleteBefore, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete journal records: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to delete journal records: %w", err)
	}
	return deleted, nil
}

// Close drains buffered events, flushes them, and closes the database.
func (j *Journal) Close() error {
	close(j.done)
	j.wg.Wait()

	if err := j.db.Close(); err != nil {
		return fmt.Errorf("failed to close journal database: %w", err)
	}

	j.logger.Info("decision journal closed", "dropped_events", j.dropped.Load())
	return nil
}

// worker is the background goroutine that batches events and writes them
// to the database.
func (j *Journal) worker() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]Record, 0, j.config.BatchSize)
	var reportedDrops uint64

	for {
		select {
		case rec := <-j.eventCh:
			batch = append(batch, rec)
			if len(batch) >= j.config.BatchSize {
				j.flush(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				j.flush(batch)
				batch = batch[:0]
			}
			reportedDrops = j.reportDrops(reportedDrops)

		case <-j.done:
			// Drain remaining events from channel before exit
			for {
				select {
				case rec := <-j.eventCh:
					batch = append(batch, rec)
					if len(batch) >= j.config.BatchSize {
						j.flush(batch)
						batch = batch[:0]
					}
				default:
					if len(batch) > 0 {
						j.flush(batch)
					}
					j.reportDrops(reportedDrops)
					return
				}
			}
		}
	}
}

// flush writes one batch in a single transaction. Failures are logged
// and the batch is lost; the journal never propagates errors back to the
// serving path.
func (j *Journal) flush(batch []Record) {
	ctx, cancel := context.WithTimeout(context.Background(), j.config.WriteTimeout)
	defer cancel()

	start := time.Now()

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		j.logger.Error("failed to begin journal transaction", "error", err, "batch_size", len(batch))
		return
	}

	stmt, err := tx.PrepareContext(ctx, insertEvent)
	if err != nil {
		tx.Rollback()
		j.logger.Error("failed to prepare journal insert", "error", err)
		return
	}

	for _, rec := range batch {
		// Convert empty strings to NULL for optional fields
		var violated, errText interface{}
		if rec.Violated != "" {
			violated = rec.Violated
		}
		if rec.Error != "" {
			errText = rec.Error
		}

		_, err := stmt.ExecContext(ctx,
			rec.ID, rec.Time, rec.Group, rec.Operation, rec.Key,
			rec.Allowed, violated, errText, rec.Duration.Microseconds(),
		)
		if err != nil {
			stmt.Close()
			tx.Rollback()
			j.logger.Error("failed to insert journal record",
				"record_id", rec.ID,
				"error", err,
			)
			return
		}
	}

	stmt.Close()
	if err := tx.Commit(); err != nil {
		j.logger.Error("failed to commit journal batch", "error", err, "batch_size", len(batch))
		return
	}

	j.logger.Debug("journal batch written",
		"records", len(batch),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// reportDrops logs events dropped since the last report and returns the
// new cumulative total.
func (j *Journal) reportDrops(reported uint64) uint64 {
	total := j.dropped.Load()
	if n := total - reported; n > 0 {
		j.logger.Warn("journal buffer full, events dropped",
			"dropped", n,
			"dropped_total", total,
		)
	}
	return total
}

func recordFromEvent(ev admission.DecisionEvent) Record {
	rec := Record{
		ID:        ev.ID,
		Time:      ev.Time,
		Group:     ev.Group,
		Operation: ev.Operation,
		Key:       ev.Key,
		Allowed:   ev.Allowed,
		Duration:  ev.Duration,
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	if ev.Violated != nil {
		rec.Violated = ev.Violated.String()
	}
	if ev.Err != nil {
		rec.Error = ev.Err.Error()
	}
	return rec
}

// scanRecord scans a database row into a Record.
func scanRecord(rows *sql.Rows) (Record, error) {
	var rec Record
	var violated, errText sql.NullString
	var durationUs int64

	err := rows.Scan(
		&rec.ID, &rec.Time, &rec.Group, &rec.Operation, &rec.Key,
		&rec.Allowed, &violated, &errText, &durationUs,
	)
	if err != nil {
		return Record{}, err
	}

	if violated.Valid {
		rec.Violated = violated.String
	}
	if errText.Valid {
		rec.Error = errText.String
	}
	rec.Duration = time.Duration(durationUs) * time.Microsecond

	return rec, nil
}
