package journal

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// Schema contains the SQL statements to create the journal database schema.
const Schema = `
-- Admission decision events
CREATE TABLE IF NOT EXISTS admission_events (
    id TEXT PRIMARY KEY,
    event_time TIMESTAMP NOT NULL,

    -- Identity
    group_name TEXT NOT NULL,
    operation TEXT,

    -- Decision
    partition_key TEXT,
    allowed BOOLEAN NOT NULL,
    violated TEXT,
    error TEXT,
    duration_us INTEGER
);

-- Schema version table
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
);

-- Indexes for common queries
CREATE INDEX IF NOT EXISTS idx_admission_events_time ON admission_events(event_time);
CREATE INDEX IF NOT EXISTS idx_admission_events_group ON admission_events(group_name);
CREATE INDEX IF NOT EXISTS idx_admission_events_key ON admission_events(partition_key);
`

// InsertSchemaVersion inserts the schema version into the schema_version table.
const InsertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, datetime('now'))
ON CONFLICT(version) DO NOTHING;
`

// GetSchemaVersion retrieves the current schema version from the database.
const GetSchemaVersion = `
SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;
`

const insertEvent = `
INSERT INTO admission_events (
    id, event_time, group_name, operation, partition_key,
    allowed, violated, error, duration_us
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const selectRecent = `
SELECT id, event_time, group_name, operation, partition_key,
       allowed, violated, error, duration_us
FROM admission_events
ORDER BY event_time DESC
LIMIT ?
`

const deleteBefore = `
DELETE FROM admission_events WHERE event_time < ?
`
