package store

// SchemaVersion is the current schema version
const SchemaVersion = 2

// schema is the initial database schema
const schema = `
CREATE TABLE IF NOT EXISTS cached_records (
    table_name     TEXT NOT NULL,
    record_id      TEXT NOT NULL,
    payload        TEXT NOT NULL DEFAULT '{}',
    server_version TEXT NOT NULL DEFAULT '',
    dirty          INTEGER NOT NULL DEFAULT 0,
    synced_at      DATETIME,
    deleted_at     DATETIME,
    PRIMARY KEY (table_name, record_id)
);

CREATE TABLE IF NOT EXISTS mutation_queue (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    client_id       TEXT NOT NULL UNIQUE,
    table_name      TEXT NOT NULL,
    record_id       TEXT NOT NULL,
    op              TEXT NOT NULL,
    payload         TEXT NOT NULL DEFAULT '{}',
    state           TEXT NOT NULL DEFAULT 'pending',
    retry_count     INTEGER NOT NULL DEFAULT 0,
    last_error      TEXT,
    next_attempt_at DATETIME,
    created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_mutation_queue_record ON mutation_queue(table_name, record_id);
CREATE INDEX IF NOT EXISTS idx_mutation_queue_state ON mutation_queue(state);

CREATE TABLE IF NOT EXISTS sync_conflicts (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    table_name     TEXT NOT NULL,
    record_id      TEXT NOT NULL,
    local_data     TEXT NOT NULL DEFAULT 'null',
    remote_data    TEXT NOT NULL DEFAULT 'null',
    remote_version TEXT NOT NULL DEFAULT '',
    detected_at    DATETIME NOT NULL,
    resolution     TEXT NOT NULL DEFAULT '',
    resolved       INTEGER NOT NULL DEFAULT 0,
    resolved_at    DATETIME
);
CREATE INDEX IF NOT EXISTS idx_sync_conflicts_record ON sync_conflicts(table_name, record_id);

CREATE TABLE IF NOT EXISTS sync_cursors (
    table_name     TEXT PRIMARY KEY,
    last_pulled_at TEXT NOT NULL DEFAULT '',
    updated_at     DATETIME
);

CREATE TABLE IF NOT EXISTS sync_history (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    direction  TEXT NOT NULL,
    op         TEXT NOT NULL,
    table_name TEXT NOT NULL,
    record_id  TEXT NOT NULL,
    detail     TEXT NOT NULL DEFAULT '',
    timestamp  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS schema_info (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// Migration represents a single schema migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations holds all schema migrations in order
var Migrations = []Migration{
	{
		Version:     2,
		Description: "Track last sync time on cursors",
		SQL: `
CREATE TABLE IF NOT EXISTS sync_meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL DEFAULT ''
);
`,
	},
}
