// CLAUDE:SUMMARY Applies the postwatch SQL schema (accounts, settings, subscribers, poll_log) and idempotent column migrations.
package store

import "database/sql"

// Schema is the complete postwatch schema. Timestamps are unix milliseconds.
const Schema = `
-- Tracked accounts, one row per lower-cased handle
CREATE TABLE IF NOT EXISTS accounts (
    handle               TEXT PRIMARY KEY,
    last_post_id         TEXT NOT NULL DEFAULT '',
    first_observation    INTEGER NOT NULL DEFAULT 1,
    preferred_sources    TEXT,
    consecutive_failures INTEGER NOT NULL DEFAULT 0,
    total_checks         INTEGER NOT NULL DEFAULT 0,
    total_failures       INTEGER NOT NULL DEFAULT 0,
    success_rate         REAL NOT NULL DEFAULT 100,
    priority             REAL NOT NULL DEFAULT 1.0,
    last_checked_at      INTEGER,
    last_source          TEXT NOT NULL DEFAULT '',
    last_content_json    TEXT NOT NULL DEFAULT '{}',
    created_at           INTEGER NOT NULL,
    updated_at           INTEGER NOT NULL
);

-- Settings blobs (key -> JSON)
CREATE TABLE IF NOT EXISTS settings (
    key        TEXT PRIMARY KEY,
    value_json TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Notification targets
CREATE TABLE IF NOT EXISTS subscribers (
    channel      TEXT NOT NULL,
    recipient_id TEXT NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL,
    PRIMARY KEY (channel, recipient_id)
);

-- Poll log (observability)
CREATE TABLE IF NOT EXISTS poll_log (
    id             TEXT PRIMARY KEY,
    handle         TEXT NOT NULL REFERENCES accounts(handle) ON DELETE CASCADE,
    outcome        TEXT NOT NULL,
    source         TEXT NOT NULL DEFAULT '',
    post_id        TEXT NOT NULL DEFAULT '',
    consulted_json TEXT NOT NULL DEFAULT '[]',
    stale          INTEGER NOT NULL DEFAULT 0,
    ambiguous      INTEGER NOT NULL DEFAULT 0,
    duration_ms    INTEGER NOT NULL DEFAULT 0,
    polled_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_poll_log_handle ON poll_log(handle, polled_at DESC);
CREATE INDEX IF NOT EXISTS idx_poll_log_time ON poll_log(polled_at);
`

// Migration001DisplayHandle keeps the casing the handle was tracked with.
const Migration001DisplayHandle = `
ALTER TABLE accounts ADD COLUMN display_handle TEXT NOT NULL DEFAULT '';
`

// ApplySchema creates all tables and indexes on the given database.
func ApplySchema(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return err
	}
	applyColumnMigration(db, "accounts", "display_handle", Migration001DisplayHandle)
	return nil
}

// applyColumnMigration adds a column if it doesn't exist (idempotent).
func applyColumnMigration(db *sql.DB, table, column, ddl string) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&count)
	if err != nil || count > 0 {
		return
	}
	db.Exec(ddl)
}
