package sqlite

import (
	"database/sql"
	"fmt"
)

type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{1, "create_cached_records_table", createCachedRecordsTable},
	{2, "create_queued_requests_table", createQueuedRequestsTable},
	{3, "create_sync_queue_table", createSyncQueueTable},
	{4, "create_cached_responses_table", createCachedResponsesTable},
	{5, "create_indices", createIndices},
	{6, "scope_dedup_index_to_tenant", scopeDedupIndexToTenant},
}

// applyMigrations applies all database migrations in order.
func applyMigrations(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return fmt.Errorf("could not enable WAL: %w", err)
	}

	if err := createMigrationsTable(db); err != nil {
		return err
	}

	for _, m := range migrations {
		applied, err := isMigrationApplied(db, m.version)
		if err != nil {
			return fmt.Errorf("could not check migration %d: %w", m.version, err)
		}
		if applied {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("could not begin migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("could not apply migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.Exec("INSERT INTO migrations (version, name) VALUES (?, ?)", m.version, m.name); err != nil {
			tx.Rollback()
			return fmt.Errorf("could not record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("could not commit migration %d: %w", m.version, err)
		}
	}

	return nil
}

// createMigrationsTable creates the migrations tracking table.
func createMigrationsTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// isMigrationApplied checks if a migration has been applied.
func isMigrationApplied(db *sql.DB, version int) (bool, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM migrations WHERE version = ?", version).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Migration SQL statements. Timestamps are stored as unix nanoseconds.

const createCachedRecordsTable = `
CREATE TABLE cached_records (
	tenant_id TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	payload BLOB NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (tenant_id, entity_type, entity_id)
);
`

const createQueuedRequestsTable = `
CREATE TABLE queued_requests (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL DEFAULT '',
	method TEXT NOT NULL,
	url TEXT NOT NULL,
	header TEXT NOT NULL DEFAULT '{}',
	body BLOB,
	dedup_key TEXT NOT NULL DEFAULT '',
	attempts INTEGER NOT NULL DEFAULT 0,
	next_attempt_at INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	created_at INTEGER NOT NULL
);
`

const createSyncQueueTable = `
CREATE TABLE sync_queue (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	action TEXT NOT NULL CHECK (action IN ('create', 'update', 'delete')),
	entity TEXT NOT NULL,
	data BLOB NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	next_attempt_at INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	created_at INTEGER NOT NULL
);
`

const createCachedResponsesTable = `
CREATE TABLE cached_responses (
	generation TEXT NOT NULL,
	key TEXT NOT NULL,
	method TEXT NOT NULL,
	url TEXT NOT NULL,
	status INTEGER NOT NULL,
	header TEXT NOT NULL DEFAULT '{}',
	body BLOB,
	stored_at INTEGER NOT NULL,
	PRIMARY KEY (generation, key)
);
`

const createIndices = `
CREATE INDEX idx_cached_records_updated_at ON cached_records(updated_at);
CREATE INDEX idx_queued_requests_status ON queued_requests(status);
CREATE UNIQUE INDEX idx_queued_requests_dedup ON queued_requests(dedup_key)
	WHERE dedup_key != '' AND status = 'pending';
CREATE INDEX idx_sync_queue_status ON sync_queue(status);
`

const scopeDedupIndexToTenant = `
DROP INDEX idx_queued_requests_dedup;
CREATE UNIQUE INDEX idx_queued_requests_dedup ON queued_requests(tenant_id, dedup_key)
	WHERE dedup_key != '' AND status = 'pending';
`
