// Package localstate owns the on-disk layout of the client's sync state: the
// data directory and the SQLite schema shared by the mutation queue and the
// conflict store.
package localstate

import (
	"context"
	"database/sql"
)

// EnsureSchema creates the sync tables if they do not exist. Safe to call
// repeatedly.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS pending_mutations (
            id          INTEGER PRIMARY KEY AUTOINCREMENT,
            entity_type TEXT    NOT NULL,
            operation   TEXT    NOT NULL CHECK (operation IN ('create','update','delete')),
            entity_id   TEXT    NOT NULL DEFAULT '',
            local_id    TEXT    NOT NULL DEFAULT '',
            trip_id     TEXT    NOT NULL DEFAULT '',
            data        TEXT,
            timestamp   INTEGER NOT NULL,
            retry_count INTEGER NOT NULL DEFAULT 0
        );`,
		`CREATE INDEX IF NOT EXISTS pending_mutations_trip_idx ON pending_mutations(trip_id, timestamp);`,
		`CREATE INDEX IF NOT EXISTS pending_mutations_ts_idx ON pending_mutations(timestamp, id);`,
		`CREATE TABLE IF NOT EXISTS trip_sync_state (
            trip_id        TEXT PRIMARY KEY,
            last_synced_at INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS dead_letters (
            id               INTEGER PRIMARY KEY AUTOINCREMENT,
            mutation_id      INTEGER NOT NULL,
            entity_type      TEXT    NOT NULL,
            operation        TEXT    NOT NULL,
            entity_id        TEXT    NOT NULL DEFAULT '',
            local_id         TEXT    NOT NULL DEFAULT '',
            trip_id          TEXT    NOT NULL DEFAULT '',
            data             TEXT,
            timestamp        INTEGER NOT NULL,
            retry_count      INTEGER NOT NULL,
            reason           TEXT    NOT NULL,
            dead_lettered_at INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS conflicts (
            id               TEXT PRIMARY KEY,
            mutation_id      INTEGER NOT NULL DEFAULT 0,
            operation        TEXT    NOT NULL DEFAULT '',
            entity_type      TEXT    NOT NULL,
            entity_id        TEXT    NOT NULL DEFAULT '',
            local_id         TEXT    NOT NULL DEFAULT '',
            trip_id          TEXT    NOT NULL DEFAULT '',
            local_data       TEXT,
            server_data      TEXT,
            local_timestamp  INTEGER NOT NULL,
            server_timestamp INTEGER NOT NULL,
            status           TEXT    NOT NULL CHECK (status IN ('pending','resolved')),
            resolution       TEXT    NOT NULL DEFAULT '',
            created_at       INTEGER NOT NULL,
            resolved_at      INTEGER NOT NULL DEFAULT 0
        );`,
		`CREATE INDEX IF NOT EXISTS conflicts_status_idx ON conflicts(status, created_at);`,
		`CREATE INDEX IF NOT EXISTS conflicts_entity_idx ON conflicts(entity_type, entity_id, status);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
