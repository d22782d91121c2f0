// Package sqlite opens the local SQLite database that backs the mutation
// queue and the conflict store.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Open opens (or creates) a SQLite database at the given path and enables WAL
// journal mode and foreign keys. ":memory:" opens a private in-memory database.
func Open(path string) (*sql.DB, error) {
	var dsn string
	switch {
	case path == ":memory:":
		dsn = "file::memory:?_pragma=foreign_keys(ON)"
	case strings.HasPrefix(path, "file:"):
		dsn = path
	default:
		// ensure parent directory exists to avoid SQLITE_CANTOPEN errors
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, err
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
