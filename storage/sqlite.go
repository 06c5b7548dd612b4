package storage

import (
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO
)

// SQLiteStore is the default single-file backend.
type SQLiteStore struct {
	baseStore
	dbPath string
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	connStr := dbPath
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db directory: %w", err)
			}
		}
		connStr += "?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=ON"
	}

	db, err := openSQL("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &SQLiteStore{
		baseStore: baseStore{db: db, dialect: sqliteDialect{}},
		dbPath:    dbPath,
	}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}
