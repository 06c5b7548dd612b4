package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver "pgx"
)

// PostgresStore backs the store with PostgreSQL via pgx.
type PostgresStore struct {
	baseStore
}

// NewPostgresStore connects using the given DSN and initializes the schema.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := openSQL("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)

	store := &PostgresStore{
		baseStore: baseStore{db: db, dialect: postgresDialect{}},
	}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func openSQL(driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
