package storage

import (
	"fmt"
	"strings"
)

// dialect abstracts the syntax differences between SQLite and PostgreSQL so
// the query code is written once.
type dialect interface {
	Name() string
	// Placeholder returns the parameter placeholder for the given 1-based
	// index. SQLite uses ?, PostgreSQL uses $1, $2, ...
	Placeholder(index int) string
	// AutoIncrement returns the auto-incrementing primary key column type.
	AutoIncrement() string
	// TimestampType returns the timestamp column type.
	TimestampType() string
	// UpsertConflict returns the ON CONFLICT clause for the given columns.
	UpsertConflict(columns ...string) string
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite" }
func (sqliteDialect) Placeholder(int) string { return "?" }
func (sqliteDialect) AutoIncrement() string { return "INTEGER PRIMARY KEY AUTOINCREMENT" }
func (sqliteDialect) TimestampType() string { return "DATETIME" }
func (sqliteDialect) UpsertConflict(cols ...string) string {
	return fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET", strings.Join(cols, ", "))
}

type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }
func (postgresDialect) Placeholder(i int) string { return fmt.Sprintf("$%d", i) }
func (postgresDialect) AutoIncrement() string { return "BIGSERIAL PRIMARY KEY" }
func (postgresDialect) TimestampType() string { return "TIMESTAMPTZ" }
func (postgresDialect) UpsertConflict(cols ...string) string {
	return fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET", strings.Join(cols, ", "))
}

// rebind rewrites ?-style placeholders for the target dialect.
func rebind(d dialect, query string) string {
	if d.Name() == "sqlite" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(d.Placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
