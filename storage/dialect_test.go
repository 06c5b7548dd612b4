package storage

import "testing"

func TestRebind(t *testing.T) {
	q := "INSERT INTO t (a, b) VALUES (?, ?)"
	if got := rebind(sqliteDialect{}, q); got != q {
		t.Fatalf("sqlite rebind changed the query: %q", got)
	}
	want := "INSERT INTO t (a, b) VALUES ($1, $2)"
	if got := rebind(postgresDialect{}, q); got != want {
		t.Fatalf("postgres rebind = %q, want %q", got, want)
	}
}

func TestDialectUpsert(t *testing.T) {
	got := sqliteDialect{}.UpsertConflict("owner_id")
	if got != "ON CONFLICT (owner_id) DO UPDATE SET" {
		t.Fatalf("upsert clause = %q", got)
	}
}
