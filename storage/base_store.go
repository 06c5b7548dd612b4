package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// baseStore holds the query logic shared by both backends. The dialect
// fills in placeholder and type differences.
type baseStore struct {
	db      *sql.DB
	dialect dialect
}

func (s *baseStore) initSchema() error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS conversations (
		owner_id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		context TEXT NOT NULL,
		updated_at %[1]s NOT NULL
	);

	CREATE TABLE IF NOT EXISTS job_events (
		id %[2]s,
		owner_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		target TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		papers INTEGER NOT NULL DEFAULT 0,
		created_at %[1]s NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_job_events_owner ON job_events(owner_id, created_at);
	`, s.dialect.TimestampType(), s.dialect.AutoIncrement())

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *baseStore) LoadConversation(ctx context.Context, ownerID string) (*ConversationRecord, error) {
	query := rebind(s.dialect, `
		SELECT owner_id, state, context, updated_at
		FROM conversations WHERE owner_id = ?`)
	rec := ConversationRecord{}
	err := s.db.QueryRowContext(ctx, query, ownerID).
		Scan(&rec.OwnerID, &rec.State, &rec.Context, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	return &rec, nil
}

func (s *baseStore) SaveConversation(ctx context.Context, rec ConversationRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	query := rebind(s.dialect, fmt.Sprintf(`
		INSERT INTO conversations (owner_id, state, context, updated_at)
		VALUES (?, ?, ?, ?)
		%s state = excluded.state, context = excluded.context, updated_at = excluded.updated_at`,
		s.dialect.UpsertConflict("owner_id")))
	_, err := s.db.ExecContext(ctx, query, rec.OwnerID, rec.State, rec.Context, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

func (s *baseStore) DeleteConversation(ctx context.Context, ownerID string) error {
	query := rebind(s.dialect, `DELETE FROM conversations WHERE owner_id = ?`)
	if _, err := s.db.ExecContext(ctx, query, ownerID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

func (s *baseStore) AppendJobEvent(ctx context.Context, ev JobEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	query := rebind(s.dialect, `
		INSERT INTO job_events (owner_id, kind, target, detail, papers, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		ev.OwnerID, ev.Kind, ev.Target, ev.Detail, ev.Papers, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("append job event: %w", err)
	}
	return nil
}

func (s *baseStore) ListJobEvents(ctx context.Context, ownerID string, limit int) ([]JobEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	query := rebind(s.dialect, `
		SELECT id, owner_id, kind, target, detail, papers, created_at
		FROM job_events WHERE owner_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`)
	rows, err := s.db.QueryContext(ctx, query, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list job events: %w", err)
	}
	defer rows.Close()

	var out []JobEvent
	for rows.Next() {
		var ev JobEvent
		if err := rows.Scan(&ev.ID, &ev.OwnerID, &ev.Kind, &ev.Target, &ev.Detail, &ev.Papers, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan job event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *baseStore) Close() error {
	return s.db.Close()
}
