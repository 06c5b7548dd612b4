// Package storage persists conversation state and the job history across
// restarts. SQLite is the default backend; PostgreSQL is available for
// deployments that already run one.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/one-zero-eight/printers/config"
)

// ConversationRecord is a serialized conversation: the FSM state name plus
// the JSON-encoded context map, keyed by owner.
type ConversationRecord struct {
	OwnerID   string
	State     string
	Context   []byte
	UpdatedAt time.Time
}

// JobEvent is one row of the job history.
type JobEvent struct {
	ID        int64
	OwnerID   string
	Kind      string // "print" or "scan"
	Target    string // printer cups name or scanner name
	Detail    string // free-form: file name, page count, outcome
	Papers    int
	CreatedAt time.Time
}

// Store is the persistence port.
type Store interface {
	LoadConversation(ctx context.Context, ownerID string) (*ConversationRecord, error)
	SaveConversation(ctx context.Context, rec ConversationRecord) error
	DeleteConversation(ctx context.Context, ownerID string) error

	AppendJobEvent(ctx context.Context, ev JobEvent) error
	ListJobEvents(ctx context.Context, ownerID string, limit int) ([]JobEvent, error)

	Close() error
}

// NewStore creates a Store implementation based on the database
// configuration. SQLite is the default.
func NewStore(cfg *config.DatabaseConfig) (Store, error) {
	if cfg == nil {
		cfg = &config.DatabaseConfig{}
	}
	switch cfg.Driver {
	case "", "sqlite", "sqlite3":
		path := cfg.Path
		if path == "" {
			path = "printers.db"
		}
		return NewSQLiteStore(path)
	case "postgres", "postgresql":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres driver requires a dsn")
		}
		return NewPostgresStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %q (supported: sqlite, postgres)", cfg.Driver)
	}
}
