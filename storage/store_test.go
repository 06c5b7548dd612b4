package storage

import (
	"context"
	"testing"
	"time"

	"github.com/one-zero-eight/printers/config"
)

func memStore(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConversationRoundTrip(t *testing.T) {
	s := memStore(t)
	ctx := context.Background()

	if rec, err := s.LoadConversation(ctx, "alice"); err != nil || rec != nil {
		t.Fatalf("load before save = (%v, %v), want (nil, nil)", rec, err)
	}

	err := s.SaveConversation(ctx, ConversationRecord{
		OwnerID: "alice",
		State:   "print_settings_menu",
		Context: []byte(`{"copies":2}`),
	})
	if err != nil {
		t.Fatalf("SaveConversation: %v", err)
	}

	rec, err := s.LoadConversation(ctx, "alice")
	if err != nil {
		t.Fatalf("LoadConversation: %v", err)
	}
	if rec == nil || rec.State != "print_settings_menu" || string(rec.Context) != `{"copies":2}` {
		t.Fatalf("loaded %+v", rec)
	}

	// Upsert replaces in place.
	if err := s.SaveConversation(ctx, ConversationRecord{
		OwnerID: "alice",
		State:   "printing",
		Context: []byte(`{}`),
	}); err != nil {
		t.Fatalf("second SaveConversation: %v", err)
	}
	rec, err = s.LoadConversation(ctx, "alice")
	if err != nil {
		t.Fatalf("LoadConversation: %v", err)
	}
	if rec.State != "printing" {
		t.Fatalf("state = %q, want printing", rec.State)
	}

	if err := s.DeleteConversation(ctx, "alice"); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	if rec, err := s.LoadConversation(ctx, "alice"); err != nil || rec != nil {
		t.Fatalf("load after delete = (%v, %v), want (nil, nil)", rec, err)
	}
	// Deleting an absent row is fine.
	if err := s.DeleteConversation(ctx, "alice"); err != nil {
		t.Fatalf("second DeleteConversation: %v", err)
	}
}

func TestJobEvents(t *testing.T) {
	s := memStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour).UTC()
	for i := 0; i < 3; i++ {
		err := s.AppendJobEvent(ctx, JobEvent{
			OwnerID:   "alice",
			Kind:      "print",
			Target:    "office",
			Detail:    "report.pdf",
			Papers:    i + 1,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("AppendJobEvent: %v", err)
		}
	}
	if err := s.AppendJobEvent(ctx, JobEvent{OwnerID: "bob", Kind: "scan", Target: "lab"}); err != nil {
		t.Fatalf("AppendJobEvent: %v", err)
	}

	events, err := s.ListJobEvents(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("ListJobEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	// Newest first.
	if events[0].Papers != 3 || events[2].Papers != 1 {
		t.Fatalf("unexpected order: %+v", events)
	}
	for _, ev := range events {
		if ev.OwnerID != "alice" {
			t.Fatalf("leaked event for %q", ev.OwnerID)
		}
	}

	limited, err := s.ListJobEvents(ctx, "alice", 2)
	if err != nil {
		t.Fatalf("ListJobEvents limited: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("got %d events, want 2", len(limited))
	}
}

func TestNewStoreDriverSelection(t *testing.T) {
	if _, err := NewStore(&config.DatabaseConfig{Driver: "oracle"}); err == nil {
		t.Fatal("unknown driver must be rejected")
	}
	if _, err := NewStore(&config.DatabaseConfig{Driver: "postgres"}); err == nil {
		t.Fatal("postgres without a dsn must be rejected")
	}
	s, err := NewStore(&config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	if err != nil {
		t.Fatalf("sqlite store: %v", err)
	}
	s.Close()
}
