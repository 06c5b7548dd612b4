package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/one-zero-eight/printers/storage"
)

// State tags the conversation position of one owner.
type State string

const (
	StateDefault           State = "default"
	StatePrintSettingsMenu State = "print_settings_menu"
	StateSetupPrinter      State = "setup_printer"
	StateSetupCopies       State = "setup_copies"
	StateSetupPages        State = "setup_pages"
	StateSetupSides        State = "setup_sides"
	StateSetupLayout       State = "setup_layout"
	StatePrinting          State = "printing"
	StateScanSettingsMenu  State = "scan_settings_menu"
	StateSetupScanMode     State = "setup_scan_mode"
	StateSetupScanner      State = "setup_scanner"
	StateSetupScanQuality  State = "setup_scan_quality"
	StateSetupScanSides    State = "setup_scan_sides"
	StateSetupScanCrop     State = "setup_scan_crop"
	StateSetupScanName     State = "setup_scan_name"
	StateScanning          State = "scanning"
	StateScanPauseMenu     State = "scan_pause_menu"
)

// Context holds the per-owner conversation data. Only the keys relevant to
// the current state are populated; the zero value of a field means absent.
type Context struct {
	Printer    string `json:"printer,omitempty"`
	Pages      int    `json:"pages,omitempty"`
	FileHandle string `json:"file_handle,omitempty"`
	FileName   string `json:"file_name,omitempty"`
	Copies     int    `json:"copies,omitempty"`
	PageRanges string `json:"page_ranges,omitempty"`
	Sides      string `json:"sides,omitempty"`
	NumberUp   int    `json:"number_up,omitempty"`
	JobID      int    `json:"job_id,omitempty"`

	// ConfirmationMessageID guards callbacks: only events bound to it
	// affect state.
	ConfirmationMessageID int64 `json:"confirmation_message_id,omitempty"`
	JobSettingsMessageID  int64 `json:"job_settings_message_id,omitempty"`

	Mode                string `json:"mode,omitempty"` // "manual" or "auto"
	Scanner             string `json:"scanner,omitempty"`
	Quality             int    `json:"quality,omitempty"`
	ScanSides           bool   `json:"scan_sides,omitempty"`
	Crop                bool   `json:"crop,omitempty"`
	ScanFileHandle      string `json:"scan_file_handle,omitempty"`
	ScanResultPageCount int    `json:"scan_result_page_count,omitempty"`
	ScanJobID           string `json:"scan_job_id,omitempty"`
	ScanName            string `json:"scan_name,omitempty"`
}

// Conversation is one owner's FSM row.
type Conversation struct {
	State State
	Ctx   Context
}

// FSM persists conversation rows and serializes access per owner.
type FSM struct {
	store storage.Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFSM wraps the store.
func NewFSM(store storage.Store) *FSM {
	return &FSM{store: store, locks: make(map[string]*sync.Mutex)}
}

// ownerLock returns the mutex serializing one owner's mutations.
func (f *FSM) ownerLock(ownerID string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.locks[ownerID]
	if !ok {
		l = &sync.Mutex{}
		f.locks[ownerID] = l
	}
	return l
}

// WithOwner runs fn while holding the owner's lock. All FSM mutations go
// through here; operations on other owners never contend.
func (f *FSM) WithOwner(ownerID string, fn func() error) error {
	l := f.ownerLock(ownerID)
	l.Lock()
	defer l.Unlock()
	return fn()
}

// Load reads the owner's conversation, defaulting to StateDefault.
func (f *FSM) Load(ctx context.Context, ownerID string) (Conversation, error) {
	rec, err := f.store.LoadConversation(ctx, ownerID)
	if err != nil {
		return Conversation{}, err
	}
	if rec == nil {
		return Conversation{State: StateDefault}, nil
	}
	conv := Conversation{State: State(rec.State)}
	if len(rec.Context) > 0 {
		if err := json.Unmarshal(rec.Context, &conv.Ctx); err != nil {
			return Conversation{}, fmt.Errorf("decode conversation context: %w", err)
		}
	}
	return conv, nil
}

// Save writes the owner's conversation.
func (f *FSM) Save(ctx context.Context, ownerID string, conv Conversation) error {
	data, err := json.Marshal(conv.Ctx)
	if err != nil {
		return fmt.Errorf("encode conversation context: %w", err)
	}
	return f.store.SaveConversation(ctx, storage.ConversationRecord{
		OwnerID:   ownerID,
		State:     string(conv.State),
		Context:   data,
		UpdatedAt: time.Now().UTC(),
	})
}

// Reset drops the owner's row, returning them to the default state.
func (f *FSM) Reset(ctx context.Context, ownerID string) error {
	return f.store.DeleteConversation(ctx, ownerID)
}
