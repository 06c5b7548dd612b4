package bot

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/one-zero-eight/printers/apperr"
	"github.com/one-zero-eight/printers/artifact"
	"github.com/one-zero-eight/printers/config"
	"github.com/one-zero-eight/printers/esclclient"
	"github.com/one-zero-eight/printers/ippclient"
	"github.com/one-zero-eight/printers/logger"
	"github.com/one-zero-eight/printers/pdfutil"
	"github.com/one-zero-eight/printers/printing"
	"github.com/one-zero-eight/printers/scanning"
	"github.com/one-zero-eight/printers/storage"
	"github.com/one-zero-eight/printers/workpool"
)

const owner = "alice"

// fakeTransport records everything the engine says.
type fakeTransport struct {
	mu     sync.Mutex
	nextID int64
	sent   []string
	rows   [][][]Button
	edits  map[int64]string
	docs   []string
	acks   int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{edits: make(map[int64]string)}
}

func (f *fakeTransport) SendMessage(_ context.Context, _ string, text string, buttons [][]Button) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sent = append(f.sent, text)
	f.rows = append(f.rows, buttons)
	return f.nextID, nil
}

func (f *fakeTransport) EditMessage(_ context.Context, _ string, messageID int64, text string, _ [][]Button) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits[messageID] = text
	return nil
}

func (f *fakeTransport) SendDocument(_ context.Context, _ string, filename string, r io.Reader) error {
	if _, err := io.ReadAll(r); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, filename)
	return nil
}

func (f *fakeTransport) AnswerCallback(_ context.Context, _ string, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks++
	return nil
}

func (f *fakeTransport) lastSent() (string, [][]Button) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return "", nil
	}
	return f.sent[len(f.sent)-1], f.rows[len(f.rows)-1]
}

func (f *fakeTransport) editOf(messageID int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.edits[messageID]
}

func (f *fakeTransport) documents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.docs...)
}

// fakeIPP completes every job instantly unless told otherwise.
type fakeIPP struct {
	mu      sync.Mutex
	state   ippclient.JobState
	submits int
	cancels int
}

func (f *fakeIPP) Submit(_ context.Context, _, _, _ string, _ ippclient.Options) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	return 7, nil
}

func (f *fakeIPP) JobAttributes(_ context.Context, _ int) (*ippclient.JobAttributes, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &ippclient.JobAttributes{JobState: f.state}, nil
}

func (f *fakeIPP) Cancel(_ context.Context, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	return nil
}

func (f *fakeIPP) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

func (f *fakeIPP) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancels
}

func (f *fakeIPP) ProbeReachable(context.Context, string) bool { return true }

func (f *fakeIPP) PaperPct(context.Context, string) (int, bool) { return 0, false }

// fakeScanner serves a scripted queue of PDF documents.
type fakeScanner struct {
	mu   sync.Mutex
	busy bool
	docs [][]byte
	next int
}

func (f *fakeScanner) Start(_ context.Context, opts esclclient.Options) (string, error) {
	if err := opts.Validate(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return "", fmt.Errorf("device busy: %w", apperr.ErrBusy)
	}
	return "j1", nil
}

func (f *fakeScanner) NextDocument(_ context.Context, _ string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.next >= len(f.docs) {
		return nil, fmt.Errorf("no more documents: %w", apperr.ErrNotFound)
	}
	doc := f.docs[f.next]
	f.next++
	return doc, nil
}

func (f *fakeScanner) Delete(context.Context, string) error { return nil }

func (f *fakeScanner) Capabilities(context.Context) ([]byte, error) { return []byte("<caps/>"), nil }

func (f *fakeScanner) Status(context.Context) ([]byte, error) { return []byte("<status/>"), nil }

type noConvert struct{}

func (noConvert) Convert(context.Context, string, string) error {
	return fmt.Errorf("converter unavailable: %w", apperr.ErrConversionFailed)
}

func testPDF(t *testing.T, pages int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 60))
	for y := 0; y < 60; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, color.White)
		}
	}
	var page bytes.Buffer
	if err := jpeg.Encode(&page, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	images := make([][]byte, pages)
	for i := range images {
		images[i] = page.Bytes()
	}
	var buf bytes.Buffer
	if err := pdfutil.JPEGsToPDF(images, &buf); err != nil {
		t.Fatalf("build pdf: %v", err)
	}
	return buf.Bytes()
}

type harness struct {
	engine *Engine
	fsm    *FSM
	tr     *fakeTransport
	ipp    *fakeIPP
	events storage.Store
}

func newHarness(t *testing.T, scanner *fakeScanner) *harness {
	t.Helper()
	log := logger.New(logger.ERROR, t.TempDir(), 16)
	store, err := storage.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	artifacts, err := artifact.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("artifacts: %v", err)
	}
	printers := []config.Printer{{DisplayName: "Office", CupsName: "office", IPP: "10.0.0.2"}}
	scanners := []config.Scanner{{DisplayName: "Office scanner", Name: "office", ESCL: "https://dev/eSCL"}}
	pool := workpool.New(2)

	ipp := &fakeIPP{state: ippclient.StateCompleted}
	printOrch := printing.New(printers, artifacts, ipp, noConvert{}, pool, log)
	if scanner == nil {
		scanner = &fakeScanner{}
	}
	scanOrch := scanning.New(scanners, func(config.Scanner) esclclient.Backend { return scanner },
		artifacts, pool, log)

	fsm := NewFSM(store)
	tr := newFakeTransport()
	engine := NewEngine(fsm, tr, printOrch, scanOrch, printers, scanners, store, log)
	return &harness{engine: engine, fsm: fsm, tr: tr, ipp: ipp, events: store}
}

func (h *harness) state(t *testing.T) Conversation {
	t.Helper()
	var conv Conversation
	err := h.fsm.WithOwner(owner, func() error {
		var lerr error
		conv, lerr = h.fsm.Load(context.Background(), owner)
		return lerr
	})
	if err != nil {
		t.Fatalf("load conversation: %v", err)
	}
	return conv
}

func (h *harness) waitForState(t *testing.T, want State) Conversation {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		conv := h.state(t)
		if conv.State == want {
			return conv
		}
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want %s", conv.State, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDocumentOpensPrintMenu(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.engine.HandleDocument(ctx, owner, "report.pdf", testPDF(t, 2))

	conv := h.state(t)
	if conv.State != StatePrintSettingsMenu {
		t.Fatalf("state = %s, want print settings menu", conv.State)
	}
	c := conv.Ctx
	if c.FileHandle == "" || c.Pages != 2 {
		t.Fatalf("prepared context = %+v", c)
	}
	if c.Printer != "office" || c.Copies != 1 || c.Sides != "one-sided" || c.NumberUp != 1 {
		t.Fatalf("defaults wrong: %+v", c)
	}
	if c.ConfirmationMessageID == 0 {
		t.Fatal("menu message id not stored")
	}
	text, rows := h.tr.lastSent()
	if !strings.Contains(text, "report.pdf") || !strings.Contains(text, "2 pages") {
		t.Fatalf("menu text = %q", text)
	}
	if len(rows) == 0 {
		t.Fatal("menu must carry a keyboard")
	}
}

func TestUnsupportedDocument(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.engine.HandleDocument(ctx, owner, "setup.exe", []byte("MZ..."))

	if conv := h.state(t); conv.State != StateDefault {
		t.Fatalf("state = %s, want default", conv.State)
	}
	if text, _ := h.tr.lastSent(); text != msgUnsupported {
		t.Fatalf("reply = %q, want unsupported notice", text)
	}
}

func TestStaleCallbackHasNoEffect(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.engine.HandleDocument(ctx, owner, "report.pdf", testPDF(t, 2))
	menuID := h.state(t).Ctx.ConfirmationMessageID

	h.engine.HandleCallback(ctx, owner, menuID+100, "setup:copies", "cb1")

	conv := h.state(t)
	if conv.State != StatePrintSettingsMenu {
		t.Fatalf("stale click changed state to %s", conv.State)
	}
	h.tr.mu.Lock()
	acks := h.tr.acks
	h.tr.mu.Unlock()
	if acks != 1 {
		t.Fatalf("stale click must still be acknowledged, acks = %d", acks)
	}
}

func TestSidesSetupRoundTrip(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.engine.HandleDocument(ctx, owner, "report.pdf", testPDF(t, 2))
	menuID := h.state(t).Ctx.ConfirmationMessageID

	h.engine.HandleCallback(ctx, owner, menuID, "setup:sides", "cb1")
	if conv := h.state(t); conv.State != StateSetupSides {
		t.Fatalf("state = %s, want sides setup", conv.State)
	}

	h.engine.HandleCallback(ctx, owner, menuID, "sides:two-sided-long-edge", "cb2")
	conv := h.state(t)
	if conv.State != StatePrintSettingsMenu {
		t.Fatalf("state = %s, want back at the menu", conv.State)
	}
	if conv.Ctx.Sides != "two-sided-long-edge" {
		t.Fatalf("sides = %q", conv.Ctx.Sides)
	}
	if !strings.Contains(h.tr.editOf(menuID), "two-sided") {
		t.Fatal("menu not rewritten with the new choice")
	}
}

func TestCopiesTextValidation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.engine.HandleDocument(ctx, owner, "report.pdf", testPDF(t, 2))
	menuID := h.state(t).Ctx.ConfirmationMessageID
	h.engine.HandleCallback(ctx, owner, menuID, "setup:copies", "cb1")

	h.engine.HandleText(ctx, owner, "0")
	if conv := h.state(t); conv.State != StateSetupCopies {
		t.Fatalf("invalid input must keep the setup state, got %s", conv.State)
	}

	h.engine.HandleText(ctx, owner, " 3 ")
	conv := h.state(t)
	if conv.State != StatePrintSettingsMenu || conv.Ctx.Copies != 3 {
		t.Fatalf("state = %s copies = %d, want menu with 3", conv.State, conv.Ctx.Copies)
	}
}

func TestPageRangeSuggestion(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.engine.HandleDocument(ctx, owner, "report.pdf", testPDF(t, 2))
	menuID := h.state(t).Ctx.ConfirmationMessageID
	h.engine.HandleCallback(ctx, owner, menuID, "setup:pages", "cb1")

	h.engine.HandleText(ctx, owner, "1 - 5")
	text, rows := h.tr.lastSent()
	if !strings.Contains(text, "1-5") {
		t.Fatalf("suggestion text = %q", text)
	}
	var applyData string
	for _, row := range rows {
		for _, b := range row {
			if strings.HasPrefix(b.Data, "pages:apply:") {
				applyData = b.Data
			}
		}
	}
	if applyData != "pages:apply:1-5" {
		t.Fatalf("apply button = %q", applyData)
	}
	if conv := h.state(t); conv.State != StateSetupPages {
		t.Fatalf("suggestion must not change state, got %s", conv.State)
	}

	h.engine.HandleCallback(ctx, owner, menuID, applyData, "cb2")
	conv := h.state(t)
	if conv.State != StatePrintSettingsMenu || conv.Ctx.PageRanges != "1-5" {
		t.Fatalf("state = %s ranges = %q, want menu with 1-5", conv.State, conv.Ctx.PageRanges)
	}
}

func TestScanCommandInterruptsPrintFlow(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.engine.HandleDocument(ctx, owner, "report.pdf", testPDF(t, 2))
	oldID := h.state(t).Ctx.ConfirmationMessageID

	h.engine.HandleCommand(ctx, owner, "/scan")

	conv := h.state(t)
	if conv.State != StateScanSettingsMenu {
		t.Fatalf("state = %s, want scan settings menu", conv.State)
	}
	if conv.Ctx.FileHandle != "" {
		t.Fatal("prepared artifact must not survive the interruption")
	}
	if h.tr.editOf(oldID) != msgExpired {
		t.Fatalf("abandoned menu = %q, want expiry notice", h.tr.editOf(oldID))
	}
	// A second interruption is a no-op on the already clean print side.
	h.engine.HandleCommand(ctx, owner, "/scan")
	if conv := h.state(t); conv.State != StateScanSettingsMenu {
		t.Fatalf("repeat interruption broke state: %s", conv.State)
	}
}

func TestPrintConfirmRunsToCompletion(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.engine.HandleDocument(ctx, owner, "report.pdf", testPDF(t, 2))
	menuID := h.state(t).Ctx.ConfirmationMessageID

	h.engine.HandleCallback(ctx, owner, menuID, "print:confirm", "cb1")

	h.waitForState(t, StateDefault)
	if got := h.ipp.submitCount(); got != 1 {
		t.Fatalf("submits = %d, want 1", got)
	}
	if final := h.tr.editOf(menuID); !strings.Contains(final, "printed") {
		t.Fatalf("final message = %q", final)
	}
	events, err := h.events.ListJobEvents(ctx, owner, 10)
	if err != nil {
		t.Fatalf("ListJobEvents: %v", err)
	}
	if len(events) != 1 || events[0].Kind != "print" || events[0].Papers != 2 {
		t.Fatalf("job history = %+v", events)
	}
	if !strings.Contains(events[0].Detail, "completed") {
		t.Fatalf("event detail = %q", events[0].Detail)
	}
}

func TestCancelDuringPrintingShowsCancelled(t *testing.T) {
	h := newHarness(t, nil)
	h.ipp.state = ippclient.StateProcessing // job never finishes on its own
	ctx := context.Background()

	h.engine.HandleDocument(ctx, owner, "report.pdf", testPDF(t, 2))
	menuID := h.state(t).Ctx.ConfirmationMessageID
	h.engine.HandleCallback(ctx, owner, menuID, "print:confirm", "cb1")
	if conv := h.state(t); conv.State != StatePrinting {
		t.Fatalf("state = %s, want printing", conv.State)
	}

	h.engine.HandleCommand(ctx, owner, "/start")

	if conv := h.state(t); conv.State != StateDefault {
		t.Fatalf("state = %s, want default after cancel", conv.State)
	}
	if h.ipp.cancelCount() == 0 {
		t.Fatal("backend job was not cancelled")
	}
	final := h.tr.editOf(menuID)
	if !strings.Contains(final, msgCancelled) {
		t.Fatalf("final message = %q, want the cancelled notice", final)
	}
	if strings.Contains(final, msgExpired) {
		t.Fatalf("user cancel must not present as expiry: %q", final)
	}
}

func TestScanBusyReturnsToMenu(t *testing.T) {
	h := newHarness(t, &fakeScanner{busy: true})
	ctx := context.Background()

	h.engine.HandleCommand(ctx, owner, "/scan")
	menuID := h.state(t).Ctx.ConfirmationMessageID

	h.engine.HandleCallback(ctx, owner, menuID, "scan:start", "cb1")

	conv := h.state(t)
	if conv.State != StateScanSettingsMenu {
		t.Fatalf("state = %s, want back at the scan menu", conv.State)
	}
	if !strings.Contains(h.tr.editOf(menuID), msgScannerBusy) {
		t.Fatalf("menu = %q, want busy notice", h.tr.editOf(menuID))
	}
}

func TestScanFinishDeliversDocument(t *testing.T) {
	h := newHarness(t, &fakeScanner{docs: [][]byte{testPDF(t, 1)}})
	ctx := context.Background()

	h.engine.HandleCommand(ctx, owner, "/scan")
	menuID := h.state(t).Ctx.ConfirmationMessageID

	h.engine.HandleCallback(ctx, owner, menuID, "scan:start", "cb1")
	conv := h.waitForState(t, StateScanPauseMenu)
	if conv.Ctx.ScanResultPageCount != 1 || conv.Ctx.ScanFileHandle == "" {
		t.Fatalf("pause context = %+v", conv.Ctx)
	}

	h.engine.HandleCallback(ctx, owner, menuID, "scan:finish", "cb2")

	if conv := h.state(t); conv.State != StateDefault {
		t.Fatalf("state = %s, want default after finish", conv.State)
	}
	docs := h.tr.documents()
	if len(docs) != 1 || docs[0] != "scan.pdf" {
		t.Fatalf("delivered documents = %v", docs)
	}
	events, err := h.events.ListJobEvents(ctx, owner, 10)
	if err != nil {
		t.Fatalf("ListJobEvents: %v", err)
	}
	if len(events) != 1 || events[0].Kind != "scan" || events[0].Papers != 1 {
		t.Fatalf("job history = %+v", events)
	}
}
