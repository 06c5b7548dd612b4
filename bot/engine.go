// Package bot is the conversational front-end: a per-owner finite state
// machine over the print and scan orchestrators, talking to the user
// through a chat transport. All state mutations for one owner are
// serialized, and long-lived menu messages are guarded by a stored
// message id so stale clicks and concurrent edits cannot corrupt a flow.
package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/one-zero-eight/printers/apperr"
	"github.com/one-zero-eight/printers/config"
	"github.com/one-zero-eight/printers/ippclient"
	"github.com/one-zero-eight/printers/logger"
	"github.com/one-zero-eight/printers/printing"
	"github.com/one-zero-eight/printers/scanning"
	"github.com/one-zero-eight/printers/storage"
)

// confirmationExpiry is how long a menu message stays clickable.
const confirmationExpiry = 5 * time.Hour

// Engine wires the FSM to the orchestrators and the chat transport.
type Engine struct {
	fsm       *FSM
	transport Transport
	printing  *printing.Orchestrator
	scanning  *scanning.Orchestrator
	printers  []config.Printer
	scanners  []config.Scanner
	events    storage.Store
	log       *logger.Logger

	mu      sync.Mutex
	expires map[string]*time.Timer
}

// NewEngine builds the conversational engine.
func NewEngine(fsm *FSM, transport Transport, printOrch *printing.Orchestrator, scanOrch *scanning.Orchestrator,
	printers []config.Printer, scanners []config.Scanner, events storage.Store, log *logger.Logger) *Engine {
	return &Engine{
		fsm:       fsm,
		transport: transport,
		printing:  printOrch,
		scanning:  scanOrch,
		printers:  printers,
		scanners:  scanners,
		events:    events,
		log:       log,
		expires:   make(map[string]*time.Timer),
	}
}

// HandleCommand processes a slash command.
func (e *Engine) HandleCommand(ctx context.Context, ownerID, command string) {
	err := e.fsm.WithOwner(ownerID, func() error {
		switch command {
		case "/start", "/help":
			if err := e.interrupt(ctx, ownerID); err != nil {
				return err
			}
			text := msgWelcome
			if command == "/help" {
				text = msgHelp
			}
			_, err := e.transport.SendMessage(ctx, ownerID, text, nil)
			return err
		case "/scan":
			if err := e.interrupt(ctx, ownerID); err != nil {
				return err
			}
			return e.openScanMenu(ctx, ownerID)
		default:
			_, err := e.transport.SendMessage(ctx, ownerID, msgHelp, nil)
			return err
		}
	})
	if err != nil {
		e.fail(ctx, ownerID, "command", err)
	}
}

// HandleDocument processes an uploaded file: any running flow is
// interrupted first, then the document is prepared and the print menu
// opened.
func (e *Engine) HandleDocument(ctx context.Context, ownerID, filename string, data []byte) {
	err := e.fsm.WithOwner(ownerID, func() error {
		if err := e.interrupt(ctx, ownerID); err != nil {
			return err
		}

		prepared, err := e.printing.Prepare(ctx, ownerID, filename, data)
		if apperr.Is(err, apperr.ErrUnsupportedFormat) {
			_, serr := e.transport.SendMessage(ctx, ownerID, msgUnsupported, nil)
			return serr
		}
		if apperr.Is(err, apperr.ErrInvalidArgument) {
			_, serr := e.transport.SendMessage(ctx, ownerID, msgEmptyFile, nil)
			return serr
		}
		if err != nil {
			return err
		}

		conv := Conversation{
			State: StatePrintSettingsMenu,
			Ctx: Context{
				FileHandle: prepared.FileHandle,
				FileName:   filename,
				Pages:      prepared.Pages,
				Printer:    e.defaultPrinter(),
				Copies:     1,
				Sides:      "one-sided",
				NumberUp:   1,
			},
		}
		msgID, err := e.transport.SendMessage(ctx, ownerID, printSettingsText(conv.Ctx), printSettingsKeyboard())
		if err != nil {
			return err
		}
		conv.Ctx.ConfirmationMessageID = msgID
		if err := e.fsm.Save(ctx, ownerID, conv); err != nil {
			return err
		}
		e.armExpiry(ownerID, msgID)
		return nil
	})
	if err != nil {
		e.fail(ctx, ownerID, "document", err)
	}
}

func (e *Engine) defaultPrinter() string {
	if len(e.printers) > 0 {
		return e.printers[0].CupsName
	}
	return ""
}

// HandleText processes free-form input, meaningful only in the states
// that asked for it.
func (e *Engine) HandleText(ctx context.Context, ownerID, text string) {
	err := e.fsm.WithOwner(ownerID, func() error {
		conv, err := e.fsm.Load(ctx, ownerID)
		if err != nil {
			return err
		}
		switch conv.State {
		case StateSetupCopies:
			return e.applyCopies(ctx, ownerID, conv, text)
		case StateSetupPages:
			return e.applyPageRanges(ctx, ownerID, conv, text)
		case StateSetupScanName:
			conv.Ctx.ScanName = sanitizeName(text)
			return e.backToScanMenu(ctx, ownerID, conv)
		default:
			_, serr := e.transport.SendMessage(ctx, ownerID, msgWelcome, nil)
			return serr
		}
	})
	if err != nil {
		e.fail(ctx, ownerID, "text", err)
	}
}

func (e *Engine) applyCopies(ctx context.Context, ownerID string, conv Conversation, text string) error {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || n < 1 || n > 100 {
		_, serr := e.transport.SendMessage(ctx, ownerID, "Send a number of copies between 1 and 100.", nil)
		return serr
	}
	conv.Ctx.Copies = n
	return e.backToPrintMenu(ctx, ownerID, conv)
}

func (e *Engine) applyPageRanges(ctx context.Context, ownerID string, conv Conversation, text string) error {
	normalized, changed, err := printing.NormalizePageRanges(text)
	if err != nil {
		_, serr := e.transport.SendMessage(ctx, ownerID,
			"I could not read that as page ranges. Try something like 1-5,8.", nil)
		return serr
	}
	if changed {
		// Ask before applying; the suggestion rides in the callback data.
		_, serr := e.transport.SendMessage(ctx, ownerID,
			fmt.Sprintf("Did you mean %s?", normalized),
			[][]Button{{
				{Label: "Yes", Data: "pages:apply:" + normalized},
				{Label: "No", Data: "back"},
			}})
		return serr
	}
	conv.Ctx.PageRanges = normalized
	return e.backToPrintMenu(ctx, ownerID, conv)
}

func sanitizeName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, s)
	if len(s) > 64 {
		s = s[:64]
	}
	return s
}

// backToPrintMenu saves ctx, rewrites the settings message and returns to
// the menu state.
func (e *Engine) backToPrintMenu(ctx context.Context, ownerID string, conv Conversation) error {
	conv.State = StatePrintSettingsMenu
	if err := e.fsm.Save(ctx, ownerID, conv); err != nil {
		return err
	}
	return e.editGuarded(ctx, ownerID, conv.Ctx.ConfirmationMessageID,
		printSettingsText(conv.Ctx), printSettingsKeyboard())
}

func (e *Engine) backToScanMenu(ctx context.Context, ownerID string, conv Conversation) error {
	conv.State = StateScanSettingsMenu
	if err := e.fsm.Save(ctx, ownerID, conv); err != nil {
		return err
	}
	return e.editGuarded(ctx, ownerID, conv.Ctx.ConfirmationMessageID,
		scanSettingsText(conv.Ctx), scanSettingsKeyboard())
}

// editGuarded edits a structural message only if the stored id still
// matches; a changed id means another writer replaced the menu.
func (e *Engine) editGuarded(ctx context.Context, ownerID string, messageID int64, text string, buttons [][]Button) error {
	if messageID == 0 {
		return nil
	}
	conv, err := e.fsm.Load(ctx, ownerID)
	if err != nil {
		return err
	}
	if conv.Ctx.ConfirmationMessageID != messageID {
		return nil
	}
	return e.transport.EditMessage(ctx, ownerID, messageID, text, buttons)
}

// interrupt abandons whatever flow is active so a new intent can start
// cleanly. It is idempotent and tolerant of already-cleaned backends.
func (e *Engine) interrupt(ctx context.Context, ownerID string) error {
	conv, err := e.fsm.Load(ctx, ownerID)
	if err != nil {
		return err
	}
	if conv.State == StateDefault && conv.Ctx == (Context{}) {
		return nil
	}

	finalText := msgExpired
	if conv.Ctx.JobID != 0 && conv.State == StatePrinting {
		if err := e.printing.Cancel(ctx, conv.Ctx.JobID); err != nil {
			e.log.Warn("Cancel print on interrupt failed", "owner", ownerID, "job_id", conv.Ctx.JobID, "error", err)
		}
		// An explicit cancel presents as cancelled, not expired.
		finalText = "❌ " + msgCancelled
	}
	if conv.Ctx.FileHandle != "" {
		if err := e.printing.CancelPreparation(ownerID, conv.Ctx.FileHandle); err != nil {
			e.log.Warn("Drop prepared artifact failed", "owner", ownerID, "error", err)
		}
	}
	if conv.Ctx.ScanJobID != "" || conv.Ctx.ScanFileHandle != "" {
		if err := e.scanning.Cancel(ctx, ownerID, conv.Ctx.Scanner, conv.Ctx.ScanJobID, conv.Ctx.ScanFileHandle); err != nil {
			e.log.Warn("Cancel scan on interrupt failed", "owner", ownerID, "error", err)
		}
	}
	if conv.Ctx.ConfirmationMessageID != 0 {
		if err := e.transport.EditMessage(ctx, ownerID, conv.Ctx.ConfirmationMessageID, finalText, nil); err != nil {
			e.log.Debug("Expire abandoned menu failed", "owner", ownerID, "error", err)
		}
	}
	e.disarmExpiry(ownerID)
	return e.fsm.Reset(ctx, ownerID)
}

// armExpiry schedules the menu message to expire. Only the newest menu
// per owner has a live timer.
func (e *Engine) armExpiry(ownerID string, messageID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.expires[ownerID]; ok {
		t.Stop()
	}
	e.expires[ownerID] = time.AfterFunc(confirmationExpiry, func() {
		e.expireMenu(ownerID, messageID)
	})
}

func (e *Engine) disarmExpiry(ownerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.expires[ownerID]; ok {
		t.Stop()
		delete(e.expires, ownerID)
	}
}

// expireMenu rewrites a timed-out menu to its terminal form and drops the
// guard so every later callback on it is a no-op.
func (e *Engine) expireMenu(ownerID string, messageID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := e.fsm.WithOwner(ownerID, func() error {
		conv, err := e.fsm.Load(ctx, ownerID)
		if err != nil {
			return err
		}
		if conv.Ctx.ConfirmationMessageID != messageID {
			return nil
		}
		return e.interrupt(ctx, ownerID)
	})
	if err != nil {
		e.log.Warn("Menu expiry failed", "owner", ownerID, "error", err)
	}
}

// fail sends the generic failure message while keeping the real error in
// the logs.
func (e *Engine) fail(ctx context.Context, ownerID, where string, err error) {
	e.log.Error("Conversation handler failed", "owner", ownerID, "where", where, "error", err)
	if _, serr := e.transport.SendMessage(ctx, ownerID, msgTryStart, nil); serr != nil {
		e.log.Debug("Failure notice undeliverable", "owner", ownerID, "error", serr)
	}
}

// HandleCallback processes a button press. messageID must match the
// stored confirmation message id, otherwise the click is stale and is
// acknowledged without effect.
func (e *Engine) HandleCallback(ctx context.Context, ownerID string, messageID int64, data, callbackID string) {
	err := e.fsm.WithOwner(ownerID, func() error {
		conv, err := e.fsm.Load(ctx, ownerID)
		if err != nil {
			return err
		}
		if conv.Ctx.ConfirmationMessageID == 0 || conv.Ctx.ConfirmationMessageID != messageID {
			return e.transport.AnswerCallback(ctx, callbackID, "")
		}
		if err := e.transport.AnswerCallback(ctx, callbackID, ""); err != nil {
			e.log.Debug("Callback ack failed", "owner", ownerID, "error", err)
		}
		return e.dispatchCallback(ctx, ownerID, conv, data)
	})
	if err != nil {
		e.fail(ctx, ownerID, "callback", err)
	}
}

func (e *Engine) dispatchCallback(ctx context.Context, ownerID string, conv Conversation, data string) error {
	action, arg, _ := strings.Cut(data, ":")
	switch action {
	case "back":
		return e.handleBack(ctx, ownerID, conv)
	case "setup":
		return e.openSetup(ctx, ownerID, conv, arg)
	case "printer":
		conv.Ctx.Printer = arg
		return e.backToPrintMenu(ctx, ownerID, conv)
	case "sides":
		conv.Ctx.Sides = arg
		return e.backToPrintMenu(ctx, ownerID, conv)
	case "layout":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 {
			return e.backToPrintMenu(ctx, ownerID, conv)
		}
		conv.Ctx.NumberUp = n
		return e.backToPrintMenu(ctx, ownerID, conv)
	case "pages":
		// arg is "apply:<ranges>" from the suggestion prompt.
		if ranges, ok := strings.CutPrefix(arg, "apply:"); ok {
			conv.Ctx.PageRanges = ranges
			return e.backToPrintMenu(ctx, ownerID, conv)
		}
		return nil
	case "print":
		if arg == "confirm" {
			return e.startPrinting(ctx, ownerID, conv)
		}
		return e.interrupt(ctx, ownerID)
	case "scanner":
		conv.Ctx.Scanner = arg
		return e.backToScanMenu(ctx, ownerID, conv)
	case "quality":
		if n, err := strconv.Atoi(arg); err == nil {
			conv.Ctx.Quality = n
		}
		return e.backToScanMenu(ctx, ownerID, conv)
	case "scanmode":
		conv.Ctx.Mode = arg
		return e.backToScanMenu(ctx, ownerID, conv)
	case "scansides":
		conv.Ctx.ScanSides = arg == "true"
		return e.backToScanMenu(ctx, ownerID, conv)
	case "crop":
		conv.Ctx.Crop = arg == "true"
		return e.backToScanMenu(ctx, ownerID, conv)
	case "scan":
		return e.handleScanAction(ctx, ownerID, conv, arg)
	default:
		e.log.Debug("Unknown callback", "owner", ownerID, "data", data)
		return nil
	}
}

func (e *Engine) handleBack(ctx context.Context, ownerID string, conv Conversation) error {
	switch conv.State {
	case StateSetupPrinter, StateSetupCopies, StateSetupPages, StateSetupSides, StateSetupLayout, StatePrintSettingsMenu:
		return e.backToPrintMenu(ctx, ownerID, conv)
	default:
		return e.backToScanMenu(ctx, ownerID, conv)
	}
}

// openSetup moves into a Setup* sub-state and rewrites the menu with the
// matching choices.
func (e *Engine) openSetup(ctx context.Context, ownerID string, conv Conversation, what string) error {
	var (
		state    State
		text     string
		keyboard [][]Button
	)
	switch what {
	case "printer":
		state, text, keyboard = StateSetupPrinter, "Choose a printer:", printerKeyboard(e.printers)
	case "copies":
		state, text = StateSetupCopies, "Send the number of copies."
		keyboard = [][]Button{{{Label: "Back", Data: "back"}}}
	case "pages":
		state, text = StateSetupPages, "Send page ranges, e.g. 1-5,8. Leave out to print everything."
		keyboard = [][]Button{{{Label: "Back", Data: "back"}}}
	case "sides":
		state, text, keyboard = StateSetupSides, "Print on:", sidesKeyboard()
	case "layout":
		state, text, keyboard = StateSetupLayout, "Pages per sheet:", layoutKeyboard()
	case "scanner":
		state, text, keyboard = StateSetupScanner, "Choose a scanner:", scannerKeyboard(e.scanners)
	case "quality":
		state, text, keyboard = StateSetupScanQuality, "Scan quality:", qualityKeyboard()
	case "scanmode":
		state, text, keyboard = StateSetupScanMode, "Scan from:", scanModeKeyboard()
	case "scansides":
		state, text, keyboard = StateSetupScanSides, "Scan both sides? Works with the feeder only.", toggleKeyboard("scansides")
	case "crop":
		state, text, keyboard = StateSetupScanCrop, "Auto-crop scanned pages?", toggleKeyboard("crop")
	case "scanname":
		state, text = StateSetupScanName, "Send a name for the resulting file."
		keyboard = [][]Button{{{Label: "Back", Data: "back"}}}
	default:
		return nil
	}
	conv.State = state
	if err := e.fsm.Save(ctx, ownerID, conv); err != nil {
		return err
	}
	return e.editGuarded(ctx, ownerID, conv.Ctx.ConfirmationMessageID, text, keyboard)
}

// startPrinting dispatches the job and spawns the poll loop.
func (e *Engine) startPrinting(ctx context.Context, ownerID string, conv Conversation) error {
	opts := ippclient.Options{
		Copies:     conv.Ctx.Copies,
		PageRanges: conv.Ctx.PageRanges,
		Sides:      conv.Ctx.Sides,
		NumberUp:   conv.Ctx.NumberUp,
	}
	papers, err := printing.PapersToPrint(conv.Ctx.Pages, opts)
	if err != nil {
		return err
	}

	jobID, err := e.printing.Dispatch(ctx, ownerID, conv.Ctx.FileHandle, conv.Ctx.Printer, conv.Ctx.FileName, opts)
	if err != nil {
		conv.Ctx.FileHandle = "" // consumed either way
		if serr := e.fsm.Save(ctx, ownerID, conv); serr != nil {
			return serr
		}
		return err
	}

	conv.State = StatePrinting
	conv.Ctx.FileHandle = ""
	conv.Ctx.JobID = jobID
	if err := e.fsm.Save(ctx, ownerID, conv); err != nil {
		return err
	}
	msgID := conv.Ctx.ConfirmationMessageID
	if err := e.editGuarded(ctx, ownerID, msgID, "⏳ Sending to the printer...", nil); err != nil {
		e.log.Debug("Progress edit failed", "owner", ownerID, "error", err)
	}

	go e.watchPrintJob(ownerID, jobID, papers, msgID, conv.Ctx)
	return nil
}

// watchPrintJob polls the job and maintains the progress message. It runs
// outside the owner lock; each FSM touch re-acquires it.
func (e *Engine) watchPrintJob(ownerID string, jobID, papers int, msgID int64, snapshot Context) {
	ctx := context.Background()

	keepGoing := func() bool {
		still := false
		e.fsm.WithOwner(ownerID, func() error {
			conv, err := e.fsm.Load(ctx, ownerID)
			if err != nil {
				return err
			}
			still = conv.State == StatePrinting && conv.Ctx.JobID == jobID
			return nil
		})
		return still
	}
	onUpdate := func(u printing.PollUpdate) {
		text := fmt.Sprintf("%s Printing %s...", u.Glyph, snapshot.FileName)
		if u.Attrs != nil && u.Attrs.HasErrorReason() {
			text += "\n⚠ The printer reports a problem; the job may still finish."
		}
		e.fsm.WithOwner(ownerID, func() error {
			return e.editGuarded(ctx, ownerID, msgID, text, nil)
		})
	}

	res, err := e.printing.Poll(ctx, jobID, papers, onUpdate, keepGoing)
	if err != nil {
		e.log.Error("Print poll failed", "owner", ownerID, "job_id", jobID, "error", err)
	}

	final := e.finalPrintText(res, snapshot)
	e.fsm.WithOwner(ownerID, func() error {
		conv, lerr := e.fsm.Load(ctx, ownerID)
		if lerr == nil && conv.State == StatePrinting && conv.Ctx.JobID == jobID {
			if eerr := e.editGuarded(ctx, ownerID, msgID, final, nil); eerr != nil {
				e.log.Debug("Final print edit failed", "owner", ownerID, "error", eerr)
			}
			e.disarmExpiry(ownerID)
			if rerr := e.fsm.Reset(ctx, ownerID); rerr != nil {
				return rerr
			}
		}
		return nil
	})

	outcome := "completed"
	if res.TimedOut {
		outcome = "timeout"
	} else if res.Interrupted {
		outcome = "cancelled"
	} else if res.Attrs != nil && res.Attrs.JobState != ippclient.StateCompleted {
		outcome = res.Attrs.JobState.String()
	}
	if err := e.events.AppendJobEvent(ctx, storage.JobEvent{
		OwnerID: ownerID,
		Kind:    "print",
		Target:  snapshot.Printer,
		Detail:  fmt.Sprintf("%s (%s)", snapshot.FileName, outcome),
		Papers:  papers,
	}); err != nil {
		e.log.Warn("Job history append failed", "owner", ownerID, "error", err)
	}
}

func (e *Engine) finalPrintText(res printing.PollResult, snapshot Context) string {
	switch {
	case res.TimedOut:
		return "❌ " + msgPrintTimeout
	case res.Interrupted:
		return "❌ " + msgCancelled
	case res.Attrs != nil && res.Attrs.JobState == ippclient.StateCompleted:
		return fmt.Sprintf("✅ %s printed.", snapshot.FileName)
	case res.Attrs != nil:
		return fmt.Sprintf("❌ The job ended as %s.", res.Attrs.JobState)
	default:
		return "❌ " + msgTryStart
	}
}
