package bot

import (
	"context"
	"os"
	"time"

	"github.com/one-zero-eight/printers/apperr"
	"github.com/one-zero-eight/printers/esclclient"
	"github.com/one-zero-eight/printers/storage"
)

// scanFetchTimeout bounds one acquisition, matching the device fetch
// client.
const scanFetchTimeout = 5 * time.Minute

// openScanMenu starts a fresh scan flow with defaults. Caller holds the
// owner lock.
func (e *Engine) openScanMenu(ctx context.Context, ownerID string) error {
	conv := Conversation{
		State: StateScanSettingsMenu,
		Ctx: Context{
			Quality: 300,
			Mode:    "manual",
		},
	}
	if len(e.scanners) > 0 {
		conv.Ctx.Scanner = e.scanners[0].Name
	}
	msgID, err := e.transport.SendMessage(ctx, ownerID, scanSettingsText(conv.Ctx), scanSettingsKeyboard())
	if err != nil {
		return err
	}
	conv.Ctx.ConfirmationMessageID = msgID
	if err := e.fsm.Save(ctx, ownerID, conv); err != nil {
		return err
	}
	e.armExpiry(ownerID, msgID)
	return nil
}

func scanOptions(c Context) esclclient.Options {
	source := "Platen"
	if c.Mode == "auto" {
		source = "Adf"
	}
	return esclclient.Options{
		Duplex:      c.ScanSides,
		Quality:     c.Quality,
		InputSource: source,
		Crop:        c.Crop,
	}
}

func (e *Engine) handleScanAction(ctx context.Context, ownerID string, conv Conversation, action string) error {
	switch action {
	case "start", "more", "new":
		if action == "new" && conv.Ctx.ScanFileHandle != "" {
			if err := e.scanning.DeleteFile(ownerID, conv.Ctx.ScanFileHandle); err != nil {
				return err
			}
			conv.Ctx.ScanFileHandle = ""
			conv.Ctx.ScanResultPageCount = 0
		}
		return e.startScanCycle(ctx, ownerID, conv)
	case "undo":
		return e.undoLastPage(ctx, ownerID, conv)
	case "finish":
		return e.finishScan(ctx, ownerID, conv)
	case "cancel":
		return e.interrupt(ctx, ownerID)
	default:
		return nil
	}
}

// startScanCycle posts the intent. A busy device sends the user back to
// the menu they came from.
func (e *Engine) startScanCycle(ctx context.Context, ownerID string, conv Conversation) error {
	jobID, err := e.scanning.Start(ctx, conv.Ctx.Scanner, scanOptions(conv.Ctx))
	if apperr.Is(err, apperr.ErrBusy) {
		if conv.Ctx.ScanFileHandle != "" {
			conv.State = StateScanPauseMenu
			if serr := e.fsm.Save(ctx, ownerID, conv); serr != nil {
				return serr
			}
			return e.editGuarded(ctx, ownerID, conv.Ctx.ConfirmationMessageID,
				msgScannerBusy+"\n\n"+scanPauseText(conv.Ctx), scanPauseKeyboard())
		}
		conv.State = StateScanSettingsMenu
		if serr := e.fsm.Save(ctx, ownerID, conv); serr != nil {
			return serr
		}
		return e.editGuarded(ctx, ownerID, conv.Ctx.ConfirmationMessageID,
			msgScannerBusy+"\n\n"+scanSettingsText(conv.Ctx), scanSettingsKeyboard())
	}
	if err != nil {
		return err
	}

	conv.State = StateScanning
	conv.Ctx.ScanJobID = jobID
	if err := e.fsm.Save(ctx, ownerID, conv); err != nil {
		return err
	}
	msgID := conv.Ctx.ConfirmationMessageID
	if err := e.editGuarded(ctx, ownerID, msgID, "📠 Scanning...", nil); err != nil {
		e.log.Debug("Scan progress edit failed", "owner", ownerID, "error", err)
	}

	go e.watchScanJob(ownerID, jobID, msgID, conv.Ctx)
	return nil
}

// watchScanJob waits for the device to deliver the document, merges it
// into the artifact and moves the owner to the pause menu. Runs outside
// the owner lock.
func (e *Engine) watchScanJob(ownerID, jobID string, msgID int64, snapshot Context) {
	ctx, cancel := context.WithTimeout(context.Background(), scanFetchTimeout)
	defer cancel()

	res, err := e.scanning.WaitAndMerge(ctx, ownerID, snapshot.Scanner, jobID, snapshot.ScanFileHandle, scanOptions(snapshot))

	werr := e.fsm.WithOwner(ownerID, func() error {
		conv, lerr := e.fsm.Load(ctx, ownerID)
		if lerr != nil {
			return lerr
		}
		if conv.State != StateScanning || conv.Ctx.ScanJobID != jobID {
			// The owner moved on; the cancel path owns cleanup.
			return nil
		}
		if err != nil {
			e.log.Error("Scan fetch failed", "owner", ownerID, "job_id", jobID, "error", err)
			conv.State = StateScanSettingsMenu
			conv.Ctx.ScanJobID = ""
			if serr := e.fsm.Save(ctx, ownerID, conv); serr != nil {
				return serr
			}
			return e.editGuarded(ctx, ownerID, msgID,
				"The scan failed. Check the device and try again.\n\n"+scanSettingsText(conv.Ctx),
				scanSettingsKeyboard())
		}
		conv.State = StateScanPauseMenu
		conv.Ctx.ScanJobID = ""
		conv.Ctx.ScanFileHandle = res.FileHandle
		conv.Ctx.ScanResultPageCount = res.PageCount
		if serr := e.fsm.Save(ctx, ownerID, conv); serr != nil {
			return serr
		}
		return e.editGuarded(ctx, ownerID, msgID, scanPauseText(conv.Ctx), scanPauseKeyboard())
	})
	if werr != nil {
		e.log.Error("Scan state update failed", "owner", ownerID, "error", werr)
	}
}

func (e *Engine) undoLastPage(ctx context.Context, ownerID string, conv Conversation) error {
	if conv.Ctx.ScanFileHandle == "" {
		return nil
	}
	res, err := e.scanning.RemoveLastPage(ctx, ownerID, conv.Ctx.ScanFileHandle)
	if err != nil {
		return err
	}
	conv.Ctx.ScanFileHandle = res.FileHandle
	conv.Ctx.ScanResultPageCount = res.PageCount
	if err := e.fsm.Save(ctx, ownerID, conv); err != nil {
		return err
	}
	return e.editGuarded(ctx, ownerID, conv.Ctx.ConfirmationMessageID,
		scanPauseText(conv.Ctx), scanPauseKeyboard())
}

// finishScan delivers the assembled PDF and closes the session.
func (e *Engine) finishScan(ctx context.Context, ownerID string, conv Conversation) error {
	if conv.Ctx.ScanFileHandle == "" {
		return e.interrupt(ctx, ownerID)
	}
	path, err := e.scanning.FilePath(ownerID, conv.Ctx.ScanFileHandle)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	name := conv.Ctx.ScanName
	if name == "" {
		name = "scan"
	}
	sendErr := e.transport.SendDocument(ctx, ownerID, name+".pdf", f)
	f.Close()
	if sendErr != nil {
		return sendErr
	}

	if err := e.events.AppendJobEvent(ctx, storage.JobEvent{
		OwnerID: ownerID,
		Kind:    "scan",
		Target:  conv.Ctx.Scanner,
		Detail:  name + ".pdf",
		Papers:  conv.Ctx.ScanResultPageCount,
	}); err != nil {
		e.log.Warn("Job history append failed", "owner", ownerID, "error", err)
	}

	if err := e.scanning.DeleteFile(ownerID, conv.Ctx.ScanFileHandle); err != nil {
		e.log.Warn("Finalize artifact delete failed", "owner", ownerID, "error", err)
	}
	if err := e.editGuarded(ctx, ownerID, conv.Ctx.ConfirmationMessageID, "✅ Here is your scan.", nil); err != nil {
		e.log.Debug("Final scan edit failed", "owner", ownerID, "error", err)
	}
	e.disarmExpiry(ownerID)
	return e.fsm.Reset(ctx, ownerID)
}
