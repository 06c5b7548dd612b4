// Package printing orchestrates the print side: normalize user content to
// PDF, dispatch it to the IPP backend, and poll the job to a terminal
// state within a bounded budget.
package printing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/one-zero-eight/printers/apperr"
	"github.com/one-zero-eight/printers/artifact"
	"github.com/one-zero-eight/printers/config"
	"github.com/one-zero-eight/printers/convert"
	"github.com/one-zero-eight/printers/ippclient"
	"github.com/one-zero-eight/printers/logger"
	"github.com/one-zero-eight/printers/pdfutil"
	"github.com/one-zero-eight/printers/workpool"
)

// pollInterval is the pause between job attribute reads.
const pollInterval = time.Second

// budgetPerPaper is the wall-clock poll budget granted per physical sheet.
const budgetPerPaper = 60 * time.Second

// convertibleExts is the fixed whitelist of extensions the converter
// accepts. Everything else (except .pdf, stored verbatim) is rejected.
var convertibleExts = map[string]bool{
	".doc": true, ".docx": true, ".odt": true, ".ods": true,
	".xls": true, ".xlsx": true, ".txt": true, ".md": true,
	".png": true, ".jpg": true, ".jpeg": true, ".bmp": true,
}

// Prepared is the outcome of the prepare phase.
type Prepared struct {
	FileHandle string `json:"filename"`
	Pages      int    `json:"pages"`
}

// Orchestrator drives the prepare, dispatch and poll phases.
type Orchestrator struct {
	printers  []config.Printer
	artifacts *artifact.Store
	backend   ippclient.Backend
	converter convert.Converter
	pool      *workpool.Pool
	log       *logger.Logger
}

// New returns a print orchestrator over the configured printers.
func New(printers []config.Printer, artifacts *artifact.Store, backend ippclient.Backend,
	converter convert.Converter, pool *workpool.Pool, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		printers:  printers,
		artifacts: artifacts,
		backend:   backend,
		converter: converter,
		pool:      pool,
		log:       log,
	}
}

// Prepare normalizes raw user content to an owner-scoped PDF artifact and
// reports its page count.
func (o *Orchestrator) Prepare(ctx context.Context, ownerID, filename string, data []byte) (Prepared, error) {
	if len(data) == 0 {
		return Prepared{}, fmt.Errorf("empty file: %w", apperr.ErrInvalidArgument)
	}
	ext := strings.ToLower(filepath.Ext(filename))

	var handle string
	var err error
	switch {
	case ext == ".pdf":
		handle, err = o.artifacts.PutBytes(ownerID, "pdf", data)
	case convertibleExts[ext]:
		handle, err = o.convertToPDF(ctx, ownerID, ext, data)
	default:
		return Prepared{}, fmt.Errorf("extension %q: %w", ext, apperr.ErrUnsupportedFormat)
	}
	if err != nil {
		return Prepared{}, err
	}

	path, err := o.artifacts.Path(ownerID, handle)
	if err != nil {
		return Prepared{}, err
	}
	var pages int
	err = o.pool.Do(ctx, func() error {
		var perr error
		pages, perr = pdfutil.PageCount(path)
		return perr
	})
	if err != nil {
		o.artifacts.Delete(ownerID, handle)
		return Prepared{}, fmt.Errorf("count pages: %w", err)
	}
	o.log.Info("Prepared document", "owner", ownerID, "handle", handle, "pages", pages)
	return Prepared{FileHandle: handle, Pages: pages}, nil
}

func (o *Orchestrator) convertToPDF(ctx context.Context, ownerID, ext string, data []byte) (string, error) {
	in, err := os.CreateTemp("", "convert-in-*"+ext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrIO, err)
	}
	defer os.Remove(in.Name())
	if _, err := in.Write(data); err != nil {
		in.Close()
		return "", fmt.Errorf("%w: %v", apperr.ErrIO, err)
	}
	in.Close()

	out, err := os.CreateTemp("", "convert-out-*.pdf")
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrIO, err)
	}
	out.Close()
	defer os.Remove(out.Name())

	err = o.pool.Do(ctx, func() error {
		return o.converter.Convert(ctx, in.Name(), out.Name())
	})
	if err != nil {
		return "", err
	}

	converted, err := os.Open(out.Name())
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrIO, err)
	}
	defer converted.Close()
	return o.artifacts.Put(ownerID, "pdf", converted)
}

// CancelPreparation discards a prepared artifact that was never dispatched.
func (o *Orchestrator) CancelPreparation(ownerID, handle string) error {
	return o.artifacts.Delete(ownerID, handle)
}

// Dispatch submits the prepared artifact to the printer. The artifact is
// consumed whether submission succeeds or fails; a retry needs a fresh
// prepare.
func (o *Orchestrator) Dispatch(ctx context.Context, ownerID, handle, printerCupsName, title string, opts ippclient.Options) (int, error) {
	printer, ok := o.printerByCupsName(printerCupsName)
	if !ok {
		return 0, fmt.Errorf("printer %q: %w", printerCupsName, apperr.ErrInvalidArgument)
	}
	path, err := o.artifacts.Path(ownerID, handle)
	if err != nil {
		return 0, err
	}

	jobID, err := o.backend.Submit(ctx, printer.CupsName, path, title, opts)
	if derr := o.artifacts.Delete(ownerID, handle); derr != nil {
		o.log.Warn("Could not consume dispatched artifact", "owner", ownerID, "handle", handle, "error", derr)
	}
	if err != nil {
		return 0, err
	}
	o.log.Info("Dispatched print job", "owner", ownerID, "printer", printer.CupsName, "job_id", jobID)
	return jobID, nil
}

func (o *Orchestrator) printerByCupsName(name string) (config.Printer, bool) {
	for _, p := range o.printers {
		if p.CupsName == name {
			return p, true
		}
	}
	return config.Printer{}, false
}

// JobStatus reads the current job attributes.
func (o *Orchestrator) JobStatus(ctx context.Context, jobID int) (*ippclient.JobAttributes, error) {
	return o.backend.JobAttributes(ctx, jobID)
}

// Cancel cancels the job. Terminal and unknown jobs accept cancel as a
// no-op.
func (o *Orchestrator) Cancel(ctx context.Context, jobID int) error {
	return o.backend.Cancel(ctx, jobID)
}

var throbber = []string{"⤹", "⤿", "⤻", "⤺"}

// Glyph is the one-character progress indicator for a job state. The
// throbber advances with tick.
func Glyph(state ippclient.JobState, tick int) string {
	switch state {
	case ippclient.StateProcessing:
		return throbber[tick%len(throbber)]
	case ippclient.StateProcessingStopped:
		return "⏸"
	case ippclient.StateCompleted:
		return "✅"
	case ippclient.StateCanceled, ippclient.StateAborted:
		return "❌"
	default:
		return "⏳"
	}
}

// PollUpdate is handed to the caller after every successful attribute read.
type PollUpdate struct {
	Attrs *ippclient.JobAttributes
	Glyph string
	// Tick counts completed polls, for presentation.
	Tick int
}

// PollResult is the final outcome of a poll loop.
type PollResult struct {
	Attrs *ippclient.JobAttributes
	// TimedOut is set when the budget expired and the job was cancelled.
	TimedOut bool
	// Interrupted is set when keepGoing reported the owner left the
	// printing flow.
	Interrupted bool
}

// Poll watches the job until it reaches a terminal state, the budget of
// 60 s per paper expires, or keepGoing returns false. Transient backend
// errors are logged and retried on the next tick. onUpdate may be nil.
func (o *Orchestrator) Poll(ctx context.Context, jobID, papers int, onUpdate func(PollUpdate), keepGoing func() bool) (PollResult, error) {
	if papers < 1 {
		papers = 1
	}
	deadline := time.Now().Add(time.Duration(papers) * budgetPerPaper)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	tick := 0
	for {
		if keepGoing != nil && !keepGoing() {
			return o.abort(ctx, jobID, true), nil
		}
		attrs, err := o.backend.JobAttributes(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return o.abort(ctx, jobID, true), nil
			}
			o.log.Warn("Job attributes read failed, retrying", "job_id", jobID, "error", err)
		} else {
			if attrs.JobState.Terminal() {
				return PollResult{Attrs: attrs}, nil
			}
			if attrs.HasErrorReason() {
				// Surface but keep polling, the condition may clear.
				o.log.Warn("Printer reports an error condition",
					"job_id", jobID, "reasons", attrs.PrinterStateReasons)
			}
			if onUpdate != nil {
				onUpdate(PollUpdate{Attrs: attrs, Glyph: Glyph(attrs.JobState, tick), Tick: tick})
			}
		}
		tick++

		if time.Now().After(deadline) {
			res := o.abort(ctx, jobID, false)
			res.TimedOut = true
			return res, nil
		}
		select {
		case <-ctx.Done():
			return o.abort(ctx, jobID, true), nil
		case <-ticker.C:
		}
	}
}

// abort cancels the job and reads its attributes one last time. The final
// read runs on a fresh context so a cancelled caller still gets a cleanup
// attempt.
func (o *Orchestrator) abort(ctx context.Context, jobID int, interrupted bool) PollResult {
	cleanupCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		cleanupCtx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}
	if err := o.backend.Cancel(cleanupCtx, jobID); err != nil {
		o.log.Warn("Cancel after poll exit failed", "job_id", jobID, "error", err)
	}
	attrs, err := o.backend.JobAttributes(cleanupCtx, jobID)
	if err != nil {
		o.log.Warn("Final job attributes read failed", "job_id", jobID, "error", err)
		attrs = nil
	}
	return PollResult{Attrs: attrs, Interrupted: interrupted}
}
