// Package scanning orchestrates the scan side: acquire documents from an
// eSCL device, optionally auto-crop, and merge successive acquisitions
// into one growing PDF artifact with undo.
package scanning

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/one-zero-eight/printers/apperr"
	"github.com/one-zero-eight/printers/artifact"
	"github.com/one-zero-eight/printers/autocrop"
	"github.com/one-zero-eight/printers/config"
	"github.com/one-zero-eight/printers/esclclient"
	"github.com/one-zero-eight/printers/logger"
	"github.com/one-zero-eight/printers/pdfutil"
	"github.com/one-zero-eight/printers/workpool"
)

// Result reports the artifact after a merge or undo.
type Result struct {
	FileHandle string `json:"filename"`
	PageCount  int    `json:"page_count"`
}

// Orchestrator drives scanners through the acquire, fetch and delete
// cycle and owns the merge/undo logic on the artifact.
type Orchestrator struct {
	scanners  []config.Scanner
	backends  map[string]esclclient.Backend
	artifacts *artifact.Store
	pool      *workpool.Pool
	log       *logger.Logger
}

// New returns a scan orchestrator. backendFor builds the eSCL client for a
// configured scanner; tests substitute fakes here.
func New(scanners []config.Scanner, backendFor func(config.Scanner) esclclient.Backend,
	artifacts *artifact.Store, pool *workpool.Pool, log *logger.Logger) *Orchestrator {
	backends := make(map[string]esclclient.Backend, len(scanners))
	for _, sc := range scanners {
		backends[sc.Name] = backendFor(sc)
	}
	return &Orchestrator{
		scanners:  scanners,
		backends:  backends,
		artifacts: artifacts,
		pool:      pool,
		log:       log,
	}
}

// Scanners lists the configured scanners.
func (o *Orchestrator) Scanners() []config.Scanner { return o.scanners }

func (o *Orchestrator) backend(scannerName string) (esclclient.Backend, error) {
	b, ok := o.backends[scannerName]
	if !ok {
		return nil, fmt.Errorf("scanner %q: %w", scannerName, apperr.ErrInvalidArgument)
	}
	return b, nil
}

// Start posts the scan intent. ErrBusy passes through for the caller to
// surface and return to the previous menu.
func (o *Orchestrator) Start(ctx context.Context, scannerName string, opts esclclient.Options) (string, error) {
	b, err := o.backend(scannerName)
	if err != nil {
		return "", err
	}
	return b.Start(ctx, opts)
}

// WaitAndMerge fetches the scanned document, optionally crops it, and
// merges it into the previous artifact. prevHandle may be empty for the
// first acquisition. The device job is deleted on success.
func (o *Orchestrator) WaitAndMerge(ctx context.Context, ownerID, scannerName, jobID, prevHandle string, opts esclclient.Options) (Result, error) {
	b, err := o.backend(scannerName)
	if err != nil {
		return Result{}, err
	}

	fresh, err := o.fetchPDF(ctx, b, jobID, opts)
	if err != nil {
		return Result{}, err
	}
	defer os.Remove(fresh)

	handle, err := o.absorb(ownerID, prevHandle, fresh)
	if err != nil {
		return Result{}, err
	}

	path, err := o.artifacts.Path(ownerID, handle)
	if err != nil {
		return Result{}, err
	}
	var pages int
	err = o.pool.Do(ctx, func() error {
		var perr error
		pages, perr = pdfutil.PageCount(path)
		return perr
	})
	if err != nil {
		return Result{}, fmt.Errorf("count scanned pages: %w", err)
	}

	if err := b.Delete(ctx, jobID); err != nil {
		o.log.Warn("Scan job delete failed", "scanner", scannerName, "job_id", jobID, "error", err)
	}
	o.log.Info("Scan merged", "owner", ownerID, "handle", handle, "pages", pages)
	return Result{FileHandle: handle, PageCount: pages}, nil
}

// fetchPDF pulls the job's documents into a temp PDF file. In crop mode
// the device delivers one JPEG per page; each is straightened and cropped,
// then the pages are reassembled into a PDF. Otherwise the device delivers
// a single assembled PDF.
func (o *Orchestrator) fetchPDF(ctx context.Context, b esclclient.Backend, jobID string, opts esclclient.Options) (string, error) {
	out, err := os.CreateTemp("", "scan-*.pdf")
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrIO, err)
	}
	defer out.Close()
	cleanup := func() { os.Remove(out.Name()) }

	if !opts.Crop {
		data, err := b.NextDocument(ctx, jobID)
		if err != nil {
			cleanup()
			return "", err
		}
		if _, err := out.Write(data); err != nil {
			cleanup()
			return "", fmt.Errorf("%w: %v", apperr.ErrIO, err)
		}
		return out.Name(), nil
	}

	var pages [][]byte
	for {
		data, err := b.NextDocument(ctx, jobID)
		if apperr.Is(err, apperr.ErrNotFound) {
			break
		}
		if err != nil {
			cleanup()
			return "", err
		}
		cropped := data
		cerr := o.pool.Do(ctx, func() error {
			var e error
			cropped, e = autocrop.CropJPEG(data)
			return e
		})
		if cerr != nil {
			o.log.Warn("Auto-crop failed, using original page", "job_id", jobID, "error", cerr)
			cropped = data
		}
		pages = append(pages, cropped)
	}
	if len(pages) == 0 {
		cleanup()
		return "", fmt.Errorf("scan delivered no pages: %w", apperr.ErrBackend)
	}

	var buf bytes.Buffer
	err = o.pool.Do(ctx, func() error {
		return pdfutil.JPEGsToPDF(pages, &buf)
	})
	if err != nil {
		cleanup()
		return "", fmt.Errorf("assemble cropped pages: %w", err)
	}
	if _, err := out.Write(buf.Bytes()); err != nil {
		cleanup()
		return "", fmt.Errorf("%w: %v", apperr.ErrIO, err)
	}
	return out.Name(), nil
}

// absorb stores freshPath as a new artifact, or merges it after the
// previous one. The previous handle is replaced atomically.
func (o *Orchestrator) absorb(ownerID, prevHandle, freshPath string) (string, error) {
	if prevHandle == "" {
		f, err := os.Open(freshPath)
		if err != nil {
			return "", fmt.Errorf("%w: %v", apperr.ErrIO, err)
		}
		defer f.Close()
		return o.artifacts.Put(ownerID, "pdf", f)
	}

	prevPath, err := o.artifacts.Path(ownerID, prevHandle)
	if err != nil {
		return "", err
	}
	merged, err := os.CreateTemp("", "scan-merge-*.pdf")
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrIO, err)
	}
	merged.Close()
	defer os.Remove(merged.Name())

	if err := pdfutil.Merge([]string{prevPath, freshPath}, merged.Name()); err != nil {
		return "", fmt.Errorf("merge scans: %w", err)
	}
	return o.artifacts.ReplaceWithFile(ownerID, prevHandle, merged.Name(), "pdf")
}

// RemoveLastPage rewrites the artifact without its final page. The handle
// is replaced, never deleted; a zero-page document is permitted.
func (o *Orchestrator) RemoveLastPage(ctx context.Context, ownerID, handle string) (Result, error) {
	path, err := o.artifacts.Path(ownerID, handle)
	if err != nil {
		return Result{}, err
	}
	trimmed, err := os.CreateTemp("", "scan-undo-*.pdf")
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", apperr.ErrIO, err)
	}
	trimmed.Close()
	defer os.Remove(trimmed.Name())

	err = o.pool.Do(ctx, func() error {
		return pdfutil.RemoveLastPage(path, trimmed.Name())
	})
	if err != nil {
		return Result{}, fmt.Errorf("remove last page: %w", err)
	}

	newHandle, err := o.artifacts.ReplaceWithFile(ownerID, handle, trimmed.Name(), "pdf")
	if err != nil {
		return Result{}, err
	}
	newPath, err := o.artifacts.Path(ownerID, newHandle)
	if err != nil {
		return Result{}, err
	}
	pages, err := pdfutil.PageCount(newPath)
	if err != nil {
		// A zero-page document confuses some parsers; report it as empty.
		pages = 0
	}
	return Result{FileHandle: newHandle, PageCount: pages}, nil
}

// FilePath resolves the artifact path for streaming it back to the user.
func (o *Orchestrator) FilePath(ownerID, handle string) (string, error) {
	return o.artifacts.Path(ownerID, handle)
}

// DeleteFile finalizes the session by discarding the artifact.
func (o *Orchestrator) DeleteFile(ownerID, handle string) error {
	return o.artifacts.Delete(ownerID, handle)
}

// Cancel tears a session down: the in-flight device job is deleted if one
// exists (already-gone jobs are fine) and the artifact is discarded.
func (o *Orchestrator) Cancel(ctx context.Context, ownerID, scannerName, jobID, handle string) error {
	if jobID != "" {
		b, err := o.backend(scannerName)
		if err != nil {
			return err
		}
		if err := b.Delete(ctx, jobID); err != nil && !apperr.Is(err, apperr.ErrNotFound) {
			o.log.Warn("Cancel scan job failed", "scanner", scannerName, "job_id", jobID, "error", err)
		}
	}
	if handle != "" {
		return o.artifacts.Delete(ownerID, handle)
	}
	return nil
}

// Capabilities proxies the device capabilities XML, for diagnostics.
func (o *Orchestrator) Capabilities(ctx context.Context, scannerName string) ([]byte, error) {
	b, err := o.backend(scannerName)
	if err != nil {
		return nil, err
	}
	return b.Capabilities(ctx)
}

// DeviceStatus proxies the device status XML, for diagnostics.
func (o *Orchestrator) DeviceStatus(ctx context.Context, scannerName string) ([]byte, error) {
	b, err := o.backend(scannerName)
	if err != nil {
		return nil, err
	}
	return b.Status(ctx)
}
