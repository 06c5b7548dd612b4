package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/one-zero-eight/printers/apperr"
	"github.com/one-zero-eight/printers/ippclient"
	"github.com/one-zero-eight/printers/printing"
)

// maxUploadBytes caps multipart uploads at 100 MB.
const maxUploadBytes = 100 << 20

func handleGetPrinters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, appConfig.API.Printers)
}

func handleGetPrintersStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusAgg.All(r.Context()))
}

func handleGetPrinterStatus(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("printer_cups_name")
	printer, ok := appConfig.PrinterByCupsName(name)
	if !ok {
		writeError(w, fmt.Errorf("printer %q: %w", name, apperr.ErrInvalidArgument))
		return
	}
	writeJSON(w, http.StatusOK, statusAgg.One(r.Context(), printer))
}

func handlePrepare(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, fmt.Errorf("multipart field \"file\": %w", apperr.ErrInvalidArgument))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, fmt.Errorf("read upload: %w", apperr.ErrIO))
		return
	}

	prepared, err := printOrch.Prepare(r.Context(), ownerFrom(r), header.Filename, data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prepared)
}

func handlePrint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	handle := q.Get("filename")
	printer := q.Get("printer_cups_name")

	var opts ippclient.Options
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil && err != io.EOF {
			writeError(w, fmt.Errorf("printing options: %w", apperr.ErrInvalidArgument))
			return
		}
	}
	if opts.PageRanges != "" {
		normalized, changed, err := printing.NormalizePageRanges(opts.PageRanges)
		if err != nil {
			writeError(w, err)
			return
		}
		if changed {
			writeError(w, fmt.Errorf("page ranges %q, did you mean %q: %w",
				opts.PageRanges, normalized, apperr.ErrInvalidArgument))
			return
		}
	}

	jobID, err := printOrch.Dispatch(r.Context(), ownerFrom(r), handle, printer, handle, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"job_id": jobID})
}

func handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID, err := strconv.Atoi(r.URL.Query().Get("job_id"))
	if err != nil {
		writeError(w, fmt.Errorf("job_id: %w", apperr.ErrInvalidArgument))
		return
	}
	attrs, err := printOrch.JobStatus(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attrs)
}

func handleCancelJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	jobID, err := strconv.Atoi(r.URL.Query().Get("job_id"))
	if err != nil {
		writeError(w, fmt.Errorf("job_id: %w", apperr.ErrInvalidArgument))
		return
	}
	if err := printOrch.Cancel(r.Context(), jobID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

func handleCancelPreparation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	handle := r.URL.Query().Get("filename")
	if err := printOrch.CancelPreparation(ownerFrom(r), handle); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func handleGetFile(w http.ResponseWriter, r *http.Request) {
	serveArtifact(w, r, r.URL.Query().Get("filename"))
}

// serveArtifact streams an owned artifact. Cross-owner handles 404 inside
// the store.
func serveArtifact(w http.ResponseWriter, r *http.Request, handle string) {
	path, err := artifacts.Path(ownerFrom(r), handle)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	http.ServeFile(w, r, path)
}
