package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/one-zero-eight/printers/apperr"
	"github.com/one-zero-eight/printers/esclclient"
)

func handleGetScanners(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, appConfig.API.Scanners)
}

func decodeScanOptions(r *http.Request) (esclclient.Options, error) {
	opts := esclclient.Options{Quality: 300, InputSource: "Platen"}
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil && err != io.EOF {
			return opts, fmt.Errorf("scanning options: %w", apperr.ErrInvalidArgument)
		}
	}
	return opts, opts.Validate()
}

func handleStartScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	opts, err := decodeScanOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	jobID, err := scanOrch.Start(r.Context(), r.URL.Query().Get("scanner_name"), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID})
}

func handleCancelScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	err := scanOrch.Cancel(r.Context(), ownerFrom(r), q.Get("scanner_name"), q.Get("job_id"), q.Get("filename"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

func handleWaitAndMerge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	opts, err := decodeScanOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	res, err := scanOrch.WaitAndMerge(r.Context(), ownerFrom(r),
		q.Get("scanner_name"), q.Get("job_id"), q.Get("prev_filename"), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func handleRemoveLastPage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	res, err := scanOrch.RemoveLastPage(r.Context(), ownerFrom(r), r.URL.Query().Get("filename"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func handleDeleteScanFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := scanOrch.DeleteFile(ownerFrom(r), r.URL.Query().Get("filename")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func handleGetScanFile(w http.ResponseWriter, r *http.Request) {
	serveArtifact(w, r, r.URL.Query().Get("filename"))
}

func handleScannerCapabilities(w http.ResponseWriter, r *http.Request) {
	proxyScannerXML(w, r, scanOrch.Capabilities)
}

func handleScannerDeviceStatus(w http.ResponseWriter, r *http.Request) {
	proxyScannerXML(w, r, scanOrch.DeviceStatus)
}

// proxyScannerXML forwards a device diagnostics document verbatim.
func proxyScannerXML(w http.ResponseWriter, r *http.Request, fetch func(ctx context.Context, name string) ([]byte, error)) {
	data, err := fetch(r.Context(), r.URL.Query().Get("scanner_name"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Write(data)
}
