package main

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"

	"github.com/one-zero-eight/printers/apperr"
	"github.com/one-zero-eight/printers/authgate"
)

type ctxKey int

const ownerKey ctxKey = iota

// ownerFrom returns the verified owner id stored by withAuth.
func ownerFrom(r *http.Request) string {
	owner, _ := r.Context().Value(ownerKey).(string)
	return owner
}

var corsPattern *regexp.Regexp

func corsAllowed(origin string) bool {
	if origin == "" {
		return false
	}
	if corsPattern == nil {
		pattern := appConfig.API.CORSAllowOriginRegex
		if pattern == "" {
			return false
		}
		p, err := regexp.Compile(pattern)
		if err != nil {
			appLogger.Warn("Invalid CORS regex", "pattern", pattern, "error", err)
			return false
		}
		corsPattern = p
	}
	return corsPattern.MatchString(origin)
}

func applyCORS(w http.ResponseWriter, r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if corsAllowed(origin) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return true
	}
	return false
}

// withAuth verifies the bearer credential and stashes the owner id in the
// request context.
func withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if applyCORS(w, r) {
			return
		}
		credential := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		owner, err := gate.Verify(r.Context(), credential)
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ownerKey, owner)))
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLogger.Debug("Response encode failed", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Hint  string `json:"hint,omitempty"`
}

// writeError maps error kinds to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error()}
	var code int
	switch {
	case apperr.Is(err, apperr.ErrUnauthorized):
		code = http.StatusUnauthorized
		if apperr.Is(err, authgate.ErrNoCredentials) {
			resp.Hint = "no-credentials"
		}
	case apperr.Is(err, apperr.ErrNotFound):
		code = http.StatusNotFound
	case apperr.Is(err, apperr.ErrInvalidArgument), apperr.Is(err, apperr.ErrUnsupportedFormat):
		code = http.StatusBadRequest
	case apperr.Is(err, apperr.ErrBusy):
		code = http.StatusServiceUnavailable
	default:
		code = http.StatusInternalServerError
	}
	if code == http.StatusInternalServerError {
		appLogger.Error("Request failed", "error", err)
	}
	writeJSON(w, code, resp)
}
