// Package apperr defines the error kinds shared by the orchestrators, the
// backend ports and the HTTP layer. Callers classify errors with errors.Is
// and the API layer maps kinds onto HTTP statuses.
package apperr

import "errors"

var (
	// ErrUnauthorized means the bearer credential was missing or invalid.
	ErrUnauthorized = errors.New("incorrect credentials")
	// ErrNotFound covers missing artifacts, printers, scanners and jobs.
	// Cross-owner artifact access also reports ErrNotFound so that handles
	// never leak existence.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument covers malformed options and parameters.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnsupportedFormat is returned for extensions outside the convert
	// whitelist.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrBusy means the backend refused the job because one is in flight
	// (eSCL answers 503).
	ErrBusy = errors.New("backend busy")
	// ErrBackend is a generic backend failure.
	ErrBackend = errors.New("backend error")
	// ErrConversionFailed means the document converter rejected or mangled
	// the input.
	ErrConversionFailed = errors.New("conversion failed")
	// ErrTimeout means a poll budget or deadline was exhausted.
	ErrTimeout = errors.New("timed out")
	// ErrCancelled means the operation was cancelled on demand.
	ErrCancelled = errors.New("cancelled")
	// ErrIO is a local filesystem failure.
	ErrIO = errors.New("i/o error")
)

// Is reports whether err matches the given kind.
func Is(err, kind error) bool { return errors.Is(err, kind) }
