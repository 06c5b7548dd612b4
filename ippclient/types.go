// Package ippclient implements the print backend port over IPP. Jobs are
// submitted to the CUPS server with Print-Job, observed with
// Get-Job-Attributes and terminated with Cancel-Job. The package also probes
// printer reachability and scrapes the paper tray report from the device's
// embedded web server.
package ippclient

import "strings"

// JobState follows the IPP job life cycle (RFC 8011, "job-state" enum 3..9).
type JobState int

const (
	StateUnknown           JobState = 0
	StatePending           JobState = 3
	StatePendingHeld       JobState = 4
	StateProcessing        JobState = 5
	StateProcessingStopped JobState = 6
	StateCanceled          JobState = 7
	StateAborted           JobState = 8
	StateCompleted         JobState = 9
)

// Terminal reports whether the state is one of the three terminal states.
func (s JobState) Terminal() bool {
	return s == StateCanceled || s == StateAborted || s == StateCompleted
}

func (s JobState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StatePendingHeld:
		return "pending-held"
	case StateProcessing:
		return "processing"
	case StateProcessingStopped:
		return "processing-stopped"
	case StateCanceled:
		return "canceled"
	case StateAborted:
		return "aborted"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Severity of a printer-state-reason, parsed from its keyword suffix.
type Severity string

const (
	SeverityNone    Severity = ""
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityReport  Severity = "report"
)

// PrinterStateReason is one "printer-state-reasons" keyword split into its
// base reason and severity suffix.
type PrinterStateReason struct {
	Reason   string   `json:"reason"`
	Severity Severity `json:"severity,omitempty"`
}

// ParsePrinterStateReason splits a keyword like "media-empty-error" into
// ("media-empty", error). Keywords without a recognized suffix carry no
// severity.
func ParsePrinterStateReason(v string) PrinterStateReason {
	switch {
	case strings.HasSuffix(v, "-error"):
		return PrinterStateReason{Reason: strings.TrimSuffix(v, "-error"), Severity: SeverityError}
	case strings.HasSuffix(v, "-warning"):
		return PrinterStateReason{Reason: strings.TrimSuffix(v, "-warning"), Severity: SeverityWarning}
	case strings.HasSuffix(v, "-report"):
		return PrinterStateReason{Reason: strings.TrimSuffix(v, "-report"), Severity: SeverityReport}
	default:
		return PrinterStateReason{Reason: v, Severity: SeverityNone}
	}
}

// JobAttributes is the observable state of one print job.
type JobAttributes struct {
	JobState            JobState             `json:"job_state"`
	JobStateReasons     []string             `json:"job_state_reasons"`
	JobStateMessage     string               `json:"job_state_message,omitempty"`
	PrinterStateReasons []PrinterStateReason `json:"printer_state_reasons,omitempty"`
	PrinterStateMessage string               `json:"printer_state_message,omitempty"`
}

// HasErrorReason reports whether any printer-state-reason carries error
// severity.
func (a *JobAttributes) HasErrorReason() bool {
	for _, r := range a.PrinterStateReasons {
		if r.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Options carries the user-selected printing options. Zero values mean
// "not set" and are not forwarded to the backend.
type Options struct {
	Copies     int    `json:"copies,omitempty"`
	PageRanges string `json:"page_ranges,omitempty"`
	// Sides is "one-sided" or "two-sided-long-edge".
	Sides    string `json:"sides,omitempty"`
	NumberUp int    `json:"number_up,omitempty"`
}
