package ippclient

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/OpenPrinting/goipp"

	"github.com/one-zero-eight/printers/apperr"
	"github.com/one-zero-eight/printers/logger"
)

// Backend is the print backend port consumed by the orchestrator.
type Backend interface {
	Submit(ctx context.Context, printerCupsName, absPath, title string, opts Options) (int, error)
	JobAttributes(ctx context.Context, jobID int) (*JobAttributes, error)
	Cancel(ctx context.Context, jobID int) error
	ProbeReachable(ctx context.Context, ipp string) bool
	PaperPct(ctx context.Context, ipp string) (int, bool)
}

// Client talks IPP to a CUPS server.
type Client struct {
	// cupsServer is host[:port] of the CUPS server.
	cupsServer string
	httpClient *http.Client
	probe      *http.Client
	log        *logger.Logger

	reqID atomic.Uint32
}

// NewClient returns a Client for the given CUPS server.
func NewClient(cupsServer string, log *logger.Logger) *Client {
	return &Client{
		cupsServer: cupsServer,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		probe:      &http.Client{Timeout: 2 * time.Second},
		log:        log,
	}
}

func (c *Client) printerURI(cupsName string) string {
	return fmt.Sprintf("ipp://%s/printers/%s", c.cupsServer, cupsName)
}

func (c *Client) httpEndpoint() string {
	return fmt.Sprintf("http://%s/", c.cupsServer)
}

// nextRequestID is safe for concurrent use; one Client is shared by the
// request handlers, the poll goroutines and the status aggregator.
// Request ids must be non-zero per RFC 8011.
func (c *Client) nextRequestID() uint32 {
	for {
		if id := c.reqID.Add(1); id != 0 {
			return id
		}
	}
}

// newRequest builds an IPP request with the mandatory operation attributes.
func (c *Client) newRequest(op goipp.Op) *goipp.Message {
	m := goipp.NewRequest(goipp.DefaultVersion, op, c.nextRequestID())
	m.Operation.Add(goipp.MakeAttribute("attributes-charset", goipp.TagCharset, goipp.String("utf-8")))
	m.Operation.Add(goipp.MakeAttribute("attributes-natural-language", goipp.TagLanguage, goipp.String("en")))
	return m
}

// roundTrip posts the encoded message (plus optional document body) and
// decodes the IPP response.
func (c *Client) roundTrip(ctx context.Context, msg *goipp.Message, document []byte) (*goipp.Message, error) {
	payload, err := msg.EncodeBytes()
	if err != nil {
		return nil, fmt.Errorf("encode ipp: %w: %v", apperr.ErrBackend, err)
	}
	if len(document) > 0 {
		payload = append(payload, document...)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.httpEndpoint(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrBackend, err)
	}
	req.Header.Set("Content-Type", "application/ipp")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ipp transport: %w: %v", apperr.ErrBackend, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusServiceUnavailable {
		return nil, fmt.Errorf("cups: %w", apperr.ErrBusy)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cups http status %d: %w", resp.StatusCode, apperr.ErrBackend)
	}

	var out goipp.Message
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("read ipp response: %w: %v", apperr.ErrBackend, err)
	}
	if err := out.DecodeBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("decode ipp response: %w: %v", apperr.ErrBackend, err)
	}
	return &out, nil
}

// Submit sends the file as a Print-Job operation and returns the job id.
// Only options with non-zero values are forwarded, under their IPP canonical
// names.
func (c *Client) Submit(ctx context.Context, printerCupsName, absPath, title string, opts Options) (int, error) {
	document, err := os.ReadFile(absPath)
	if err != nil {
		return 0, fmt.Errorf("read document: %w: %v", apperr.ErrIO, err)
	}

	msg := c.newRequest(goipp.OpPrintJob)
	msg.Operation.Add(goipp.MakeAttribute("printer-uri", goipp.TagURI, goipp.String(c.printerURI(printerCupsName))))
	msg.Operation.Add(goipp.MakeAttribute("requesting-user-name", goipp.TagName, goipp.String("printdesk")))
	msg.Operation.Add(goipp.MakeAttribute("job-name", goipp.TagName, goipp.String(title)))
	msg.Operation.Add(goipp.MakeAttribute("document-format", goipp.TagMimeType, goipp.String("application/pdf")))

	if opts.Copies > 0 {
		msg.Job.Add(goipp.MakeAttribute("copies", goipp.TagInteger, goipp.Integer(opts.Copies)))
	}
	if opts.Sides != "" {
		msg.Job.Add(goipp.MakeAttribute("sides", goipp.TagKeyword, goipp.String(opts.Sides)))
	}
	if opts.NumberUp > 0 {
		msg.Job.Add(goipp.MakeAttribute("number-up", goipp.TagInteger, goipp.Integer(opts.NumberUp)))
	}
	if opts.PageRanges != "" {
		attr, err := pageRangesAttribute(opts.PageRanges)
		if err != nil {
			return 0, err
		}
		msg.Job.Add(attr)
	}

	resp, err := c.roundTrip(ctx, msg, document)
	if err != nil {
		return 0, err
	}
	if status := goipp.Status(resp.Code); status >= 0x0400 {
		if status == goipp.StatusErrorNotFound {
			return 0, fmt.Errorf("printer %q: %w", printerCupsName, apperr.ErrNotFound)
		}
		if status == goipp.StatusErrorBusy {
			return 0, fmt.Errorf("printer %q: %w", printerCupsName, apperr.ErrBusy)
		}
		return 0, fmt.Errorf("print-job failed: %s: %w", status, apperr.ErrBackend)
	}

	jobID, ok := findInt(resp.Job, "job-id")
	if !ok {
		jobID, ok = findInt(resp.Operation, "job-id")
	}
	if !ok {
		return 0, fmt.Errorf("print-job response has no job-id: %w", apperr.ErrBackend)
	}
	c.log.Info("Print job submitted", "printer", printerCupsName, "job_id", jobID)
	return jobID, nil
}

// pageRangesAttribute converts "1-2,5" into an IPP rangeOfInteger set.
func pageRangesAttribute(ranges string) (goipp.Attribute, error) {
	attr := goipp.Attribute{Name: "page-ranges"}
	for _, part := range strings.Split(ranges, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, ok := splitRange(part)
		if !ok {
			return attr, fmt.Errorf("page range %q: %w", part, apperr.ErrInvalidArgument)
		}
		attr.Values.Add(goipp.TagRange, goipp.Range{Lower: lo, Upper: hi})
	}
	if len(attr.Values) == 0 {
		return attr, fmt.Errorf("empty page ranges: %w", apperr.ErrInvalidArgument)
	}
	return attr, nil
}

func splitRange(part string) (int, int, bool) {
	if lo, hi, found := strings.Cut(part, "-"); found {
		a, err1 := strconv.Atoi(lo)
		b, err2 := strconv.Atoi(hi)
		if err1 != nil || err2 != nil || a < 1 || b < a {
			return 0, 0, false
		}
		return a, b, true
	}
	a, err := strconv.Atoi(part)
	if err != nil || a < 1 {
		return 0, 0, false
	}
	return a, a, true
}

// JobAttributes queries the current state of a job.
func (c *Client) JobAttributes(ctx context.Context, jobID int) (*JobAttributes, error) {
	msg := c.newRequest(goipp.OpGetJobAttributes)
	msg.Operation.Add(goipp.MakeAttribute("printer-uri", goipp.TagURI, goipp.String(fmt.Sprintf("ipp://%s/", c.cupsServer))))
	msg.Operation.Add(goipp.MakeAttribute("job-id", goipp.TagInteger, goipp.Integer(jobID)))
	requested := goipp.Attribute{Name: "requested-attributes"}
	for _, k := range []string{
		"job-state", "job-state-reasons", "job-state-message",
		"job-printer-state-reasons", "job-printer-state-message",
	} {
		requested.Values.Add(goipp.TagKeyword, goipp.String(k))
	}
	msg.Operation.Add(requested)

	resp, err := c.roundTrip(ctx, msg, nil)
	if err != nil {
		return nil, err
	}
	if status := goipp.Status(resp.Code); status >= 0x0400 {
		if status == goipp.StatusErrorNotFound {
			return nil, fmt.Errorf("job %d: %w", jobID, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("get-job-attributes failed: %s: %w", status, apperr.ErrBackend)
	}

	attrs := &JobAttributes{}
	groups := []goipp.Attributes{resp.Job, resp.Operation, resp.Printer}
	for _, group := range groups {
		for _, a := range group {
			switch a.Name {
			case "job-state":
				if v, ok := intValue(a); ok {
					attrs.JobState = JobState(v)
				}
			case "job-state-reasons":
				for _, v := range a.Values {
					attrs.JobStateReasons = append(attrs.JobStateReasons, v.V.String())
				}
			case "job-state-message":
				attrs.JobStateMessage = firstString(a)
			case "job-printer-state-reasons", "printer-state-reasons":
				for _, v := range a.Values {
					attrs.PrinterStateReasons = append(attrs.PrinterStateReasons, ParsePrinterStateReason(v.V.String()))
				}
			case "job-printer-state-message", "printer-state-message":
				attrs.PrinterStateMessage = firstString(a)
			}
		}
	}
	if attrs.JobState == StateUnknown {
		return nil, fmt.Errorf("job %d: response has no job-state: %w", jobID, apperr.ErrBackend)
	}
	return attrs, nil
}

// Cancel issues Cancel-Job. Jobs already terminal (or unknown to the server)
// count as cancelled.
func (c *Client) Cancel(ctx context.Context, jobID int) error {
	msg := c.newRequest(goipp.OpCancelJob)
	msg.Operation.Add(goipp.MakeAttribute("printer-uri", goipp.TagURI, goipp.String(fmt.Sprintf("ipp://%s/", c.cupsServer))))
	msg.Operation.Add(goipp.MakeAttribute("job-id", goipp.TagInteger, goipp.Integer(jobID)))

	resp, err := c.roundTrip(ctx, msg, nil)
	if err != nil {
		return err
	}
	status := goipp.Status(resp.Code)
	switch status {
	case goipp.StatusOk:
		return nil
	case goipp.StatusErrorNotFound, goipp.StatusErrorNotPossible:
		// Already gone or already terminal; cancel is idempotent.
		return nil
	default:
		if status >= 0x0400 {
			return fmt.Errorf("cancel-job failed: %s: %w", status, apperr.ErrBackend)
		}
		return nil
	}
}

func findInt(attrs goipp.Attributes, name string) (int, bool) {
	for _, a := range attrs {
		if a.Name == name {
			return intValue(a)
		}
	}
	return 0, false
}

func intValue(a goipp.Attribute) (int, bool) {
	if len(a.Values) == 0 {
		return 0, false
	}
	if v, ok := a.Values[0].V.(goipp.Integer); ok {
		return int(v), true
	}
	return 0, false
}

func firstString(a goipp.Attribute) string {
	if len(a.Values) == 0 {
		return ""
	}
	return a.Values[0].V.String()
}
