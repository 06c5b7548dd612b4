// Package esclclient implements the scan backend port over eSCL. A scan is
// a three-phase protocol: POST a scan intent to /ScanJobs, GET the next
// document from the job's NextDocument URL, then DELETE the job.
//
// Devices ship self-signed certificates, so TLS verification is disabled
// here and nowhere else. The permissive transport never leaves this package.
package esclclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/one-zero-eight/printers/apperr"
	"github.com/one-zero-eight/printers/logger"
)

// Options selects how a page is acquired.
type Options struct {
	// Duplex scans both sides. Honored only when InputSource is "Adf".
	Duplex bool `json:"duplex"`
	// Quality is the resolution in DPI: 200, 300, 400 or 600.
	Quality int `json:"quality"`
	// InputSource is "Platen" (glass) or "Adf" (feeder).
	InputSource string `json:"input_source"`
	// Crop requests the auto-crop pipeline; the intent then asks for JPEG
	// pages instead of a device-assembled PDF.
	Crop bool `json:"crop"`
}

// Validate reports the first invalid field.
func (o Options) Validate() error {
	switch o.Quality {
	case 200, 300, 400, 600:
	default:
		return fmt.Errorf("quality %d dpi: %w", o.Quality, apperr.ErrInvalidArgument)
	}
	switch o.InputSource {
	case "Platen", "Adf":
	default:
		return fmt.Errorf("input source %q: %w", o.InputSource, apperr.ErrInvalidArgument)
	}
	return nil
}

// DocumentFormat is the MIME type the intent requests from the device.
func (o Options) DocumentFormat() string {
	if o.Crop {
		return "image/jpeg"
	}
	return "application/pdf"
}

// scanSettingsTemplate is the eSCL scan intent. Region is A4 at 1/300 inch
// units; EdgeAutoDetection lets the device trim feeder pages.
const scanSettingsTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<scan:ScanSettings xmlns:pwg="http://www.pwg.org/schemas/2010/12/sm"
                   xmlns:scan="http://schemas.hp.com/imaging/escl/2011/05/03">
    <pwg:Version>2.63</pwg:Version>
    <pwg:ScanRegions>
        <pwg:ScanRegion>
            <pwg:Height>4205</pwg:Height>
            <pwg:Width>2551</pwg:Width>
            <pwg:XOffset>0</pwg:XOffset>
            <pwg:YOffset>0</pwg:YOffset>
        </pwg:ScanRegion>
    </pwg:ScanRegions>
    <scan:InputSource>%s</scan:InputSource>
    <scan:Duplex>%t</scan:Duplex>
    <scan:AdfOption>Duplex</scan:AdfOption>
    <scan:EdgeAutoDetection>true</scan:EdgeAutoDetection>
    <scan:ColorMode>RGB24</scan:ColorMode>
    <scan:XResolution>%d</scan:XResolution>
    <scan:YResolution>%d</scan:YResolution>
    <pwg:DocumentFormat>%s</pwg:DocumentFormat>
</scan:ScanSettings>
`

// Backend is the scan backend port consumed by the orchestrator.
type Backend interface {
	Start(ctx context.Context, opts Options) (string, error)
	NextDocument(ctx context.Context, jobID string) ([]byte, error)
	Delete(ctx context.Context, jobID string) error
	Capabilities(ctx context.Context) ([]byte, error)
	Status(ctx context.Context) ([]byte, error)
}

// Client drives one scanner through its eSCL base URL.
type Client struct {
	baseURL string
	// short handles control requests; fetch waits for paper.
	short *http.Client
	fetch *http.Client
	log   *logger.Logger
}

// NewClient returns a client for the scanner at baseURL (".../eSCL").
func NewClient(baseURL string, log *logger.Logger) *Client {
	tr := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, // self-signed device certs
	}
	trFetch := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		short:   &http.Client{Transport: tr, Timeout: 10 * time.Second},
		fetch:   &http.Client{Transport: trFetch, Timeout: 5 * time.Minute},
		log:     log,
	}
}

// Start posts the scan intent. A 503 from the device maps to ErrBusy; on
// success the job id is the tail of the Location header after "/ScanJobs/".
func (c *Client) Start(ctx context.Context, opts Options) (string, error) {
	if err := opts.Validate(); err != nil {
		return "", err
	}
	duplex := opts.Duplex && opts.InputSource == "Adf"
	body := fmt.Sprintf(scanSettingsTemplate,
		opts.InputSource, duplex, opts.Quality, opts.Quality, opts.DocumentFormat())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ScanJobs", strings.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrBackend, err)
	}
	req.Header.Set("Content-Type", "application/xml")

	resp, err := c.short.Do(req)
	if err != nil {
		return "", fmt.Errorf("scanner transport: %w: %v", apperr.ErrBackend, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return "", fmt.Errorf("scanner: %w", apperr.ErrBusy)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("scanner status %d: %w", resp.StatusCode, apperr.ErrBackend)
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return "", fmt.Errorf("scanner returned no job location: %w", apperr.ErrBackend)
	}
	_, jobID, found := strings.Cut(location, "/ScanJobs/")
	if !found || jobID == "" {
		return "", fmt.Errorf("unexpected job location %q: %w", location, apperr.ErrBackend)
	}
	jobID = strings.Trim(jobID, "/")
	c.log.Info("Scan started", "escl", c.baseURL, "job_id", jobID)
	return jobID, nil
}

// NextDocument blocks until the device delivers one document for the job.
// A 404 means no further documents are (yet) available.
func (c *Client) NextDocument(ctx context.Context, jobID string) ([]byte, error) {
	url := fmt.Sprintf("%s/ScanJobs/%s/NextDocument", c.baseURL, jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrBackend, err)
	}
	resp, err := c.fetch.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetch document: %w", apperr.ErrCancelled)
		}
		return nil, fmt.Errorf("fetch document: %w: %v", apperr.ErrBackend, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("job %s has no more documents: %w", jobID, apperr.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scanner status %d: %w", resp.StatusCode, apperr.ErrBackend)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read document: %w: %v", apperr.ErrBackend, err)
	}
	return data, nil
}

// Delete removes the scan job from the device so nobody else can fetch the
// document. Deleting an already-gone job succeeds.
func (c *Client) Delete(ctx context.Context, jobID string) error {
	url := fmt.Sprintf("%s/ScanJobs/%s", c.baseURL, jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrBackend, err)
	}
	resp, err := c.short.Do(req)
	if err != nil {
		return fmt.Errorf("delete scan job: %w: %v", apperr.ErrBackend, err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound || (resp.StatusCode >= 200 && resp.StatusCode <= 299) {
		return nil
	}
	return fmt.Errorf("scanner status %d: %w", resp.StatusCode, apperr.ErrBackend)
}

// Capabilities fetches the ScannerCapabilities XML, for diagnostics.
func (c *Client) Capabilities(ctx context.Context) ([]byte, error) {
	return c.getXML(ctx, "/ScannerCapabilities")
}

// Status fetches the ScannerStatus XML, for diagnostics.
func (c *Client) Status(ctx context.Context) ([]byte, error) {
	return c.getXML(ctx, "/ScannerStatus")
}

func (c *Client) getXML(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrBackend, err)
	}
	resp, err := c.short.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrBackend, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scanner status %d: %w", resp.StatusCode, apperr.ErrBackend)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrBackend, err)
	}
	return data, nil
}
