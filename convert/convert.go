// Package convert defines the document-to-PDF converter port and its HTTP
// client. The conversion engine itself is an external service; this package
// only ships bytes to it and stores the PDF it returns.
package convert

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/one-zero-eight/printers/apperr"
)

// Converter turns an arbitrary input document into a PDF.
type Converter interface {
	// Convert reads inPath and writes the converted PDF to outPath.
	Convert(ctx context.Context, inPath, outPath string) error
}

// HTTPConverter posts documents to a converter endpoint and stores the PDF
// response.
type HTTPConverter struct {
	url    string
	client *http.Client
}

// NewHTTPConverter returns a converter client for the given endpoint.
// Conversion of large documents is slow, hence the generous timeout.
func NewHTTPConverter(url string) *HTTPConverter {
	return &HTTPConverter{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Minute},
	}
}

// Convert implements Converter.
func (c *HTTPConverter) Convert(ctx context.Context, inPath, outPath string) error {
	in, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrIO, err)
	}
	defer in.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(inPath))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, in); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, pr)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrBackend, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("converter request: %w: %v", apperr.ErrConversionFailed, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnsupportedMediaType, resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("converter rejected %s: %w", filepath.Base(inPath), apperr.ErrUnsupportedFormat)
	default:
		return fmt.Errorf("converter status %d: %w", resp.StatusCode, apperr.ErrConversionFailed)
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrIO, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		os.Remove(outPath)
		return fmt.Errorf("%w: %v", apperr.ErrConversionFailed, err)
	}
	return nil
}
