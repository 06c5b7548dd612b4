package esclclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/one-zero-eight/printers/apperr"
	"github.com/one-zero-eight/printers/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	return logger.New(logger.ERROR, t.TempDir(), 16)
}

// fakeScanner is a minimal eSCL device.
type fakeScanner struct {
	busy     bool
	jobID    string
	settings string
	deletes  int
	docs     [][]byte
	next     int
}

func (f *fakeScanner) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/eSCL/ScanJobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if f.busy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		body, _ := io.ReadAll(r.Body)
		f.settings = string(body)
		w.Header().Set("Location", "http://device/eSCL/ScanJobs/"+f.jobID)
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/eSCL/ScanJobs/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodDelete:
			f.deletes++
			w.WriteHeader(http.StatusOK)
		case strings.HasSuffix(r.URL.Path, "/NextDocument"):
			if f.next >= len(f.docs) {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write(f.docs[f.next])
			f.next++
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	return mux
}

func newFakeClient(t *testing.T, f *fakeScanner) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/eSCL", testLogger(t))
}

func TestStartParsesJobID(t *testing.T) {
	f := &fakeScanner{jobID: "job-17"}
	c := newFakeClient(t, f)

	jobID, err := c.Start(context.Background(), Options{Quality: 300, InputSource: "Platen"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if jobID != "job-17" {
		t.Fatalf("jobID = %q, want job-17", jobID)
	}
	if !strings.Contains(f.settings, "<scan:InputSource>Platen</scan:InputSource>") {
		t.Fatalf("intent missing input source: %s", f.settings)
	}
	if !strings.Contains(f.settings, "<pwg:DocumentFormat>application/pdf</pwg:DocumentFormat>") {
		t.Fatalf("intent missing document format: %s", f.settings)
	}
}

func TestStartBusy(t *testing.T) {
	c := newFakeClient(t, &fakeScanner{busy: true})
	_, err := c.Start(context.Background(), Options{Quality: 300, InputSource: "Platen"})
	if !apperr.Is(err, apperr.ErrBusy) {
		t.Fatalf("busy device: got %v, want busy", err)
	}
}

func TestStartValidatesOptions(t *testing.T) {
	c := newFakeClient(t, &fakeScanner{jobID: "j"})
	if _, err := c.Start(context.Background(), Options{Quality: 150, InputSource: "Platen"}); !apperr.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("bad quality: got %v, want invalid argument", err)
	}
	if _, err := c.Start(context.Background(), Options{Quality: 300, InputSource: "Tray"}); !apperr.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("bad source: got %v, want invalid argument", err)
	}
}

func TestDuplexOnlyWithFeeder(t *testing.T) {
	f := &fakeScanner{jobID: "j"}
	c := newFakeClient(t, f)
	if _, err := c.Start(context.Background(), Options{Quality: 300, InputSource: "Platen", Duplex: true}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !strings.Contains(f.settings, "<scan:Duplex>false</scan:Duplex>") {
		t.Fatalf("duplex should be suppressed on the glass: %s", f.settings)
	}
	if _, err := c.Start(context.Background(), Options{Quality: 300, InputSource: "Adf", Duplex: true}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !strings.Contains(f.settings, "<scan:Duplex>true</scan:Duplex>") {
		t.Fatalf("duplex should be honored on the feeder: %s", f.settings)
	}
}

func TestCropRequestsJPEG(t *testing.T) {
	f := &fakeScanner{jobID: "j"}
	c := newFakeClient(t, f)
	if _, err := c.Start(context.Background(), Options{Quality: 300, InputSource: "Platen", Crop: true}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !strings.Contains(f.settings, "<pwg:DocumentFormat>image/jpeg</pwg:DocumentFormat>") {
		t.Fatalf("crop mode should request jpeg: %s", f.settings)
	}
}

func TestNextDocumentAndExhaustion(t *testing.T) {
	f := &fakeScanner{jobID: "j", docs: [][]byte{[]byte("doc-one")}}
	c := newFakeClient(t, f)

	data, err := c.NextDocument(context.Background(), "j")
	if err != nil {
		t.Fatalf("NextDocument: %v", err)
	}
	if string(data) != "doc-one" {
		t.Fatalf("document = %q", data)
	}
	if _, err := c.NextDocument(context.Background(), "j"); !apperr.Is(err, apperr.ErrNotFound) {
		t.Fatalf("exhausted job: got %v, want not found", err)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	f := &fakeScanner{jobID: "j"}
	c := newFakeClient(t, f)
	if err := c.Delete(context.Background(), "j"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := c.Delete(context.Background(), "already-gone"); err != nil {
		t.Fatalf("Delete of missing job: %v", err)
	}
}
