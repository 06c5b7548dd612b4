package ippclient

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// candidate paths for the tray report on device embedded web servers. The
// fleet is heterogeneous, so the first path that parses wins.
var trayReportPaths = []string{
	"/DevMgmt/MediaHandlingDyn.xml",
	"/status/tray.xml",
}

// ProbeReachable issues a lightweight HEAD against the device's IPP port.
// A 405 Method Not Allowed still proves the device is alive; only transport
// failures count as offline.
func (c *Client) ProbeReachable(ctx context.Context, ipp string) bool {
	host := ipp
	if !strings.Contains(host, ":") {
		host += ":631"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, fmt.Sprintf("http://%s/", host), nil)
	if err != nil {
		return false
	}
	resp, err := c.probe.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// trayReport mirrors the device tray XML loosely: element names vary between
// vendors, so the decoder walks the tree and matches on local names.
type trayEntry struct {
	name        string
	level       int
	maxCapacity int
}

// PaperPct fetches and parses the device tray report and returns the fill
// percentage of the primary cassette tray. Parsing failures return absent
// rather than an error; the aggregator treats the field as optional.
func (c *Client) PaperPct(ctx context.Context, ipp string) (int, bool) {
	host := ipp
	if i := strings.Index(host, ":"); i >= 0 {
		host = host[:i]
	}
	for _, path := range trayReportPaths {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s%s", host, path), nil)
		if err != nil {
			continue
		}
		resp, err := c.probe.Do(req)
		if err != nil {
			return 0, false // device unreachable, no point trying other paths
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if err != nil || resp.StatusCode != http.StatusOK {
			continue
		}
		if pct, ok := parseTrayReport(body); ok {
			return pct, true
		}
	}
	return 0, false
}

// parseTrayReport extracts (level, maxcapacity) pairs from the tray report
// and computes floor(level/maxcapacity*100) for the primary cassette: the
// first tray whose name mentions a cassette, or failing that the first tray
// at all.
func parseTrayReport(data []byte) (int, bool) {
	entries := collectTrays(data)
	if len(entries) == 0 {
		return 0, false
	}
	chosen := entries[0]
	for _, e := range entries {
		if strings.Contains(strings.ToLower(e.name), "cassette") {
			chosen = e
			break
		}
	}
	if chosen.maxCapacity <= 0 || chosen.level < 0 || chosen.level > chosen.maxCapacity {
		return 0, false
	}
	return chosen.level * 100 / chosen.maxCapacity, true
}

func collectTrays(data []byte) []trayEntry {
	dec := xml.NewDecoder(strings.NewReader(string(data)))
	dec.Strict = false

	var entries []trayEntry
	var cur *trayEntry
	var field string
	depthInTray := 0

	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			local := strings.ToLower(t.Name.Local)
			if cur == nil {
				if strings.Contains(local, "tray") || strings.Contains(local, "inputbin") || strings.Contains(local, "cassette") {
					cur = &trayEntry{name: t.Name.Local, level: -1}
					depthInTray = 0
					continue
				}
			} else {
				depthInTray++
				switch {
				case strings.Contains(local, "maxcapacity"):
					field = "max"
				case strings.Contains(local, "level") || strings.Contains(local, "remaining"):
					field = "level"
				case strings.Contains(local, "name") || strings.Contains(local, "bin"):
					field = "name"
				default:
					field = ""
				}
			}
		case xml.CharData:
			if cur == nil || field == "" {
				continue
			}
			text := strings.TrimSpace(string(t))
			if text == "" {
				continue
			}
			switch field {
			case "max":
				if n, ok := atoi(text); ok {
					cur.maxCapacity = n
				}
			case "level":
				if n, ok := atoi(text); ok {
					cur.level = n
				}
			case "name":
				cur.name = text
			}
			field = ""
		case xml.EndElement:
			if cur == nil {
				continue
			}
			if depthInTray == 0 {
				entries = append(entries, *cur)
				cur = nil
			} else {
				depthInTray--
			}
		}
	}
	return entries
}

func atoi(s string) (int, bool) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}
