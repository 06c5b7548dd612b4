package printing

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/one-zero-eight/printers/apperr"
	"github.com/one-zero-eight/printers/ippclient"
)

// PapersToPrint computes the number of physical sheets a job will consume.
// Layout (number-up) applies to the whole document before page selection,
// so ranges are interpreted against the laid-out page count.
func PapersToPrint(pages int, opts ippclient.Options) (int, error) {
	if pages < 0 {
		return 0, fmt.Errorf("negative page count %d: %w", pages, apperr.ErrInvalidArgument)
	}
	numberUp := opts.NumberUp
	if numberUp == 0 {
		numberUp = 1
	}
	if numberUp < 0 {
		return 0, fmt.Errorf("number-up %d: %w", numberUp, apperr.ErrInvalidArgument)
	}
	copies := opts.Copies
	if copies <= 0 {
		copies = 1
	}

	afterLayout := ceilDiv(pages, numberUp)

	selected := afterLayout
	if opts.PageRanges != "" {
		var err error
		selected, err = countSelectedPages(afterLayout, numberUp, opts.PageRanges)
		if err != nil {
			return 0, err
		}
	}

	perSheet := 2
	if opts.Sides == "" || opts.Sides == "one-sided" {
		perSheet = 1
	}
	sheets := (selected + perSheet - 1) / perSheet
	return sheets * copies, nil
}

// countSelectedPages counts the laid-out pages a range expression selects.
// Ranges are written against original page numbers, so each endpoint is
// first mapped into laid-out space (original page n lands on laid-out page
// ceil(n / numberUp)), then clamped to [1, total]. An inverted range
// contributes nothing.
func countSelectedPages(total, numberUp int, ranges string) (int, error) {
	selected := 0
	for _, part := range strings.Split(ranges, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		a, b, err := parseRangePart(part)
		if err != nil {
			return 0, err
		}
		a = ceilDiv(a, numberUp)
		b = ceilDiv(b, numberUp)
		if a < 1 {
			a = 1
		}
		if b > total {
			b = total
		}
		if a > b {
			continue
		}
		selected += b - a + 1
	}
	return selected, nil
}

func ceilDiv(x, n int) int {
	return (x + n - 1) / n
}

// parseRangePart parses "a" or "a-b".
func parseRangePart(part string) (int, int, error) {
	first, second, isRange := strings.Cut(part, "-")
	a, err := strconv.Atoi(first)
	if err != nil {
		return 0, 0, fmt.Errorf("page range %q: %w", part, apperr.ErrInvalidArgument)
	}
	if !isRange {
		return a, a, nil
	}
	b, err := strconv.Atoi(second)
	if err != nil {
		return 0, 0, fmt.Errorf("page range %q: %w", part, apperr.ErrInvalidArgument)
	}
	return a, b, nil
}
