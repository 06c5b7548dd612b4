package printing

import (
	"testing"

	"github.com/one-zero-eight/printers/apperr"
	"github.com/one-zero-eight/printers/ippclient"
)

func TestPapersToPrint(t *testing.T) {
	cases := []struct {
		name   string
		pages  int
		ranges string
		nup    int
		sides  string
		copies int
		want   int
	}{
		{"all pages one-sided", 10, "", 1, "one-sided", 1, 10},
		{"range one-sided", 10, "1-4", 1, "one-sided", 1, 4},
		{"range two-sided", 10, "1-4", 1, "two-sided-long-edge", 1, 2},
		{"range with layout", 10, "1-4", 4, "one-sided", 1, 1},
		{"range clamped by layout", 10, "1-8", 4, "one-sided", 1, 2},
		{"range past first sheet", 10, "7-10", 4, "one-sided", 1, 2},
		{"single page maps into layout", 10, "5", 4, "one-sided", 1, 1},
		{"two-up range", 10, "3-6", 2, "one-sided", 1, 2},
		{"copies multiply", 10, "1-4", 1, "one-sided", 2, 8},
		{"layout duplex copies", 10, "1-8", 4, "two-sided-long-edge", 2, 2},
		{"inverted range selects nothing", 10, "5-2", 1, "one-sided", 1, 0},
		{"single page out of bounds", 10, "15", 1, "one-sided", 1, 0},
		{"mixed parts", 10, "1,3,5-7", 1, "one-sided", 1, 5},
		{"zero pages", 0, "", 1, "one-sided", 1, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := PapersToPrint(tc.pages, ippclient.Options{
				Copies:     tc.copies,
				PageRanges: tc.ranges,
				Sides:      tc.sides,
				NumberUp:   tc.nup,
			})
			if err != nil {
				t.Fatalf("PapersToPrint: %v", err)
			}
			if got != tc.want {
				t.Fatalf("PapersToPrint = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestPapersToPrintInvalid(t *testing.T) {
	if _, err := PapersToPrint(-1, ippclient.Options{NumberUp: 1}); !apperr.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("negative pages: got %v, want invalid argument", err)
	}
	if _, err := PapersToPrint(10, ippclient.Options{NumberUp: -2}); !apperr.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("negative number-up: got %v, want invalid argument", err)
	}
	if _, err := PapersToPrint(10, ippclient.Options{NumberUp: 1, PageRanges: "1-2-3"}); !apperr.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("double-dash range: got %v, want invalid argument", err)
	}
}
