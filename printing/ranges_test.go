package printing

import (
	"testing"

	"github.com/one-zero-eight/printers/apperr"
)

func TestNormalizePageRanges(t *testing.T) {
	cases := []struct {
		in          string
		want        string
		wantChanged bool
	}{
		{"1-5", "1-5", false},
		{"1-5,8", "1-5,8", false},
		{"1 - 5", "1-5", true},
		{"1--5", "1-5", true},
		{"5-1", "1-5", true},
		{"-3-", "3", true},
		{"1,,3", "1,3", true},
		{"p. 2-4", "2-4", true},
		{"3-3", "3", true},
	}
	for _, tc := range cases {
		got, changed, err := NormalizePageRanges(tc.in)
		if err != nil {
			t.Fatalf("NormalizePageRanges(%q): %v", tc.in, err)
		}
		if got != tc.want || changed != tc.wantChanged {
			t.Fatalf("NormalizePageRanges(%q) = (%q, %v), want (%q, %v)",
				tc.in, got, changed, tc.want, tc.wantChanged)
		}
	}
}

func TestNormalizePageRangesIdempotent(t *testing.T) {
	inputs := []string{"1-5", "1 - 5", "5-1,8", "1,,3", "p. 2-4, 7"}
	for _, in := range inputs {
		once, _, err := NormalizePageRanges(in)
		if err != nil {
			t.Fatalf("first pass %q: %v", in, err)
		}
		twice, changed, err := NormalizePageRanges(once)
		if err != nil {
			t.Fatalf("second pass %q: %v", once, err)
		}
		if changed || twice != once {
			t.Fatalf("normalization not idempotent: %q -> %q -> %q", in, once, twice)
		}
	}
}

func TestNormalizePageRangesInvalid(t *testing.T) {
	for _, in := range []string{"", "abc", ",,,", "---"} {
		if _, _, err := NormalizePageRanges(in); !apperr.Is(err, apperr.ErrInvalidArgument) {
			t.Fatalf("NormalizePageRanges(%q): got %v, want invalid argument", in, err)
		}
	}
}
