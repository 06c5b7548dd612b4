package printing

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/one-zero-eight/printers/apperr"
)

// NormalizePageRanges cleans up a user-typed page range expression.
// It strips stray characters, collapses dash runs and reorders inverted
// ranges. When the result differs from the input it is a suggestion the
// caller should confirm with the user before applying; normalization is
// idempotent, so confirming the suggestion re-normalizes to itself.
func NormalizePageRanges(input string) (normalized string, changed bool, err error) {
	var parts []string
	for _, raw := range strings.Split(input, ",") {
		part, err := normalizeRangePart(raw)
		if err != nil {
			return "", false, err
		}
		if part == "" {
			continue
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return "", false, fmt.Errorf("page ranges %q: %w", input, apperr.ErrInvalidArgument)
	}
	normalized = strings.Join(parts, ",")
	return normalized, normalized != input, nil
}

func normalizeRangePart(raw string) (string, error) {
	// Keep only digits and dashes, collapsing dash runs.
	var b strings.Builder
	prevDash := false
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			prevDash = false
		case r == '-':
			if !prevDash {
				b.WriteByte('-')
			}
			prevDash = true
		}
	}
	part := strings.Trim(b.String(), "-")
	if part == "" {
		return "", nil
	}

	first, second, isRange := strings.Cut(part, "-")
	if !isRange {
		return first, nil
	}
	if strings.Contains(second, "-") {
		return "", fmt.Errorf("page range %q: %w", raw, apperr.ErrInvalidArgument)
	}
	a, err1 := strconv.Atoi(first)
	bVal, err2 := strconv.Atoi(second)
	if err1 != nil || err2 != nil {
		return "", fmt.Errorf("page range %q: %w", raw, apperr.ErrInvalidArgument)
	}
	if a > bVal {
		a, bVal = bVal, a
	}
	if a == bVal {
		return strconv.Itoa(a), nil
	}
	return fmt.Sprintf("%d-%d", a, bVal), nil
}
