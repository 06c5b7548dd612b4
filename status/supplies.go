package status

import (
	"regexp"
	"strings"
)

// partNumberPattern matches vendor part numbers whose final letter encodes
// the color, e.g. Kyocera TK-8517K or HP CE400A-style codes.
var partNumberPattern = regexp.MustCompile(`(?i)^(tk|tn|ce|cf|cb|cc)[- ]?\d{3,5}([kcmy])$`)

// monoTonerPattern matches monochrome toner part numbers without a color
// suffix (TK-3182, TN-760); these are always black.
var monoTonerPattern = regexp.MustCompile(`(?i)^(tk|tn)[- ]?\d{3,5}$`)

// isBlackToner classifies an SNMP supply description. The printers in a
// shared office fleet are overwhelmingly monochrome lasers, so only the
// black toner feeds the status view.
func isBlackToner(desc string) bool {
	clean := strings.TrimSpace(desc)
	if clean == "" {
		return false
	}
	if m := partNumberPattern.FindStringSubmatch(clean); m != nil {
		return strings.EqualFold(m[2], "k")
	}
	if monoTonerPattern.MatchString(clean) {
		return true
	}

	lower := strings.ToLower(clean)
	lower = strings.NewReplacer("_", " ", "-", " ", "\t", " ").Replace(lower)

	isToner := containsAny(lower, []string{"toner", "cartridge", "ink"})
	isDrum := containsAny(lower, []string{"drum", "imaging", "opc", "photoconductor"})
	if isDrum && !isToner {
		return false
	}
	if !isToner {
		return false
	}
	if containsAny(lower, []string{"cyan", "magenta", "yellow"}) {
		return false
	}
	return containsAny(lower, []string{"black", "blk", " bk", "bk "}) || isToner && !containsAny(lower, []string{"color", "colour"})
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
