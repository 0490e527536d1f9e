package shared

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeName trims, collapses inner whitespace and applies Unicode NFC so
// visually identical names compare equal.
func NormalizeName(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}
