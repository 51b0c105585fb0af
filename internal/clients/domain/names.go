package domain

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// FoldName normalizes a person name for comparison: NFC, Unicode case
// folding, collapsed whitespace and ё treated as е.
func FoldName(name string) string {
	s := norm.NFC.String(strings.TrimSpace(name))
	if s == "" {
		return ""
	}
	s = folder.String(s)
	s = strings.ReplaceAll(s, "ё", "е")
	return strings.Join(strings.Fields(s), " ")
}

// NamesMatch reports whether a stored first/last name matches the incoming
// one. A stored client without a last name matches on first name alone.
func NamesMatch(storedFirst, storedLast, first, last string) bool {
	sf := FoldName(storedFirst)
	if sf == "" || sf != FoldName(first) {
		return false
	}
	sl := FoldName(storedLast)
	if sl == "" {
		return true
	}
	return sl == FoldName(last)
}
