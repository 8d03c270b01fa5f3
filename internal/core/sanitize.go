package core

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// strictPolicy removes every HTML tag and attribute.
var strictPolicy = bluemonday.StrictPolicy()

// SanitizeText strips markup and unprintable runes from a ledger text cell.
// Entities escaped by the policy are decoded again so "A&B" survives as typed.
func SanitizeText(s string) string {
	if s == "" {
		return s
	}
	s = html.UnescapeString(strictPolicy.Sanitize(s))
	return strings.TrimSpace(StripUnprintable(s))
}

// StripUnprintable removes non-printable runes, including U+FFFD left by
// UTF-8 replacement.
func StripUnprintable(s string) string {
	return strings.Map(func(r rune) rune {
		if r == unicode.ReplacementChar || !unicode.IsPrint(r) {
			return -1
		}
		return r
	}, s)
}

// CleanCell removes common spreadsheet export artifacts from a cell value:
// surrounding whitespace, an Excel formula wrapper (="...") and one pair of
// wrapping quotes.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`) && len(s) >= 3 {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}
	if n := len(s); n >= 2 && (s[0] == '"' || s[0] == '\'') && s[n-1] == s[0] {
		s = s[1 : n-1]
	}
	return strings.TrimSpace(s)
}
