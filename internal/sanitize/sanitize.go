// Package sanitize cleans free text and identifiers that arrive from outside
// the ledger (fixture files and MCP tool calls) before they are stored or
// used as lookup keys.
package sanitize

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxIDLength is the maximum allowed length for record identifiers.
const MaxIDLength = 128

var (
	// reRepeatedHyphens matches 2 or more consecutive hyphens.
	reRepeatedHyphens = regexp.MustCompile(`-{2,}`)

	// reRepeatedUnderscores matches 2 or more consecutive underscores.
	reRepeatedUnderscores = regexp.MustCompile(`_{2,}`)
)

// Text strips null bytes and ASCII control characters from s. Line breaks
// (\n and \r) and tabs are kept, so line-ending comparisons still see the
// caller's original text.
func Text(s string) string {
	if s == "" {
		return ""
	}
	return stripControlChars(s)
}

// ID keeps only identifier-safe characters ([a-zA-Z0-9-_.:]), collapses
// repeated hyphens and underscores, and truncates to MaxIDLength.
func ID(input string) string {
	if input == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(input))
	for _, r := range strings.TrimSpace(input) {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' || r == ':' {
			b.WriteRune(r)
		}
	}
	s := b.String()

	s = reRepeatedHyphens.ReplaceAllString(s, "-")
	s = reRepeatedUnderscores.ReplaceAllString(s, "_")

	// rune-safe, though only ASCII survives the filter above
	if utf8.RuneCountInString(s) > MaxIDLength {
		s = string([]rune(s)[:MaxIDLength])
	}
	return s
}

// stripControlChars removes ASCII control characters (0x00-0x1F) and DEL (0x7F),
// except for newline, carriage return and tab.
func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r < 0x20 || r == 0x7F) && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
