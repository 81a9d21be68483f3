// Package sanitize prepares untrusted text for storage.
package sanitize

import (
	"strings"
	"unicode/utf8"
)

// Truncate replaces invalid UTF-8 sequences with U+FFFD and cuts s to at most
// limit bytes without splitting a character. A limit <= 0 only repairs s.
func Truncate(s string, limit int) string {
	s = strings.ToValidUTF8(s, "�")
	if limit <= 0 || len(s) <= limit {
		return s
	}

	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
