package strings

import (
	"strings"
)

// Ellipsis marks truncated text.
const Ellipsis = "..."

// MinTruncateLen is the smallest useful limit: one rune plus Ellipsis.
const MinTruncateLen = len(Ellipsis) + 1

// SingleLine collapses every run of whitespace, newlines included, into one
// space and trims the ends.
func SingleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Truncate shortens s to at most maxLen runes, ending in Ellipsis when cut.
// It never splits a multi-byte character. maxLen below MinTruncateLen is
// raised to MinTruncateLen.
func Truncate(s string, maxLen int) string {
	if maxLen < MinTruncateLen {
		maxLen = MinTruncateLen
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-len(Ellipsis)]) + Ellipsis
}

// TruncateLine is SingleLine followed by Truncate, for messages that end up
// in one log line or one error string.
func TruncateLine(s string, maxLen int) string {
	return Truncate(SingleLine(s), maxLen)
}
