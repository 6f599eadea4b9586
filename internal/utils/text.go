// Package utils holds small text helpers shared by the transports.
package utils

import (
	"strings"
	"unicode/utf8"
)

// Truncate cuts text to at most maxLen runes, adding "..." when it was cut.
// It never splits a multi-byte character.
func Truncate(text string, maxLen int) string {
	if maxLen < 0 {
		maxLen = 0
	}
	if utf8.RuneCountInString(text) <= maxLen {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxLen]) + "..."
}

// EscapeForLogging truncates text and escapes line breaks so an untrusted
// payload stays on one log line.
func EscapeForLogging(text string, maxLen int) string {
	text = Truncate(text, maxLen)
	return strings.NewReplacer("\n", `\n`, "\r", `\r`, "\t", `\t`).Replace(text)
}
