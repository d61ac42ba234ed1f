// Package utils holds small text helpers shared by notification formatting
// and request logging.
package utils

import (
	"strings"
	"unicode/utf8"
)

// TruncateText flattens text to one line and cuts it to at most maxLen
// runes, adding "..." if truncated.
func TruncateText(text string, maxLen int) string {
	text = strings.ReplaceAll(text, "\r\n", " ")
	text = strings.ReplaceAll(text, "\n", " ")
	text = strings.TrimSpace(text)

	if utf8.RuneCountInString(text) <= maxLen {
		return text
	}
	if maxLen <= 3 {
		return "..."
	}
	runes := []rune(text)
	return string(runes[:maxLen-3]) + "..."
}

// EscapeForLogging makes untrusted input safe for a single log line.
// Control characters are escaped and the result is capped at maxLen runes.
func EscapeForLogging(text string, maxLen int) string {
	truncated := false
	if utf8.RuneCountInString(text) > maxLen {
		text = string([]rune(text)[:maxLen])
		truncated = true
	}

	var sb strings.Builder
	for _, r := range text {
		switch r {
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			if r < 0x20 || r == 0x7f {
				continue
			}
			sb.WriteRune(r)
		}
	}
	if truncated {
		sb.WriteString("...")
	}
	return sb.String()
}
