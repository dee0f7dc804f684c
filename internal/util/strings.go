// Package util provides shared string helpers for terminal output and pane
// input.
package util

import (
	"strings"
	"unicode"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// TruncateANSI truncates a string to maxWidth visual columns, adding "..." if truncated.
// This function properly handles ANSI escape codes and wide characters, making it
// suitable for terminal output with styling.
func TruncateANSI(s string, maxWidth int) string {
	if maxWidth <= 3 {
		return "..."
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	// ansi.Truncate includes the tail in the final width calculation
	return ansi.Truncate(s, maxWidth, "...")
}

// SanitizeLiteral prepares text to be typed into a terminal as literal
// input. Escape sequences are stripped, line breaks and tabs become single
// spaces, and remaining control characters are dropped, so the text can
// never submit itself or drive the terminal.
func SanitizeLiteral(s string) string {
	s = ansi.Strip(s)
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			if !space {
				b.WriteByte(' ')
				space = true
			}
		case unicode.IsControl(r):
		default:
			b.WriteRune(r)
			space = r == ' '
		}
	}
	return strings.TrimSpace(b.String())
}
