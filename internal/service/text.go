package service

import (
	"regexp"
	"strings"
)

var whitespaceRun = regexp.MustCompile(`\s{2,}`)

// truncate shortens s to at most max runes, marking the cut with "...".
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

// collapseWhitespace replaces every run of two or more whitespace characters with one space.
func collapseWhitespace(s string) string {
	return whitespaceRun.ReplaceAllString(s, " ")
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
