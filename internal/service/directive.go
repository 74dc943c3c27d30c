package service

import (
	"regexp"
	"strings"
)

// learnDirective matches inline [LEARN:...] tags in model output.
var learnDirective = regexp.MustCompile(`(?i)\[LEARN:([^\]]+)\]`)

// ExtractDirectives removes every learn tag from response and returns the
// cleaned visible text together with the trimmed, non-blank tag contents in
// order of appearance.
func ExtractDirectives(response string) (string, []string) {
	var facts []string
	for _, m := range learnDirective.FindAllStringSubmatch(response, -1) {
		if fact := strings.TrimSpace(m[1]); fact != "" {
			facts = append(facts, fact)
		}
	}

	cleaned := learnDirective.ReplaceAllString(response, "")
	return collapseWhitespace(strings.TrimSpace(cleaned)), facts
}
