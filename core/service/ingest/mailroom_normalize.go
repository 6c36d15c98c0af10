package ingest

import (
	"regexp"
	"strings"
)

var subjectPrefixRE = regexp.MustCompile(`(?i)^\s*(re|fw|fwd)\s*:\s*`)

// NormalizeSubject strips reply/forward prefixes repeatedly and trims
// whitespace. Returns "" for an absent or empty subject.
func NormalizeSubject(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		next := subjectPrefixRE.ReplaceAllString(s, "")
		if next == s {
			break
		}
		s = strings.TrimSpace(next)
	}
	return s
}
