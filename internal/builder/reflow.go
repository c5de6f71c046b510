package builder

import (
	"regexp"
	"strings"
)

var (
	includeRe = regexp.MustCompile(`(#include\s*<\w+\.h>)\s*`)
	mainRe    = regexp.MustCompile(`(int\s+main\s*\(\s*(?:void)?\s*\)\s*\{)`)
	braceRe   = regexp.MustCompile(`([{}])`)
	semiRe    = regexp.MustCompile(`;\s*`)
)

// Reflow re-inserts line breaks into source that arrived as a single chat
// line. Chat clients commonly collapse pasted programs onto one line; the
// compiler accepts the result either way, but the report reads far better
// with includes, braces, and statements on their own lines. Multi-line
// submissions pass through untouched.
func Reflow(source string) string {
	if strings.Contains(source, "\n") {
		return source
	}

	formatted := includeRe.ReplaceAllString(source, "$1\n")
	formatted = mainRe.ReplaceAllString(formatted, "\n$1")
	formatted = braceRe.ReplaceAllString(formatted, "$1\n")
	formatted = semiRe.ReplaceAllString(formatted, ";\n")

	var lines []string
	for _, line := range strings.Split(formatted, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return strings.Join(lines, "\n")
}
