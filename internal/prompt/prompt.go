// Package prompt classifies child output lines as input prompts.
//
// Whether a program is blocked on a read is undecidable from its output
// alone, so detection is a heuristic with documented failure modes:
//
//   - False negative (a real prompt is missed, e.g. a prompt written without
//     a trailing newline never surfaces as a line): the session falls back to
//     the silence timeout, which treats prolonged quiet from a live child as
//     an implicit prompt.
//   - False positive (a line that merely looks like a prompt): the session
//     pauses and the user's next message is queued to the child's stdin,
//     where it may answer a later read call than intended.
//
// Both policies are swappable so tests can substitute deterministic fakes.
package prompt

import "strings"

// Detector decides whether an output line indicates the child process is
// blocked awaiting input.
type Detector interface {
	IsPrompt(line string) bool
}

// Func adapts a plain function to the Detector interface.
type Func func(line string) bool

// IsPrompt implements Detector.
func (f Func) IsPrompt(line string) bool {
	return f(line)
}

// Heuristic is the default detector: a line is prompt-like when it ends with
// one of the configured suffixes or contains one of the configured marker
// words, compared case-insensitively.
type Heuristic struct {
	suffixes []string
	markers  []string
}

// NewHeuristic creates a detector from the configured suffixes and markers.
func NewHeuristic(suffixes, markers []string) *Heuristic {
	lowered := make([]string, len(markers))
	for i, m := range markers {
		lowered[i] = strings.ToLower(m)
	}
	return &Heuristic{
		suffixes: append([]string(nil), suffixes...),
		markers:  lowered,
	}
}

// IsPrompt implements Detector.
func (h *Heuristic) IsPrompt(line string) bool {
	trimmed := strings.TrimRight(line, " \t")
	if trimmed == "" {
		return false
	}

	for _, suffix := range h.suffixes {
		if strings.HasSuffix(line, suffix) || strings.HasSuffix(trimmed, strings.TrimRight(suffix, " ")) {
			return true
		}
	}

	lowerLine := strings.ToLower(line)
	for _, marker := range h.markers {
		if strings.Contains(lowerLine, marker) {
			return true
		}
	}

	return false
}
