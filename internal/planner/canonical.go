package planner

import "strings"

// Canonicalize normalizes definition text before comparison so that
// formatting-only differences (trailing whitespace, blank-line runs, line
// endings) neither trigger spurious redeployments nor mask real changes.
// Comment text is preserved: a comment change is a real change worth
// deploying, since remote bodies are what operators read.
func Canonicalize(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			blank = true
			continue
		}
		if blank && len(out) > 0 {
			out = append(out, "")
		}
		blank = false
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// sameDefinition reports whether two definition texts are equivalent after
// canonicalization.
func sameDefinition(a, b string) bool {
	return Canonicalize(a) == Canonicalize(b)
}
