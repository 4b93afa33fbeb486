// Package textsim provides the normalized string-similarity ratio used by the
// deduplicator and snippet aligner.
package textsim

import "github.com/agnivade/levenshtein"

// Ratio returns a similarity score in [0,1] for two strings: 1 minus the
// edit distance normalized by the longer length. Two empty strings are
// identical (1.0); one empty string matches nothing (0.0).
func Ratio(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}
	la, lb := len([]rune(a)), len([]rune(b))
	max := la
	if lb > max {
		max = lb
	}
	dist := levenshtein.ComputeDistance(a, b)
	if dist > max {
		dist = max
	}
	return 1.0 - float64(dist)/float64(max)
}
