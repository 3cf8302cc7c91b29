package ui

import (
	"sort"
	"strings"
)

// DefaultMaxDistance is the largest edit distance still offered as a
// suggestion
const DefaultMaxDistance = 3

// DefaultMaxSuggestions caps the number of suggestions
const DefaultMaxSuggestions = 3

// FindSimilar returns up to DefaultMaxSuggestions candidates within
// DefaultMaxDistance edits of target, closest first. Matching ignores case.
//
// Example:
//
//	FindSimilar("Pst", []string{"Post", "User", "Comment"})
//	// Returns: ["Post"]
func FindSimilar(target string, candidates []string) []string {
	type match struct {
		value    string
		distance int
	}

	var matches []match
	lower := strings.ToLower(target)
	for _, candidate := range candidates {
		d := LevenshteinDistance(lower, strings.ToLower(candidate))
		if d <= DefaultMaxDistance {
			matches = append(matches, match{candidate, d})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].distance < matches[j].distance
	})

	out := make([]string, 0, DefaultMaxSuggestions)
	for i := 0; i < len(matches) && i < DefaultMaxSuggestions; i++ {
		out = append(out, matches[i].value)
	}
	return out
}

// LevenshteinDistance is the minimum number of single rune insertions,
// deletions or substitutions turning a into b
func LevenshteinDistance(a, b string) int {
	s, t := []rune(a), []rune(b)
	prev := make([]int, len(t)+1)
	curr := make([]int, len(t)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(s); i++ {
		curr[0] = i
		for j := 1; j <= len(t); j++ {
			cost := 1
			if s[i-1] == t[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(t)]
}
