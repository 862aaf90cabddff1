// Package match scores candidate titles against a query and picks the best
// one, optionally biased by remembered past selections.
package match

import (
	"strings"

	"golang.org/x/text/width"
)

// Candidate is the view of a merged search result the matcher needs.
type Candidate struct {
	AnimeID      int64
	Title        string
	EpisodeCount int
	Priority     int
}

// Normalize lowercases and folds full-width characters so that visually
// equivalent titles compare equal.
func Normalize(s string) string {
	return strings.ToLower(width.Fold.String(strings.TrimSpace(s)))
}

// Score returns similarity in [0,1]: (maxLen - levenshtein) / maxLen over the
// normalized rune sequences. Two empty strings score 1.
func Score(a, b string) float64 {
	ra := []rune(Normalize(a))
	rb := []rune(Normalize(b))
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 1
	}
	return float64(maxLen-levenshtein(ra, rb)) / float64(maxLen)
}

func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// Matcher selects the best candidate for a query title.
type Matcher struct {
	// Threshold is the minimum similarity for a confident match.
	Threshold float64
	// Strict makes Best fail when no candidate clears Threshold. Loose mode
	// falls back to the highest-scoring candidate.
	Strict bool
}

// Best returns the index of the best candidate and whether it is a confident
// match. Ties break on episode-count compatibility with wantEpisode, then on
// lower Priority (earlier in the configured source order).
func (m Matcher) Best(query string, wantEpisode int, candidates []Candidate) (int, bool) {
	if len(candidates) == 0 {
		return -1, false
	}
	best := -1
	bestScore := -1.0
	for i, c := range candidates {
		s := Score(query, c.Title)
		if s < bestScore {
			continue
		}
		if s == bestScore && best >= 0 {
			if !m.preferOver(candidates[i], candidates[best], wantEpisode) {
				continue
			}
		}
		best = i
		bestScore = s
	}
	if bestScore >= m.Threshold {
		return best, true
	}
	if m.Strict {
		return -1, false
	}
	return best, false
}

func (m Matcher) preferOver(a, b Candidate, wantEpisode int) bool {
	if wantEpisode > 0 {
		aOK := a.EpisodeCount == 0 || a.EpisodeCount >= wantEpisode
		bOK := b.EpisodeCount == 0 || b.EpisodeCount >= wantEpisode
		if aOK != bOK {
			return aOK
		}
	}
	return a.Priority < b.Priority
}
