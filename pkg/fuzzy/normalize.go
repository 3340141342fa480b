// Package fuzzy normalizes track and artist names for matching LLM output
// and catalog search results against the recommendation pool.
package fuzzy

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	featRegex       = regexp.MustCompile(`(?i)\s*[\(\[]?\s*(?:feat\.?|ft\.?|featuring|with)\s+[^\)\]]*[\)\]]?\s*`)
	versionRegex    = regexp.MustCompile(`(?i)\s*[\(\[]\s*(remix|remaster(ed)?|deluxe|extended|live|radio edit|single version|clean|explicit)[^\)\]]*[\)\]]\s*`)
	punctRegex      = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

// MatchThreshold is the minimum similarity for two normalized names to be
// treated as the same track.
const MatchThreshold = 0.85

type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// NormalizeTrack strips featuring credits and version qualifiers so "Escape
// Plan (feat. X) - Remastered" and "Escape Plan" compare equal.
func (n *Normalizer) NormalizeTrack(name string) string {
	name = featRegex.ReplaceAllString(name, " ")
	name = versionRegex.ReplaceAllString(name, " ")
	return n.base(name)
}

// NormalizeArtist canonicalizes artist-name variants.
func (n *Normalizer) NormalizeArtist(name string) string {
	name = n.base(name)
	name = strings.ReplaceAll(name, " and ", " & ")
	return name
}

func (n *Normalizer) base(s string) string {
	s = norm.NFKD.String(s)

	var b strings.Builder
	for _, r := range s {
		if !unicode.IsMark(r) {
			b.WriteRune(r)
		}
	}
	s = b.String()

	s = punctRegex.ReplaceAllString(s, " ")
	s = whitespaceRegex.ReplaceAllString(s, " ")
	return strings.TrimSpace(strings.ToLower(s))
}

// SameTrack reports whether two track names refer to the same track after
// normalization, tolerating minor spelling drift in LLM output.
func (n *Normalizer) SameTrack(a, b string) bool {
	na, nb := n.NormalizeTrack(a), n.NormalizeTrack(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb {
		return true
	}
	return n.Similarity(na, nb) >= MatchThreshold
}

// Similarity returns the longest-common-subsequence ratio of two strings
// in [0,1].
func (n *Normalizer) Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	longer := len(a)
	if len(b) > longer {
		longer = len(b)
	}
	return float64(lcs(a, b)) / float64(longer)
}

func lcs(a, b string) int {
	m, n := len(a), len(b)
	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}

	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			if a[i-1] == b[j-1] {
				dp[i][j] = dp[i-1][j-1] + 1
			} else if dp[i-1][j] > dp[i][j-1] {
				dp[i][j] = dp[i-1][j]
			} else {
				dp[i][j] = dp[i][j-1]
			}
		}
	}

	return dp[m][n]
}
