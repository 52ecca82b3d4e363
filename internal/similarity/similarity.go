// Package similarity scores normalized templates for fuzzy cluster recall.
// It is an opt-in, bounded-cost fallback for when an exact template
// fingerprint lookup misses; it never runs unconditionally on the hot path.
package similarity

import "strings"

// Match reasons identifying the comparison basis for a positive result.
const (
	ReasonTemplateMatch = "template_match"
	ReasonCategoryMatch = "category_match"
	ReasonNgramMatch    = "ngram_match"
)

// Result reports one pairwise template comparison.
type Result struct {
	Match  bool
	Score  float64
	Reason string
}

// Matcher computes token-level n-gram Jaccard similarity between templates.
// It is stateless and safe for concurrent use.
type Matcher struct {
	ngramSize int
}

// NewMatcher creates a Matcher using token n-grams of the given size.
// Sizes below 1 fall back to 2 (bigrams).
func NewMatcher(ngramSize int) *Matcher {
	if ngramSize < 1 {
		ngramSize = 2
	}
	return &Matcher{ngramSize: ngramSize}
}

// ShouldClusterTogether reports whether two templates are similar enough to
// share a cluster. The score is the Jaccard similarity of their token
// n-gram sets in [0,1]; a match requires score >= threshold.
func (m *Matcher) ShouldClusterTogether(templateA, templateB string, threshold float64) Result {
	if templateA == templateB {
		return Result{Match: true, Score: 1, Reason: ReasonTemplateMatch}
	}

	score := m.Score(templateA, templateB)
	if score >= threshold {
		return Result{Match: true, Score: score, Reason: ReasonNgramMatch}
	}
	return Result{Score: score}
}

// Score computes the Jaccard similarity of the token n-gram sets of the
// two templates. Templates shorter than the n-gram size are compared as
// whole token sets.
func (m *Matcher) Score(templateA, templateB string) float64 {
	gramsA := m.ngrams(templateA)
	gramsB := m.ngrams(templateB)
	if len(gramsA) == 0 && len(gramsB) == 0 {
		return 1
	}
	if len(gramsA) == 0 || len(gramsB) == 0 {
		return 0
	}

	intersection := 0
	for gram := range gramsA {
		if _, ok := gramsB[gram]; ok {
			intersection++
		}
	}
	union := len(gramsA) + len(gramsB) - intersection
	return float64(intersection) / float64(union)
}

func (m *Matcher) ngrams(template string) map[string]struct{} {
	tokens := strings.Fields(template)
	grams := make(map[string]struct{})

	if len(tokens) < m.ngramSize {
		for _, tok := range tokens {
			grams[tok] = struct{}{}
		}
		return grams
	}

	for i := 0; i+m.ngramSize <= len(tokens); i++ {
		grams[strings.Join(tokens[i:i+m.ngramSize], " ")] = struct{}{}
	}
	return grams
}
