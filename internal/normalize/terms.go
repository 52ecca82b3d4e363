package normalize

import (
	"regexp"
	"sort"
	"strings"
)

var termPattern = regexp.MustCompile(`[a-z][a-z0-9_]{2,}`)

// stopWords are dropped before term counting. The list mixes common English
// filler with words that carry no signal in log text.
var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "was": {}, "with": {},
	"from": {}, "that": {}, "this": {}, "has": {}, "had": {}, "have": {},
	"not": {}, "but": {}, "all": {}, "can": {}, "could": {}, "will": {},
	"when": {}, "while": {}, "into": {}, "out": {}, "got": {}, "get": {},
	"its": {}, "via": {}, "due": {}, "per": {}, "you": {}, "your": {},
}

// ExtractKeyTerms tokenizes the message, removes stop words, and returns
// the topN terms by frequency. Ties break by first occurrence order. Terms
// are auxiliary metadata only; clustering never depends on them.
func (n *Normalizer) ExtractKeyTerms(message string, topN int) []string {
	if topN <= 0 {
		return nil
	}

	type termStat struct {
		term  string
		count int
		first int
	}

	lower := strings.ToLower(message)
	stats := make(map[string]*termStat)
	var order []*termStat

	for i, tok := range termPattern.FindAllString(lower, -1) {
		if _, skip := stopWords[tok]; skip {
			continue
		}
		if s, ok := stats[tok]; ok {
			s.count++
			continue
		}
		s := &termStat{term: tok, count: 1, first: i}
		stats[tok] = s
		order = append(order, s)
	}

	sort.SliceStable(order, func(i, j int) bool {
		if order[i].count != order[j].count {
			return order[i].count > order[j].count
		}
		return order[i].first < order[j].first
	})

	if len(order) > topN {
		order = order[:topN]
	}
	terms := make([]string, len(order))
	for i, s := range order {
		terms[i] = s.term
	}
	return terms
}
