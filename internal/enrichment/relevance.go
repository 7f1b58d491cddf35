package enrichment

import "strings"

// RelevanceScore computes a deterministic relevance in [0.1, 1.0] between an
// interest keyword and an entity name: the Jaccard similarity of their
// lowercase token sets, rescaled onto [0.1, 1.0] so that even unrelated
// entities surfaced by the taste graph keep a nonzero floor. The same
// inputs always score the same.
func RelevanceScore(keyword, entityName string) float64 {
	a := tokenSet(keyword)
	b := tokenSet(entityName)
	if len(a) == 0 || len(b) == 0 {
		return 0.1
	}

	intersection := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection

	jaccard := float64(intersection) / float64(union)
	return 0.1 + 0.9*jaccard
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		tok = strings.Trim(tok, ".,;:!?\"'()")
		if len(tok) > 1 {
			set[tok] = struct{}{}
		}
	}
	return set
}
