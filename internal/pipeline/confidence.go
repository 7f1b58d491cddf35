package pipeline

import (
	"math"

	"github.com/personahq/persona-engine/internal/domain"
)

// Heuristic confidence weights. The base reflects that any persona passing
// the parse stage already has usable structure; bonuses reward breadth.
const (
	confidenceBase        = 70
	demographicsBonus     = 10
	demographicsMinFields = 6
	sectionBonus          = 5
	enrichmentBonus       = 10
)

// confidenceScore computes the persona's confidence in [0,100]: the
// heuristic breadth score, averaged with the model's self-validation score
// (rescaled to 0-100) when one exists.
func confidenceScore(p *domain.GeneratedPersona, validationScore *float64) int {
	score := confidenceBase

	if p.Demographics.PopulatedFieldCount() >= demographicsMinFields {
		score += demographicsBonus
	}
	if len(p.Psychographics.Values) > 0 {
		score += sectionBonus
	}
	if len(p.BehavioralPatterns.DailyRoutine) > 0 {
		score += sectionBonus
	}
	if len(p.MarketingStrategy.PreferredChannels) > 0 {
		score += sectionBonus
	}
	if p.EnrichmentData != nil {
		score += enrichmentBonus
	}

	if validationScore != nil {
		score = int(math.Round((float64(score) + *validationScore*10) / 2))
	}

	return clamp(score, 0, 100)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
