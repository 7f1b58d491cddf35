package domain

import "time"

// Demographics describes who the persona is in measurable terms.
type Demographics struct {
	Name           string `json:"name"`
	Age            int    `json:"age"`
	Gender         string `json:"gender"`
	Location       string `json:"location"`
	Occupation     string `json:"occupation"`
	IncomeLevel    string `json:"income_level"`
	EducationLevel string `json:"education_level"`
	FamilyStatus   string `json:"family_status"`
}

// PopulatedFieldCount reports how many demographic fields carry a value.
// Feeds the heuristic confidence score.
func (d Demographics) PopulatedFieldCount() int {
	n := 0
	for _, s := range []string{
		d.Name, d.Gender, d.Location, d.Occupation,
		d.IncomeLevel, d.EducationLevel, d.FamilyStatus,
	} {
		if s != "" {
			n++
		}
	}
	if d.Age > 0 {
		n++
	}
	return n
}

// Psychographics describes values, attitudes and lifestyle.
type Psychographics struct {
	Values            []string `json:"values"`
	Interests         []string `json:"interests"`
	Lifestyle         string   `json:"lifestyle"`
	PersonalityTraits []string `json:"personality_traits"`
	Motivations       []string `json:"motivations"`
	Frustrations      []string `json:"frustrations"`
}

// BehavioralPatterns describes observable habits and decision-making.
type BehavioralPatterns struct {
	DailyRoutine    []string `json:"daily_routine"`
	ShoppingHabits  []string `json:"shopping_habits"`
	DecisionFactors []string `json:"decision_factors"`
	BrandLoyalty    string   `json:"brand_loyalty"`
	ResearchMethods []string `json:"research_methods"`
}

// DigitalBehavior describes channel and device usage.
type DigitalBehavior struct {
	PreferredPlatforms []string `json:"preferred_platforms"`
	DeviceUsage        string   `json:"device_usage"`
	OnlineActivity     string   `json:"online_activity"`
	ContentPreferences []string `json:"content_preferences"`
}

// GoalsAndPainPoints pairs what the persona wants with what blocks them.
type GoalsAndPainPoints struct {
	PrimaryGoals   []string `json:"primary_goals"`
	PainPoints     []string `json:"pain_points"`
	Challenges     []string `json:"challenges"`
	SuccessMetrics []string `json:"success_metrics"`
}

// ProductRelationship describes how the persona relates to the product.
type ProductRelationship struct {
	UseCases         []string `json:"use_cases"`
	PurchaseBarriers []string `json:"purchase_barriers"`
	ExpectedBenefits []string `json:"expected_benefits"`
	PricePerception  string   `json:"price_perception"`
}

// MarketingStrategy is actionable guidance derived from the persona.
type MarketingStrategy struct {
	PreferredChannels []string `json:"preferred_channels"`
	MessagingTone     string   `json:"messaging_tone"`
	KeyMessages       []string `json:"key_messages"`
	ContentIdeas      []string `json:"content_ideas"`
	CampaignTriggers  []string `json:"campaign_triggers"`
}

// TasteSignal is one taste/cultural affinity returned by the enrichment
// service, with a deterministic relevance score in [0,1].
type TasteSignal struct {
	Name      string  `json:"name"`
	Category  string  `json:"category"`
	Relevance float64 `json:"relevance"`
}

// EnrichmentDemographics summarizes audience demographics reported by the
// enrichment service for the matched entities.
type EnrichmentDemographics struct {
	AgeDistribution    map[string]float64 `json:"age_distribution,omitempty"`
	GenderDistribution map[string]float64 `json:"gender_distribution,omitempty"`
}

// EnrichmentData carries the taste-graph signals attached to a persona when
// the enrichment step succeeds.
type EnrichmentData struct {
	TasteSignals []TasteSignal           `json:"taste_signals"`
	Demographics *EnrichmentDemographics `json:"demographics,omitempty"`
	Source       string                  `json:"source"`
	FetchedAt    time.Time               `json:"fetched_at"`
}

// GeneratedPersona is the structured synthetic customer profile produced by
// the pipeline. It is created fresh per request, never mutated after being
// returned, and never persisted by this service.
type GeneratedPersona struct {
	ID                  string              `json:"id"`
	Demographics        Demographics        `json:"demographics"`
	Psychographics      Psychographics      `json:"psychographics"`
	BehavioralPatterns  BehavioralPatterns  `json:"behavioral_patterns"`
	DigitalBehavior     DigitalBehavior     `json:"digital_behavior"`
	GoalsAndPainPoints  GoalsAndPainPoints  `json:"goals_and_pain_points"`
	ProductRelationship ProductRelationship `json:"product_relationship"`
	MarketingStrategy   MarketingStrategy   `json:"marketing_strategy"`
	Quotes              []string            `json:"quotes"`
	ConfidenceScore     int                 `json:"confidence_score"`
	EnrichmentData      *EnrichmentData     `json:"enrichment_data,omitempty"`
	GeneratedAt         time.Time           `json:"generated_at"`
}

// GenerationMetadata records how a persona was produced, accumulated across
// pipeline stages regardless of which optional branches executed.
type GenerationMetadata struct {
	GenerationTimeMs   int64    `json:"generation_time_ms"`
	EnrichmentIncluded bool     `json:"enrichment_included"`
	ValidationScore    *float64 `json:"validation_score,omitempty"`
	RetryAttempts      int      `json:"retry_attempts"`
	Provider           string   `json:"provider,omitempty"`
}

// PersonaGenerationResult is the pipeline's terminal output. Success implies
// Persona is present; failure implies Error is present. Metadata is populated
// either way so callers can report timing and retries for failed requests.
type PersonaGenerationResult struct {
	Success  bool               `json:"success"`
	Persona  *GeneratedPersona  `json:"persona,omitempty"`
	Error    string             `json:"error,omitempty"`
	Metadata GenerationMetadata `json:"metadata"`
}
