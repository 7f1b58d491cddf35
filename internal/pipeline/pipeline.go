// Package pipeline implements the multi-step persona generation flow:
// base generation through the provider fallback chain, best-effort taste
// enrichment and merge, best-effort self-validation, and finalization with
// a heuristic confidence score.
//
// Only base generation can fail the request. Enrichment and validation
// degrade gracefully: their failures are logged with stage context and the
// pipeline continues with whatever persona it already has.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/personahq/persona-engine/internal/domain"
	"github.com/personahq/persona-engine/internal/llm"
	"github.com/personahq/persona-engine/internal/llm/retry"
)

var (
	errNotPersonaJSON  = errors.New("model output is not valid persona JSON")
	errScoreOutOfRange = errors.New("validation score outside 1-10 range")
)

// Default generation parameters per stage. Validation runs cooler than
// generation so scores stay consistent across runs.
const (
	defaultGenerationTemperature = 0.7
	defaultValidationTemperature = 0.3
	defaultMaxTokens             = 3000
)

// Enricher fetches taste/cultural signals for a persona's interests.
// Implemented by the enrichment client; faked in tests.
type Enricher interface {
	FetchTasteProfile(ctx context.Context, keywords []string, audience domain.TargetAudience) (*domain.EnrichmentData, error)
}

// Config controls pipeline behavior.
type Config struct {
	// PreferredProvider is tried first; the remaining configured providers
	// follow in fixed fallback order.
	PreferredProvider string `json:"preferred_provider" koanf:"preferred_provider"`

	// EnableValidation turns on the self-validation scoring call.
	EnableValidation bool `json:"enable_validation" koanf:"enable_validation"`

	GenerationTemperature float64 `json:"generation_temperature" koanf:"generation_temperature"`
	ValidationTemperature float64 `json:"validation_temperature" koanf:"validation_temperature"`
	MaxTokens             int     `json:"max_tokens" koanf:"max_tokens"`
}

// Generator runs the persona generation pipeline. Each request gets its own
// pipeline execution; the Generator itself holds no per-request state and is
// safe for concurrent use.
type Generator struct {
	llm      llm.Client
	enricher Enricher // nil disables enrichment
	cfg      Config
	logger   *slog.Logger
}

// New creates a Generator. Pass a nil enricher to disable the enrichment
// stage entirely (no credentials configured).
func New(client llm.Client, enricher Enricher, cfg Config) *Generator {
	if cfg.GenerationTemperature == 0 {
		cfg.GenerationTemperature = defaultGenerationTemperature
	}
	if cfg.ValidationTemperature == 0 {
		cfg.ValidationTemperature = defaultValidationTemperature
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	return &Generator{
		llm:      client,
		enricher: enricher,
		cfg:      cfg,
		logger:   slog.Default().With("component", "pipeline"),
	}
}

// GeneratePersona runs the full pipeline for one form submission. The result
// always carries metadata (timing, retries), even on failure.
func (g *Generator) GeneratePersona(ctx context.Context, form domain.PersonaFormData) *domain.PersonaGenerationResult {
	start := time.Now()
	metadata := domain.GenerationMetadata{}

	persona, fb, err := g.baseGeneration(ctx, form)
	metadata.RetryAttempts = fb.RetryAttempts
	metadata.Provider = fb.Provider
	if err != nil {
		metadata.GenerationTimeMs = time.Since(start).Milliseconds()
		g.logger.Error("base generation failed",
			"stage", "generation", "attempts", fb.RetryAttempts, "error", err)
		return &domain.PersonaGenerationResult{
			Success:  false,
			Error:    err.Error(),
			Metadata: metadata,
		}
	}

	persona = g.enrich(ctx, fb.Provider, persona, form, &metadata)

	if g.cfg.EnableValidation {
		persona = g.validate(ctx, fb.Provider, persona, form, &metadata)
	}

	persona.ID = newPersonaID()
	persona.GeneratedAt = time.Now().UTC()
	persona.ConfidenceScore = confidenceScore(persona, metadata.ValidationScore)
	metadata.GenerationTimeMs = time.Since(start).Milliseconds()

	g.logger.Info("persona generated",
		"persona_id", persona.ID,
		"provider", fb.Provider,
		"confidence", persona.ConfidenceScore,
		"enriched", metadata.EnrichmentIncluded,
		"duration_ms", metadata.GenerationTimeMs)

	return &domain.PersonaGenerationResult{
		Success:  true,
		Persona:  persona,
		Metadata: metadata,
	}
}

// baseGeneration is the only fatal stage: prompt → LLM via fallback chain →
// strict-then-extracted JSON parse. Parse failures are retryable inside each
// provider leg because regeneration can produce valid JSON.
func (g *Generator) baseGeneration(ctx context.Context, form domain.PersonaFormData) (*domain.GeneratedPersona, llm.FallbackResult, error) {
	prompt := buildBasePrompt(form)

	return llm.WithFallback(ctx, g.llm, g.cfg.PreferredProvider,
		func(ctx context.Context, provider string) (*domain.GeneratedPersona, error) {
			resp, err := g.llm.Chat(ctx, provider, domain.ChatRequest{
				Messages: []domain.ChatMessage{
					{Role: domain.RoleSystem, Content: personaSystemPrompt},
					{Role: domain.RoleUser, Content: prompt},
				},
				Temperature: g.cfg.GenerationTemperature,
				MaxTokens:   g.cfg.MaxTokens,
			})
			if err != nil {
				return nil, err
			}
			return ParsePersona(resp.Content(), "generation")
		})
}

// enrich fetches taste signals and merges them into the persona with a
// second LLM call. Strictly additive-or-noop: any failure keeps the persona
// exactly as it was, though fetched signals stay attached because they are
// useful on their own.
func (g *Generator) enrich(ctx context.Context, provider string, persona *domain.GeneratedPersona, form domain.PersonaFormData, metadata *domain.GenerationMetadata) *domain.GeneratedPersona {
	if g.enricher == nil {
		return persona
	}

	keywords := interestKeywords(persona, form)
	if len(keywords) == 0 {
		return persona
	}

	data, err := g.enricher.FetchTasteProfile(ctx, keywords, form.TargetAudience)
	if err != nil {
		g.logger.Warn("enrichment fetch failed, continuing without signals",
			"stage", "enrichment", "error", err)
		return persona
	}
	if data == nil || len(data.TasteSignals) == 0 {
		g.logger.Debug("no taste signals found", "keywords", keywords)
		return persona
	}

	persona.EnrichmentData = data
	metadata.EnrichmentIncluded = true

	merged := g.enhanceWithSignals(ctx, provider, persona, data, metadata)
	if merged == nil {
		return persona
	}
	merged.EnrichmentData = data
	return merged
}

// enhanceWithSignals issues the merge call under the retry policy. Returns
// nil on any failure; the caller keeps the pre-enrichment persona.
func (g *Generator) enhanceWithSignals(ctx context.Context, provider string, persona *domain.GeneratedPersona, data *domain.EnrichmentData, metadata *domain.GenerationMetadata) *domain.GeneratedPersona {
	personaJSON, err := json.Marshal(persona)
	if err != nil {
		return nil
	}
	enrichmentJSON, err := json.Marshal(data)
	if err != nil {
		return nil
	}

	merged, retries, err := retry.Do(ctx, g.llm.Retryer(),
		func(ctx context.Context) (*domain.GeneratedPersona, error) {
			resp, err := g.llm.Chat(ctx, provider, domain.ChatRequest{
				Messages: []domain.ChatMessage{
					{Role: domain.RoleSystem, Content: personaSystemPrompt},
					{Role: domain.RoleUser, Content: buildEnhancementPrompt(string(personaJSON), string(enrichmentJSON))},
				},
				Temperature: g.cfg.GenerationTemperature,
				MaxTokens:   g.cfg.MaxTokens,
			})
			if err != nil {
				return nil, err
			}
			return ParsePersona(resp.Content(), "enhancement")
		})
	metadata.RetryAttempts += retries

	if err != nil {
		g.logger.Warn("enhancement call failed, keeping pre-enrichment persona",
			"stage", "enhancement", "provider", provider, "attempts", retries, "error", err)
		return nil
	}
	return merged
}

// validate asks the model to score the persona, adopting the returned score
// and any improved persona. Failures default to a neutral 7/10 and keep the
// current persona.
func (g *Generator) validate(ctx context.Context, provider string, persona *domain.GeneratedPersona, form domain.PersonaFormData, metadata *domain.GenerationMetadata) *domain.GeneratedPersona {
	neutral := 7.0

	personaJSON, err := json.Marshal(persona)
	if err != nil {
		metadata.ValidationScore = &neutral
		return persona
	}

	result, retries, err := retry.Do(ctx, g.llm.Retryer(),
		func(ctx context.Context) (*validationResult, error) {
			resp, err := g.llm.Chat(ctx, provider, domain.ChatRequest{
				Messages: []domain.ChatMessage{
					{Role: domain.RoleUser, Content: buildValidationPrompt(string(personaJSON), form)},
				},
				Temperature: g.cfg.ValidationTemperature,
				MaxTokens:   g.cfg.MaxTokens,
			})
			if err != nil {
				return nil, err
			}
			return parseValidation(resp.Content())
		})
	metadata.RetryAttempts += retries

	if err != nil {
		g.logger.Warn("validation call failed, using neutral score",
			"stage", "validation", "provider", provider, "attempts", retries, "error", err)
		metadata.ValidationScore = &neutral
		return persona
	}

	score := result.Score()
	metadata.ValidationScore = &score

	if result.ImprovedPersona != nil {
		result.ImprovedPersona.EnrichmentData = persona.EnrichmentData
		return result.ImprovedPersona
	}
	return persona
}

// interestKeywords gathers the enrichment seed keywords: the generated
// persona's interests first, then the form's known interests, de-duplicated
// case-insensitively.
func interestKeywords(persona *domain.GeneratedPersona, form domain.PersonaFormData) []string {
	seen := make(map[string]struct{})
	var keywords []string
	add := func(values []string) {
		for _, v := range values {
			key := normalizeKeyword(v)
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			keywords = append(keywords, v)
		}
	}
	add(persona.Psychographics.Interests)
	add(form.TargetAudience.KnownInterests)
	return keywords
}

func normalizeKeyword(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// newPersonaID builds a time-based id with a random suffix. Uniqueness is
// best-effort, not cryptographically guaranteed.
func newPersonaID() string {
	return fmt.Sprintf("persona_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}
