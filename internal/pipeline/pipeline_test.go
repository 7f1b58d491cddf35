package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personahq/persona-engine/internal/domain"
	llmerrors "github.com/personahq/persona-engine/internal/llm/errors"
	"github.com/personahq/persona-engine/internal/llm/retry"
)

const goodPersonaJSON = `{
	"demographics": {"name": "Maya Chen", "age": 32, "gender": "female", "location": "Austin",
		"occupation": "Product Manager", "income_level": "$90k-$120k",
		"education_level": "Bachelor's", "family_status": "married"},
	"psychographics": {"values": ["efficiency"], "interests": ["fitness", "podcasts"]},
	"behavioral_patterns": {"daily_routine": ["morning gym"]},
	"marketing_strategy": {"preferred_channels": ["instagram"]},
	"quotes": ["I just want things to work."]
}`

// scriptedLLM returns canned content per Chat call, in order. The last entry
// repeats once the script runs out.
type scriptedLLM struct {
	retryer   *retry.Retryer
	providers []string

	mu      sync.Mutex
	script  []string
	chatErr error
	calls   int
}

func (m *scriptedLLM) Chat(ctx context.Context, provider string, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.chatErr != nil {
		return nil, m.chatErr
	}
	idx := m.calls - 1
	if idx >= len(m.script) {
		idx = len(m.script) - 1
	}
	return &domain.ChatResponse{
		ID:    "resp",
		Model: "test-model",
		Choices: []domain.ChatChoice{{
			Message:      domain.ChatMessage{Role: domain.RoleAssistant, Content: m.script[idx]},
			FinishReason: "stop",
		}},
		Usage: domain.TokenUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	}, nil
}

func (m *scriptedLLM) TestConnection(ctx context.Context, provider string) error { return nil }

func (m *scriptedLLM) Providers() []string { return m.providers }

func (m *scriptedLLM) Retryer() *retry.Retryer { return m.retryer }

func (m *scriptedLLM) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func newScriptedLLM(t *testing.T, maxRetries int, script ...string) *scriptedLLM {
	t.Helper()
	r, err := retry.NewRetryer(retry.Config{
		MaxRetries:      maxRetries,
		BaseDelay:       time.Microsecond,
		MaxDelay:        time.Millisecond,
		ExponentialBase: 2.0,
	})
	require.NoError(t, err)
	return &scriptedLLM{retryer: r, providers: []string{"openai"}, script: script}
}

// stubEnricher returns a fixed payload or error.
type stubEnricher struct {
	data *domain.EnrichmentData
	err  error

	gotKeywords []string
}

func (s *stubEnricher) FetchTasteProfile(ctx context.Context, keywords []string, audience domain.TargetAudience) (*domain.EnrichmentData, error) {
	s.gotKeywords = keywords
	return s.data, s.err
}

func testForm() domain.PersonaFormData {
	return domain.PersonaFormData{
		BusinessInfo:   domain.BusinessInfo{BusinessName: "FitBrew", Industry: "consumer coffee"},
		TargetAudience: domain.TargetAudience{AgeRange: "25-40", KnownInterests: []string{"specialty coffee"}},
		ProductDetails: domain.ProductDetails{ProductName: "cold brew subscription"},
		ResearchGoals:  domain.ResearchGoals{PrimaryGoal: "find acquisition channels"},
	}
}

func TestGeneratePersona_Success(t *testing.T) {
	mock := newScriptedLLM(t, 2, goodPersonaJSON)
	g := New(mock, nil, Config{PreferredProvider: "openai"})

	result := g.GeneratePersona(context.Background(), testForm())

	require.True(t, result.Success, "error: %s", result.Error)
	require.NotNil(t, result.Persona)
	assert.Equal(t, "Maya Chen", result.Persona.Demographics.Name)
	assert.True(t, strings.HasPrefix(result.Persona.ID, "persona_"))
	assert.False(t, result.Persona.GeneratedAt.IsZero())
	assert.Greater(t, result.Persona.ConfidenceScore, 0)

	assert.Equal(t, 0, result.Metadata.RetryAttempts)
	assert.Equal(t, "openai", result.Metadata.Provider)
	assert.False(t, result.Metadata.EnrichmentIncluded)
	assert.Nil(t, result.Metadata.ValidationScore)
	assert.Equal(t, 1, mock.callCount())
}

// Malformed model output on every attempt consumes the full retry budget and
// fails the request with the retries recorded in metadata.
func TestGeneratePersona_MalformedOutputExhaustsRetries(t *testing.T) {
	const maxRetries = 2
	mock := newScriptedLLM(t, maxRetries, "I am unable to produce JSON today.")
	g := New(mock, nil, Config{PreferredProvider: "openai"})

	result := g.GeneratePersona(context.Background(), testForm())

	assert.False(t, result.Success)
	assert.Nil(t, result.Persona)
	assert.Contains(t, result.Error, "invalid model output")
	assert.Equal(t, maxRetries, result.Metadata.RetryAttempts)
	assert.Equal(t, maxRetries+1, mock.callCount())
	assert.GreaterOrEqual(t, result.Metadata.GenerationTimeMs, int64(0))
}

func TestGeneratePersona_RecoversOnRetry(t *testing.T) {
	mock := newScriptedLLM(t, 2, "garbage first attempt", goodPersonaJSON)
	g := New(mock, nil, Config{PreferredProvider: "openai"})

	result := g.GeneratePersona(context.Background(), testForm())

	require.True(t, result.Success)
	assert.Equal(t, 1, result.Metadata.RetryAttempts)
	assert.Equal(t, "Maya Chen", result.Persona.Demographics.Name)
}

// Enrichment failures never fail the request.
func TestGeneratePersona_EnrichmentFailureIsNonFatal(t *testing.T) {
	mock := newScriptedLLM(t, 1, goodPersonaJSON)
	enricher := &stubEnricher{err: errors.New("taste service down")}
	g := New(mock, enricher, Config{PreferredProvider: "openai"})

	result := g.GeneratePersona(context.Background(), testForm())

	require.True(t, result.Success)
	assert.False(t, result.Metadata.EnrichmentIncluded)
	assert.Nil(t, result.Persona.EnrichmentData)
	// Persona interests seed the lookup, form interests deduplicated in.
	assert.Contains(t, enricher.gotKeywords, "fitness")
	assert.Contains(t, enricher.gotKeywords, "specialty coffee")
}

// When signals arrive but the merge call fails, the pre-merge persona is
// kept with the signals attached.
func TestGeneratePersona_MergeFailureKeepsSignals(t *testing.T) {
	mock := newScriptedLLM(t, 1, goodPersonaJSON, "not json", "still not json")
	enricher := &stubEnricher{data: &domain.EnrichmentData{
		TasteSignals: []domain.TasteSignal{{Name: "Blue Bottle", Category: "brand", Relevance: 0.8}},
		Source:       "qloo",
	}}
	g := New(mock, enricher, Config{PreferredProvider: "openai"})

	result := g.GeneratePersona(context.Background(), testForm())

	require.True(t, result.Success)
	assert.True(t, result.Metadata.EnrichmentIncluded)
	require.NotNil(t, result.Persona.EnrichmentData)
	assert.Equal(t, "Blue Bottle", result.Persona.EnrichmentData.TasteSignals[0].Name)
	assert.Equal(t, "Maya Chen", result.Persona.Demographics.Name)
	// Merge consumed its retry budget without failing the pipeline.
	assert.Equal(t, 1, result.Metadata.RetryAttempts)
}

func TestGeneratePersona_MergeSuccessAdoptsRefinedPersona(t *testing.T) {
	refined := strings.Replace(goodPersonaJSON, "Maya Chen", "Maya Chen-Rivera", 1)
	mock := newScriptedLLM(t, 1, goodPersonaJSON, refined)
	enricher := &stubEnricher{data: &domain.EnrichmentData{
		TasteSignals: []domain.TasteSignal{{Name: "Strava", Category: "brand", Relevance: 0.6}},
		Source:       "qloo",
	}}
	g := New(mock, enricher, Config{PreferredProvider: "openai"})

	result := g.GeneratePersona(context.Background(), testForm())

	require.True(t, result.Success)
	assert.Equal(t, "Maya Chen-Rivera", result.Persona.Demographics.Name)
	require.NotNil(t, result.Persona.EnrichmentData)
	assert.True(t, result.Metadata.EnrichmentIncluded)
}

func TestGeneratePersona_ValidationScoreAdopted(t *testing.T) {
	mock := newScriptedLLM(t, 1,
		goodPersonaJSON,
		`{"accuracy": 9, "completeness": 8, "actionability": 7}`,
	)
	g := New(mock, nil, Config{PreferredProvider: "openai", EnableValidation: true})

	result := g.GeneratePersona(context.Background(), testForm())

	require.True(t, result.Success)
	require.NotNil(t, result.Metadata.ValidationScore)
	assert.InDelta(t, 8.0, *result.Metadata.ValidationScore, 0.001)
}

// A validation call that never parses defaults to a neutral 7 and keeps the
// persona untouched.
func TestGeneratePersona_ValidationFailureDefaultsNeutral(t *testing.T) {
	mock := newScriptedLLM(t, 1, goodPersonaJSON, "looks good to me!", "still prose")
	g := New(mock, nil, Config{PreferredProvider: "openai", EnableValidation: true})

	result := g.GeneratePersona(context.Background(), testForm())

	require.True(t, result.Success)
	require.NotNil(t, result.Metadata.ValidationScore)
	assert.InDelta(t, 7.0, *result.Metadata.ValidationScore, 0.001)
	assert.Equal(t, "Maya Chen", result.Persona.Demographics.Name)
}

func TestGeneratePersona_TransportErrorFailsRequest(t *testing.T) {
	mock := newScriptedLLM(t, 0)
	mock.chatErr = &llmerrors.ProviderError{
		Provider: "openai", StatusCode: 503, Message: "down",
		Type: llmerrors.ErrorTypeProvider,
	}
	g := New(mock, nil, Config{PreferredProvider: "openai"})

	result := g.GeneratePersona(context.Background(), testForm())

	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
	assert.Nil(t, result.Persona)
}

func TestInterestKeywords_Deduplicates(t *testing.T) {
	persona := &domain.GeneratedPersona{
		Psychographics: domain.Psychographics{Interests: []string{"Fitness", "podcasts"}},
	}
	form := testForm()
	form.TargetAudience.KnownInterests = []string{"fitness ", "yoga"}

	keywords := interestKeywords(persona, form)
	assert.Equal(t, []string{"Fitness", "podcasts", "yoga"}, keywords)
}
