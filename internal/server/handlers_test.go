package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personahq/persona-engine/internal/config"
	"github.com/personahq/persona-engine/internal/domain"
	"github.com/personahq/persona-engine/internal/llm/retry"
	"github.com/personahq/persona-engine/internal/pipeline"
)

const validPersonaJSON = `{
	"demographics": {"name": "Maya Chen", "age": 32, "occupation": "Product Manager"},
	"psychographics": {"values": ["efficiency"], "interests": ["fitness"]}
}`

// stubLLM serves a fixed chat payload for every provider call.
type stubLLM struct {
	content  string
	chatErr  error
	probeErr error
	retryer  *retry.Retryer
}

func (s *stubLLM) Chat(ctx context.Context, provider string, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if s.chatErr != nil {
		return nil, s.chatErr
	}
	return &domain.ChatResponse{
		ID: "resp",
		Choices: []domain.ChatChoice{{
			Message:      domain.ChatMessage{Role: domain.RoleAssistant, Content: s.content},
			FinishReason: "stop",
		}},
	}, nil
}

func (s *stubLLM) TestConnection(ctx context.Context, provider string) error { return s.probeErr }

func (s *stubLLM) Providers() []string { return []string{"openai"} }

func (s *stubLLM) Retryer() *retry.Retryer {
	if s.retryer == nil {
		s.retryer, _ = retry.NewRetryer(retry.Config{
			MaxRetries:      0,
			BaseDelay:       time.Microsecond,
			MaxDelay:        time.Millisecond,
			ExponentialBase: 2.0,
		})
	}
	return s.retryer
}

type stubProber struct{ err error }

func (s *stubProber) TestConnection(ctx context.Context) error { return s.err }

func testServerConfig() config.ServerConfig {
	return config.ServerConfig{
		Host:           "127.0.0.1",
		Port:           0,
		AllowedOrigins: []string{"*"},
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   5 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

func newTestHandler(llmStub *stubLLM, prober HealthProber) http.Handler {
	gen := pipeline.New(llmStub, nil, pipeline.Config{PreferredProvider: "openai"})
	srv := New(testServerConfig(), gen, llmStub, prober, "127.0.0.1:0")
	return srv.Handler()
}

func validFormBody() string {
	return `{
		"business_info": {"business_name": "FitBrew", "industry": "consumer coffee"},
		"target_audience": {"age_range": "25-40"},
		"product_details": {"product_name": "cold brew subscription"},
		"research_goals": {"primary_goal": "find acquisition channels"}
	}`
}

func TestHandleGenerate_Success(t *testing.T) {
	h := newTestHandler(&stubLLM{content: validPersonaJSON}, nil)

	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(validFormBody()))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)

	var result domain.PersonaGenerationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	require.NotNil(t, result.Persona)
	assert.Equal(t, "Maya Chen", result.Persona.Demographics.Name)
	assert.Equal(t, "openai", result.Metadata.Provider)
}

func TestHandleGenerate_MalformedJSONBody(t *testing.T) {
	h := newTestHandler(&stubLLM{content: validPersonaJSON}, nil)

	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var result domain.PersonaGenerationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "valid JSON")
}

func TestHandleGenerate_ValidationFailure(t *testing.T) {
	h := newTestHandler(&stubLLM{content: validPersonaJSON}, nil)

	body := `{
		"business_info": {"business_name": "", "industry": "coffee"},
		"target_audience": {"age_range": "25-40"},
		"product_details": {"product_name": "x"},
		"research_goals": {"primary_goal": "y"}
	}`
	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var result domain.PersonaGenerationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "BusinessName")
	assert.Contains(t, result.Error, "required")
}

// A pipeline failure surfaces as a 400 with a human-readable message; raw
// provider bodies never reach the client.
func TestHandleGenerate_PipelineFailure(t *testing.T) {
	h := newTestHandler(&stubLLM{content: "no json here, sorry"}, nil)

	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(validFormBody()))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var result domain.PersonaGenerationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
	assert.Nil(t, result.Persona)
}

func TestHandleHealth_AllHealthy(t *testing.T) {
	h := newTestHandler(&stubLLM{content: validPersonaJSON}, &stubProber{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Providers["openai"])
	assert.True(t, resp.Enrichment)
	assert.True(t, resp.AllHealthy)
}

// The health endpoint answers 200 even when every probe fails; failures are
// reported as false flags, never as HTTP errors.
func TestHandleHealth_FailuresReportedNotRaised(t *testing.T) {
	h := newTestHandler(
		&stubLLM{content: validPersonaJSON, probeErr: errors.New("provider unreachable")},
		&stubProber{err: errors.New("qloo unreachable")},
	)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Providers["openai"])
	assert.False(t, resp.Enrichment)
	assert.False(t, resp.AllHealthy)
}

// Retry counters accumulated by the client surface in the health body.
func TestHandleHealth_ReportsRetryStats(t *testing.T) {
	h := newTestHandler(&stubLLM{content: validPersonaJSON}, nil)

	gen := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(validFormBody()))
	genRec := httptest.NewRecorder()
	h.ServeHTTP(genRec, gen)
	require.Equal(t, http.StatusCreated, genRec.Code)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.GreaterOrEqual(t, resp.RetryStats.TotalAttempts, int64(1))
	assert.GreaterOrEqual(t, resp.RetryStats.SuccessfulFirstAttempts, int64(1))
}

func TestHandleHealth_NoEnricherConfigured(t *testing.T) {
	h := newTestHandler(&stubLLM{content: validPersonaJSON}, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Enrichment)
	assert.True(t, resp.AllHealthy, "missing enrichment credentials are not an outage")
}
