package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personahq/persona-engine/internal/domain"
	llmerrors "github.com/personahq/persona-engine/internal/llm/errors"
	"github.com/personahq/persona-engine/internal/llm/transport"
)

func TestMergeToContents(t *testing.T) {
	tests := []struct {
		name     string
		messages []domain.ChatMessage
		validate func(t *testing.T, contents []map[string]any)
	}{
		{
			name: "system_prepended_to_first_non_system",
			messages: []domain.ChatMessage{
				{Role: domain.RoleSystem, Content: "Be precise."},
				{Role: domain.RoleUser, Content: "Describe the customer."},
				{Role: domain.RoleUser, Content: "Add detail."},
			},
			validate: func(t *testing.T, contents []map[string]any) {
				require.Len(t, contents, 2)
				parts := contents[0]["parts"].([]map[string]any)
				assert.Equal(t, "Be precise.\n\nDescribe the customer.", parts[0]["text"])
				parts = contents[1]["parts"].([]map[string]any)
				assert.Equal(t, "Add detail.", parts[0]["text"])
			},
		},
		{
			name: "assistant_becomes_model",
			messages: []domain.ChatMessage{
				{Role: domain.RoleUser, Content: "q"},
				{Role: domain.RoleAssistant, Content: "a"},
			},
			validate: func(t *testing.T, contents []map[string]any) {
				require.Len(t, contents, 2)
				assert.Equal(t, "user", contents[0]["role"])
				assert.Equal(t, "model", contents[1]["role"])
			},
		},
		{
			name: "multiple_system_messages_joined",
			messages: []domain.ChatMessage{
				{Role: domain.RoleSystem, Content: "one"},
				{Role: domain.RoleSystem, Content: "two"},
				{Role: domain.RoleUser, Content: "q"},
			},
			validate: func(t *testing.T, contents []map[string]any) {
				require.Len(t, contents, 1)
				parts := contents[0]["parts"].([]map[string]any)
				assert.Equal(t, "one\n\ntwo\n\nq", parts[0]["text"])
			},
		},
		{
			name: "system_only_degenerates_to_user_turn",
			messages: []domain.ChatMessage{
				{Role: domain.RoleSystem, Content: "instructions"},
			},
			validate: func(t *testing.T, contents []map[string]any) {
				require.Len(t, contents, 1)
				assert.Equal(t, "user", contents[0]["role"])
				parts := contents[0]["parts"].([]map[string]any)
				assert.Equal(t, "instructions", parts[0]["text"])
			},
		},
		{
			name:     "empty_messages_empty_contents",
			messages: nil,
			validate: func(t *testing.T, contents []map[string]any) {
				assert.Empty(t, contents)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.validate(t, mergeToContents(tt.messages))
		})
	}
}

func TestGoogleAdapter_Build(t *testing.T) {
	adapter := NewGoogleAdapter(Config{APIKey: "test-key"})

	httpReq, err := adapter.Build(context.Background(), &transport.Request{
		Provider: ProviderGoogle,
		Messages: []domain.ChatMessage{
			{Role: domain.RoleSystem, Content: "Be precise."},
			{Role: domain.RoleUser, Content: "Describe the customer."},
		},
		Temperature: 0.7,
		MaxTokens:   250,
	})
	require.NoError(t, err)

	assert.Equal(t,
		"https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:generateContent",
		httpReq.URL.String())
	assert.Equal(t, "test-key", httpReq.Header.Get("x-goog-api-key"))

	bodyBytes, err := io.ReadAll(httpReq.Body)
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(bodyBytes, &body))

	genCfg, ok := body["generationConfig"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 0.7, genCfg["temperature"], 0.001)
	assert.InDelta(t, 250, genCfg["maxOutputTokens"], 0.001)

	contents, ok := body["contents"].([]any)
	require.True(t, ok)
	require.Len(t, contents, 1)
}

func TestGoogleAdapter_Parse(t *testing.T) {
	adapter := NewGoogleAdapter(Config{APIKey: "test-key"})

	tests := []struct {
		name       string
		statusCode int
		body       string
		validate   func(t *testing.T, resp *domain.ChatResponse, err error)
	}{
		{
			name:       "success_concatenates_parts",
			statusCode: http.StatusOK,
			body: `{
				"candidates": [{
					"content": {"parts": [{"text": "persona "}, {"text": "text"}]},
					"finishReason": "STOP"
				}],
				"modelVersion": "gemini-2.0-flash",
				"usageMetadata": {"promptTokenCount": 8, "candidatesTokenCount": 9, "totalTokenCount": 17}
			}`,
			validate: func(t *testing.T, resp *domain.ChatResponse, err error) {
				require.NoError(t, err)
				assert.Equal(t, "persona text", resp.Content())
				assert.Equal(t, "stop", resp.Choices[0].FinishReason)
				assert.Equal(t, 17, resp.Usage.TotalTokens)
				assert.True(t, strings.HasPrefix(resp.ID, "gen-"))
			},
		},
		{
			name:       "max_tokens_maps_to_length",
			statusCode: http.StatusOK,
			body: `{
				"candidates": [{"content": {"parts": [{"text": "x"}]}, "finishReason": "MAX_TOKENS"}],
				"modelVersion": "gemini-2.0-flash"
			}`,
			validate: func(t *testing.T, resp *domain.ChatResponse, err error) {
				require.NoError(t, err)
				assert.Equal(t, "length", resp.Choices[0].FinishReason)
			},
		},
		{
			name:       "no_candidates_is_invalid_output",
			statusCode: http.StatusOK,
			body:       `{"candidates": [], "modelVersion": "gemini-2.0-flash"}`,
			validate: func(t *testing.T, resp *domain.ChatResponse, err error) {
				var perr *llmerrors.ProviderError
				require.ErrorAs(t, err, &perr)
				assert.Equal(t, llmerrors.ErrorTypeInvalidOutput, perr.Type)
			},
		},
		{
			name:       "api_key_invalid_is_auth",
			statusCode: http.StatusForbidden,
			body:       `{"error": {"code": 403, "message": "API key not valid", "status": "PERMISSION_DENIED"}}`,
			validate: func(t *testing.T, resp *domain.ChatResponse, err error) {
				var perr *llmerrors.ProviderError
				require.ErrorAs(t, err, &perr)
				assert.Equal(t, llmerrors.ErrorTypeAuth, perr.Type)
				assert.False(t, perr.IsRetryable())
			},
		},
		{
			name:       "resource_exhausted_is_rate_limit",
			statusCode: http.StatusTooManyRequests,
			body:       `{"error": {"code": 429, "message": "Quota exceeded", "status": "RESOURCE_EXHAUSTED"}}`,
			validate: func(t *testing.T, resp *domain.ChatResponse, err error) {
				var perr *llmerrors.ProviderError
				require.ErrorAs(t, err, &perr)
				assert.True(t, perr.IsRetryable())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := adapter.Parse(&http.Response{
				StatusCode: tt.statusCode,
				Header:     http.Header{},
				Body:       io.NopCloser(strings.NewReader(tt.body)),
			})
			tt.validate(t, resp, err)
		})
	}
}
