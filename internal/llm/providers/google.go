package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/personahq/persona-engine/internal/domain"
	llmerrors "github.com/personahq/persona-engine/internal/llm/errors"
	"github.com/personahq/persona-engine/internal/llm/transport"
)

// GoogleAdapter implements the merged-prompt wire format. The backend has no
// independent system role, so all system messages are concatenated and
// prepended to the first non-system message. The assistant role is renamed
// to "model", content is wrapped in a part list, and maxTokens maps to
// maxOutputTokens.
type GoogleAdapter struct {
	config Config
}

// NewGoogleAdapter creates a Google provider adapter with default endpoint.
func NewGoogleAdapter(cfg Config) *GoogleAdapter {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://generativelanguage.googleapis.com/v1beta"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gemini-2.0-flash"
	}
	return &GoogleAdapter{config: cfg}
}

// Name returns the provider name.
func (a *GoogleAdapter) Name() string {
	return ProviderGoogle
}

// Build constructs the generateContent request.
func (a *GoogleAdapter) Build(ctx context.Context, req *transport.Request) (*http.Request, error) {
	model := req.Model
	if model == "" {
		model = a.config.DefaultModel
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", a.config.Endpoint, model)

	contents := mergeToContents(req.Messages)

	body := map[string]any{
		"contents": contents,
		"generationConfig": map[string]any{
			"temperature":     req.Temperature,
			"maxOutputTokens": req.MaxTokens,
		},
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", a.config.APIKey)

	for k, v := range a.config.Headers {
		httpReq.Header.Set(k, v)
	}

	return httpReq, nil
}

// mergeToContents converts canonical messages to the contents/parts shape.
// All system message content is collected and prepended to the first
// non-system message; assistant becomes "model". A conversation consisting
// only of system messages degenerates to a single user turn.
func mergeToContents(messages []domain.ChatMessage) []map[string]any {
	var systemParts []string
	var rest []domain.ChatMessage
	for _, m := range messages {
		if m.Role == domain.RoleSystem {
			systemParts = append(systemParts, m.Content)
			continue
		}
		rest = append(rest, m)
	}

	prefix := strings.Join(systemParts, "\n\n")
	if len(rest) == 0 {
		if prefix == "" {
			return []map[string]any{}
		}
		return []map[string]any{{
			"role":  "user",
			"parts": []map[string]any{{"text": prefix}},
		}}
	}

	contents := make([]map[string]any, 0, len(rest))
	for i, m := range rest {
		role := "user"
		if m.Role == domain.RoleAssistant {
			role = "model"
		}
		text := m.Content
		if i == 0 && prefix != "" {
			text = prefix + "\n\n" + text
		}
		contents = append(contents, map[string]any{
			"role":  role,
			"parts": []map[string]any{{"text": text}},
		})
	}
	return contents
}

// Parse normalizes the generateContent response. The backend assigns no
// response id, so one is generated locally for correlation.
func (a *GoogleAdapter) Parse(httpResp *http.Response) (*domain.ChatResponse, error) {
	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, parseGoogleError(httpResp, body)
	}

	var resp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
		ModelVersion  string `json:"modelVersion"`
		UsageMetadata struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
			TotalTokenCount      int `json:"totalTokenCount"`
		} `json:"usageMetadata"`
	}

	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, invalidResponseError(ProviderGoogle, body)
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}

	usage := domain.TokenUsage{
		PromptTokens:     resp.UsageMetadata.PromptTokenCount,
		CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
		TotalTokens:      resp.UsageMetadata.TotalTokenCount,
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	return &domain.ChatResponse{
		ID:        fmt.Sprintf("gen-%s", uuid.NewString()),
		Model:     resp.ModelVersion,
		CreatedAt: time.Now().UTC(),
		Choices: []domain.ChatChoice{{
			Index: 0,
			Message: domain.ChatMessage{
				Role:    domain.RoleAssistant,
				Content: text.String(),
			},
			FinishReason: mapGoogleFinishReason(resp.Candidates[0].FinishReason),
		}},
		Usage: usage,
	}, nil
}

// mapGoogleFinishReason converts finishReason to the canonical finish reason.
func mapGoogleFinishReason(reason string) string {
	switch strings.ToUpper(reason) {
	case "STOP", "":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "BLOCKLIST", "PROHIBITED_CONTENT":
		return "content_filter"
	default:
		return "stop"
	}
}

// parseGoogleError converts Google error responses to ProviderError.
func parseGoogleError(httpResp *http.Response, body []byte) error {
	statusCode := httpResp.StatusCode

	var errResp struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return &llmerrors.ProviderError{
			Provider:   ProviderGoogle,
			StatusCode: statusCode,
			Message:    errResp.Error.Message,
			Code:       errResp.Error.Status,
			Type:       classifyErrorType(statusCode, errResp.Error.Status),
			RetryAfter: retryAfterSeconds(httpResp.Header),
			RawBody:    string(body),
		}
	}

	return &llmerrors.ProviderError{
		Provider:   ProviderGoogle,
		StatusCode: statusCode,
		Message:    string(body),
		Type:       classifyErrorType(statusCode, ""),
		RetryAfter: retryAfterSeconds(httpResp.Header),
		RawBody:    string(body),
	}
}
