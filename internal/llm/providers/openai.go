package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/personahq/persona-engine/internal/domain"
	llmerrors "github.com/personahq/persona-engine/internal/llm/errors"
	"github.com/personahq/persona-engine/internal/llm/transport"
)

// OpenAIAdapter implements the flat-messages wire format: every message keeps
// its role/content pair in a single array and authentication is a bearer
// token header.
type OpenAIAdapter struct {
	config Config
}

// NewOpenAIAdapter creates an OpenAI provider adapter with default endpoint.
func NewOpenAIAdapter(cfg Config) *OpenAIAdapter {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.openai.com/v1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o-mini"
	}
	return &OpenAIAdapter{config: cfg}
}

// Name returns the provider name.
func (a *OpenAIAdapter) Name() string {
	return ProviderOpenAI
}

// Build constructs the chat/completions request. Messages pass through
// unchanged: this format has native support for all three roles.
func (a *OpenAIAdapter) Build(ctx context.Context, req *transport.Request) (*http.Request, error) {
	endpoint := fmt.Sprintf("%s/chat/completions", a.config.Endpoint)

	model := req.Model
	if model == "" {
		model = a.config.DefaultModel
	}

	messages := make([]map[string]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, map[string]any{
			"role":    string(m.Role),
			"content": m.Content,
		})
	}

	body := map[string]any{
		"model":       model,
		"messages":    messages,
		"max_tokens":  req.MaxTokens,
		"temperature": req.Temperature,
		"stream":      false,
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
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", a.config.APIKey))

	for k, v := range a.config.Headers {
		httpReq.Header.Set(k, v)
	}

	return httpReq, nil
}

// Parse normalizes the chat/completions response. Absent usage counters
// default to zero; an empty choices list is an error, not an empty success.
func (a *OpenAIAdapter) Parse(httpResp *http.Response) (*domain.ChatResponse, error) {
	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, parseOpenAIError(httpResp, body)
	}

	var resp struct {
		ID      string `json:"id"`
		Created int64  `json:"created"`
		Model   string `json:"model"`
		Choices []struct {
			Index   int `json:"index"`
			Message struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}

	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, invalidResponseError(ProviderOpenAI, body)
	}

	choices := make([]domain.ChatChoice, 0, len(resp.Choices))
	for _, c := range resp.Choices {
		choices = append(choices, domain.ChatChoice{
			Index: c.Index,
			Message: domain.ChatMessage{
				Role:    domain.Role(c.Message.Role),
				Content: c.Message.Content,
			},
			FinishReason: c.FinishReason,
		})
	}

	usage := domain.TokenUsage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	return &domain.ChatResponse{
		ID:        resp.ID,
		Model:     resp.Model,
		CreatedAt: time.Unix(resp.Created, 0).UTC(),
		Choices:   choices,
		Usage:     usage,
	}, nil
}

// parseOpenAIError converts OpenAI error responses to ProviderError.
func parseOpenAIError(httpResp *http.Response, body []byte) error {
	statusCode := httpResp.StatusCode

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return &llmerrors.ProviderError{
			Provider:   ProviderOpenAI,
			StatusCode: statusCode,
			Message:    errResp.Error.Message,
			Code:       errResp.Error.Code,
			Type:       classifyErrorType(statusCode, errResp.Error.Type+" "+errResp.Error.Code),
			RetryAfter: retryAfterSeconds(httpResp.Header),
			RawBody:    string(body),
		}
	}

	return &llmerrors.ProviderError{
		Provider:   ProviderOpenAI,
		StatusCode: statusCode,
		Message:    string(body),
		Type:       classifyErrorType(statusCode, ""),
		RetryAfter: retryAfterSeconds(httpResp.Header),
		RawBody:    string(body),
	}
}
