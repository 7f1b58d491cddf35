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

	"github.com/personahq/persona-engine/internal/domain"
	llmerrors "github.com/personahq/persona-engine/internal/llm/errors"
	"github.com/personahq/persona-engine/internal/llm/transport"
)

// anthropicVersion is the API version header required on every request.
const anthropicVersion = "2023-06-01"

// AnthropicAdapter implements the separated-system wire format: system
// messages move into a dedicated top-level field, remaining messages keep
// role/content as-is, and authentication is a custom key header plus a
// version header.
type AnthropicAdapter struct {
	config Config
}

// NewAnthropicAdapter creates an Anthropic provider adapter with default endpoint.
func NewAnthropicAdapter(cfg Config) *AnthropicAdapter {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.anthropic.com/v1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-3-5-haiku-latest"
	}
	return &AnthropicAdapter{config: cfg}
}

// Name returns the provider name.
func (a *AnthropicAdapter) Name() string {
	return ProviderAnthropic
}

// Build constructs the messages request. System messages are extracted and
// concatenated into the top-level system field; user and assistant messages
// pass through in order.
func (a *AnthropicAdapter) Build(ctx context.Context, req *transport.Request) (*http.Request, error) {
	endpoint := fmt.Sprintf("%s/messages", a.config.Endpoint)

	model := req.Model
	if model == "" {
		model = a.config.DefaultModel
	}

	var systemParts []string
	messages := make([]map[string]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == domain.RoleSystem {
			systemParts = append(systemParts, m.Content)
			continue
		}
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
	}
	if len(systemParts) > 0 {
		body["system"] = strings.Join(systemParts, "\n\n")
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
	httpReq.Header.Set("x-api-key", a.config.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	for k, v := range a.config.Headers {
		httpReq.Header.Set(k, v)
	}

	return httpReq, nil
}

// Parse normalizes the messages response. Token totals are computed from
// input/output counts since this format reports no total field.
func (a *AnthropicAdapter) Parse(httpResp *http.Response) (*domain.ChatResponse, error) {
	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, parseAnthropicError(httpResp, body)
	}

	var resp struct {
		ID      string `json:"id"`
		Role    string `json:"role"`
		Model   string `json:"model"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		StopReason string `json:"stop_reason"`
		Usage      struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}

	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(resp.Content) == 0 {
		return nil, invalidResponseError(ProviderAnthropic, body)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" || block.Type == "" {
			text.WriteString(block.Text)
		}
	}

	return &domain.ChatResponse{
		ID:        resp.ID,
		Model:     resp.Model,
		CreatedAt: time.Now().UTC(),
		Choices: []domain.ChatChoice{{
			Index: 0,
			Message: domain.ChatMessage{
				Role:    domain.RoleAssistant,
				Content: text.String(),
			},
			FinishReason: mapAnthropicStopReason(resp.StopReason),
		}},
		Usage: domain.TokenUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

// mapAnthropicStopReason converts stop_reason to the canonical finish reason.
func mapAnthropicStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "content_filter":
		return "content_filter"
	default:
		return "stop"
	}
}

// parseAnthropicError converts Anthropic error responses to ProviderError.
func parseAnthropicError(httpResp *http.Response, body []byte) error {
	statusCode := httpResp.StatusCode

	var errResp struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return &llmerrors.ProviderError{
			Provider:   ProviderAnthropic,
			StatusCode: statusCode,
			Message:    errResp.Error.Message,
			Code:       errResp.Error.Type,
			Type:       classifyErrorType(statusCode, errResp.Error.Type),
			RetryAfter: retryAfterSeconds(httpResp.Header),
			RawBody:    string(body),
		}
	}

	return &llmerrors.ProviderError{
		Provider:   ProviderAnthropic,
		StatusCode: statusCode,
		Message:    string(body),
		Type:       classifyErrorType(statusCode, ""),
		RetryAfter: retryAfterSeconds(httpResp.Header),
		RawBody:    string(body),
	}
}
