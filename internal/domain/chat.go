// Package domain defines the core types shared across the persona engine:
// the provider-agnostic chat protocol, the structured form input, and the
// generated persona document. Types here carry no behavior beyond small
// constructors and accessors so that every other package can depend on them
// without import cycles.
package domain

import "time"

// Role identifies the author of a chat message.
type Role string

const (
	// RoleSystem carries instructions that frame the whole conversation.
	RoleSystem Role = "system"

	// RoleUser carries the caller's prompt content.
	RoleUser Role = "user"

	// RoleAssistant carries model-generated content.
	RoleAssistant Role = "assistant"
)

// ChatMessage is a single role/content pair. Messages are immutable once
// constructed; ordering within a request is significant because providers
// without a native system role need system messages merged to the front.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Default generation parameters applied when a ChatRequest leaves them zero.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1000
)

// ChatRequest is the provider-agnostic request shape. Model may be empty,
// in which case the selected provider's configured default is used.
// Stream is carried for wire compatibility but is always false here.
type ChatRequest struct {
	Messages    []ChatMessage `json:"messages"`
	Model       string        `json:"model,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

// WithDefaults returns a copy of the request with zero-valued generation
// parameters replaced by package defaults.
func (r ChatRequest) WithDefaults() ChatRequest {
	if r.Temperature == 0 {
		r.Temperature = DefaultTemperature
	}
	if r.MaxTokens == 0 {
		r.MaxTokens = DefaultMaxTokens
	}
	return r
}

// ChatChoice is one completion alternative within a ChatResponse.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// TokenUsage reports token consumption for a single provider call.
// Counters missing from a provider response default to zero.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the canonical response shape every provider response
// normalizes into. Choices is non-empty on success; an empty choice list
// from a provider is surfaced as an error, never as an empty success.
type ChatResponse struct {
	ID        string       `json:"id"`
	Model     string       `json:"model"`
	CreatedAt time.Time    `json:"created_at"`
	Choices   []ChatChoice `json:"choices"`
	Usage     TokenUsage   `json:"usage"`
}

// Content returns the text of the first choice, or empty if none exists.
func (r *ChatResponse) Content() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}
