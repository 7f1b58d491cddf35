// Package errors defines the error taxonomy for LLM and enrichment calls.
// Types determine whether operations should be retried, whether provider
// fallback should continue, and how failures surface to the HTTP layer.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType categorizes failures for retry and fallback classification.
type ErrorType string

const (
	// ErrorTypeTimeout indicates request timeout or deadline exceeded (retryable).
	ErrorTypeTimeout ErrorType = "timeout"

	// ErrorTypeRateLimit indicates a provider-side rate limit, retry with backoff (retryable).
	ErrorTypeRateLimit ErrorType = "rate_limit"

	// ErrorTypeNetwork indicates network connectivity issues (retryable).
	ErrorTypeNetwork ErrorType = "network"

	// ErrorTypeProvider indicates the provider service is unavailable (retryable).
	ErrorTypeProvider ErrorType = "provider_unavailable"

	// ErrorTypeCircuitBreaker indicates a locally open circuit (non-retryable,
	// fallback to another provider instead).
	ErrorTypeCircuitBreaker ErrorType = "circuit_breaker"

	// ErrorTypeInvalidOutput indicates the model produced content that could
	// not be parsed into the expected shape (retryable; the model may produce
	// valid output on the next attempt).
	ErrorTypeInvalidOutput ErrorType = "invalid_output"

	// ErrorTypeAuth indicates invalid credentials (never retried).
	ErrorTypeAuth ErrorType = "authentication"

	// ErrorTypeQuota indicates account quota exhausted (never retried).
	ErrorTypeQuota ErrorType = "quota_exceeded"

	// ErrorTypeValidation indicates the request itself was malformed (never retried).
	ErrorTypeValidation ErrorType = "validation_failed"

	// ErrorTypeExternal indicates an enrichment-service failure; always
	// non-fatal to the overall pipeline.
	ErrorTypeExternal ErrorType = "external_service"

	// ErrorTypeUnknown indicates an unclassified error.
	ErrorTypeUnknown ErrorType = "unknown"
)

// Sentinel errors shared across the llm packages.
var (
	// ErrUnknownProvider indicates an unknown or unconfigured provider.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrNoProvidersAvailable indicates no provider has usable credentials.
	ErrNoProvidersAvailable = errors.New("no providers available")

	// ErrAllProvidersFailed indicates the full fallback chain was exhausted.
	ErrAllProvidersFailed = errors.New("all providers failed")
)

// CodeInvalidResponse is the provider error code for 2xx responses that
// carried no usable choices.
const CodeInvalidResponse = "INVALID_RESPONSE"

// ProviderError captures a structured error from an LLM provider call:
// transport failure, non-2xx status, or an unusable 2xx body. Raw bodies are
// kept for diagnostics but never forwarded to HTTP clients.
type ProviderError struct {
	Provider   string    `json:"provider"`
	StatusCode int       `json:"status_code"`
	Message    string    `json:"message"`
	Code       string    `json:"code"`
	Type       ErrorType `json:"type"`
	RetryAfter int       `json:"retry_after"` // Retry-After header value in seconds
	RawBody    string    `json:"-"`
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Provider, e.Message)
}

// IsRetryable reports whether the error warrants another attempt against the
// same provider. Auth and quota failures never retry; invalid model output
// retries because regeneration can succeed.
func (e *ProviderError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeNetwork, ErrorTypeProvider, ErrorTypeInvalidOutput:
		return true
	default:
		return false
	}
}

// GetRetryAfter returns provider-advised backoff, or zero if none was given.
func (e *ProviderError) GetRetryAfter() time.Duration {
	if e.RetryAfter > 0 {
		return time.Duration(e.RetryAfter) * time.Second
	}
	return 0
}

// RateLimitError reports local admission-control saturation with timing
// guidance for the retry layer.
type RateLimitError struct {
	Provider   string `json:"provider"`
	RetryAfter int    `json:"retry_after"` // seconds until the next slot frees
	Limit      int    `json:"limit"`
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded for %s, retry after %d seconds", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("rate limit exceeded for %s", e.Provider)
}

// GetRetryAfter returns the advised wait before the next attempt.
func (e *RateLimitError) GetRetryAfter() time.Duration {
	if e.RetryAfter > 0 {
		return time.Duration(e.RetryAfter) * time.Second
	}
	return 0
}

// CircuitBreakerError indicates the local breaker refused the call before it
// reached the provider. The fallback layer treats it as a signal to move to
// the next provider rather than retrying the same one.
type CircuitBreakerError struct {
	Provider string `json:"provider"`
	State    string `json:"state"`    // "open" or "half-open"
	ResetAt  int64  `json:"reset_at"` // Unix timestamp when the breaker may close
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker %s for %s", e.State, e.Provider)
}

// InvalidOutputError indicates model content that failed strict JSON parsing
// and the balanced-brace extraction fallback.
type InvalidOutputError struct {
	Stage   string `json:"stage"`   // pipeline stage that produced the content
	Snippet string `json:"snippet"` // truncated content for diagnostics
	Cause   error  `json:"-"`
}

func (e *InvalidOutputError) Error() string {
	return fmt.Sprintf("invalid model output at %s stage: %v", e.Stage, e.Cause)
}

func (e *InvalidOutputError) Unwrap() error { return e.Cause }

// ExternalServiceError wraps enrichment-service failures. The pipeline logs
// these and continues; they never fail a generation request.
type ExternalServiceError struct {
	Service    string    `json:"service"`
	Endpoint   string    `json:"endpoint"`
	StatusCode int       `json:"status_code"`
	Message    string    `json:"message"`
	Type       ErrorType `json:"type"`
}

func (e *ExternalServiceError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s failed (status %d): %s", e.Service, e.Endpoint, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Service, e.Endpoint, e.Message)
}
