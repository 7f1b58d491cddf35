package providers

import (
	"net/http"
	"strconv"
	"strings"

	llmerrors "github.com/personahq/persona-engine/internal/llm/errors"
)

// classifyErrorType determines ErrorType from HTTP status and provider error
// codes. Provider-specific codes take precedence over status codes because
// some backends return 400 for quota conditions.
func classifyErrorType(statusCode int, errorCode string) llmerrors.ErrorType {
	lowerCode := strings.ToLower(errorCode)
	switch {
	case strings.Contains(lowerCode, "rate") || strings.Contains(lowerCode, "limit"):
		return llmerrors.ErrorTypeRateLimit
	case strings.Contains(lowerCode, "timeout"):
		return llmerrors.ErrorTypeTimeout
	case strings.Contains(lowerCode, "quota") || strings.Contains(lowerCode, "billing") ||
		strings.Contains(lowerCode, "insufficient"):
		return llmerrors.ErrorTypeQuota
	case strings.Contains(lowerCode, "auth") || strings.Contains(lowerCode, "key") ||
		strings.Contains(lowerCode, "unauthorized") || strings.Contains(lowerCode, "permission"):
		return llmerrors.ErrorTypeAuth
	}

	switch statusCode {
	case http.StatusTooManyRequests:
		return llmerrors.ErrorTypeRateLimit
	case http.StatusUnauthorized, http.StatusForbidden:
		return llmerrors.ErrorTypeAuth
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return llmerrors.ErrorTypeTimeout
	case http.StatusBadRequest:
		return llmerrors.ErrorTypeValidation
	default:
		if statusCode >= 500 {
			return llmerrors.ErrorTypeProvider
		}
		return llmerrors.ErrorTypeUnknown
	}
}

// retryAfterSeconds reads a numeric Retry-After header, or 0 when absent or
// in an unsupported format.
func retryAfterSeconds(h http.Header) int {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
		return seconds
	}
	return 0
}

// invalidResponseError builds the ProviderError for 2xx responses carrying
// no usable choices. This is surfaced as an error, never coerced into an
// empty success.
func invalidResponseError(provider string, body []byte) *llmerrors.ProviderError {
	return &llmerrors.ProviderError{
		Provider:   provider,
		StatusCode: http.StatusOK,
		Message:    "response contained no choices",
		Code:       llmerrors.CodeInvalidResponse,
		Type:       llmerrors.ErrorTypeInvalidOutput,
		RawBody:    string(body),
	}
}
