package errors

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
)

// IsRetryable reports whether an error warrants another attempt against the
// same provider. Strongly-typed errors are examined first; untyped errors
// fall back to network-error detection and conservative string matching.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var cbErr *CircuitBreakerError
	if errors.As(err, &cbErr) {
		return false // open breaker: switch provider, don't hammer it
	}

	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		return true
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.IsRetryable()
	}

	var invErr *InvalidOutputError
	if errors.As(err, &invErr) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	if isNetworkError(err) {
		return true
	}

	// Untyped errors: conservative pattern match, defaulting to no retry.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "timeout"),
		strings.Contains(msg, "temporarily unavailable"):
		return true
	case strings.Contains(msg, "invalid api key"), strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "quota"):
		return false
	default:
		return false
	}
}

// IsAuthError reports whether the error stems from credentials or quota,
// conditions no amount of retrying against the same provider can fix.
func IsAuthError(err error) bool {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Type == ErrorTypeAuth || provErr.Type == ErrorTypeQuota
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "invalid api key") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "quota")
}

// isNetworkError detects transport-level failures via type assertions,
// falling back to known message fragments for errors that arrive unwrapped.
func isNetworkError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		var netErr net.Error
		if errors.As(urlErr.Err, &netErr) {
			return netErr.Timeout()
		}
		return containsNetworkIndicator(urlErr.Err.Error())
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return containsNetworkIndicator(err.Error())
}

func containsNetworkIndicator(errStr string) bool {
	lowered := strings.ToLower(errStr)
	for _, indicator := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"network is unreachable",
		"i/o timeout",
		"eof",
	} {
		if strings.Contains(lowered, indicator) {
			return true
		}
	}
	return false
}
