package llm

import (
	"context"
	"fmt"
	"log/slog"

	llmerrors "github.com/personahq/persona-engine/internal/llm/errors"
	"github.com/personahq/persona-engine/internal/llm/retry"
)

// FallbackResult reports which provider ultimately served an operation and
// how many retries were consumed across every attempted provider.
type FallbackResult struct {
	Provider       string
	RetryAttempts  int
	TriedProviders []string
}

// WithFallback runs op against the preferred provider first, then the
// remaining configured providers in fixed fallback order, returning the
// first success. Each provider attempt runs under the client's full retry
// policy: fallback is retry-exhaustion-then-switch, never instead-of-retry.
//
// An auth failure on one provider still falls through to the others: each
// provider has its own credential, so one bad key says nothing about the
// rest. When every provider fails, the returned error embeds the last
// provider's error for diagnosability.
func WithFallback[T any](
	ctx context.Context,
	c Client,
	preferred string,
	op func(ctx context.Context, provider string) (T, error),
) (T, FallbackResult, error) {
	var zero T

	order := fallbackOrder(c.Providers(), preferred)
	result := FallbackResult{}
	logger := slog.Default().With("component", "llm")

	var lastErr error
	var lastProvider string
	for _, provider := range order {
		result.TriedProviders = append(result.TriedProviders, provider)

		value, retries, err := retry.Do(ctx, c.Retryer(), func(ctx context.Context) (T, error) {
			return op(ctx, provider)
		})
		result.RetryAttempts += retries

		if err == nil {
			result.Provider = provider
			return value, result, nil
		}

		lastErr = err
		lastProvider = provider
		logger.Warn("provider exhausted, falling back",
			"provider", provider, "retries", retries, "error", err)

		if ctx.Err() != nil {
			break
		}
	}

	return zero, result, fmt.Errorf("%w (last provider %s: %v)",
		llmerrors.ErrAllProvidersFailed, lastProvider, lastErr)
}

// fallbackOrder places preferred first, followed by the remaining providers
// in their fixed registry order. An unknown preferred provider degrades to
// the plain registry order.
func fallbackOrder(configured []string, preferred string) []string {
	order := make([]string, 0, len(configured))
	for _, p := range configured {
		if p == preferred {
			order = append(order, p)
			break
		}
	}
	for _, p := range configured {
		if p != preferred {
			order = append(order, p)
		}
	}
	return order
}
