// Package retry implements bounded exponential-backoff retry with additive
// proportional jitter. Operations are generic so callers can retry over
// parsed results, not just raw transport responses: a model response that
// fails JSON parsing is retried the same way a 503 is.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	llmerrors "github.com/personahq/persona-engine/internal/llm/errors"
)

// Configuration validation errors.
var (
	errMaxRetriesInvalid      = errors.New("maxRetries must be >= 0")
	errBaseDelayInvalid       = errors.New("baseDelay must be greater than 0")
	errMaxDelayInvalid        = errors.New("maxDelay must be >= baseDelay")
	errExponentialBaseInvalid = errors.New("exponentialBase must be >= 1.0")
	errJitterFactorInvalid    = errors.New("jitterFactor must be in [0,1]")
)

// Runtime errors.
var (
	errContextCancelledBeforeRetry = errors.New("context cancelled before retry")
	errContextCancelledDuringRetry = errors.New("context cancelled during retry")
)

// Config governs retry behavior. MaxRetries counts additional attempts after
// the first, so an operation runs at most 1+MaxRetries times.
type Config struct {
	MaxRetries      int           `json:"max_retries" koanf:"max_retries"`
	BaseDelay       time.Duration `json:"base_delay" koanf:"base_delay"`
	MaxDelay        time.Duration `json:"max_delay" koanf:"max_delay"`
	ExponentialBase float64       `json:"exponential_base" koanf:"exponential_base"`
	JitterFactor    float64       `json:"jitter_factor" koanf:"jitter_factor"`
}

// DefaultConfig returns production retry settings.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		BaseDelay:       time.Second,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2.0,
		JitterFactor:    0.1,
	}
}

// Validate checks config bounds.
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w, got %d", errMaxRetriesInvalid, c.MaxRetries)
	}
	if c.BaseDelay <= 0 {
		return fmt.Errorf("%w, got %v", errBaseDelayInvalid, c.BaseDelay)
	}
	if c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("%w, maxDelay: %v, baseDelay: %v", errMaxDelayInvalid, c.MaxDelay, c.BaseDelay)
	}
	if c.ExponentialBase < 1.0 {
		return fmt.Errorf("%w, got %f", errExponentialBaseInvalid, c.ExponentialBase)
	}
	if c.JitterFactor < 0 || c.JitterFactor > 1 {
		return fmt.Errorf("%w, got %f", errJitterFactorInvalid, c.JitterFactor)
	}
	return nil
}

// Retryer applies a retry policy to operations and records stats.
type Retryer struct {
	config Config
	logger *slog.Logger
	stats  *retryStats
}

// NewRetryer creates a Retryer after validating the configuration.
func NewRetryer(cfg Config) (*Retryer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Retryer{
		config: cfg,
		logger: slog.Default().With("component", "retry"),
		stats:  &retryStats{},
	}, nil
}

// Config returns the retryer's configuration.
func (r *Retryer) Config() Config { return r.config }

// Operation is a retryable unit of work.
type Operation[T any] func(ctx context.Context) (T, error)

// Do invokes op up to 1+MaxRetries times, sleeping between attempts per the
// backoff policy. It returns the result, the number of retries consumed
// (zero when the first attempt succeeds), and the error.
//
// Non-retryable errors (invalid credentials, quota exhaustion, open circuit
// breakers) short-circuit without consuming a retry. After exhaustion the
// last observed error is returned unchanged so callers can classify the
// original cause.
func Do[T any](ctx context.Context, r *Retryer, op Operation[T]) (T, int, error) {
	var zero T
	var lastErr error

	select {
	case <-ctx.Done():
		return zero, 0, fmt.Errorf("%w: %w", errContextCancelledBeforeRetry, ctx.Err())
	default:
	}

	maxAttempts := r.config.MaxRetries + 1
	for attempt := 0; attempt < maxAttempts; attempt++ {
		result, err := op(ctx)
		r.stats.totalAttempts.Add(1)

		if err == nil {
			if attempt > 0 {
				r.stats.successfulRetries.Add(1)
				r.logger.Info("operation succeeded after retry", "retries", attempt)
			} else {
				r.stats.successfulFirstAttempts.Add(1)
			}
			return result, attempt, nil
		}

		if !llmerrors.IsRetryable(err) {
			r.logger.Debug("non-retryable error, short-circuiting",
				"error", err, "attempt", attempt+1)
			r.stats.shortCircuits.Add(1)
			return zero, attempt, err
		}

		lastErr = err

		if attempt == maxAttempts-1 {
			break
		}

		backoff := r.sleepFor(attempt, err)
		r.stats.recordBackoff(backoff)
		r.logger.Debug("retrying after backoff",
			"attempt", attempt+1, "backoff", backoff, "error", err)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return zero, attempt, fmt.Errorf("%w: %w", errContextCancelledDuringRetry, ctx.Err())
		}
	}

	r.stats.exhausted.Add(1)
	return zero, r.config.MaxRetries, lastErr
}

// sleepFor computes the actual sleep before the next attempt: the jittered
// exponential delay, or provider-advised Retry-After when longer.
func (r *Retryer) sleepFor(attempt int, err error) time.Duration {
	backoff := JitteredDelay(r.config, attempt)
	if advised := retryAfterOf(err); advised > backoff {
		return advised
	}
	return backoff
}

// retryAfterOf extracts provider-advised backoff from an error, or zero.
func retryAfterOf(err error) time.Duration {
	var provider interface{ GetRetryAfter() time.Duration }
	if errors.As(err, &provider) {
		return provider.GetRetryAfter()
	}
	return 0
}
