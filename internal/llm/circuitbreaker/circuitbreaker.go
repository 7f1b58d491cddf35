// Package circuitbreaker provides a per-provider three-state circuit breaker
// for fail-fast behavior during provider outages. An open breaker rejects
// calls before they reach the network; the fallback layer treats that
// rejection as a signal to move to the next provider.
package circuitbreaker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/personahq/persona-engine/internal/domain"
	llmerrors "github.com/personahq/persona-engine/internal/llm/errors"
	"github.com/personahq/persona-engine/internal/llm/transport"
)

// State identifies the breaker position.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Config controls breaker thresholds and recovery timing.
type Config struct {
	Enabled          bool          `json:"enabled" koanf:"enabled"`
	FailureThreshold int           `json:"failure_threshold" koanf:"failure_threshold"`
	SuccessThreshold int           `json:"success_threshold" koanf:"success_threshold"`
	OpenTimeout      time.Duration `json:"open_timeout" koanf:"open_timeout"`
}

// DefaultConfig returns conservative breaker settings.
func DefaultConfig() Config {
	return Config{
		Enabled:          false,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
	}
}

// Breaker is a single provider's circuit breaker.
type Breaker struct {
	provider string
	cfg      Config
	logger   *slog.Logger

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openUntil time.Time

	now func() time.Time // test seam
}

// NewBreaker creates a closed breaker for the named provider.
func NewBreaker(provider string, cfg Config) *Breaker {
	return &Breaker{
		provider: provider,
		cfg:      cfg,
		logger:   slog.Default().With("component", "circuitbreaker", "provider", provider),
		state:    StateClosed,
		now:      time.Now,
	}
}

// State returns the current breaker state, accounting for open timeouts.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked()
	return b.state
}

// Allow reports whether a call may proceed. An open breaker yields a
// CircuitBreakerError with the reset timestamp.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.transitionLocked()
	if b.state == StateOpen {
		return &llmerrors.CircuitBreakerError{
			Provider: b.provider,
			State:    string(b.state),
			ResetAt:  b.openUntil.Unix(),
		}
	}
	return nil
}

// RecordSuccess counts a successful call, closing a half-open breaker after
// enough probes succeed.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.logger.Info("circuit closed after successful probes")
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
		}
	case StateClosed:
		b.failures = 0
	}
}

// RecordFailure counts a failed call, opening the breaker when the failure
// threshold is reached. A failed half-open probe reopens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.open()
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.open()
		}
	}
}

// open transitions to the open state. Callers must hold mu.
func (b *Breaker) open() {
	b.state = StateOpen
	b.openUntil = b.now().Add(b.cfg.OpenTimeout)
	b.successes = 0
	b.logger.Warn("circuit opened", "reset_at", b.openUntil)
}

// transitionLocked moves an expired open breaker to half-open. Callers must
// hold mu.
func (b *Breaker) transitionLocked() {
	if b.state == StateOpen && !b.now().Before(b.openUntil) {
		b.state = StateHalfOpen
		b.successes = 0
		b.logger.Info("circuit half-open, probing")
	}
}

// NewMiddleware returns transport middleware maintaining one breaker per
// provider. Auth failures do not trip the breaker: a bad key is not an
// outage, and tripping on it would mask the non-retryable error the caller
// needs to see.
func NewMiddleware(cfg Config, providers []string) transport.Middleware {
	breakers := make(map[string]*Breaker, len(providers))
	for _, name := range providers {
		breakers[name] = NewBreaker(name, cfg)
	}

	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*domain.ChatResponse, error) {
			breaker, ok := breakers[req.Provider]
			if !ok {
				return next.Handle(ctx, req)
			}

			if err := breaker.Allow(); err != nil {
				return nil, err
			}

			resp, err := next.Handle(ctx, req)
			switch {
			case err == nil:
				breaker.RecordSuccess()
			case llmerrors.IsAuthError(err):
				// no-op: see above
			default:
				breaker.RecordFailure()
			}
			return resp, err
		})
	}
}
