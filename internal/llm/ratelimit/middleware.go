package ratelimit

import (
	"context"

	"github.com/personahq/persona-engine/internal/domain"
	"github.com/personahq/persona-engine/internal/llm/transport"
)

// NewMiddleware returns transport middleware that routes each request
// through its provider's admission queue. Quotas are per provider because
// each provider has its own API key; requests for different providers never
// block each other.
func NewMiddleware(cfg Config, providers []string) transport.Middleware {
	limiters := make(map[string]*Limiter, len(providers))
	for _, name := range providers {
		limiters[name] = NewLimiter(name, cfg)
	}

	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*domain.ChatResponse, error) {
			limiter, ok := limiters[req.Provider]
			if !ok {
				// Unknown providers fail further down the chain with a
				// routing error; don't mask that here.
				return next.Handle(ctx, req)
			}

			var resp *domain.ChatResponse
			err := limiter.Schedule(ctx, func(ctx context.Context) error {
				var opErr error
				resp, opErr = next.Handle(ctx, req)
				return opErr
			})
			if err != nil {
				return nil, err
			}
			return resp, nil
		})
	}
}
