// Package llm provides a unified, resilient client for the three supported
// LLM providers. The client assembles a middleware chain (circuit breaking,
// admission-control rate limiting) around the core HTTP handler, and the
// fallback helper orchestrates retry-then-switch across providers.
//
// Architecture:
//   - Provider-agnostic interface with one adapter per wire format
//   - Middleware chain for composable resilience
//   - Request/response only, no streaming
//   - Per-provider admission queues because quotas are per API key
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/personahq/persona-engine/internal/domain"
	"github.com/personahq/persona-engine/internal/llm/circuitbreaker"
	llmerrors "github.com/personahq/persona-engine/internal/llm/errors"
	"github.com/personahq/persona-engine/internal/llm/providers"
	"github.com/personahq/persona-engine/internal/llm/ratelimit"
	"github.com/personahq/persona-engine/internal/llm/retry"
	"github.com/personahq/persona-engine/internal/llm/transport"
)

// connTestTimeout bounds the health-probe request to each provider.
const connTestTimeout = 10 * time.Second

// Config holds everything needed to construct a Client.
type Config struct {
	Providers      map[string]providers.Config
	Retry          retry.Config
	RateLimit      ratelimit.Config
	CircuitBreaker circuitbreaker.Config

	// HTTPTimeout bounds the shared HTTP client; RequestTimeout bounds each
	// individual provider call.
	HTTPTimeout    time.Duration
	RequestTimeout time.Duration

	// HTTPClient overrides the default client, used by tests.
	HTTPClient *http.Client
}

// Client is the high-level entry point for provider calls.
type Client interface {
	// Chat sends one canonical chat request to the named provider and
	// returns the normalized response. No retries happen at this level.
	Chat(ctx context.Context, provider string, req domain.ChatRequest) (*domain.ChatResponse, error)

	// TestConnection sends a minimal probe request to the named provider,
	// bypassing the admission queue so health checks never consume quota.
	TestConnection(ctx context.Context, provider string) error

	// Providers returns the configured providers in fallback order.
	Providers() []string

	// Retryer exposes the shared retry policy for callers that wrap Chat
	// with their own parse step.
	Retryer() *retry.Retryer
}

type client struct {
	registry       *providers.Registry
	handler        transport.Handler
	probeHandler   transport.Handler
	retryer        *retry.Retryer
	requestTimeout time.Duration
	logger         *slog.Logger
}

// NewClient builds the middleware chain and validates configuration.
// Providers without credentials must be filtered out by the caller before
// construction; an empty provider set is an error.
func NewClient(cfg Config) (Client, error) {
	if len(cfg.Providers) == 0 {
		return nil, llmerrors.ErrNoProvidersAvailable
	}

	registry, err := providers.NewRegistry(cfg.Providers)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize provider registry: %w", err)
	}

	retryer, err := retry.NewRetryer(cfg.Retry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize retry policy: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.HTTPTimeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
			Timeout: timeout,
		}
	}

	core := transport.NewHTTPHandler(httpClient, registry)

	var middlewares []transport.Middleware
	if cfg.CircuitBreaker.Enabled {
		middlewares = append(middlewares, circuitbreaker.NewMiddleware(cfg.CircuitBreaker, registry.Order()))
	}
	middlewares = append(middlewares, ratelimit.NewMiddleware(cfg.RateLimit, registry.Order()))

	return &client{
		registry:       registry,
		handler:        transport.Chain(core, middlewares...),
		probeHandler:   core,
		retryer:        retryer,
		requestTimeout: cfg.RequestTimeout,
		logger:         slog.Default().With("component", "llm"),
	}, nil
}

func (c *client) Chat(ctx context.Context, provider string, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if !c.registry.Has(provider) {
		return nil, fmt.Errorf("%w: %s", llmerrors.ErrUnknownProvider, provider)
	}

	req = req.WithDefaults()

	treq := &transport.Request{
		Provider:    provider,
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Timeout:     c.requestTimeout,
	}

	start := time.Now()
	resp, err := c.handler.Handle(ctx, treq)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("chat completed",
		"provider", provider,
		"model", resp.Model,
		"latency_ms", time.Since(start).Milliseconds(),
		"total_tokens", resp.Usage.TotalTokens)
	return resp, nil
}

func (c *client) TestConnection(ctx context.Context, provider string) error {
	if !c.registry.Has(provider) {
		return fmt.Errorf("%w: %s", llmerrors.ErrUnknownProvider, provider)
	}

	probeCtx, cancel := context.WithTimeout(ctx, connTestTimeout)
	defer cancel()

	_, err := c.probeHandler.Handle(probeCtx, &transport.Request{
		Provider: provider,
		Messages: []domain.ChatMessage{
			{Role: domain.RoleUser, Content: "ping"},
		},
		Temperature: 0,
		MaxTokens:   1,
		Timeout:     connTestTimeout,
	})
	return err
}

func (c *client) Providers() []string { return c.registry.Order() }

func (c *client) Retryer() *retry.Retryer { return c.retryer }
