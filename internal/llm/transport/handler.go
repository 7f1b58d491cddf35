// Package transport provides the composable request pipeline for LLM calls:
// a Handler abstraction, middleware chaining, and the core handler that
// performs the actual HTTP exchange through a provider adapter.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/personahq/persona-engine/internal/domain"
)

// Request is the normalized request flowing through the middleware chain.
// Provider selects the adapter; the remaining fields mirror the canonical
// chat request plus per-request control values.
type Request struct {
	Provider    string
	Model       string
	Messages    []domain.ChatMessage
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	RequestID   string
}

// Router selects the provider adapter for a request.
type Router interface {
	Pick(provider string) (ProviderAdapter, error)
}

// ProviderAdapter abstracts one provider's wire format. Build produces the
// provider-specific HTTP request including authentication; Parse normalizes
// the provider response into the canonical chat response or a classified
// provider error.
type ProviderAdapter interface {
	Build(ctx context.Context, req *Request) (*http.Request, error)
	Parse(httpResp *http.Response) (*domain.ChatResponse, error)
	Name() string
}

// Handler processes LLM requests through the composable middleware pipeline.
type Handler interface {
	Handle(ctx context.Context, req *Request) (*domain.ChatResponse, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, *Request) (*domain.ChatResponse, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, req *Request) (*domain.ChatResponse, error) {
	return f(ctx, req)
}

// Middleware transforms a Handler into an enhanced Handler.
type Middleware func(Handler) Handler

// Chain builds a middleware pipeline around a core handler. Middleware
// executes in the order provided, first middleware outermost.
func Chain(h Handler, middlewares ...Middleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// NewHTTPHandler creates the core handler that performs the HTTP exchange.
func NewHTTPHandler(client *http.Client, router Router) Handler {
	return &httpHandler{client: client, router: router}
}

type httpHandler struct {
	client *http.Client
	router Router
}

func (h *httpHandler) Handle(ctx context.Context, req *Request) (*domain.ChatResponse, error) {
	adapter, err := h.router.Pick(req.Provider)
	if err != nil {
		return nil, fmt.Errorf("failed to select provider: %w", err)
	}

	reqCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := adapter.Build(reqCtx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	httpResp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	resp, err := adapter.Parse(httpResp)
	if err != nil {
		return nil, err
	}

	return resp, nil
}
