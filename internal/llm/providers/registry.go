// Package providers implements the wire-format adapters for the three
// supported LLM backends and the registry that routes requests to them.
// Each adapter translates the normalized transport request into one
// provider's HTTP format and normalizes the response back into the canonical
// chat response shape.
package providers

import (
	"fmt"

	llmerrors "github.com/personahq/persona-engine/internal/llm/errors"
	"github.com/personahq/persona-engine/internal/llm/transport"
)

// Supported LLM provider identifiers. These constants must match the
// provider names used in configuration.
const (
	ProviderOpenAI    = "openai"    // flat messages, bearer auth
	ProviderAnthropic = "anthropic" // separate system field, x-api-key + version header
	ProviderGoogle    = "google"    // merged single prompt, contents/parts, key header
)

// FallbackOrder is the fixed, deterministic provider ordering used when the
// preferred provider exhausts its retries.
var FallbackOrder = []string{ProviderOpenAI, ProviderAnthropic, ProviderGoogle}

// Config holds one provider's endpoint, credentials and default model.
// APIKey is sensitive and must never be logged.
type Config struct {
	Endpoint     string
	APIKey       string
	DefaultModel string
	Headers      map[string]string
}

// Registry holds the configured provider adapters in deterministic order.
type Registry struct {
	adapters map[string]transport.ProviderAdapter
	order    []string
}

// NewRegistry creates a registry with adapters for each configured provider.
// Providers appear in Order() following FallbackOrder, regardless of map
// iteration order. Unknown provider names are an error.
func NewRegistry(configs map[string]Config) (*Registry, error) {
	adapters := make(map[string]transport.ProviderAdapter, len(configs))

	for name, cfg := range configs {
		var adapter transport.ProviderAdapter
		switch name {
		case ProviderOpenAI:
			adapter = NewOpenAIAdapter(cfg)
		case ProviderAnthropic:
			adapter = NewAnthropicAdapter(cfg)
		case ProviderGoogle:
			adapter = NewGoogleAdapter(cfg)
		default:
			return nil, fmt.Errorf("%w: %s", llmerrors.ErrUnknownProvider, name)
		}
		adapters[name] = adapter
	}

	order := make([]string, 0, len(adapters))
	for _, name := range FallbackOrder {
		if _, ok := adapters[name]; ok {
			order = append(order, name)
		}
	}

	return &Registry{adapters: adapters, order: order}, nil
}

// Pick selects the adapter for the given provider name.
func (r *Registry) Pick(provider string) (transport.ProviderAdapter, error) {
	adapter, ok := r.adapters[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", llmerrors.ErrUnknownProvider, provider)
	}
	return adapter, nil
}

// Order returns the configured providers in fallback order.
func (r *Registry) Order() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Has reports whether the named provider is configured.
func (r *Registry) Has(provider string) bool {
	_, ok := r.adapters[provider]
	return ok
}
