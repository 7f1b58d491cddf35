// Package config loads service configuration from defaults, an optional
// YAML file, and environment variable overrides, in that order of
// precedence (later wins).
//
// API keys are deliberately read only from the environment, never from the
// config file, so credentials cannot end up committed alongside settings.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/personahq/persona-engine/internal/enrichment"
	"github.com/personahq/persona-engine/internal/llm"
	"github.com/personahq/persona-engine/internal/llm/circuitbreaker"
	"github.com/personahq/persona-engine/internal/llm/providers"
	"github.com/personahq/persona-engine/internal/llm/ratelimit"
	"github.com/personahq/persona-engine/internal/llm/retry"
	"github.com/personahq/persona-engine/internal/pipeline"
)

// envPrefix namespaces environment overrides for non-secret settings, e.g.
// PERSONA_SERVER__PORT=9090 sets server.port. Double underscore separates
// nesting levels so snake_case keys survive.
const envPrefix = "PERSONA_"

// Base endpoints for the public APIs; adapters append their own paths.
// Override per provider for proxies or compatible gateways.
const (
	defaultOpenAIEndpoint    = "https://api.openai.com/v1"
	defaultAnthropicEndpoint = "https://api.anthropic.com/v1"
	defaultGoogleEndpoint    = "https://generativelanguage.googleapis.com/v1beta"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	AllowedOrigins  []string      `koanf:"allowed_origins"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// ProviderSettings is the file/env-configurable subset of a provider's
// setup. The API key is injected separately from the environment.
type ProviderSettings struct {
	Endpoint     string `koanf:"endpoint"`
	DefaultModel string `koanf:"default_model"`
}

// LLMConfig groups the resilience and transport settings shared by all
// providers.
type LLMConfig struct {
	OpenAI    ProviderSettings `koanf:"openai"`
	Anthropic ProviderSettings `koanf:"anthropic"`
	Google    ProviderSettings `koanf:"google"`

	Retry          retry.Config          `koanf:"retry"`
	RateLimit      ratelimit.Config      `koanf:"rate_limit"`
	CircuitBreaker circuitbreaker.Config `koanf:"circuit_breaker"`

	HTTPTimeout    time.Duration `koanf:"http_timeout"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// Config is the root configuration for the service.
type Config struct {
	Server     ServerConfig      `koanf:"server"`
	LLM        LLMConfig         `koanf:"llm"`
	Pipeline   pipeline.Config   `koanf:"pipeline"`
	Enrichment enrichment.Config `koanf:"enrichment"`
	LogLevel   string            `koanf:"log_level"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			AllowedOrigins:  []string{"*"},
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			RequestTimeout:  120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		LLM: LLMConfig{
			OpenAI:         ProviderSettings{Endpoint: defaultOpenAIEndpoint, DefaultModel: "gpt-4o-mini"},
			Anthropic:      ProviderSettings{Endpoint: defaultAnthropicEndpoint, DefaultModel: "claude-3-5-haiku-latest"},
			Google:         ProviderSettings{Endpoint: defaultGoogleEndpoint, DefaultModel: "gemini-2.0-flash"},
			Retry:          retry.DefaultConfig(),
			RateLimit:      ratelimit.DefaultConfig(),
			CircuitBreaker: circuitbreaker.DefaultConfig(),
			HTTPTimeout:    60 * time.Second,
			RequestTimeout: 45 * time.Second,
		},
		Pipeline: pipeline.Config{
			PreferredProvider: providers.ProviderOpenAI,
			EnableValidation:  true,
		},
		Enrichment: enrichment.Config{},
		LogLevel:   "info",
	}
}

// Load reads configuration from the given YAML file (if it exists), then
// overlays PERSONA_* environment variables, then injects API keys from
// their conventional environment variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("accessing config %s: %w", path, err)
		}
	}

	// PERSONA_LLM__RETRY__MAX_RETRIES -> llm.retry.max_retries
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.Enrichment.APIKey = os.Getenv("QLOO_API_KEY")
	return cfg, nil
}

// ProviderAPIKey returns the credential for the named provider from its
// conventional environment variable. Google accepts either GOOGLE_API_KEY
// or GEMINI_API_KEY.
func ProviderAPIKey(provider string) string {
	switch provider {
	case providers.ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	case providers.ProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case providers.ProviderGoogle:
		if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
			return key
		}
		return os.Getenv("GEMINI_API_KEY")
	default:
		return ""
	}
}

// BuildLLMConfig assembles the client configuration from the loaded
// settings plus environment credentials. Providers without a credential are
// skipped with a warning so one missing key never prevents startup; the
// caller decides what to do when the result has no providers at all.
func (c *Config) BuildLLMConfig(logger *slog.Logger) llm.Config {
	settings := map[string]ProviderSettings{
		providers.ProviderOpenAI:    c.LLM.OpenAI,
		providers.ProviderAnthropic: c.LLM.Anthropic,
		providers.ProviderGoogle:    c.LLM.Google,
	}

	configured := make(map[string]providers.Config)
	for _, name := range providers.FallbackOrder {
		key := ProviderAPIKey(name)
		if key == "" {
			logger.Warn("provider credential missing, provider disabled", "provider", name)
			continue
		}
		s := settings[name]
		configured[name] = providers.Config{
			Endpoint:     s.Endpoint,
			APIKey:       key,
			DefaultModel: s.DefaultModel,
		}
	}

	return llm.Config{
		Providers:      configured,
		Retry:          c.LLM.Retry,
		RateLimit:      c.LLM.RateLimit,
		CircuitBreaker: c.LLM.CircuitBreaker,
		HTTPTimeout:    c.LLM.HTTPTimeout,
		RequestTimeout: c.LLM.RequestTimeout,
	}
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
