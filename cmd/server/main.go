// Command server runs the persona generation HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/personahq/persona-engine/internal/config"
	"github.com/personahq/persona-engine/internal/enrichment"
	"github.com/personahq/persona-engine/internal/llm"
	llmerrors "github.com/personahq/persona-engine/internal/llm/errors"
	"github.com/personahq/persona-engine/internal/pipeline"
	"github.com/personahq/persona-engine/internal/server"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file (optional)")
	flag.Parse()

	// Local development convenience; production injects real env vars.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	llmClient, err := llm.NewClient(cfg.BuildLLMConfig(logger))
	if err != nil {
		if errors.Is(err, llmerrors.ErrNoProvidersAvailable) {
			logger.Error("no LLM provider credentials configured, set at least one of OPENAI_API_KEY, ANTHROPIC_API_KEY, GOOGLE_API_KEY")
		} else {
			logger.Error("failed to initialize LLM client", "error", err)
		}
		os.Exit(1)
	}
	logger.Info("llm client initialized", "providers", llmClient.Providers())

	var enricher *enrichment.Client
	var prober server.HealthProber
	if cfg.Enrichment.APIKey != "" {
		enricher = enrichment.NewClient(cfg.Enrichment, nil)
		prober = enricher
		logger.Info("enrichment client initialized")
	} else {
		logger.Warn("QLOO_API_KEY not set, enrichment disabled")
	}

	var pipelineEnricher pipeline.Enricher
	if enricher != nil {
		pipelineEnricher = enricher
	}
	generator := pipeline.New(llmClient, pipelineEnricher, cfg.Pipeline)

	srv := server.New(cfg.Server, generator, llmClient, prober, cfg.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
			os.Exit(1)
		}
		logger.Info("server stopped")
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
