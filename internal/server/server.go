// Package server exposes the HTTP boundary of the persona engine: the
// generation endpoint and a connectivity health check.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/personahq/persona-engine/internal/config"
	"github.com/personahq/persona-engine/internal/llm"
	"github.com/personahq/persona-engine/internal/pipeline"
)

// HealthProber is satisfied by the enrichment client; nil means the
// enrichment service is not configured.
type HealthProber interface {
	TestConnection(ctx context.Context) error
}

// Server wires the pipeline and its collaborators behind an http.Server.
type Server struct {
	cfg       config.ServerConfig
	generator *pipeline.Generator
	llm       llm.Client
	enricher  HealthProber
	validate  *validator.Validate
	logger    *slog.Logger

	httpServer *http.Server
}

// New builds the HTTP server. enricher may be nil.
func New(cfg config.ServerConfig, generator *pipeline.Generator, llmClient llm.Client, enricher HealthProber, addr string) *Server {
	s := &Server{
		cfg:       cfg,
		generator: generator,
		llm:       llmClient,
		enricher:  enricher,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    slog.Default().With("component", "server"),
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(s.cfg.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Post("/generate", s.handleGenerate)
	r.Get("/health", s.handleHealth)
	return r
}

// Start blocks until the listener stops. A closed-server error after
// Shutdown is not reported as a failure.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the routed handler, used by tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// probeTimeout bounds each health-check probe so a hung provider cannot
// stall the endpoint.
const probeTimeout = 10 * time.Second
