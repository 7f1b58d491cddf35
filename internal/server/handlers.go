package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/personahq/persona-engine/internal/domain"
	"github.com/personahq/persona-engine/internal/llm/retry"
)

// handleGenerate runs the full pipeline for one form submission.
// 201 with the persona on success; 400 with a human-readable error when the
// input is invalid or the pipeline fails outright. Panics become 500 via the
// recovery middleware.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var form domain.PersonaFormData
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		writeJSON(w, http.StatusBadRequest, domain.PersonaGenerationResult{
			Success: false,
			Error:   "request body is not valid JSON",
		})
		return
	}

	if err := s.validate.Struct(form); err != nil {
		writeJSON(w, http.StatusBadRequest, domain.PersonaGenerationResult{
			Success: false,
			Error:   validationMessage(err),
		})
		return
	}

	result := s.generator.GeneratePersona(r.Context(), form)
	if !result.Success {
		writeJSON(w, http.StatusBadRequest, result)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// healthResponse reports per-dependency connectivity. The endpoint itself
// always answers 200; failures show up as false flags.
type healthResponse struct {
	Status     string          `json:"status"`
	Providers  map[string]bool `json:"providers"`
	Enrichment bool            `json:"enrichment"`
	AllHealthy bool            `json:"all_healthy"`
	RetryStats retry.Stats     `json:"retry_stats"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	names := s.llm.Providers()
	resp := healthResponse{
		Status:     "ok",
		Providers:  make(map[string]bool, len(names)),
		RetryStats: s.llm.Retryer().Stats(),
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			err := s.llm.TestConnection(ctx, name)
			if err != nil {
				s.logger.Warn("provider health probe failed", "provider", name, "error", err)
			}
			mu.Lock()
			resp.Providers[name] = err == nil
			mu.Unlock()
		}(name)
	}

	enrichmentOK := false
	if s.enricher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.enricher.TestConnection(ctx)
			if err != nil {
				s.logger.Warn("enrichment health probe failed", "error", err)
			}
			mu.Lock()
			enrichmentOK = err == nil
			mu.Unlock()
		}()
	}
	wg.Wait()

	resp.Enrichment = enrichmentOK
	resp.AllHealthy = enrichmentOK || s.enricher == nil
	for _, ok := range resp.Providers {
		if !ok {
			resp.AllHealthy = false
		}
	}
	if len(resp.Providers) == 0 {
		resp.AllHealthy = false
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// validationMessage flattens validator errors into one readable line
// naming the offending fields.
func validationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return "invalid request"
	}
	msg := "invalid request:"
	for i, fe := range verrs {
		if i > 0 {
			msg += ","
		}
		msg += " " + fe.Namespace() + " failed " + fe.Tag() + " validation"
	}
	return msg
}
