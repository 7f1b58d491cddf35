// Package enrichment provides a thin client over the Qloo taste-graph API:
// entity search, taste insights, and audience demographics. The pipeline
// consumes it best-effort; every error here is non-fatal to persona
// generation.
package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/personahq/persona-engine/internal/domain"
	llmerrors "github.com/personahq/persona-engine/internal/llm/errors"
)

const (
	defaultBaseURL = "https://hackathon.api.qloo.com"

	// maxKeywords caps how many interest keywords are resolved per request.
	maxKeywords = 5

	// probeTimeout bounds the health-check search.
	probeTimeout = 10 * time.Second
)

// Config holds the enrichment service credentials.
type Config struct {
	APIKey  string `json:"-" koanf:"api_key"`
	BaseURL string `json:"base_url" koanf:"base_url"`
}

// Entity is one taste-graph entity returned by search or insights.
type Entity struct {
	EntityID string   `json:"entity_id"`
	Name     string   `json:"name"`
	Types    []string `json:"types"`
}

// Category returns the last segment of the entity's first type URN, or
// "unknown" when untyped.
func (e Entity) Category() string {
	if len(e.Types) == 0 {
		return "unknown"
	}
	parts := strings.Split(e.Types[0], ":")
	return parts[len(parts)-1]
}

// Client calls the taste-graph service. Safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an enrichment client. The API key is required; callers
// with no key should skip enrichment entirely rather than construct one.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		logger:     slog.Default().With("component", "enrichment"),
	}
}

// SearchEntities resolves a free-text query to taste-graph entities.
func (c *Client) SearchEntities(ctx context.Context, query string, limit int) ([]Entity, error) {
	if limit <= 0 {
		limit = 3
	}
	params := url.Values{}
	params.Set("query", query)
	params.Set("take", fmt.Sprintf("%d", limit))

	var out struct {
		Results []Entity `json:"results"`
	}
	if err := c.get(ctx, "/search", params, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// Insights returns entities culturally adjacent to the given seed entities,
// optionally filtered by audience age and gender.
func (c *Client) Insights(ctx context.Context, entityIDs []string, age, gender string) ([]Entity, error) {
	params := url.Values{}
	params.Set("filter.type", "urn:entity:brand")
	params.Set("signal.interests.entities", strings.Join(entityIDs, ","))
	if age != "" {
		params.Set("signal.demographics.age", normalizeAgeRange(age))
	}
	if gender != "" && gender != "any" {
		params.Set("signal.demographics.gender", gender)
	}

	var out struct {
		Results struct {
			Entities []Entity `json:"entities"`
		} `json:"results"`
	}
	if err := c.get(ctx, "/v2/insights", params, &out); err != nil {
		return nil, err
	}
	return out.Results.Entities, nil
}

// normalizeAgeRange maps a free-form form range like "25-40" onto the
// service's age buckets using the range midpoint. Unparseable input is
// passed through untouched.
func normalizeAgeRange(ageRange string) string {
	parts := strings.FieldsFunc(ageRange, func(r rune) bool { return r < '0' || r > '9' })
	if len(parts) == 0 {
		return ageRange
	}

	sum, count := 0, 0
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			continue
		}
		sum += n
		count++
	}
	if count == 0 {
		return ageRange
	}

	switch mid := sum / count; {
	case mid <= 35:
		return "35_and_younger"
	case mid < 55:
		return "36_to_55"
	default:
		return "55_and_older"
	}
}

// Demographics returns the audience age/gender distributions reported for
// the given entities.
func (c *Client) Demographics(ctx context.Context, entityIDs []string) (*domain.EnrichmentDemographics, error) {
	params := url.Values{}
	params.Set("filter.type", "urn:demographics")
	params.Set("signal.interests.entities", strings.Join(entityIDs, ","))

	var out struct {
		Results struct {
			Demographics []struct {
				Query struct {
					Age    map[string]float64 `json:"age"`
					Gender map[string]float64 `json:"gender"`
				} `json:"query"`
			} `json:"demographics"`
		} `json:"results"`
	}
	if err := c.get(ctx, "/v2/insights", params, &out); err != nil {
		return nil, err
	}
	if len(out.Results.Demographics) == 0 {
		return nil, nil
	}
	return &domain.EnrichmentDemographics{
		AgeDistribution:    out.Results.Demographics[0].Query.Age,
		GenderDistribution: out.Results.Demographics[0].Query.Gender,
	}, nil
}

// FetchTasteProfile resolves interest keywords to entities, expands them via
// insights, and assembles the enrichment payload attached to a persona.
// Returns nil (no error) when nothing resolves, so callers can distinguish
// "service failed" from "no signals found".
func (c *Client) FetchTasteProfile(ctx context.Context, keywords []string, audience domain.TargetAudience) (*domain.EnrichmentData, error) {
	if len(keywords) > maxKeywords {
		keywords = keywords[:maxKeywords]
	}

	var seedIDs []string
	signals := make([]domain.TasteSignal, 0, len(keywords)*2)
	for _, kw := range keywords {
		entities, err := c.SearchEntities(ctx, kw, 2)
		if err != nil {
			return nil, err
		}
		for _, e := range entities {
			seedIDs = append(seedIDs, e.EntityID)
			signals = append(signals, domain.TasteSignal{
				Name:      e.Name,
				Category:  e.Category(),
				Relevance: RelevanceScore(kw, e.Name),
			})
		}
	}

	if len(seedIDs) == 0 {
		return nil, nil
	}

	related, err := c.Insights(ctx, seedIDs, audience.AgeRange, audience.Gender)
	if err != nil {
		// Seed signals alone are still useful; log and keep them.
		c.logger.Warn("insights lookup failed, keeping seed signals only", "error", err)
	} else {
		for _, e := range related {
			signals = append(signals, domain.TasteSignal{
				Name:      e.Name,
				Category:  e.Category(),
				Relevance: RelevanceScore(strings.Join(keywords, " "), e.Name),
			})
		}
	}

	demographics, err := c.Demographics(ctx, seedIDs)
	if err != nil {
		c.logger.Warn("demographics lookup failed", "error", err)
		demographics = nil
	}

	return &domain.EnrichmentData{
		TasteSignals: signals,
		Demographics: demographics,
		Source:       "qloo",
		FetchedAt:    time.Now().UTC(),
	}, nil
}

// TestConnection performs a minimal search to verify credentials and
// reachability.
func (c *Client) TestConnection(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	_, err := c.SearchEntities(probeCtx, "coffee", 1)
	return err
}

// get performs an authenticated GET and decodes the JSON response.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &llmerrors.ExternalServiceError{
			Service:  "qloo",
			Endpoint: path,
			Message:  err.Error(),
			Type:     llmerrors.ErrorTypeExternal,
		}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &llmerrors.ExternalServiceError{
			Service:    "qloo",
			Endpoint:   path,
			StatusCode: resp.StatusCode,
			Message:    truncate(string(body), 200),
			Type:       llmerrors.ErrorTypeExternal,
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", path, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
