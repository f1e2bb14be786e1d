// Package classifier resolves content identifiers to coarse categories via
// an external classification service that may be unavailable.
//
// The result is always a tagged value: either a category or "unavailable".
// Failure handling lives here, never in the scoring engine.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mbd888/scrollguard/internal/circuitbreaker"
	"github.com/mbd888/scrollguard/internal/metrics"
	"github.com/mbd888/scrollguard/internal/scoring"
)

// Client classifies a content identifier. Implementations never return an
// error; total unavailability is expressed in the result tag.
type Client interface {
	Classify(ctx context.Context, contentID string) scoring.Classification
}

// Noop always reports the classifier unavailable. Used when no classifier
// endpoint is configured.
type Noop struct{}

var _ Client = Noop{}

func (Noop) Classify(context.Context, string) scoring.Classification {
	return scoring.Unavailable
}

const breakerKey = "classifier"

// HTTPClient calls an external classification service behind a circuit
// breaker, falling back to a keyword heuristic on the content identifier
// when the service fails or the circuit is open.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a classifier client for the given service URL.
func NewHTTPClient(baseURL string, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 3 * time.Second},
		breaker: circuitbreaker.New(5, 30*time.Second),
		logger:  logger,
	}
}

type classifyResponse struct {
	Category string `json:"category"`
}

// Classify asks the service for a category, degrading to the keyword
// heuristic and finally to "unavailable".
func (c *HTTPClient) Classify(ctx context.Context, contentID string) scoring.Classification {
	if c.breaker.Allow(breakerKey) {
		if category, err := c.call(ctx, contentID); err == nil {
			c.breaker.RecordSuccess(breakerKey)
			metrics.ClassifierRequestsTotal.WithLabelValues("classified").Inc()
			return scoring.Classification{Category: category, Status: scoring.StatusClassified}
		} else {
			c.breaker.RecordFailure(breakerKey)
			c.logger.Warn("classifier call failed, using keyword fallback",
				"content_id", contentID, "error", err)
		}
	}

	if category, ok := keywordCategory(contentID); ok {
		metrics.ClassifierRequestsTotal.WithLabelValues("classified").Inc()
		return scoring.Classification{Category: category, Status: scoring.StatusClassified}
	}

	metrics.ClassifierRequestsTotal.WithLabelValues("unavailable").Inc()
	return scoring.Unavailable
}

func (c *HTTPClient) call(ctx context.Context, contentID string) (string, error) {
	endpoint := c.baseURL + "/classify?content_id=" + url.QueryEscape(contentID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("classifier returned %d", resp.StatusCode)
	}

	var body classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode classifier response: %w", err)
	}
	if body.Category == "" {
		return "", fmt.Errorf("classifier returned empty category")
	}
	return body.Category, nil
}

// keywordCategory is the crude fallback heuristic over the content ID.
func keywordCategory(contentID string) (string, bool) {
	id := strings.ToLower(contentID)
	switch {
	case strings.Contains(id, "short"), strings.Contains(id, "reel"), strings.Contains(id, "clip"):
		return "shorts", true
	case strings.Contains(id, "news"):
		return "news", true
	case strings.Contains(id, "learn"), strings.Contains(id, "course"), strings.Contains(id, "doc"):
		return "education", true
	default:
		return "", false
	}
}
