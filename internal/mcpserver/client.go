package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to the ScrollGuard platform.
type Config struct {
	APIURL      string // Base URL, e.g. "http://localhost:8080"
	IdentityKey string // Identity address the tools act for, e.g. "0x..."
	AdminSecret string // Optional, unlocks the admin job tools
}

// ScrollGuardClient is a pure HTTP client for the ScrollGuard platform API.
type ScrollGuardClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewScrollGuardClient creates a new client for the ScrollGuard platform.
func NewScrollGuardClient(cfg Config) *ScrollGuardClient {
	return &ScrollGuardClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the platform.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the platform and returns the response body.
func (c *ScrollGuardClient) doRequest(ctx context.Context, method, path string, query url.Values, body any, admin bool) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if admin {
		req.Header.Set("X-Admin-Secret", c.cfg.AdminSecret)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// GetSession returns the current scoring session for an identity.
func (c *ScrollGuardClient) GetSession(ctx context.Context, identityKey string) (json.RawMessage, error) {
	path := "/v1/identities/" + identityKey + "/session"
	return c.doRequest(ctx, http.MethodGet, path, nil, nil, false)
}

// GetBalance returns the custodial USDC balance for an identity.
func (c *ScrollGuardClient) GetBalance(ctx context.Context, identityKey string) (json.RawMessage, error) {
	path := "/v1/identities/" + identityKey + "/balance"
	return c.doRequest(ctx, http.MethodGet, path, nil, nil, false)
}

// ListPenalties lists penalty jobs recorded against an identity.
func (c *ScrollGuardClient) ListPenalties(ctx context.Context, identityKey string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/identities/" + identityKey + "/penalties"
	return c.doRequest(ctx, http.MethodGet, path, q, nil, false)
}

// RunAudit submits an event history for offline session analysis.
func (c *ScrollGuardClient) RunAudit(ctx context.Context, timestamps []string) (json.RawMessage, error) {
	events := make([]map[string]string, 0, len(timestamps))
	for _, ts := range timestamps {
		events = append(events, map[string]string{"timestamp": ts})
	}
	body := map[string]any{"events": events}
	return c.doRequest(ctx, http.MethodPost, "/v1/audit", nil, body, false)
}

// ListJobsByStatus lists penalty jobs across all identities. Requires admin.
func (c *ScrollGuardClient) ListJobsByStatus(ctx context.Context, status string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/admin/penalties", q, nil, true)
}

// GetJob fetches one penalty job by ID. Requires admin.
func (c *ScrollGuardClient) GetJob(ctx context.Context, jobID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/admin/penalties/"+jobID, nil, nil, true)
}
