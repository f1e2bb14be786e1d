package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *ScrollGuardClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *ScrollGuardClient) *Handlers {
	return &Handlers{client: client}
}

// identityOrDefault resolves the identity argument, falling back to the
// configured identity.
func (h *Handlers) identityOrDefault(req mcp.CallToolRequest) string {
	if v := req.GetString("identity_key", ""); v != "" {
		return v
	}
	return h.client.cfg.IdentityKey
}

// HandleGetSession returns the live scoring state for an identity.
func (h *Handlers) HandleGetSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	identity := h.identityOrDefault(req)
	if identity == "" {
		return mcp.NewToolResultError("identity_key is required (none configured)"), nil
	}

	raw, err := h.client.GetSession(ctx, identity)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get session: %v", err)), nil
	}

	text, err := formatSession(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse session: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleCheckBalance returns the custodial balance for an identity.
func (h *Handlers) HandleCheckBalance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	identity := h.identityOrDefault(req)
	if identity == "" {
		return mcp.NewToolResultError("identity_key is required (none configured)"), nil
	}

	raw, err := h.client.GetBalance(ctx, identity)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check balance: %v", err)), nil
	}

	text, err := formatBalance(raw, identity)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse balance: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleListPenalties lists penalty jobs for an identity.
func (h *Handlers) HandleListPenalties(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	identity := h.identityOrDefault(req)
	if identity == "" {
		return mcp.NewToolResultError("identity_key is required (none configured)"), nil
	}
	limit := req.GetInt("limit", 20)

	raw, err := h.client.ListPenalties(ctx, identity, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list penalties: %v", err)), nil
	}

	text, err := formatJobList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse penalties: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleRunAudit submits historical timestamps for offline analysis.
func (h *Handlers) HandleRunAudit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw := req.GetArguments()["timestamps"]
	arr, ok := raw.([]any)
	if !ok || len(arr) == 0 {
		return mcp.NewToolResultError("timestamps is required and must be a non-empty array"), nil
	}

	timestamps := make([]string, 0, len(arr))
	for _, v := range arr {
		s, ok := v.(string)
		if !ok {
			return mcp.NewToolResultError("timestamps must be strings in ISO-8601 format"), nil
		}
		timestamps = append(timestamps, s)
	}

	resp, err := h.client.RunAudit(ctx, timestamps)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Audit failed: %v", err)), nil
	}

	text, err := formatAudit(resp, len(timestamps))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse audit result: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleListFailedJobs lists penalty jobs by status across all identities.
func (h *Handlers) HandleListFailedJobs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if h.client.cfg.AdminSecret == "" {
		return mcp.NewToolResultError("admin secret is not configured"), nil
	}
	status := req.GetString("status", "failed_permanent")
	limit := req.GetInt("limit", 50)

	raw, err := h.client.ListJobsByStatus(ctx, status, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list jobs: %v", err)), nil
	}

	text, err := formatJobList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse jobs: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetPenaltyJob fetches one penalty job by ID.
func (h *Handlers) HandleGetPenaltyJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if h.client.cfg.AdminSecret == "" {
		return mcp.NewToolResultError("admin secret is not configured"), nil
	}
	jobID := req.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id is required"), nil
	}

	raw, err := h.client.GetJob(ctx, jobID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get job: %v", err)), nil
	}

	return mcp.NewToolResultText(formatJSON(raw)), nil
}

// --- Formatting helpers ---

func formatSession(raw json.RawMessage) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("Scoring Session:\n")
	if v := getString(m, "identity_key"); v != "" {
		sb.WriteString(fmt.Sprintf("  Identity: %s\n", v))
	}
	if v, ok := getFloat(m, "score"); ok {
		sb.WriteString(fmt.Sprintf("  Score: %.1f\n", v))
	}
	if v, ok := getFloat(m, "window_fill"); ok {
		sb.WriteString(fmt.Sprintf("  Window fill: %.0f events\n", v))
	}
	if v := getString(m, "last_update"); v != "" {
		sb.WriteString(fmt.Sprintf("  Last update: %s\n", v))
	}

	return sb.String(), nil
}

func formatBalance(raw json.RawMessage, identity string) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("Custodial Balance:\n")
	sb.WriteString(fmt.Sprintf("  Identity: %s\n", identity))
	if v := getString(m, "balance", "available"); v != "" {
		sb.WriteString(fmt.Sprintf("  Available: %s USDC\n", v))
	}

	return sb.String(), nil
}

func formatJobList(raw json.RawMessage) (string, error) {
	jobs, err := parseJobs(raw)
	if err != nil {
		return "", err
	}
	if len(jobs) == 0 {
		return "No penalty jobs found.", nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d penalty job(s):\n\n", len(jobs)))
	for i, j := range jobs {
		sb.WriteString(fmt.Sprintf("%d. %s [%s]\n", i+1, getString(j, "id"), getString(j, "status")))
		if v := getString(j, "identity_key"); v != "" {
			sb.WriteString(fmt.Sprintf("   Identity: %s\n", v))
		}
		if v, ok := getFloat(j, "triggering_score"); ok {
			sb.WriteString(fmt.Sprintf("   Triggered at score: %.1f\n", v))
		}
		if v := getString(j, "amount"); v != "" {
			sb.WriteString(fmt.Sprintf("   Amount: %s USDC\n", v))
		}
		if v, ok := getFloat(j, "attempts"); ok && v > 0 {
			sb.WriteString(fmt.Sprintf("   Attempts: %.0f\n", v))
		}
		if v := getString(j, "last_error"); v != "" {
			sb.WriteString(fmt.Sprintf("   Last error: %s\n", v))
		}
		if v := getString(j, "tx_ref"); v != "" {
			sb.WriteString(fmt.Sprintf("   Settlement ref: %s\n", v))
		}
		if i < len(jobs)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

func parseJobs(raw json.RawMessage) ([]map[string]any, error) {
	// Try as {"penalties": [...]} or {"jobs": [...]}
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapper); err == nil {
		for _, key := range []string{"penalties", "jobs"} {
			if inner, ok := wrapper[key]; ok {
				var jobs []map[string]any
				if err := json.Unmarshal(inner, &jobs); err == nil {
					return jobs, nil
				}
			}
		}
	}

	// Try as direct array
	var jobs []map[string]any
	if err := json.Unmarshal(raw, &jobs); err == nil {
		return jobs, nil
	}

	return nil, fmt.Errorf("unexpected jobs response format")
}

func formatAudit(raw json.RawMessage, eventCount int) (string, error) {
	var resp struct {
		Analysis []map[string]any `json:"analysis"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	if len(resp.Analysis) == 0 {
		return fmt.Sprintf("Analyzed %d event(s): no sessions retained (all below the noise floor).", eventCount), nil
	}

	pathological := 0
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Analyzed %d event(s) into %d session(s):\n\n", eventCount, len(resp.Analysis)))
	for i, s := range resp.Analysis {
		flag := ""
		if v, ok := s["pathological"].(bool); ok && v {
			flag = " [PATHOLOGICAL]"
			pathological++
		}
		sb.WriteString(fmt.Sprintf("%d. Session starting %s%s\n", i+1, getString(s, "start_time"), flag))
		if v, ok := getFloat(s, "event_count"); ok {
			sb.WriteString(fmt.Sprintf("   Events: %.0f\n", v))
		}
		if v, ok := getFloat(s, "velocity"); ok {
			sb.WriteString(fmt.Sprintf("   Velocity: %.1f events/min\n", v))
		}
		if v, ok := getFloat(s, "variance"); ok {
			sb.WriteString(fmt.Sprintf("   Dwell variance: %.2f\n", v))
		}
		if i < len(resp.Analysis)-1 {
			sb.WriteString("\n")
		}
	}

	if pathological > 0 {
		sb.WriteString(fmt.Sprintf("\n%d session(s) flagged as pathological doomscrolling.", pathological))
	}
	return sb.String(), nil
}

func formatJSON(raw json.RawMessage) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}

// getFloat extracts a float64 value from a map, trying multiple key names.
func getFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}
