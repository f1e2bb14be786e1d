package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the ScrollGuard MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolGetSession = mcp.NewTool("get_session",
	mcp.WithDescription(
		"Get the live compulsive-use score for an identity on ScrollGuard. "+
			"Shows the current score, how full the sliding dwell window is, and when the last event landed. "+
			"A score approaching the penalty threshold means a slash is imminent."),
	mcp.WithString("identity_key",
		mcp.Description("The identity's address (e.g. '0x1234...'). Defaults to the configured identity.")),
)

var ToolCheckBalance = mcp.NewTool("check_balance",
	mcp.WithDescription(
		"Check an identity's custodial USDC balance on ScrollGuard. "+
			"This is the stake penalties are slashed from."),
	mcp.WithString("identity_key",
		mcp.Description("The identity's address. Defaults to the configured identity.")),
)

var ToolListPenalties = mcp.NewTool("list_penalties",
	mcp.WithDescription(
		"List penalty jobs recorded against an identity, newest first. "+
			"Shows each job's status (queued/in_progress/succeeded/failed), "+
			"the score that triggered it, and the slash amount in USDC."),
	mcp.WithString("identity_key",
		mcp.Description("The identity's address. Defaults to the configured identity.")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of jobs to return (default 20)")),
)

var ToolRunAudit = mcp.NewTool("run_audit",
	mcp.WithDescription(
		"Analyze a batch of historical dwell-event timestamps offline. "+
			"Reconstructs browsing sessions, computes per-session cadence statistics, "+
			"and flags pathological doomscrolling bursts. "+
			"Input order does not matter and the analysis never touches live scores."),
	mcp.WithArray("timestamps",
		mcp.Required(),
		mcp.Description("Event timestamps in ISO-8601 / RFC 3339 (e.g. '2026-01-15T23:04:05Z')")),
)

var ToolListFailedJobs = mcp.NewTool("list_failed_jobs",
	mcp.WithDescription(
		"Operator tool: list penalty jobs by status across all identities. "+
			"Defaults to permanently failed jobs, which need manual review. "+
			"Requires the admin secret to be configured."),
	mcp.WithString("status",
		mcp.Description("Job status filter"),
		mcp.Enum("queued", "in_progress", "succeeded", "failed_retryable", "failed_permanent")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of jobs to return (default 50)")),
)

var ToolGetPenaltyJob = mcp.NewTool("get_penalty_job",
	mcp.WithDescription(
		"Operator tool: fetch one penalty job by ID, including attempt count, "+
			"last error, and settlement reference. Requires the admin secret."),
	mcp.WithString("job_id",
		mcp.Required(),
		mcp.Description("The penalty job ID (e.g. 'job_...')")),
)
