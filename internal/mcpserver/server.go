package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all ScrollGuard tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("scrollguard", "1.0.0")
	client := NewScrollGuardClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolGetSession, h.HandleGetSession)
	s.AddTool(ToolCheckBalance, h.HandleCheckBalance)
	s.AddTool(ToolListPenalties, h.HandleListPenalties)
	s.AddTool(ToolRunAudit, h.HandleRunAudit)
	s.AddTool(ToolListFailedJobs, h.HandleListFailedJobs)
	s.AddTool(ToolGetPenaltyJob, h.HandleGetPenaltyJob)

	return s
}
