// Package audit exposes the batch history analyzer over HTTP.
package audit

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/scrollguard/internal/scoring"
)

// maxHistoryEvents bounds one audit upload.
const maxHistoryEvents = 50000

// Handlers serves batch audit requests.
type Handlers struct {
	engine *scoring.Engine
}

// NewHandlers creates audit HTTP handlers.
func NewHandlers(engine *scoring.Engine) *Handlers {
	return &Handlers{engine: engine}
}

// RegisterRoutes mounts routes on the given group.
func (h *Handlers) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/audit", h.analyze)
}

type historyEventBody struct {
	Timestamp string `json:"timestamp"`
}

type auditRequest struct {
	Events []historyEventBody `json:"events"`
}

// analyze reconstructs sessions from an uploaded event history. The input
// may be unordered; the analysis is stateless and idempotent.
func (h *Handlers) analyze(c *gin.Context) {
	var req auditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "malformed audit payload",
		})
		return
	}

	if len(req.Events) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "events must be non-empty",
		})
		return
	}
	if len(req.Events) > maxHistoryEvents {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "too many events in one upload",
		})
		return
	}

	events := make([]scoring.HistoryEvent, 0, len(req.Events))
	for i, ev := range req.Events {
		ts, err := time.Parse(time.RFC3339, ev.Timestamp)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_timestamp",
				"message": "timestamps must be ISO-8601",
				"details": gin.H{"index": i, "value": ev.Timestamp},
			})
			return
		}
		events = append(events, scoring.HistoryEvent{Timestamp: ts})
	}

	analysis := h.engine.AnalyzeHistory(events)
	if analysis == nil {
		analysis = []scoring.AuditSession{}
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "analysis": analysis})
}
