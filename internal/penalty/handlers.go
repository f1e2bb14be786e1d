package penalty

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handlers exposes read-only penalty job inspection endpoints.
type Handlers struct {
	queue Queue
}

// NewHandlers creates penalty HTTP handlers.
func NewHandlers(queue Queue) *Handlers {
	return &Handlers{queue: queue}
}

// RegisterRoutes mounts identity-scoped routes on the given group.
func (h *Handlers) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/identities/:address/penalties", h.listForIdentity)
}

// RegisterAdminRoutes mounts operator routes on the given group.
func (h *Handlers) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.GET("/penalties", h.listByStatus)
	rg.GET("/penalties/:id", h.getJob)
}

// listForIdentity returns recent penalty jobs for one identity.
func (h *Handlers) listForIdentity(c *gin.Context) {
	limit := parseLimit(c.DefaultQuery("limit", "20"))

	jobs, err := h.queue.ListByIdentity(c.Request.Context(), c.Param("address"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "could not list penalty jobs",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "jobs": jobs, "count": len(jobs)})
}

// listByStatus returns jobs in a given state, defaulting to permanent failures
// so operators see what needs attention first.
func (h *Handlers) listByStatus(c *gin.Context) {
	status := Status(c.DefaultQuery("status", string(StatusFailedPermanent)))
	switch status {
	case StatusQueued, StatusInProgress, StatusSucceeded, StatusFailedRetryable, StatusFailedPermanent:
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_status",
			"message": "unknown job status: " + string(status),
		})
		return
	}

	limit := parseLimit(c.DefaultQuery("limit", "50"))

	jobs, err := h.queue.ListByStatus(c.Request.Context(), status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "could not list penalty jobs",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "status": status, "jobs": jobs, "count": len(jobs)})
}

func (h *Handlers) getJob(c *gin.Context) {
	job, err := h.queue.Get(c.Request.Context(), c.Param("id"))
	if err == ErrJobNotFound {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "job_not_found",
			"message": "no penalty job with that ID",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "lookup_failed",
			"message": "could not load penalty job",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "job": job})
}

func parseLimit(raw string) int {
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > 500 {
		return 50
	}
	return limit
}
