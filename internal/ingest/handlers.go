package ingest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/scrollguard/internal/validation"
)

// Handlers exposes the event ingestion HTTP surface.
type Handlers struct {
	service *Service
}

// NewHandlers creates ingestion HTTP handlers.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes mounts routes on the given group.
func (h *Handlers) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/events", h.postEvent)
	rg.GET("/identities/:address/session", h.getSession)
}

type authProofBody struct {
	Signature string `json:"signature"`
	Message   string `json:"message"`
}

type eventBody struct {
	IdentityKey     string        `json:"identity_key"`
	ContentID       string        `json:"content_id"`
	DurationSeconds float64       `json:"duration_seconds"`
	AuthProof       authProofBody `json:"auth_proof"`
}

// postEvent ingests one dwell event. Validation happens before any state
// is touched; auth failures and transient failures map to distinct codes
// so callers can tell "never retry" from "try again".
func (h *Handlers) postEvent(c *gin.Context) {
	var body eventBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "malformed event payload",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("identity_key", body.IdentityKey),
		validation.ValidAddress("identity_key", body.IdentityKey),
		validation.Required("content_id", body.ContentID),
		validation.MaxLength("content_id", body.ContentID, validation.MaxContentIDLength),
		validation.ValidDwell("duration_seconds", body.DurationSeconds),
		validation.Required("auth_proof.signature", body.AuthProof.Signature),
		validation.Required("auth_proof.message", body.AuthProof.Message),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "details": errs})
		return
	}

	result, err := h.service.Ingest(c.Request.Context(), Request{
		IdentityKey:     validation.SanitizeAddress(body.IdentityKey),
		ContentID:       validation.SanitizeString(body.ContentID, validation.MaxContentIDLength),
		DurationSeconds: body.DurationSeconds,
		Signature:       body.AuthProof.Signature,
		Message:         body.AuthProof.Message,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrVerificationFailed):
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "auth_failed",
				"message": "event proof does not match identity",
			})
		case errors.Is(err, ErrTransient):
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "temporarily_unavailable",
				"message": "could not apply event, safe to retry",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "could not apply event",
			})
		}
		return
	}

	resp := gin.H{
		"success": true,
		"score":   result.Score,
		"slashed": result.Slashed,
	}
	if result.Category != "" {
		resp["category"] = result.Category
	}
	c.JSON(http.StatusOK, resp)
}

// getSession returns the current scoring state for an identity.
func (h *Handlers) getSession(c *gin.Context) {
	sess, err := h.service.Inspect(c.Request.Context(), c.Param("address"))
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "temporarily_unavailable",
			"message": "could not load session",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"identity_key": sess.IdentityKey,
		"score":        sess.Score,
		"window_fill":  sess.WindowLen(),
		"last_update":  sess.LastUpdate,
	})
}
