package vault

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/scrollguard/internal/validation"
)

// Handlers exposes custodial balance endpoints.
type Handlers struct {
	vault *Vault
}

// NewHandlers creates vault HTTP handlers.
func NewHandlers(vault *Vault) *Handlers {
	return &Handlers{vault: vault}
}

// RegisterRoutes mounts identity-scoped routes on the given group.
func (h *Handlers) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/identities/:address/balance", h.getBalance)
}

// RegisterAdminRoutes mounts operator routes on the given group.
// Deposits are an operator action; users fund balances out of band.
func (h *Handlers) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.POST("/identities/:address/deposit", h.deposit)
}

func (h *Handlers) getBalance(c *gin.Context) {
	balance, err := h.vault.Balance(c.Request.Context(), c.Param("address"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "balance_failed",
			"message": "could not read balance",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"address": validation.SanitizeAddress(c.Param("address")),
		"balance": balance,
	})
}

type depositRequest struct {
	Amount string `json:"amount" binding:"required"`
}

func (h *Handlers) deposit(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "amount is required",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("amount", req.Amount),
		validation.ValidAmount("amount", req.Amount),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "details": errs})
		return
	}

	if err := h.vault.Deposit(c.Request.Context(), c.Param("address"), req.Amount); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "deposit_failed",
			"message": "could not credit balance",
		})
		return
	}

	balance, _ := h.vault.Balance(c.Request.Context(), c.Param("address"))
	c.JSON(http.StatusOK, gin.H{"success": true, "balance": balance})
}
