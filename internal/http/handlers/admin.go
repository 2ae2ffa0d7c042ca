package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type GrantPromoRequest struct {
	Player string `json:"player"`
	Amount uint64 `json:"amount"`
}

func (h *Handler) AdminStats(c *gin.Context) {
	stats, err := h.Admin.GetStats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// AdminGrantPromo credits promotional balance to a player
func (h *Handler) AdminGrantPromo(c *gin.Context) {
	var req GrantPromoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "bad request")
		return
	}
	p, err := h.Admin.GrantPromo(c.Request.Context(), req.Player, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) PlayerAudit(c *gin.Context) {
	logs, err := h.Audit.GetPlayerAuditLogs(c.Request.Context(), c.Param("player"), 100)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// RoundAudit returns every recorded transition of one round, oldest first
func (h *Handler) RoundAudit(c *gin.Context) {
	nonce, ok := nonceParam(c)
	if !ok {
		return
	}
	logs, err := h.Audit.GetRoundAuditLogs(c.Request.Context(), nonce)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}
