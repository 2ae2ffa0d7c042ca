package handlers

import (
	"net/http"
	"strings"
	"time"

	"fairwager/internal/service"

	"github.com/gin-gonic/gin"
)

type AuthRequest struct {
	Player    string `json:"player"`
	IssuedAt  int64  `json:"issued_at"`
	Signature string `json:"signature"`
}

// Challenge returns the message a wallet must sign to log in
func (h *Handler) Challenge(c *gin.Context) {
	p := strings.TrimSpace(c.Query("player"))
	if p == "" {
		badRequest(c, "player is required")
		return
	}
	issuedAt := time.Now().Unix()
	c.JSON(http.StatusOK, gin.H{
		"player":    p,
		"issued_at": issuedAt,
		"message":   service.LoginMessage(p, issuedAt),
	})
}

// Auth exchanges a signed login message for a session token
func (h *Handler) Auth(c *gin.Context) {
	var req AuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "bad request")
		return
	}

	pk, ok := service.ValidateWalletLogin(req.Player, req.IssuedAt, req.Signature, time.Now())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}
	p := pk.String()

	ctx := c.Request.Context()
	if h.Players != nil {
		if err := h.Players.Ensure(ctx, p); err != nil {
			writeError(c, err)
			return
		}
	}

	token, err := service.GenerateJWT(p)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token generation failed"})
		return
	}
	if h.Audit != nil {
		h.Audit.LogLogin(ctx, p, c.ClientIP(), c.Request.UserAgent())
	}

	c.JSON(http.StatusOK, gin.H{
		"token":  token,
		"player": p,
	})
}
