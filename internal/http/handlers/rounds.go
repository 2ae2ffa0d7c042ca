package handlers

import (
	"net/http"
	"strconv"

	"fairwager/internal/game"
	"fairwager/internal/http/middleware"
	"fairwager/internal/round"

	"github.com/gin-gonic/gin"
)

// CreateRound commits a new round. With ?lock=true the stake is locked in the same request.
func (h *Handler) CreateRound(c *gin.Context) {
	p, ok := player(c)
	if !ok {
		return
	}
	var req round.PlaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "bad request")
		return
	}
	req.Player = p

	create := h.Engine.Create
	if c.Query("lock") == "true" {
		create = h.Engine.Place
	}
	r, err := create(c.Request.Context(), req)
	if err != nil {
		// a placed round that failed to lock still exists; hand back its nonce
		if r != nil {
			c.JSON(StatusFor(err), gin.H{"error": errorBody(err), "round": r})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (h *Handler) LockRound(c *gin.Context) {
	p, ok := player(c)
	if !ok {
		return
	}
	nonce, ok := nonceParam(c)
	if !ok {
		return
	}
	r, err := h.Engine.Lock(c.Request.Context(), p, nonce)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// RoundAction applies one in-play move: {"type":"open_cell","cell":7} or {"type":"drop"}
func (h *Handler) RoundAction(c *gin.Context) {
	p, ok := player(c)
	if !ok {
		return
	}
	nonce, ok := nonceParam(c)
	if !ok {
		return
	}
	var a game.Action
	if err := c.ShouldBindJSON(&a); err != nil {
		badRequest(c, "bad request")
		return
	}
	r, err := h.Engine.Step(c.Request.Context(), p, nonce, a)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// ResolveRound settles the round, cashing out multi-step games
func (h *Handler) ResolveRound(c *gin.Context) {
	p, ok := player(c)
	if !ok {
		return
	}
	nonce, ok := nonceParam(c)
	if !ok {
		return
	}
	r, err := h.Engine.Resolve(c.Request.Context(), p, nonce)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handler) GetRound(c *gin.Context) {
	p, ok := player(c)
	if !ok {
		return
	}
	nonce, ok := nonceParam(c)
	if !ok {
		return
	}
	r, err := h.Engine.Get(c.Request.Context(), p, nonce)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handler) ActiveRounds(c *gin.Context) {
	p, ok := player(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"rounds": h.Engine.Active(c.Request.Context(), p)})
}

// Reveal discloses the server seed of a finished round. Anyone holding the nonce may ask.
func (h *Handler) Reveal(c *gin.Context) {
	nonce, ok := nonceParam(c)
	if !ok {
		return
	}
	rev, err := h.Engine.Reveal(c.Request.Context(), nonce)
	if err != nil {
		writeError(c, err)
		return
	}
	if h.Audit != nil {
		viewer, _ := middleware.Player(c)
		h.Audit.LogReveal(c.Request.Context(), viewer, nonce, c.ClientIP())
	}
	c.JSON(http.StatusOK, rev)
}

// Verify recomputes a finished round from its reveal
func (h *Handler) Verify(c *gin.Context) {
	nonce, ok := nonceParam(c)
	if !ok {
		return
	}
	res, err := h.Engine.Verify(c.Request.Context(), nonce)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// History pages through the player's finished rounds, newest first
func (h *Handler) History(c *gin.Context) {
	p, ok := player(c)
	if !ok {
		return
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(c, "invalid limit")
			return
		}
		limit = n
	}
	page, err := h.Engine.History(c.Request.Context(), p, c.Query("cursor"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}
