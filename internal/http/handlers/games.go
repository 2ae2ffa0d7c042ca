package handlers

import (
	"net/http"

	"fairwager/internal/domain"
	"fairwager/internal/settlement"

	"github.com/gin-gonic/gin"
)

// gameQuery mirrors domain.GameParams for query-string binding
type gameQuery struct {
	Threshold  int    `form:"threshold"`
	Direction  string `form:"direction"`
	Face       string `form:"face"`
	Mines      int    `form:"mines"`
	Rows       int    `form:"rows"`
	Difficulty string `form:"difficulty"`
	Balls      int    `form:"balls"`
	TargetBps  uint64 `form:"target_bps"`
}

func (q gameQuery) params() domain.GameParams {
	return domain.GameParams{
		Threshold:  q.Threshold,
		Direction:  q.Direction,
		Face:       q.Face,
		Mines:      q.Mines,
		Rows:       q.Rows,
		Difficulty: q.Difficulty,
		Balls:      q.Balls,
		TargetBps:  q.TargetBps,
	}
}

// GameInfoResponse describes the rules a new round of one game is played under
type GameInfoResponse struct {
	Game             domain.GameKind   `json:"game"`
	RTPBps           uint32            `json:"rtp_bps"`
	RTP              string            `json:"rtp_percent"`
	FeeBps           uint32            `json:"fee_bps"`
	MinStake         uint64            `json:"min_stake"`
	MaxStake         uint64            `json:"max_stake,omitempty"`
	Params           domain.GameParams `json:"params"`
	MaxMultiplierBps uint64            `json:"max_multiplier_bps,omitempty"`
	MaxMultiplier    string            `json:"max_multiplier,omitempty"`
	Formula          string            `json:"formula,omitempty"`
}

// GameInfo returns the house edge and, when the query carries valid params,
// the exact payout formula a round with those params would use
func (h *Handler) GameInfo(c *gin.Context) {
	kind := domain.GameKind(c.Param("kind"))
	g, err := h.Games.For(kind)
	if err != nil {
		writeError(c, err)
		return
	}
	var q gameQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "invalid params")
		return
	}

	rtp, fee := h.Engine.RTPFor(kind), h.Engine.FeeFor(kind)
	minStake, maxStake := h.Engine.Limits()
	resp := GameInfoResponse{
		Game:     kind,
		RTPBps:   rtp,
		RTP:      settlement.FormatPercent(uint64(rtp)),
		FeeBps:   fee,
		MinStake: minStake,
		MaxStake: maxStake,
		Params:   q.params(),
	}
	if g.Validate(resp.Params) == nil {
		resp.MaxMultiplierBps = g.MaxMultiplierBps(resp.Params, rtp)
		resp.MaxMultiplier = settlement.FormatMultiplier(resp.MaxMultiplierBps)
		resp.Formula = g.Formula(resp.Params, rtp, fee)
	}
	c.JSON(http.StatusOK, resp)
}

// ListGames lists every playable kind with its house edge
func (h *Handler) ListGames(c *gin.Context) {
	out := make([]gin.H, 0, len(domain.AllGames))
	for _, kind := range domain.AllGames {
		out = append(out, gin.H{
			"game":    kind,
			"rtp_bps": h.Engine.RTPFor(kind),
			"fee_bps": h.Engine.FeeFor(kind),
		})
	}
	c.JSON(http.StatusOK, gin.H{"games": out})
}
