package http

import (
	"time"

	"fairwager/internal/http/handlers"
	"fairwager/internal/http/middleware"
	"fairwager/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Limits are requests per window; zero disables the limiter
type Limits struct {
	API, Auth, Game                   int
	APIWindow, AuthWindow, GameWindow time.Duration
}

type Options struct {
	Limits        Limits
	AdminToken    string
	AllowedOrigin string
}

func RegisterRoutes(r *gin.Engine, h *handlers.Handler, health *handlers.HealthHandler, hub *ws.Hub, opts Options) {
	// Health checks (no rate limiting)
	r.GET("/health", health.Health)
	r.GET("/healthz", health.Liveness)
	r.GET("/readyz", health.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	if opts.Limits.API > 0 {
		v1.Use(middleware.RateLimit(opts.Limits.API, opts.Limits.APIWindow))
	}

	// Auth
	authRL := passthrough
	if opts.Limits.Auth > 0 {
		authRL = middleware.RateLimit(opts.Limits.Auth, opts.Limits.AuthWindow)
	}
	v1.GET("/auth/challenge", h.Challenge)
	v1.POST("/auth", authRL, h.Auth)

	// Game rules
	v1.GET("/games", h.ListGames)
	v1.GET("/games/:kind/info", h.GameInfo)

	// Public fairness proofs
	v1.GET("/rounds/:nonce/reveal", h.Reveal)
	v1.GET("/rounds/:nonce/verify", h.Verify)

	// Game rate limiter middleware (per player, not per IP)
	gameRL := passthrough
	if opts.Limits.Game > 0 {
		gameRL = middleware.GameRateLimit(opts.Limits.Game, opts.Limits.GameWindow)
	}

	rounds := v1.Group("/rounds", middleware.JWT())
	{
		rounds.POST("", gameRL, h.CreateRound)
		rounds.GET("/active", h.ActiveRounds)
		rounds.GET("/:nonce", h.GetRound)
		rounds.POST("/:nonce/lock", gameRL, h.LockRound)
		rounds.POST("/:nonce/actions", gameRL, h.RoundAction)
		rounds.POST("/:nonce/resolve", h.ResolveRound)
	}
	v1.GET("/history", middleware.JWT(), h.History)

	if h.Admin != nil {
		admin := v1.Group("/admin", middleware.AdminToken(opts.AdminToken))
		{
			admin.GET("/stats", h.AdminStats)
			admin.POST("/promo", h.AdminGrantPromo)
			admin.GET("/audit/players/:player", h.PlayerAudit)
			admin.GET("/audit/rounds/:nonce", h.RoundAudit)
		}
	}

	// Live round events
	r.GET("/ws", ws.HandleWS(hub, h.Engine, opts.AllowedOrigin))
}

func passthrough(c *gin.Context) { c.Next() }
