package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fairwager/internal/config"
	"fairwager/internal/custody"
	"fairwager/internal/db"
	"fairwager/internal/domain"
	"fairwager/internal/fairness"
	"fairwager/internal/game"
	httpServer "fairwager/internal/http"
	"fairwager/internal/http/handlers"
	"fairwager/internal/http/middleware"
	"fairwager/internal/logger"
	"fairwager/internal/migrations"
	"fairwager/internal/repository"
	"fairwager/internal/round"
	"fairwager/internal/service"
	"fairwager/internal/ws"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gin-gonic/gin"
)

var version = "dev"

func main() {
	cfg := config.Load()
	logger.InitWithFile(cfg.LogLevel, cfg.LogJSON, cfg.LogFile)
	service.InitJWT(cfg.JWTSecret)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := migrate(ctx, cfg.DatabaseURL); err != nil {
		logger.Fatal("migrations failed", "error", err)
	}

	dbPool := db.Connect(cfg.DatabaseURL)
	defer dbPool.Close()

	sealer, err := fairness.NewSealer(cfg.SeedSealKey)
	if err != nil {
		logger.Fatal("invalid seed seal key", "error", err)
	}

	rounds := repository.NewRoundRepository(dbPool, sealer)
	players := repository.NewPlayerRepository(dbPool)
	auditSvc := service.NewAuditService(repository.NewAuditRepository(dbPool))

	checks := map[string]handlers.Pinger{"db": dbPool.Ping}

	var session round.SessionMirror
	if cfg.RedisAddr != "" {
		client, err := repository.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			// the cache and limiters are optional; keep serving without them
			logger.Warn("redis unavailable, using in-process rate limits", "error", err)
		} else {
			defer client.Close()
			middleware.UseRedis(client)
			session = repository.NewSessionCache(client, cfg.SessionTTL)
			checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		}
	}

	backends := []custody.Custodian{custody.NewPromotionalLedger(repository.NewLedgerRepository(dbPool))}
	if cfg.EscrowEnabled() {
		escrowCfg, err := custody.ParseEscrowConfig(cfg.EscrowProgramID, cfg.HouseKey, cfg.ConfirmRetries, cfg.ConfirmBackoff)
		if err != nil {
			logger.Fatal("invalid escrow configuration", "error", err)
		}
		backends = append(backends, custody.NewEscrow(rpc.New(cfg.SolanaRPCURL), escrowCfg))
		logger.Info("escrow custody enabled", "program", escrowCfg.ProgramID.String())
	} else {
		logger.Warn("escrow custody disabled, only promotional rounds can be played")
	}

	var slots *game.SlotsTable
	if cfg.SlotsTablePath != "" {
		if slots, err = game.LoadSlotsTable(cfg.SlotsTablePath); err != nil {
			logger.Fatal("invalid slots table", "error", err)
		}
	}
	games := game.NewRegistry(slots)
	if err := games.CheckSlotsRTP(cfg.RTPFor("slots")); err != nil {
		logger.Fatal("slots table does not match RTP_BPS_SLOTS", "error", err)
	}

	rtp := make(map[domain.GameKind]uint32, len(cfg.RTPBps))
	for kind, bps := range cfg.RTPBps {
		rtp[domain.GameKind(kind)] = bps
	}

	hub := ws.NewHub()
	engine := round.NewManager(round.Config{
		MinStake:       cfg.MinStake,
		MaxStake:       cfg.MaxStake,
		RoundTTL:       cfg.RoundTTL,
		IdleTimeout:    cfg.IdleTimeout,
		SweepInterval:  cfg.SweepInterval,
		RTPBps:         rtp,
		CoinflipFeeBps: cfg.CoinflipFeeBps,
		Mirror:         round.MirrorPolicy(cfg.MirrorPolicy),
	}, round.Deps{
		Store:   rounds,
		Games:   games,
		Custody: custody.NewSelector(players, backends...),
		Commits: fairness.NewCommitter(0),
		Events:  hub,
		Audit:   auditSvc,
		Session: session,
	})
	defer engine.Close()

	report, err := engine.Recover(ctx)
	if err != nil {
		logger.Fatal("recovery failed", "error", err)
	}
	if report.Failed > 0 {
		logger.Warn("some rounds could not be recovered and were failed closed", "failed", report.Failed)
	}
	go engine.Run(ctx)

	h := handlers.NewHandler(engine, games, players, auditSvc, service.NewAdminService(dbPool, players, auditSvc))
	health := handlers.NewHealthHandler(version, checks)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.PrometheusMiddleware())
	r.Use(cors(cfg.AllowedOrigin))

	httpServer.RegisterRoutes(r, h, health, hub, httpServer.Options{
		Limits: httpServer.Limits{
			API:        cfg.APIRateLimit,
			APIWindow:  time.Duration(cfg.APIRateWindow) * time.Second,
			Auth:       cfg.AuthRateLimit,
			AuthWindow: time.Duration(cfg.AuthRateWindow) * time.Second,
			Game:       cfg.GameRateLimit,
			GameWindow: time.Duration(cfg.GameRateWindow) * time.Second,
		},
		AdminToken:    cfg.AdminToken,
		AllowedOrigin: cfg.AllowedOrigin,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.AppPort,
		Handler: r,
	}

	go func() {
		logger.Info("server started", "port", cfg.AppPort, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server exited")
}

func migrate(ctx context.Context, dsn string) error {
	sqlDB, err := migrations.Open(dsn)
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	return migrations.Up(ctx, sqlDB)
}

// CORS for production (frontend on different domain)
func cors(allowed string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" && (allowed == "" || origin == allowed) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Token")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
