package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"fairwager/internal/domain"
	"fairwager/internal/game"
	"fairwager/internal/http/middleware"
	"fairwager/internal/logger"
	"fairwager/internal/round"
	"fairwager/internal/service"

	"github.com/gin-gonic/gin"
)

// PlayerRegistry records players on first login; *repository.PlayerRepository in production
type PlayerRegistry interface {
	Ensure(ctx context.Context, player string) error
}

type Handler struct {
	Engine  *round.Manager
	Games   *game.Registry
	Players PlayerRegistry
	Audit   *service.AuditService
	Admin   *service.AdminService
}

func NewHandler(engine *round.Manager, games *game.Registry, players PlayerRegistry, audit *service.AuditService, admin *service.AdminService) *Handler {
	return &Handler{
		Engine:  engine,
		Games:   games,
		Players: players,
		Audit:   audit,
		Admin:   admin,
	}
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string      `json:"error"`
	Code  domain.Code `json:"code"`
}

var statusByCode = map[domain.Code]int{
	domain.CodeValidation:         http.StatusBadRequest,
	domain.CodeNotFound:           http.StatusNotFound,
	domain.CodeInvalidState:       http.StatusConflict,
	domain.CodeInsufficientFunds:  http.StatusPaymentRequired,
	domain.CodeCustodyRejected:    http.StatusBadGateway,
	domain.CodeConfirmationFailed: http.StatusGatewayTimeout,
	domain.CodeUnrecoverable:      http.StatusUnprocessableEntity,
	domain.CodeExpired:            http.StatusGone,
	domain.CodeInternal:           http.StatusInternalServerError,
}

// StatusFor maps an engine error to its HTTP status
func StatusFor(err error) int {
	if errors.Is(err, domain.ErrNotPlayer) {
		return http.StatusForbidden
	}
	if s, ok := statusByCode[domain.CodeOf(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		logger.WithContext(c.Request.Context()).Error("request failed",
			"path", c.FullPath(),
			"error", err,
		)
	}
	c.JSON(status, errorBody(err))
}

func errorBody(err error) ErrorResponse {
	return ErrorResponse{Error: domain.MessageOf(err), Code: domain.CodeOf(err)}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg, Code: domain.CodeValidation})
}

// player returns the authenticated player, aborting with 401 when absent
func player(c *gin.Context) (string, bool) {
	p, ok := middleware.Player(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return p, true
}

func nonceParam(c *gin.Context) (uint64, bool) {
	n, err := strconv.ParseUint(c.Param("nonce"), 10, 64)
	if err != nil || n == 0 {
		badRequest(c, "invalid nonce")
		return 0, false
	}
	return n, true
}
