package ws

import (
	"context"
	"net/http"

	"fairwager/internal/domain"
	"fairwager/internal/game"
	"fairwager/internal/logger"
	"fairwager/internal/round"
	"fairwager/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Engine is the part of *round.Manager a connection drives
type Engine interface {
	Place(ctx context.Context, req round.PlaceRequest) (*domain.Round, error)
	Step(ctx context.Context, player string, nonce uint64, a game.Action) (*domain.Round, error)
	Resolve(ctx context.Context, player string, nonce uint64) (*domain.Round, error)
	Get(ctx context.Context, player string, nonce uint64) (*domain.Round, error)
	Active(ctx context.Context, player string) []*domain.Round
}

func HandleWS(hub *Hub, engine Engine, allowedOrigin string) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if allowedOrigin == "" {
				return true
			}
			return r.Header.Get("Origin") == allowedOrigin
		},
	}

	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "token required"})
			return
		}

		player, err := service.ParseJWT(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("ws upgrade error", "player", player, "error", err)
			return
		}

		client := NewClient(player, conn, hub, engine)
		go client.Run()
	}
}
