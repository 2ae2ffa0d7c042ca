package middleware

import (
	"net/http"
	"strings"

	"fairwager/internal/service"

	"github.com/gin-gonic/gin"
)

const playerKey = "player"

// JWT requires a bearer token and stores its subject as the player
func JWT() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			AuthRejected.WithLabelValues("missing").Inc()
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		player, err := service.ParseJWT(token)
		if err != nil {
			AuthRejected.WithLabelValues("invalid").Inc()
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(playerKey, player)
		c.Next()
	}
}

// Player returns the authenticated player set by JWT
func Player(c *gin.Context) (string, bool) {
	v, ok := c.Get(playerKey)
	if !ok {
		return "", false
	}
	player, ok := v.(string)
	return player, ok && player != ""
}
