package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// GameRateLimit limits round operations per player (not per IP). It counts in
// Redis when a client is configured and in process otherwise.
// Requires JWT middleware to run before this.
func GameRateLimit(maxOps int, window time.Duration) gin.HandlerFunc {
	local := newWindowCounter(window)

	return func(c *gin.Context) {
		player, ok := Player(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var val int64
		if redisClient != nil {
			key := "game_rl:" + player + ":" + strconv.FormatInt(int64(window.Seconds()), 10)
			ctx := c.Request.Context()

			n, err := redisClient.Incr(ctx, key).Result()
			if err != nil {
				c.Header("X-GameRateLimit-Error", "redis-error")
				c.Next()
				return
			}
			if n == 1 {
				redisClient.Expire(ctx, key, window)
			}
			val = n
		} else {
			val = int64(local.hit(player, time.Now()))
		}

		// Set headers for client info
		c.Header("X-GameRateLimit-Limit", strconv.Itoa(maxOps))
		c.Header("X-GameRateLimit-Remaining", strconv.FormatInt(max(0, int64(maxOps)-val), 10))

		if val > int64(maxOps) {
			RLBlocked.WithLabelValues("game:" + c.FullPath()).Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "game rate limit exceeded",
				"retry_after": int(window.Seconds()),
			})
			return
		}

		RLRequests.WithLabelValues("game:" + c.FullPath()).Inc()
		c.Next()
	}
}
