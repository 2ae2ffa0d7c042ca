package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// asPlayer stands in for the JWT middleware
func asPlayer(c *gin.Context) {
	if p := c.GetHeader("X-Test-Player"); p != "" {
		c.Set(playerKey, p)
	}
	c.Next()
}

func playerRequest(player string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/rounds", nil)
	if player != "" {
		req.Header.Set("X-Test-Player", player)
	}
	return req
}

func gameRouter(limit int, window time.Duration) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/rounds", asPlayer, GameRateLimit(limit, window), func(c *gin.Context) { c.Status(http.StatusCreated) })
	return r
}

func TestGameRateLimitWithoutRedis(t *testing.T) {
	require.False(t, RedisEnabled())
	r := gameRouter(2, time.Minute)

	for i := 0; i < 2; i++ {
		w := do(r, playerRequest("alice"))
		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, strconv.Itoa(1-i), w.Header().Get("X-GameRateLimit-Remaining"))
	}
	assert.Equal(t, http.StatusTooManyRequests, do(r, playerRequest("alice")).Code)

	// the window belongs to the player, not the address
	assert.Equal(t, http.StatusCreated, do(r, playerRequest("bob")).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, playerRequest("")).Code)
}

func TestRateLimitFallsBackInProcess(t *testing.T) {
	require.False(t, RedisEnabled())
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", RateLimit(1, time.Minute), func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, do(r, httptest.NewRequest(http.MethodGet, "/x", nil)).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(r, httptest.NewRequest(http.MethodGet, "/x", nil)).Code)
}

func TestWindowCounterResets(t *testing.T) {
	w := newWindowCounter(time.Second)
	start := time.Unix(1_700_000_000, 0)
	assert.Equal(t, 1, w.hit("a", start))
	assert.Equal(t, 2, w.hit("a", start.Add(500*time.Millisecond)))
	assert.Equal(t, 1, w.hit("a", start.Add(2*time.Second)))
	assert.Equal(t, 1, w.hit("b", start))
}

// Runs only if REDIS_ADDR is set.
func TestRedisRateLimitIntegration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set; skipping integration test")
	}
	db, _ := strconv.Atoi(os.Getenv("REDIS_DB"))
	client := redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("REDIS_PASSWORD"), DB: db})
	require.NoError(t, client.Ping(context.Background()).Err())
	UseRedis(client)
	t.Cleanup(func() {
		redisClient = nil
		client.Close()
	})

	// fresh players keep reruns from sharing a window
	alice, bob := uuid.NewString(), uuid.NewString()
	r := gameRouter(2, 2*time.Second)
	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusCreated, do(r, playerRequest(alice)).Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, do(r, playerRequest(alice)).Code)
	assert.Equal(t, http.StatusCreated, do(r, playerRequest(bob)).Code)

	ttl, err := client.TTL(context.Background(), "game_rl:"+alice+":2").Result()
	require.NoError(t, err)
	assert.Positive(t, ttl)
}
