package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const maxTrackedClients = 10000

type clientInfo struct {
	start time.Time
	count int
}

// windowCounter is an in-process fixed window per key
type windowCounter struct {
	mu      sync.Mutex
	window  time.Duration
	clients map[string]*clientInfo
}

func newWindowCounter(window time.Duration) *windowCounter {
	return &windowCounter{window: window, clients: make(map[string]*clientInfo)}
}

// hit counts one request for key and returns the count in the current window
func (w *windowCounter) hit(key string, now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.clients) > maxTrackedClients {
		for k, v := range w.clients {
			if now.Sub(v.start) > w.window {
				delete(w.clients, k)
			}
		}
	}
	ci, ok := w.clients[key]
	if !ok || now.Sub(ci.start) > w.window {
		ci = &clientInfo{start: now}
		w.clients[key] = ci
	}
	ci.count++
	return ci.count
}

// SimpleRateLimit is the in-process fixed window used when Redis is not configured
func SimpleRateLimit(maxRequests int, window time.Duration) gin.HandlerFunc {
	counter := newWindowCounter(window)

	return func(c *gin.Context) {
		if counter.hit(c.ClientIP(), time.Now()) > maxRequests {
			RLBlocked.WithLabelValues(c.FullPath()).Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}

		RLRequests.WithLabelValues(c.FullPath()).Inc()
		c.Next()
	}
}

// RateLimit picks the Redis limiter when a client is configured
func RateLimit(maxRequests int, window time.Duration) gin.HandlerFunc {
	if RedisEnabled() {
		return RedisRateLimit(maxRequests, window)
	}
	return SimpleRateLimit(maxRequests, window)
}
