package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"live-bidding/utils"
)

// RequestLoggerMiddleware logs incoming requests with timing
func RequestLoggerMiddleware(c *gin.Context) {
	start := time.Now()

	c.Next() // process request

	utils.Info("HTTP Request", map[string]any{
		"method":  c.Request.Method,
		"path":    c.Request.URL.Path,
		"status":  c.Writer.Status(),
		"latency": time.Since(start).String(),
	})
}

const limiterIdleTTL = 5 * time.Minute

// ClientRateLimiter keeps one token bucket per client address
type ClientRateLimiter struct {
	limit rate.Limit
	burst int

	mu        sync.Mutex
	buckets   map[string]*clientBucket // key: client IP -> value: bucket
	lastSweep time.Time
}

type clientBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewClientRateLimiter allows perMinute requests per client, with bursts of up to burst.
// A zero burst means perMinute; a non-positive perMinute allows everything.
func NewClientRateLimiter(perMinute, burst int) *ClientRateLimiter {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	if burst <= 0 {
		burst = perMinute
	}
	return &ClientRateLimiter{
		limit:     limit,
		burst:     burst,
		buckets:   make(map[string]*clientBucket),
		lastSweep: time.Now(),
	}
}

// Allow reports whether client may make a request now
func (l *ClientRateLimiter) Allow(client string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > limiterIdleTTL {
		for k, b := range l.buckets {
			if now.Sub(b.seen) > limiterIdleTTL {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[client]
	if !ok {
		b = &clientBucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[client] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

// Middleware rejects requests over the limit with 429
func (l *ClientRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		client := c.ClientIP()
		if client == "" {
			client = "unknown"
		}
		if !l.Allow(client) {
			utils.JSONError(c, http.StatusTooManyRequests, errTooManyBids, "too many bids, please slow down")
			utils.Warn("Rate limit exceeded", map[string]any{"client": client, "path": c.FullPath()})
			c.Abort()
			return
		}
		c.Next()
	}
}
