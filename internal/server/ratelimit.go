package server

import (
	"sync"
	"time"

	"insider/internal/coordinator"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const limiterIdleTTL = 5 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter keeps one token bucket per client IP.
type rateLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	clients   map[string]*limiterEntry
	lastPrune time.Time
}

func newRateLimiter(perSecond float64, burst int) *rateLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimiter{
		limit:   limit,
		burst:   burst,
		clients: make(map[string]*limiterEntry),
	}
}

func (l *rateLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastPrune) > limiterIdleTTL {
		for k, entry := range l.clients {
			if now.Sub(entry.lastSeen) > limiterIdleTTL {
				delete(l.clients, k)
			}
		}
		l.lastPrune = now
	}
	entry, ok := l.clients[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (l *rateLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.allow(c.ClientIP(), time.Now()) {
			c.Header("Retry-After", "1")
			writeError(c, &coordinator.Error{Code: coordinator.CodeRateLimited, Message: "too many requests"})
			return
		}
		c.Next()
	}
}
