package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"sandkasten-go/internal/apierr"
	"sandkasten-go/internal/logging"
)

// RequestLogger logs each request at debug level, keyed by the request id.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.S().Debugw("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"request_id", c.GetString("request_id"),
		)
	}
}

// Recovery turns a panic into a 500 apierr envelope instead of crashing the
// process, matching the rest of the API's error shape.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.S().Errorf("panic recovered [%s]: %v\n%s", c.GetString("request_id"), recovered, debug.Stack())
		c.AbortWithStatusJSON(http.StatusInternalServerError, apierr.New(apierr.KindIO, "internal server error").ToEnvelope())
	})
}

// RequestID stamps every request/response pair with a correlation id.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = generateRequestID()
		}
		c.Header("X-Request-ID", id)
		c.Set("request_id", id)
		c.Next()
	}
}

func generateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b)
}

// ipRateLimiter is a best-effort, per-client-IP limiter guarding the API
// surface; it is not part of spec.md's admission control (the job
// semaphore is), it only protects against request floods before a request
// ever reaches the orchestrators.
type ipRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

func newIPRateLimiter(perSecond float64, burst int) *ipRateLimiter {
	return &ipRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(perSecond),
		burst:    burst,
	}
}

func (l *ipRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(l.r, l.burst)
		l.limiters[ip] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

// RateLimit rejects requests once a client IP exceeds perSecond requests
// with burst headroom.
func RateLimit(perSecond float64, burst int) gin.HandlerFunc {
	limiter := newIPRateLimiter(perSecond, burst)
	return func(c *gin.Context) {
		if !limiter.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, apierr.New(apierr.KindIO, "rate limit exceeded").ToEnvelope())
			return
		}
		c.Next()
	}
}
