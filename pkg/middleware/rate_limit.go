package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/talentbase/backend/pkg/metrics"
)

const CodeRateLimited = "RATE_LIMIT_EXCEEDED"

// rateLimitKey picks the throttling key: the authenticated user when an
// authenticator already ran, otherwise the client IP (NAT-unfriendly but
// the only handle an anonymous request offers).
func rateLimitKey(c *gin.Context) string {
	if claims := ClaimsFromContext(c); claims != nil && claims.UserID != "" {
		return "user:" + claims.UserID
	}
	if live := SessionFromContext(c); live != nil && live.UserID != "" {
		return "user:" + live.UserID
	}
	ip := c.ClientIP()
	if ip == "" {
		ip = "unknown"
	}
	return "ip:" + ip
}

// RateLimitMiddleware enforces a per-key token-bucket limit held in
// process memory. Each middleware instance owns its limiter map, so two
// routes with different budgets never share buckets.
// rps = allowed events per second, burst = maximum tokens in bucket.
func RateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	var limiters sync.Map // map[string]*rate.Limiter
	return func(c *gin.Context) {
		key := rateLimitKey(c)

		v, ok := limiters.Load(key)
		if !ok {
			v, _ = limiters.LoadOrStore(key, rate.NewLimiter(rate.Limit(rps), burst))
		}
		lim := v.(*rate.Limiter)

		if !lim.Allow() {
			c.Header("Retry-After", "1")
			metrics.RateLimitRejected.WithLabelValues("memory").Inc()
			AbortError(c, http.StatusTooManyRequests, CodeRateLimited, "Rate limit exceeded")
			return
		}
		metrics.RateLimitAllowed.WithLabelValues("memory").Inc()
		c.Next()
	}
}
