package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/user/rungov/internal/ratelimit"
)

const (
	routeRunsCreate       = "runs:create"
	routeAdvisoriesAppend = "advisories:append"
	routeSessionsCreate   = "sessions:create"
	routeSessionsAdvance  = "sessions:advance"
)

// limitByClient limits a route per client address.
func (s *Server) limitByClient(routeID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.enforceRateLimit(c, routeID, "ip:"+c.ClientIP()) {
			return
		}
		c.Next()
	}
}

// enforceRateLimit writes the 429 itself and reports false when the request
// must stop.
func (s *Server) enforceRateLimit(c *gin.Context, routeID, subject string) bool {
	if s.limiter == nil || s.limit.Requests <= 0 {
		return true
	}
	key := "endpoint:" + routeID + ":" + subject

	decision, err := s.limiter.Allow(c.Request.Context(), key, s.limit.Requests, s.limit.Window)
	if err != nil {
		if s.limit.FailClosed {
			writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMIT_UNAVAILABLE", "rate limiter unavailable", nil)
			return false
		}
		return true
	}
	writeRateLimitHeaders(c, decision)
	if !decision.Allowed {
		writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded", nil)
		return false
	}
	return true
}

func writeRateLimitHeaders(c *gin.Context, decision ratelimit.Decision) {
	if decision.Limit > 0 {
		c.Header("RateLimit-Limit", strconv.Itoa(decision.Limit))
	}
	if decision.Remaining >= 0 {
		c.Header("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	}
	if !decision.ResetAt.IsZero() {
		c.Header("RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
		if !decision.Allowed {
			retryAfter := int64(time.Until(decision.ResetAt).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
		}
	}
}
