package ratelimit

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// KeyFunc derives the limiter key for a request. An empty key skips limiting.
type KeyFunc func(c *gin.Context) string

// Middleware rejects requests over the configured limit with 429.
func Middleware(m *Manager, keyFn KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil || keyFn == nil {
			c.Next()
			return
		}
		limit := m.Limit()
		key := keyFn(c)
		if limit <= 0 || key == "" {
			c.Next()
			return
		}
		result, errAllow := m.Allow(c.Request.Context(), key, limit)
		if errAllow != nil {
			log.WithError(errAllow).Warn("rate limit: check failed")
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.Reset.Unix(), 10))
		if !result.Allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limited",
				"message": "too many usage submissions",
			})
			return
		}
		c.Next()
	}
}
