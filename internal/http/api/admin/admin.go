package admin

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/wspnet/subengine/internal/audit"
	"github.com/wspnet/subengine/internal/config"
	"github.com/wspnet/subengine/internal/engine"
	"github.com/wspnet/subengine/internal/http/api/admin/handlers"
	"github.com/wspnet/subengine/internal/ratelimit"
	"github.com/wspnet/subengine/internal/security"
)

// operatorIDKey is the gin context key holding the authenticated operator ID.
const operatorIDKey = "operatorID"

// RegisterAdminRoutes registers admin API routes under /v0/admin.
func RegisterAdminRoutes(r *gin.Engine, e *engine.Engine, jwtCfg config.JWTConfig, limiter *ratelimit.Manager) {
	subscriptionHandler := handlers.NewSubscriptionHandler(e)
	usageHandler := handlers.NewUsageHandler(e)
	allocationHandler := handlers.NewAllocationHandler(e)
	throttleHandler := handlers.NewThrottleHandler(e)

	authed := r.Group("/v0/admin")
	authed.Use(adminAuthMiddleware(jwtCfg))
	{
		authed.POST("/subscriptions", subscriptionHandler.Create)
		authed.GET("/subscriptions/:id", subscriptionHandler.Get)
		authed.POST("/subscriptions/:id/renew", subscriptionHandler.Renew)
		authed.POST("/subscriptions/:id/upgrade", subscriptionHandler.Upgrade)
		authed.POST("/subscriptions/:id/terminate", subscriptionHandler.Terminate)
		authed.POST("/subscriptions/:id/expire", subscriptionHandler.Expire)

		authed.POST("/subscriptions/:id/usage", ratelimit.Middleware(limiter, subscriptionLimitKey), usageHandler.Record)
		authed.GET("/subscriptions/:id/usage", usageHandler.History)
		authed.GET("/subscriptions/:id/usage/period", usageHandler.Period)

		authed.POST("/pos-allocations/validate", allocationHandler.Validate)
		authed.PUT("/points-of-sale/:id/allocation", allocationHandler.Apply)

		authed.POST("/throttle/recheck", throttleHandler.Recheck)
	}
}

// adminAuthMiddleware validates operator JWTs and tags the request context with the operator actor.
func adminAuthMiddleware(jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "empty token"})
			return
		}

		claims, errJWT := security.ParseOperatorToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "invalid token"})
			return
		}

		c.Set(operatorIDKey, claims.OperatorID)
		ctx := audit.WithActor(c.Request.Context(), audit.User(claims.OperatorID))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// subscriptionLimitKey scopes usage submissions per subscription.
func subscriptionLimitKey(c *gin.Context) string {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		return ""
	}
	return ratelimit.Key(ratelimit.ScopeSubscription, id)
}
