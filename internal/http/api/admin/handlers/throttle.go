package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wspnet/subengine/internal/engine"
)

// ThrottleHandler serves throttle maintenance endpoints.
type ThrottleHandler struct {
	engine *engine.Engine // Subscription engine.
}

// NewThrottleHandler constructs a throttle handler.
func NewThrottleHandler(e *engine.Engine) *ThrottleHandler {
	return &ThrottleHandler{engine: e}
}

// Recheck re-evaluates subscriptions with unresolved throttle failures.
func (h *ThrottleHandler) Recheck(c *gin.Context) {
	report, errRecheck := h.engine.RecheckThrottles(c.Request.Context())
	if errRecheck != nil {
		writeError(c, errRecheck)
		return
	}
	c.JSON(http.StatusOK, report)
}
