package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wspnet/subengine/internal/engine"
	"github.com/wspnet/subengine/internal/lifecycle"
	"github.com/wspnet/subengine/internal/models"
)

// SubscriptionHandler serves subscription lifecycle endpoints.
type SubscriptionHandler struct {
	engine *engine.Engine // Subscription engine.
}

// NewSubscriptionHandler constructs a subscription handler.
func NewSubscriptionHandler(e *engine.Engine) *SubscriptionHandler {
	return &SubscriptionHandler{engine: e}
}

// createSubscriptionRequest captures the payload for creating a subscription.
type createSubscriptionRequest struct {
	ClientID  uint64 `json:"client_id"`  // Subscribing client.
	PlanID    uint64 `json:"plan_id"`    // Service plan.
	StartDate string `json:"start_date"` // Optional YYYY-MM-DD, defaults to today.
	AutoRenew *bool  `json:"auto_renew"` // Optional auto-renew flag.
}

// Create starts a subscription.
func (h *SubscriptionHandler) Create(c *gin.Context) {
	var body createSubscriptionRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		badRequest(c, "invalid json")
		return
	}
	if body.ClientID == 0 || body.PlanID == 0 {
		badRequest(c, "client_id and plan_id are required")
		return
	}
	start, errStart := parseOptionalDay(body.StartDate)
	if errStart != nil {
		badRequest(c, "invalid start_date")
		return
	}

	sub, errCreate := h.engine.CreateSubscription(c.Request.Context(), lifecycle.CreateParams{
		ClientID:  body.ClientID,
		PlanID:    body.PlanID,
		StartDate: start,
		AutoRenew: body.AutoRenew,
	})
	if errCreate != nil {
		writeError(c, errCreate)
		return
	}
	c.JSON(http.StatusCreated, h.formatSubscription(sub))
}

// Get fetches a subscription by ID.
func (h *SubscriptionHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	sub, errGet := h.engine.GetSubscription(c.Request.Context(), id)
	if errGet != nil {
		writeError(c, errGet)
		return
	}
	c.JSON(http.StatusOK, h.formatSubscription(sub))
}

// renewSubscriptionRequest captures optional renewal inputs.
type renewSubscriptionRequest struct {
	RenewalDate string `json:"renewal_date"` // Optional YYYY-MM-DD, defaults to the current end date.
	AutoRenew   *bool  `json:"auto_renew"`   // Optional auto-renew flag.
}

// Renew starts the next period of a subscription.
func (h *SubscriptionHandler) Renew(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var body renewSubscriptionRequest
	if c.Request.ContentLength > 0 {
		if errBind := c.ShouldBindJSON(&body); errBind != nil {
			badRequest(c, "invalid json")
			return
		}
	}
	renewal, errDate := parseOptionalDay(body.RenewalDate)
	if errDate != nil {
		badRequest(c, "invalid renewal_date")
		return
	}

	sub, errRenew := h.engine.RenewSubscription(c.Request.Context(), id, lifecycle.RenewParams{
		RenewalDate: renewal,
		AutoRenew:   body.AutoRenew,
	})
	if errRenew != nil {
		writeError(c, errRenew)
		return
	}
	c.JSON(http.StatusOK, h.formatSubscription(sub))
}

// upgradeSubscriptionRequest captures the target plan of an upgrade.
type upgradeSubscriptionRequest struct {
	NewPlanID     uint64 `json:"new_plan_id"`    // Target plan.
	EffectiveDate string `json:"effective_date"` // Optional YYYY-MM-DD, defaults to today.
}

// Upgrade moves the client to a new plan.
func (h *SubscriptionHandler) Upgrade(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var body upgradeSubscriptionRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		badRequest(c, "invalid json")
		return
	}
	if body.NewPlanID == 0 {
		badRequest(c, "new_plan_id is required")
		return
	}
	effective, errDate := parseOptionalDay(body.EffectiveDate)
	if errDate != nil {
		badRequest(c, "invalid effective_date")
		return
	}

	previous, next, errUpgrade := h.engine.UpgradeSubscription(c.Request.Context(), id, lifecycle.UpgradeParams{
		NewPlanID:     body.NewPlanID,
		EffectiveDate: effective,
	})
	if errUpgrade != nil {
		writeError(c, errUpgrade)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"previous":     h.formatSubscription(previous),
		"subscription": h.formatSubscription(next),
	})
}

// Terminate closes a subscription.
func (h *SubscriptionHandler) Terminate(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	sub, errTerminate := h.engine.TerminateSubscription(c.Request.Context(), id)
	if errTerminate != nil {
		writeError(c, errTerminate)
		return
	}
	c.JSON(http.StatusOK, h.formatSubscription(sub))
}

// Expire marks a subscription as expired.
func (h *SubscriptionHandler) Expire(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	sub, errExpire := h.engine.ExpireSubscription(c.Request.Context(), id)
	if errExpire != nil {
		writeError(c, errExpire)
		return
	}
	c.JSON(http.StatusOK, h.formatSubscription(sub))
}

// formatSubscription converts a subscription to a response payload.
func (h *SubscriptionHandler) formatSubscription(sub *models.Subscription) gin.H {
	out := gin.H{
		"id":                          sub.ID,
		"client_id":                   sub.ClientID,
		"plan_id":                     sub.PlanID,
		"start_date":                  formatDay(sub.StartDate),
		"end_date":                    formatDay(sub.EndDate),
		"status":                      sub.Status,
		"effective_status":            sub.EffectiveStatus(h.engine.Now()),
		"bandwidth_allocated_mbps":    sub.BandwidthAllocated,
		"original_bandwidth_mbps":     nil,
		"is_throttled":                sub.IsThrottled(),
		"is_auto_renewed":             sub.IsAutoRenewed,
		"upgraded_to_subscription_id": sub.UpgradedToSubscriptionID,
		"created_at":                  sub.CreatedAt,
		"updated_at":                  sub.UpdatedAt,
		"allowed_transitions":         lifecycle.ValidTransitionsFrom(sub.Status),
	}
	if sub.OriginalBandwidth != nil {
		out["original_bandwidth_mbps"] = *sub.OriginalBandwidth
	}
	return out
}
