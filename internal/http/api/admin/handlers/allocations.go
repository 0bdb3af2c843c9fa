package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wspnet/subengine/internal/engine"
	"github.com/wspnet/subengine/internal/quantity"
)

// AllocationHandler serves point-of-sale bandwidth allocation endpoints.
type AllocationHandler struct {
	engine *engine.Engine // Subscription engine.
}

// NewAllocationHandler constructs an allocation handler.
func NewAllocationHandler(e *engine.Engine) *AllocationHandler {
	return &AllocationHandler{engine: e}
}

// validateAllocationRequest captures a proposed allocation. Bandwidth is decimal Mbps.
type validateAllocationRequest struct {
	AllocationMbps *quantity.Bandwidth `json:"allocation_mbps"`  // Proposed allocation.
	ExcludingPosID *uint64             `json:"excluding_pos_id"` // Point of sale being reallocated.
}

// Validate checks an allocation against the pool without writing.
func (h *AllocationHandler) Validate(c *gin.Context) {
	var body validateAllocationRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		badRequest(c, "invalid json")
		return
	}
	if body.AllocationMbps == nil {
		badRequest(c, "allocation_mbps is required")
		return
	}
	if errValidate := h.engine.ValidateAllocation(c.Request.Context(), *body.AllocationMbps, body.ExcludingPosID); errValidate != nil {
		writeError(c, errValidate)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// applyAllocationRequest captures the new allocation of a point of sale.
type applyAllocationRequest struct {
	AllocationMbps *quantity.Bandwidth `json:"allocation_mbps"` // New allocation.
}

// Apply sets a point-of-sale allocation if it fits in the pool.
func (h *AllocationHandler) Apply(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var body applyAllocationRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		badRequest(c, "invalid json")
		return
	}
	if body.AllocationMbps == nil {
		badRequest(c, "allocation_mbps is required")
		return
	}
	pos, errApply := h.engine.ApplyAllocation(c.Request.Context(), id, *body.AllocationMbps)
	if errApply != nil {
		writeError(c, errApply)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":                       pos.ID,
		"name":                     pos.Name,
		"allocated_bandwidth_mbps": pos.AllocatedBandwidth,
		"updated_at":               pos.UpdatedAt,
	})
}
