package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/wspnet/subengine/internal/calendar"
	"github.com/wspnet/subengine/internal/engine"
	"github.com/wspnet/subengine/internal/models"
	"github.com/wspnet/subengine/internal/quantity"
)

// UsageHandler serves usage ledger endpoints.
type UsageHandler struct {
	engine *engine.Engine // Subscription engine.
}

// NewUsageHandler constructs a usage handler.
func NewUsageHandler(e *engine.Engine) *UsageHandler {
	return &UsageHandler{engine: e}
}

// recordUsageRequest captures one usage entry. Volumes are decimal megabytes.
type recordUsageRequest struct {
	DownloadMB *quantity.Data `json:"download_mb"` // Downloaded volume.
	UploadMB   *quantity.Data `json:"upload_mb"`   // Uploaded volume.
	LogDate    string         `json:"log_date"`    // YYYY-MM-DD, defaults to today.
}

// Record appends a usage entry and triggers throttle evaluation.
func (h *UsageHandler) Record(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var body recordUsageRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		badRequest(c, "invalid json")
		return
	}
	if body.DownloadMB == nil || body.UploadMB == nil {
		badRequest(c, "download_mb and upload_mb are required")
		return
	}
	logDate := calendar.Today(h.engine.Now)
	if strings.TrimSpace(body.LogDate) != "" {
		parsed, errDate := calendar.ParseDay(body.LogDate)
		if errDate != nil {
			badRequest(c, "invalid log_date")
			return
		}
		logDate = parsed
	}

	entry, errRecord := h.engine.RecordUsage(c.Request.Context(), id, *body.DownloadMB, *body.UploadMB, logDate)
	if errRecord != nil {
		writeError(c, errRecord)
		return
	}
	c.JSON(http.StatusCreated, formatUsage(entry))
}

// History lists a subscription's usage entries, newest first.
func (h *UsageHandler) History(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	rows, errHistory := h.engine.GetUsageHistory(c.Request.Context(), id)
	if errHistory != nil {
		writeError(c, errHistory)
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatUsage(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"usage": out})
}

// Period returns the usage aggregated over the current subscription period.
func (h *UsageHandler) Period(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	sub, errGet := h.engine.GetSubscription(c.Request.Context(), id)
	if errGet != nil {
		writeError(c, errGet)
		return
	}
	used, errUsage := h.engine.PeriodUsage(c.Request.Context(), id)
	if errUsage != nil {
		writeError(c, errUsage)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"subscription_id": sub.ID,
		"period_start":    formatDay(sub.StartDate),
		"period_end":      formatDay(sub.EndDate),
		"used_mb":         used,
		"used_gb":         used.GBFloat(),
	})
}

// formatUsage converts a usage entry to a response payload.
func formatUsage(row *models.UsageLog) gin.H {
	return gin.H{
		"id":              row.ID,
		"subscription_id": row.SubscriptionID,
		"download_mb":     row.Download,
		"upload_mb":       row.Upload,
		"total_mb":        row.Total(),
		"log_date":        formatDay(row.LogDate),
		"created_at":      row.CreatedAt,
	}
}
