package admin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wspnet/subengine/internal/audit"
	"github.com/wspnet/subengine/internal/config"
	"github.com/wspnet/subengine/internal/db"
	"github.com/wspnet/subengine/internal/engine"
	"github.com/wspnet/subengine/internal/models"
	"github.com/wspnet/subengine/internal/quantity"
	"github.com/wspnet/subengine/internal/ratelimit"
	"github.com/wspnet/subengine/internal/security"
	"github.com/wspnet/subengine/internal/testutil"
	"gorm.io/gorm"
)

const testSecret = "admin-test-secret"

var today = time.Date(2024, time.March, 10, 9, 30, 0, 0, time.UTC)

type apiFixture struct {
	router *gin.Engine
	conn   *gorm.DB
	audit  *audit.Recorder
	token  string
}

func newAPI(t *testing.T, limit int) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	conn := testutil.OpenDB(t)
	rec := &audit.Recorder{}
	e := engine.New(conn, engine.WithAuditSink(rec), engine.WithClock(func() time.Time { return today }))
	limiter := ratelimit.NewManager(ratelimit.StaticSettings(ratelimit.SettingsConfig{Limit: limit}), func() time.Time { return today }, nil)

	r := gin.New()
	RegisterAdminRoutes(r, e, config.JWTConfig{Secret: testSecret, Expiry: time.Hour}, limiter)

	token, err := security.IssueOperatorToken(testSecret, 9, time.Hour, time.Now())
	require.NoError(t, err)
	return &apiFixture{router: r, conn: conn, audit: rec, token: token}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+f.token)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func TestRejectsMissingOrInvalidToken(t *testing.T) {
	f := newAPI(t, 0)

	req := httptest.NewRequest(http.MethodGet, "/v0/admin/subscriptions/1", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/v0/admin/subscriptions/1", nil)
	req.Header.Set("Authorization", "Bearer forged")
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSubscriptionUsageFlow(t *testing.T) {
	f := newAPI(t, 0)
	client := testutil.Client(t, f.conn, models.ClientStatusActive)
	plan := testutil.Plan(t, f.conn, testutil.PlanSpec{SpeedMbp: 50, CapGB: 100})

	w, created := f.do(t, http.MethodPost, "/v0/admin/subscriptions", gin.H{
		"client_id":  client.ID,
		"plan_id":    plan.ID,
		"start_date": "2024-03-01",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "ACTIVE", created["status"])
	assert.Equal(t, "2024-03-31", created["end_date"])
	id := uint64(created["id"].(float64))

	events := f.audit.ByAction(audit.ActionSubscriptionCreated)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(9), events[0].Actor.UserID)

	w, _ = f.do(t, http.MethodPost, "/v0/admin/subscriptions", gin.H{"client_id": client.ID, "plan_id": plan.ID})
	assert.Equal(t, http.StatusConflict, w.Code)

	usagePath := fmt.Sprintf("/v0/admin/subscriptions/%d/usage", id)
	w, _ = f.do(t, http.MethodPost, usagePath, gin.H{"download_mb": quantity.GB(110).String(), "upload_mb": 0, "log_date": "2024-03-05"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, got := f.do(t, http.MethodGet, fmt.Sprintf("/v0/admin/subscriptions/%d", id), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 12.5, got["bandwidth_allocated_mbps"])
	assert.Equal(t, 50.0, got["original_bandwidth_mbps"])
	assert.Equal(t, true, got["is_throttled"])
	assert.Equal(t, []any{"ACTIVE", "EXPIRED", "TERMINATED"}, got["allowed_transitions"])

	w, period := f.do(t, http.MethodGet, usagePath+"/period", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 110.0, period["used_gb"])

	w, history := f.do(t, http.MethodGet, usagePath, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, history["usage"], 1)

	w, renewed := f.do(t, http.MethodPost, fmt.Sprintf("/v0/admin/subscriptions/%d/renew", id), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 50.0, renewed["bandwidth_allocated_mbps"])
}

func TestUsageValidationAndErrors(t *testing.T) {
	f := newAPI(t, 0)
	client := testutil.Client(t, f.conn, models.ClientStatusActive)
	plan := testutil.Plan(t, f.conn, testutil.PlanSpec{SpeedMbp: 10})
	sub := testutil.Subscription(t, f.conn, client, plan, testutil.Day(2024, time.March, 1))
	usagePath := fmt.Sprintf("/v0/admin/subscriptions/%d/usage", sub.ID)

	w, body := f.do(t, http.MethodPost, usagePath, gin.H{"download_mb": -1, "upload_mb": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation", body["error"])

	w, _ = f.do(t, http.MethodPost, usagePath, gin.H{"download_mb": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.do(t, http.MethodPost, usagePath, gin.H{"download_mb": 1, "upload_mb": 1, "log_date": "03/05/2024"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = f.do(t, http.MethodPost, "/v0/admin/subscriptions/999/usage", gin.H{"download_mb": 1, "upload_mb": 1})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", body["error"])

	w, _ = f.do(t, http.MethodGet, "/v0/admin/subscriptions/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUsageSubmissionsAreRateLimited(t *testing.T) {
	f := newAPI(t, 1)
	client := testutil.Client(t, f.conn, models.ClientStatusActive)
	plan := testutil.Plan(t, f.conn, testutil.PlanSpec{SpeedMbp: 10})
	sub := testutil.Subscription(t, f.conn, client, plan, testutil.Day(2024, time.March, 1))
	usagePath := fmt.Sprintf("/v0/admin/subscriptions/%d/usage", sub.ID)

	w, _ := f.do(t, http.MethodPost, usagePath, gin.H{"download_mb": 1, "upload_mb": 1})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, body := f.do(t, http.MethodPost, usagePath, gin.H{"download_mb": 1, "upload_mb": 1})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate_limited", body["error"])
}

func TestAllocationEndpoints(t *testing.T) {
	f := newAPI(t, 0)
	require.NoError(t, db.EnsureBandwidthPool(f.conn, quantity.Mbps(1000)))
	require.NoError(t, f.conn.Create(&models.PointOfSale{Name: "a", AllocatedBandwidth: quantity.Mbps(900)}).Error)
	pos := models.PointOfSale{Name: "b"}
	require.NoError(t, f.conn.Create(&pos).Error)

	w, body := f.do(t, http.MethodPost, "/v0/admin/pos-allocations/validate", gin.H{"allocation_mbps": 200})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "capacity_exceeded", body["error"])

	w, body = f.do(t, http.MethodPost, "/v0/admin/pos-allocations/validate", gin.H{"allocation_mbps": "100"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, body["valid"])

	w, body = f.do(t, http.MethodPut, fmt.Sprintf("/v0/admin/points-of-sale/%d/allocation", pos.ID), gin.H{"allocation_mbps": 100})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 100.0, body["allocated_bandwidth_mbps"])

	w, _ = f.do(t, http.MethodPost, "/v0/admin/throttle/recheck", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
