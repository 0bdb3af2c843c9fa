package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wspnet/subengine/internal/apperr"
	"github.com/wspnet/subengine/internal/audit"
	"github.com/wspnet/subengine/internal/calendar"
	"github.com/wspnet/subengine/internal/models"
	"github.com/wspnet/subengine/internal/quantity"
	"github.com/wspnet/subengine/internal/testutil"
	"gorm.io/gorm"
)

var today = time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC)

func newOrchestrator(conn *gorm.DB, sink audit.Sink) *Orchestrator {
	return NewOrchestrator(conn, Options{Sink: sink, NowFn: func() time.Time { return today }})
}

func userCtx() context.Context {
	return audit.WithActor(context.Background(), audit.User(11))
}

func TestCreateDefaultsAndEvent(t *testing.T) {
	conn := testutil.OpenDB(t)
	client := testutil.Client(t, conn, models.ClientStatusActive)
	plan := testutil.Plan(t, conn, testutil.PlanSpec{SpeedMbp: 50, CapGB: 100, Days: 30})
	rec := &audit.Recorder{}

	sub, err := newOrchestrator(conn, rec).Create(userCtx(), CreateParams{ClientID: client.ID, PlanID: plan.ID})
	require.NoError(t, err)

	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, testutil.Day(2024, 3, 10), sub.StartDate)
	assert.Equal(t, testutil.Day(2024, 4, 9), sub.EndDate)
	assert.Equal(t, quantity.Mbps(50), sub.BandwidthAllocated)
	require.NotNil(t, sub.OriginalBandwidth)
	assert.Equal(t, quantity.Mbps(50), *sub.OriginalBandwidth)
	assert.False(t, sub.IsAutoRenewed)

	events := rec.ByAction(audit.ActionSubscriptionCreated)
	require.Len(t, events, 1)
	assert.Equal(t, audit.User(11), events[0].Actor)
	assert.Equal(t, sub.ID, events[0].EntityID)
}

func TestCreateGuards(t *testing.T) {
	conn := testutil.OpenDB(t)
	active := testutil.Client(t, conn, models.ClientStatusActive)
	terminated := testutil.Client(t, conn, models.ClientStatusTerminated)
	plan := testutil.Plan(t, conn, testutil.PlanSpec{SpeedMbp: 10})
	inactive := testutil.Plan(t, conn, testutil.PlanSpec{SpeedMbp: 10, Inactive: true})
	o := newOrchestrator(conn, nil)
	ctx := context.Background()

	_, err := o.Create(ctx, CreateParams{ClientID: 999, PlanID: plan.ID})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = o.Create(ctx, CreateParams{ClientID: active.ID, PlanID: 999})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = o.Create(ctx, CreateParams{ClientID: terminated.ID, PlanID: plan.ID})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	_, err = o.Create(ctx, CreateParams{ClientID: active.ID, PlanID: inactive.ID})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	_, err = o.Create(ctx, CreateParams{ClientID: active.ID, PlanID: plan.ID})
	require.NoError(t, err)
	_, err = o.Create(ctx, CreateParams{ClientID: active.ID, PlanID: plan.ID})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestConcurrentCreatesLeaveOneActive(t *testing.T) {
	conn := testutil.OpenDB(t)
	client := testutil.Client(t, conn, models.ClientStatusActive)
	plan := testutil.Plan(t, conn, testutil.PlanSpec{SpeedMbp: 10})
	o := newOrchestrator(conn, nil)

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.Create(context.Background(), CreateParams{ClientID: client.ID, PlanID: plan.ID})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case apperr.IsKind(err, apperr.KindConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, conflicts)

	var active int64
	require.NoError(t, conn.Model(&models.Subscription{}).
		Where("client_id = ? AND status = ?", client.ID, models.SubscriptionStatusActive).
		Count(&active).Error)
	assert.Equal(t, int64(1), active)
}

func TestRenewRestoresBandwidthAndResetsPeriod(t *testing.T) {
	conn := testutil.OpenDB(t)
	client := testutil.Client(t, conn, models.ClientStatusActive)
	plan := testutil.Plan(t, conn, testutil.PlanSpec{SpeedMbp: 50, CapGB: 100, Days: 30})
	sub := testutil.Subscription(t, conn, client, plan, testutil.Day(2024, 2, 1))
	require.NoError(t, conn.Model(&models.Subscription{}).Where("id = ?", sub.ID).
		Update("bandwidth_allocated_kbps", quantity.Bandwidth(12500)).Error)
	rec := &audit.Recorder{}
	autoRenew := true

	renewed, err := newOrchestrator(conn, rec).Renew(userCtx(), sub.ID, RenewParams{AutoRenew: &autoRenew})
	require.NoError(t, err)

	assert.Equal(t, models.SubscriptionStatusActive, renewed.Status)
	assert.Equal(t, testutil.Day(2024, 3, 2), renewed.StartDate)
	assert.Equal(t, testutil.Day(2024, 4, 1), renewed.EndDate)
	assert.Equal(t, quantity.Mbps(50), renewed.BandwidthAllocated)
	assert.True(t, renewed.IsAutoRenewed)

	stored := testutil.Reload(t, conn, sub.ID)
	assert.Equal(t, quantity.Mbps(50), stored.BandwidthAllocated)
	require.NotNil(t, stored.OriginalBandwidth)
	assert.Equal(t, quantity.Mbps(50), *stored.OriginalBandwidth)
	assert.Len(t, rec.ByAction(audit.ActionSubscriptionRenewed), 1)
}

func TestRenewWithExplicitDate(t *testing.T) {
	conn := testutil.OpenDB(t)
	client := testutil.Client(t, conn, models.ClientStatusActive)
	plan := testutil.Plan(t, conn, testutil.PlanSpec{SpeedMbp: 10, Days: 7})
	sub := testutil.Subscription(t, conn, client, plan, testutil.Day(2024, 2, 1))
	renewal := time.Date(2024, 3, 15, 18, 0, 0, 0, time.UTC)

	renewed, err := newOrchestrator(conn, nil).Renew(context.Background(), sub.ID, RenewParams{RenewalDate: &renewal})
	require.NoError(t, err)
	assert.Equal(t, testutil.Day(2024, 3, 22), renewed.EndDate)
}

func TestRenewTerminatedSubscriptionFailsWithoutMutation(t *testing.T) {
	conn := testutil.OpenDB(t)
	client := testutil.Client(t, conn, models.ClientStatusActive)
	plan := testutil.Plan(t, conn, testutil.PlanSpec{SpeedMbp: 10})
	sub := testutil.Subscription(t, conn, client, plan, testutil.Day(2024, 2, 1))
	o := newOrchestrator(conn, nil)

	_, err := o.Terminate(context.Background(), sub.ID)
	require.NoError(t, err)
	before := testutil.Reload(t, conn, sub.ID)

	_, err = o.Renew(context.Background(), sub.ID, RenewParams{})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	after := testutil.Reload(t, conn, sub.ID)
	assert.Equal(t, before.EndDate, after.EndDate)
	assert.Equal(t, models.SubscriptionStatusTerminated, after.Status)
}

func TestRenewTerminatedClientFails(t *testing.T) {
	conn := testutil.OpenDB(t)
	client := testutil.Client(t, conn, models.ClientStatusActive)
	plan := testutil.Plan(t, conn, testutil.PlanSpec{SpeedMbp: 10})
	sub := testutil.Subscription(t, conn, client, plan, testutil.Day(2024, 2, 1))
	require.NoError(t, conn.Model(client).Update("status", models.ClientStatusTerminated).Error)

	_, err := newOrchestrator(conn, nil).Renew(context.Background(), sub.ID, RenewParams{})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestRenewExpiredConflictsWithOtherActive(t *testing.T) {
	conn := testutil.OpenDB(t)
	client := testutil.Client(t, conn, models.ClientStatusActive)
	plan := testutil.Plan(t, conn, testutil.PlanSpec{SpeedMbp: 10})
	o := newOrchestrator(conn, nil)
	ctx := context.Background()

	first := testutil.Subscription(t, conn, client, plan, testutil.Day(2024, 1, 1))
	_, err := o.Expire(ctx, first.ID)
	require.NoError(t, err)
	_, err = o.Create(ctx, CreateParams{ClientID: client.ID, PlanID: plan.ID})
	require.NoError(t, err)

	_, err = o.Renew(ctx, first.ID, RenewParams{})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestUpgradeLinksSubscriptions(t *testing.T) {
	conn := testutil.OpenDB(t)
	client := testutil.Client(t, conn, models.ClientStatusActive)
	basic := testutil.Plan(t, conn, testutil.PlanSpec{SpeedMbp: 50, CapGB: 100, Days: 30})
	premium := testutil.Plan(t, conn, testutil.PlanSpec{SpeedMbp: 100, Days: 30})
	sub := testutil.Subscription(t, conn, client, basic, testutil.Day(2024, 3, 1))
	require.NoError(t, conn.Model(&models.Subscription{}).Where("id = ?", sub.ID).
		Updates(map[string]any{"bandwidth_allocated_kbps": quantity.Bandwidth(12500), "is_auto_renewed": true}).Error)
	rec := &audit.Recorder{}

	old, next, err := newOrchestrator(conn, rec).Upgrade(userCtx(), sub.ID, UpgradeParams{NewPlanID: premium.ID})
	require.NoError(t, err)

	assert.Equal(t, models.SubscriptionStatusTerminated, old.Status)
	require.NotNil(t, old.UpgradedToSubscriptionID)
	assert.Equal(t, next.ID, *old.UpgradedToSubscriptionID)

	storedOld := testutil.Reload(t, conn, sub.ID)
	assert.Equal(t, models.SubscriptionStatusTerminated, storedOld.Status)
	require.NotNil(t, storedOld.UpgradedToSubscriptionID)
	assert.Equal(t, next.ID, *storedOld.UpgradedToSubscriptionID)

	storedNext := testutil.Reload(t, conn, next.ID)
	assert.Equal(t, models.SubscriptionStatusActive, storedNext.Status)
	assert.Equal(t, premium.ID, storedNext.PlanID)
	assert.Equal(t, quantity.Mbps(100), storedNext.BandwidthAllocated)
	require.NotNil(t, storedNext.OriginalBandwidth)
	assert.Equal(t, quantity.Mbps(100), *storedNext.OriginalBandwidth)
	assert.Equal(t, testutil.Day(2024, 3, 10), calendar.Day(storedNext.StartDate))
	assert.True(t, storedNext.IsAutoRenewed)

	assert.Len(t, rec.ByAction(audit.ActionSubscriptionUpgraded), 1)
	assert.Len(t, rec.ByAction(audit.ActionSubscriptionCreated), 1)
}

func TestUpgradeFromExpiredRecordsPriorStatus(t *testing.T) {
	conn := testutil.OpenDB(t)
	client := testutil.Client(t, conn, models.ClientStatusActive)
	basic := testutil.Plan(t, conn, testutil.PlanSpec{SpeedMbp: 10})
	pro := testutil.Plan(t, conn, testutil.PlanSpec{SpeedMbp: 40})
	sub := testutil.Subscription(t, conn, client, basic, testutil.Day(2024, 1, 1))
	rec := &audit.Recorder{}
	o := newOrchestrator(conn, rec)
	ctx := context.Background()

	_, err := o.Expire(ctx, sub.ID)
	require.NoError(t, err)
	old, next, err := o.Upgrade(ctx, sub.ID, UpgradeParams{NewPlanID: pro.ID})
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusTerminated, old.Status)
	assert.Equal(t, models.SubscriptionStatusActive, next.Status)

	events := rec.ByAction(audit.ActionSubscriptionUpgraded)
	require.Len(t, events, 1)
	assert.Equal(t, string(models.SubscriptionStatusExpired), events[0].OldValues["status"])
	assert.Equal(t, basic.ID, events[0].OldValues["plan_id"])
	assert.Equal(t, string(models.SubscriptionStatusTerminated), events[0].NewValues["status"])
}

func TestUpgradeGuards(t *testing.T) {
	conn := testutil.OpenDB(t)
	client := testutil.Client(t, conn, models.ClientStatusActive)
	plan := testutil.Plan(t, conn, testutil.PlanSpec{SpeedMbp: 10})
	inactive := testutil.Plan(t, conn, testutil.PlanSpec{SpeedMbp: 20, Inactive: true})
	other := testutil.Plan(t, conn, testutil.PlanSpec{SpeedMbp: 30})
	sub := testutil.Subscription(t, conn, client, plan, testutil.Day(2024, 3, 1))
	o := newOrchestrator(conn, nil)
	ctx := context.Background()

	_, _, err := o.Upgrade(ctx, sub.ID, UpgradeParams{NewPlanID: plan.ID})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, _, err = o.Upgrade(ctx, sub.ID, UpgradeParams{NewPlanID: inactive.ID})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	_, _, err = o.Upgrade(ctx, sub.ID, UpgradeParams{NewPlanID: 999})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, _, err = o.Upgrade(ctx, 999, UpgradeParams{NewPlanID: other.ID})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = o.Terminate(ctx, sub.ID)
	require.NoError(t, err)
	_, _, err = o.Upgrade(ctx, sub.ID, UpgradeParams{NewPlanID: other.ID})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	var count int64
	require.NoError(t, conn.Model(&models.Subscription{}).Count(&count).Error)
	assert.Equal(t, int64(1), count, "failed upgrades must not create subscriptions")
}

func TestTerminateIsIdempotent(t *testing.T) {
	conn := testutil.OpenDB(t)
	client := testutil.Client(t, conn, models.ClientStatusActive)
	plan := testutil.Plan(t, conn, testutil.PlanSpec{SpeedMbp: 50, CapGB: 100})
	sub := testutil.Subscription(t, conn, client, plan, testutil.Day(2024, 3, 1))
	require.NoError(t, conn.Model(&models.Subscription{}).Where("id = ?", sub.ID).
		Update("bandwidth_allocated_kbps", quantity.Bandwidth(12500)).Error)
	rec := &audit.Recorder{}
	o := newOrchestrator(conn, rec)

	first, err := o.Terminate(context.Background(), sub.ID)
	require.NoError(t, err)
	second, err := o.Terminate(context.Background(), sub.ID)
	require.NoError(t, err)

	assert.Equal(t, models.SubscriptionStatusTerminated, first.Status)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, quantity.Bandwidth(12500), second.BandwidthAllocated, "termination leaves bandwidth untouched")
	assert.Len(t, rec.ByAction(audit.ActionSubscriptionTerminated), 1)

	_, err = o.Terminate(context.Background(), 999)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestExpireOnlyFromActive(t *testing.T) {
	conn := testutil.OpenDB(t)
	client := testutil.Client(t, conn, models.ClientStatusActive)
	plan := testutil.Plan(t, conn, testutil.PlanSpec{SpeedMbp: 10})
	sub := testutil.Subscription(t, conn, client, plan, testutil.Day(2024, 1, 1))
	o := newOrchestrator(conn, nil)

	expired, err := o.Expire(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusExpired, expired.Status)

	_, err = o.Expire(context.Background(), sub.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	renewed, err := o.Renew(context.Background(), sub.ID, RenewParams{})
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, renewed.Status)
}

func TestValidTransitionsFrom(t *testing.T) {
	assert.Equal(t,
		[]models.SubscriptionStatus{models.SubscriptionStatusActive, models.SubscriptionStatusExpired, models.SubscriptionStatusTerminated},
		ValidTransitionsFrom(models.SubscriptionStatusActive))
	assert.Empty(t, ValidTransitionsFrom(models.SubscriptionStatusTerminated))
}
