package subscriptions

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradehub-backend/internal/billing"
	"github.com/angelmondragon/tradehub-backend/pkg/db"
	"github.com/angelmondragon/tradehub-backend/pkg/db/dbtest"
	"github.com/angelmondragon/tradehub-backend/pkg/db/models"
	"github.com/angelmondragon/tradehub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradehub-backend/pkg/errors"
	"github.com/angelmondragon/tradehub-backend/pkg/outbox"
	"github.com/angelmondragon/tradehub-backend/pkg/types"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type testEnv struct {
	db     *gorm.DB
	svc    Service
	outbox *outbox.Repository
	clock  *fakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn := dbtest.Open(t)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	outboxRepo := outbox.NewRepository(conn)
	svc, err := NewService(ServiceParams{
		Repo:              billing.NewRepository(conn),
		TransactionRunner: db.Wrap(conn),
		Outbox:            outbox.NewService(outboxRepo, nil),
		Now:               clock.Now,
	})
	require.NoError(t, err)
	return &testEnv{db: conn, svc: svc, outbox: outboxRepo, clock: clock}
}

func (e *testEnv) insertActive(t *testing.T, userID uuid.UUID, plan *models.Plan, startsAt, endsAt time.Time, autoRenew bool) *models.Subscription {
	t.Helper()
	sub := &models.Subscription{
		ID:               uuid.New(),
		UserID:           userID,
		PlanID:           plan.ID,
		Status:           enums.SubscriptionStatusActive,
		StartsAt:         startsAt,
		EndsAt:           endsAt,
		AmountCents:      plan.PriceCents,
		Currency:         plan.Currency,
		AutoRenew:        autoRenew,
		FeaturesSnapshot: featuresOf(plan),
	}
	require.NoError(t, e.db.Create(sub).Error)
	return sub
}

func (e *testEnv) reload(t *testing.T, id uuid.UUID) *models.Subscription {
	t.Helper()
	var sub models.Subscription
	dbtest.Reload(t, e.db, &sub, id)
	return &sub
}

func (e *testEnv) activeCount(t *testing.T, userID uuid.UUID) int64 {
	t.Helper()
	var count int64
	require.NoError(t, e.db.Model(&models.Subscription{}).
		Where("user_id = ? AND status = ?", userID, enums.SubscriptionStatusActive).
		Count(&count).Error)
	return count
}

func owner(id uuid.UUID) types.Actor {
	return types.Actor{UserID: id, Role: types.ActorRoleSeller}
}

func intPtr(v int) *int { return &v }

func TestCreateWithoutTrialStartsPending(t *testing.T) {
	env := newTestEnv(t)
	userID := uuid.New()
	plan := dbtest.CreatePlan(t, env.db, nil)

	sub, err := env.svc.Create(context.Background(), CreateInput{UserID: userID, PlanID: plan.ID, AutoRenew: true, Actor: owner(userID)})
	require.NoError(t, err)

	stored := env.reload(t, sub.ID)
	assert.Equal(t, enums.SubscriptionStatusPending, stored.Status)
	assert.True(t, stored.EndsAt.Equal(stored.StartsAt))
	assert.Nil(t, stored.TrialEndsAt)
	assert.Equal(t, int64(30000), stored.AmountCents)
	assert.Equal(t, []string{"listings"}, stored.FeaturesSnapshot.Features)
	assert.False(t, IsActive(stored, env.clock.now))

	count, err := env.outbox.CountByAggregate(sub.ID, string(enums.EventSubscriptionCreated))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestCreateWithTrialStartsActive(t *testing.T) {
	env := newTestEnv(t)
	userID := uuid.New()
	plan := dbtest.CreatePlan(t, env.db, nil)

	sub, err := env.svc.Create(context.Background(), CreateInput{UserID: userID, PlanID: plan.ID, TrialDays: intPtr(14), Actor: owner(userID)})
	require.NoError(t, err)

	stored := env.reload(t, sub.ID)
	assert.Equal(t, enums.SubscriptionStatusActive, stored.Status)
	require.NotNil(t, stored.TrialEndsAt)
	want := env.clock.now.AddDate(0, 0, 14)
	assert.True(t, stored.TrialEndsAt.Equal(want))
	assert.True(t, stored.EndsAt.Equal(want))
	assert.True(t, IsActive(stored, env.clock.now))
}

func TestCreateUsesPlanTrialByDefault(t *testing.T) {
	env := newTestEnv(t)
	userID := uuid.New()
	plan := dbtest.CreatePlan(t, env.db, func(p *models.Plan) { p.TrialDays = 7 })

	sub, err := env.svc.Create(context.Background(), CreateInput{UserID: userID, PlanID: plan.ID, Actor: owner(userID)})
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusActive, sub.Status)

	noTrial, err := env.svc.Create(context.Background(), CreateInput{UserID: userID, PlanID: plan.ID, TrialDays: intPtr(0), Actor: owner(userID)})
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusPending, noTrial.Status)
}

func TestCreateCancelsPreviousSubscriptions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()
	plan := dbtest.CreatePlan(t, env.db, nil)

	first, err := env.svc.Create(ctx, CreateInput{UserID: userID, PlanID: plan.ID, TrialDays: intPtr(14), Actor: owner(userID)})
	require.NoError(t, err)
	pending, err := env.svc.Create(ctx, CreateInput{UserID: userID, PlanID: plan.ID, TrialDays: intPtr(0), Actor: owner(userID)})
	require.NoError(t, err)
	second, err := env.svc.Create(ctx, CreateInput{UserID: userID, PlanID: plan.ID, TrialDays: intPtr(14), Actor: owner(userID)})
	require.NoError(t, err)

	assert.Equal(t, enums.SubscriptionStatusCancelled, env.reload(t, first.ID).Status)
	assert.Equal(t, enums.SubscriptionStatusCancelled, env.reload(t, pending.ID).Status)
	assert.Equal(t, enums.SubscriptionStatusActive, env.reload(t, second.ID).Status)
	assert.Equal(t, int64(1), env.activeCount(t, userID))

	closed := env.reload(t, first.ID)
	require.NotNil(t, closed.CancellationReason)
	assert.Equal(t, supersededReason, *closed.CancellationReason)
	assert.False(t, IsActive(closed, env.clock.now))
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()
	inactive := dbtest.CreatePlan(t, env.db, func(p *models.Plan) { p.IsActive = false })

	_, err := env.svc.Create(ctx, CreateInput{UserID: userID, PlanID: inactive.ID, Actor: owner(userID)})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	_, err = env.svc.Create(ctx, CreateInput{UserID: userID, PlanID: uuid.New(), Actor: owner(userID)})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))

	_, err = env.svc.Create(ctx, CreateInput{UserID: userID, PlanID: inactive.ID, Actor: owner(uuid.New())})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeForbidden))
}

func TestActivatePendingSubscription(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()
	plan := dbtest.CreatePlan(t, env.db, nil)

	sub, err := env.svc.Create(ctx, CreateInput{UserID: userID, PlanID: plan.ID, AutoRenew: true, Actor: owner(userID)})
	require.NoError(t, err)

	paidAt := env.clock.now.Add(time.Hour)
	active, err := env.svc.Activate(ctx, sub.ID, paidAt)
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusActive, active.Status)
	assert.True(t, active.StartsAt.Equal(paidAt))
	assert.True(t, active.EndsAt.Equal(paidAt.AddDate(0, 0, 30)))

	again, err := env.svc.Activate(ctx, sub.ID, paidAt.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, again.EndsAt.Equal(active.EndsAt))

	count, err := env.outbox.CountByAggregate(sub.ID, string(enums.EventSubscriptionActivated))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestActivateClosesOtherActiveRow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()
	plan := dbtest.CreatePlan(t, env.db, nil)

	pending, err := env.svc.Create(ctx, CreateInput{UserID: userID, PlanID: plan.ID, Actor: owner(userID)})
	require.NoError(t, err)
	legacy := env.insertActive(t, userID, plan, env.clock.now.AddDate(0, 0, -5), env.clock.now.AddDate(0, 0, 25), true)

	_, err = env.svc.Activate(ctx, pending.ID, env.clock.now)
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusCancelled, env.reload(t, legacy.ID).Status)
	assert.Equal(t, int64(1), env.activeCount(t, userID))
}

func TestActivateDuringTrialExtendsPeriod(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()
	plan := dbtest.CreatePlan(t, env.db, nil)

	sub, err := env.svc.Create(ctx, CreateInput{UserID: userID, PlanID: plan.ID, TrialDays: intPtr(14), Actor: owner(userID)})
	require.NoError(t, err)

	paid, err := env.svc.Activate(ctx, sub.ID, env.clock.now.AddDate(0, 0, 3))
	require.NoError(t, err)
	trialEnd := env.clock.now.AddDate(0, 0, 14)
	assert.True(t, paid.EndsAt.Equal(trialEnd.AddDate(0, 0, 30)))

	again, err := env.svc.Activate(ctx, sub.ID, env.clock.now.AddDate(0, 0, 4))
	require.NoError(t, err)
	assert.True(t, again.EndsAt.Equal(paid.EndsAt))
}

func TestActivateClosedSubscriptionIsNoop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()
	plan := dbtest.CreatePlan(t, env.db, nil)

	sub, err := env.svc.Create(ctx, CreateInput{UserID: userID, PlanID: plan.ID, Actor: owner(userID)})
	require.NoError(t, err)
	_, err = env.svc.Cancel(ctx, CancelInput{SubscriptionID: sub.ID, Reason: "changed mind", Actor: owner(userID)})
	require.NoError(t, err)

	got, err := env.svc.Activate(ctx, sub.ID, env.clock.now)
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusCancelled, got.Status)
}

func TestChangePlanProrationScenario(t *testing.T) {
	env := newTestEnv(t)
	userID := uuid.New()
	basic := dbtest.CreatePlan(t, env.db, func(p *models.Plan) { p.PriceCents = 30000 })
	pro := dbtest.CreatePlan(t, env.db, func(p *models.Plan) {
		p.Name = "Pro"
		p.PriceCents = 60000
		p.Features = []string{"listings", "analytics"}
	})
	now := env.clock.now
	sub := env.insertActive(t, userID, basic, now.AddDate(0, 0, -20), now.AddDate(0, 0, 10).Add(time.Hour), true)

	result, err := env.svc.ChangePlan(context.Background(), ChangePlanInput{
		SubscriptionID: sub.ID,
		PlanID:         pro.ID,
		Immediately:    true,
		Prorate:        true,
		Actor:          owner(userID),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10000), result.ChargeCents)

	stored := env.reload(t, sub.ID)
	assert.Equal(t, pro.ID, stored.PlanID)
	assert.Equal(t, int64(60000), stored.AmountCents)
	assert.Equal(t, []string{"listings", "analytics"}, stored.FeaturesSnapshot.Features)
	assert.True(t, stored.EndsAt.Equal(now.AddDate(0, 0, 30)))
	assert.Nil(t, stored.PendingChange)

	count, err := env.outbox.CountByAggregate(sub.ID, string(enums.EventSubscriptionPlanChanged))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestChangePlanDowngradeNeverCharges(t *testing.T) {
	env := newTestEnv(t)
	userID := uuid.New()
	pro := dbtest.CreatePlan(t, env.db, func(p *models.Plan) { p.PriceCents = 60000 })
	basic := dbtest.CreatePlan(t, env.db, func(p *models.Plan) { p.PriceCents = 30000 })
	now := env.clock.now
	sub := env.insertActive(t, userID, pro, now.AddDate(0, 0, -10), now.AddDate(0, 0, 20), true)

	result, err := env.svc.ChangePlan(context.Background(), ChangePlanInput{
		SubscriptionID: sub.ID,
		PlanID:         basic.ID,
		Immediately:    true,
		Prorate:        true,
		Actor:          owner(userID),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.ChargeCents)
}

func TestChangePlanWithoutProrateDoesNotCharge(t *testing.T) {
	env := newTestEnv(t)
	userID := uuid.New()
	basic := dbtest.CreatePlan(t, env.db, nil)
	pro := dbtest.CreatePlan(t, env.db, func(p *models.Plan) { p.PriceCents = 60000 })
	now := env.clock.now
	sub := env.insertActive(t, userID, basic, now.AddDate(0, 0, -20), now.AddDate(0, 0, 10), true)

	result, err := env.svc.ChangePlan(context.Background(), ChangePlanInput{
		SubscriptionID: sub.ID,
		PlanID:         pro.ID,
		Immediately:    true,
		Actor:          owner(userID),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.ChargeCents)
	assert.Equal(t, pro.ID, result.Subscription.PlanID)
}

func TestChangePlanDeferredAppliesAtExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()
	basic := dbtest.CreatePlan(t, env.db, nil)
	pro := dbtest.CreatePlan(t, env.db, func(p *models.Plan) {
		p.PriceCents = 60000
		p.DurationDays = 60
	})
	now := env.clock.now
	endsAt := now.AddDate(0, 0, 5)
	sub := env.insertActive(t, userID, basic, now.AddDate(0, 0, -25), endsAt, false)

	result, err := env.svc.ChangePlan(ctx, ChangePlanInput{SubscriptionID: sub.ID, PlanID: pro.ID, Actor: owner(userID)})
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.ChargeCents)

	stored := env.reload(t, sub.ID)
	assert.Equal(t, basic.ID, stored.PlanID)
	require.NotNil(t, stored.PendingChange)
	assert.Equal(t, pro.ID, stored.PendingChange.PlanID)
	assert.True(t, stored.PendingChange.EffectiveAt.Equal(endsAt))
	assert.Equal(t, userID, stored.PendingChange.RequestedBy)

	report, err := env.svc.ProcessExpired(ctx, endsAt.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Switched)

	switched := env.reload(t, sub.ID)
	assert.Equal(t, enums.SubscriptionStatusActive, switched.Status)
	assert.Equal(t, pro.ID, switched.PlanID)
	assert.Equal(t, int64(60000), switched.AmountCents)
	assert.Nil(t, switched.PendingChange)
	assert.True(t, switched.StartsAt.Equal(endsAt))
	assert.True(t, switched.EndsAt.Equal(endsAt.AddDate(0, 0, 60)))
}

func TestChangePlanRules(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()
	basic := dbtest.CreatePlan(t, env.db, nil)
	pro := dbtest.CreatePlan(t, env.db, func(p *models.Plan) { p.PriceCents = 60000 })
	now := env.clock.now
	sub := env.insertActive(t, userID, basic, now.AddDate(0, 0, -1), now.AddDate(0, 0, 29), true)

	_, err := env.svc.ChangePlan(ctx, ChangePlanInput{SubscriptionID: sub.ID, PlanID: pro.ID, Immediately: true, Actor: owner(uuid.New())})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeForbidden))

	_, err = env.svc.ChangePlan(ctx, ChangePlanInput{SubscriptionID: sub.ID, PlanID: basic.ID, Immediately: true, Actor: owner(userID)})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	pending, err := env.svc.Create(ctx, CreateInput{UserID: uuid.New(), PlanID: basic.ID, TrialDays: intPtr(0), Actor: types.SystemActor()})
	require.NoError(t, err)
	_, err = env.svc.ChangePlan(ctx, ChangePlanInput{SubscriptionID: pending.ID, PlanID: pro.ID, Immediately: true, Actor: types.SystemActor()})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeStateConflict))

	_, err = env.svc.ChangePlan(ctx, ChangePlanInput{SubscriptionID: uuid.New(), PlanID: pro.ID, Actor: types.SystemActor()})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestCancelImmediately(t *testing.T) {
	env := newTestEnv(t)
	userID := uuid.New()
	plan := dbtest.CreatePlan(t, env.db, nil)
	now := env.clock.now
	sub := env.insertActive(t, userID, plan, now.AddDate(0, 0, -3), now.AddDate(0, 0, 27), true)

	cancelled, err := env.svc.Cancel(context.Background(), CancelInput{SubscriptionID: sub.ID, Immediately: true, Reason: " too expensive ", Actor: owner(userID)})
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusCancelled, cancelled.Status)

	stored := env.reload(t, sub.ID)
	assert.True(t, stored.EndsAt.Equal(now))
	require.NotNil(t, stored.CancelledAt)
	require.NotNil(t, stored.CancellationReason)
	assert.Equal(t, "too expensive", *stored.CancellationReason)
	assert.False(t, stored.AutoRenew)
	assert.False(t, IsActive(stored, now))

	again, err := env.svc.Cancel(context.Background(), CancelInput{SubscriptionID: sub.ID, Immediately: true, Actor: owner(userID)})
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusCancelled, again.Status)
}

func TestCancelBeforeStartEndsAtStart(t *testing.T) {
	env := newTestEnv(t)
	userID := uuid.New()
	plan := dbtest.CreatePlan(t, env.db, nil)
	now := env.clock.now
	startsAt := now.AddDate(0, 0, 2)
	sub := env.insertActive(t, userID, plan, startsAt, startsAt.AddDate(0, 0, 30), true)

	_, err := env.svc.Cancel(context.Background(), CancelInput{SubscriptionID: sub.ID, Immediately: true, Actor: owner(userID)})
	require.NoError(t, err)
	assert.True(t, env.reload(t, sub.ID).EndsAt.Equal(startsAt))
}

func TestCancelDeferredKeepsAccessUntilEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()
	plan := dbtest.CreatePlan(t, env.db, nil)
	now := env.clock.now
	endsAt := now.AddDate(0, 0, 12)
	sub := env.insertActive(t, userID, plan, now.AddDate(0, 0, -18), endsAt, true)

	got, err := env.svc.Cancel(ctx, CancelInput{SubscriptionID: sub.ID, Reason: "closing store", Actor: owner(userID)})
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusActive, got.Status)

	stored := env.reload(t, sub.ID)
	assert.False(t, stored.AutoRenew)
	require.NotNil(t, stored.CancelRequestedAt)
	assert.True(t, IsActive(stored, now))
	assert.True(t, IsActive(stored, endsAt.Add(-time.Minute)))
	assert.False(t, IsActive(stored, endsAt))

	active, err := env.svc.GetActive(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, sub.ID, active.ID)

	_, err = env.svc.Renew(ctx, sub.ID)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeStateConflict))

	report, err := env.svc.ProcessExpired(ctx, endsAt.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Cancelled)

	closed := env.reload(t, sub.ID)
	assert.Equal(t, enums.SubscriptionStatusCancelled, closed.Status)
	assert.True(t, closed.EndsAt.Equal(endsAt))
}

func TestCancelRejectsExpired(t *testing.T) {
	env := newTestEnv(t)
	userID := uuid.New()
	plan := dbtest.CreatePlan(t, env.db, nil)
	now := env.clock.now
	sub := env.insertActive(t, userID, plan, now.AddDate(0, 0, -40), now.AddDate(0, 0, -10), false)
	require.NoError(t, env.db.Model(&models.Subscription{}).Where("id = ?", sub.ID).Update("status", enums.SubscriptionStatusExpired).Error)

	_, err := env.svc.Cancel(context.Background(), CancelInput{SubscriptionID: sub.ID, Immediately: true, Actor: types.Actor{UserID: uuid.New(), Role: types.ActorRoleAdmin}})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeStateConflict))
}

func TestProcessExpiredSweep(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	plan := dbtest.CreatePlan(t, env.db, nil)
	retired := dbtest.CreatePlan(t, env.db, func(p *models.Plan) { p.IsActive = false })
	now := env.clock.now
	endedAt := now.Add(-time.Hour)

	renewing := env.insertActive(t, uuid.New(), plan, endedAt.AddDate(0, 0, -30), endedAt, true)
	lapsing := env.insertActive(t, uuid.New(), plan, endedAt.AddDate(0, 0, -30), endedAt, false)
	onRetired := env.insertActive(t, uuid.New(), retired, endedAt.AddDate(0, 0, -30), endedAt, true)
	notDue := env.insertActive(t, uuid.New(), plan, now.AddDate(0, 0, -1), now.AddDate(0, 0, 29), true)

	trialUser := uuid.New()
	trial, err := env.svc.Create(ctx, CreateInput{UserID: trialUser, PlanID: plan.ID, TrialDays: intPtr(7), AutoRenew: true, Actor: owner(trialUser)})
	require.NoError(t, err)

	report, err := env.svc.ProcessExpired(ctx, now.AddDate(0, 0, 8), 50)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Renewed)
	assert.Equal(t, 3, report.Expired)
	assert.Equal(t, 0, report.Skipped)

	renewed := env.reload(t, renewing.ID)
	assert.Equal(t, enums.SubscriptionStatusActive, renewed.Status)
	assert.True(t, renewed.StartsAt.Equal(endedAt))
	assert.True(t, renewed.EndsAt.Equal(endedAt.AddDate(0, 0, 30)))
	require.NotNil(t, renewed.LastRenewedAt)

	assert.Equal(t, enums.SubscriptionStatusExpired, env.reload(t, lapsing.ID).Status)
	assert.Equal(t, enums.SubscriptionStatusExpired, env.reload(t, onRetired.ID).Status)
	assert.Equal(t, enums.SubscriptionStatusExpired, env.reload(t, trial.ID).Status)
	assert.Equal(t, enums.SubscriptionStatusActive, env.reload(t, notDue.ID).Status)

	count, err := env.outbox.CountByAggregate(lapsing.ID, string(enums.EventSubscriptionExpired))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	second, err := env.svc.ProcessExpired(ctx, now.AddDate(0, 0, 8), 50)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Total())
}

func TestRenewExpiredSubscription(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()
	plan := dbtest.CreatePlan(t, env.db, nil)
	now := env.clock.now
	sub := env.insertActive(t, userID, plan, now.AddDate(0, 0, -90), now.AddDate(0, 0, -60), false)
	require.NoError(t, env.db.Model(&models.Subscription{}).Where("id = ?", sub.ID).Update("status", enums.SubscriptionStatusExpired).Error)

	renewed, err := env.svc.Renew(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusActive, renewed.Status)
	assert.True(t, renewed.StartsAt.Equal(now))
	assert.True(t, renewed.EndsAt.Equal(now.AddDate(0, 0, 30)))

	blockedUser := uuid.New()
	blocked := env.insertActive(t, blockedUser, plan, now.AddDate(0, 0, -90), now.AddDate(0, 0, -60), false)
	require.NoError(t, env.db.Model(&models.Subscription{}).Where("id = ?", blocked.ID).Update("status", enums.SubscriptionStatusExpired).Error)
	env.insertActive(t, blockedUser, plan, now, now.AddDate(0, 0, 30), true)

	_, err = env.svc.Renew(ctx, blocked.ID)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeConflict))
}
