package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradehub-backend/internal/billing"
	"github.com/angelmondragon/tradehub-backend/pkg/db/models"
	"github.com/angelmondragon/tradehub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradehub-backend/pkg/errors"
	"github.com/angelmondragon/tradehub-backend/pkg/logger"
	"github.com/angelmondragon/tradehub-backend/pkg/outbox"
	"github.com/angelmondragon/tradehub-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/tradehub-backend/pkg/types"
)

const supersededReason = "superseded by a new subscription"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service defines the subscription lifecycle surface.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Subscription, error)
	Activate(ctx context.Context, subscriptionID uuid.UUID, at time.Time) (*models.Subscription, error)
	ActivateTx(ctx context.Context, tx *gorm.DB, subscriptionID uuid.UUID, at time.Time) error
	ChangePlan(ctx context.Context, input ChangePlanInput) (*ChangePlanResult, error)
	Cancel(ctx context.Context, input CancelInput) (*models.Subscription, error)
	Renew(ctx context.Context, subscriptionID uuid.UUID) (*models.Subscription, error)
	ProcessExpired(ctx context.Context, now time.Time, limit int) (ExpiryReport, error)
	Get(ctx context.Context, subscriptionID uuid.UUID) (*models.Subscription, error)
	GetActive(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
}

// ServiceParams groups dependencies for the subscription service.
type ServiceParams struct {
	Repo              billing.Repository
	TransactionRunner txRunner
	Outbox            outboxPublisher
	Logger            *logger.Logger
	Now               func() time.Time
}

// CreateInput starts a subscription. A nil TrialDays falls back to the plan's
// trial length.
type CreateInput struct {
	UserID    uuid.UUID
	PlanID    uuid.UUID
	TrialDays *int
	AutoRenew bool
	Actor     types.Actor
}

type ChangePlanInput struct {
	SubscriptionID uuid.UUID
	PlanID         uuid.UUID
	Immediately    bool
	Prorate        bool
	Actor          types.Actor
}

// ChangePlanResult carries the updated row and what the switch costs now.
type ChangePlanResult struct {
	Subscription *models.Subscription
	ChargeCents  int64
}

type CancelInput struct {
	SubscriptionID uuid.UUID
	Immediately    bool
	Reason         string
	Actor          types.Actor
}

type service struct {
	repo   billing.Repository
	tx     txRunner
	outbox outboxPublisher
	logg   *logger.Logger
	now    func() time.Time
}

// NewService builds a subscription service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("billing repo required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:   params.Repo,
		tx:     params.TransactionRunner,
		outbox: params.Outbox,
		logg:   params.Logger,
		now:    func() time.Time { return now().UTC() },
	}, nil
}

// IsActive reports whether sub grants access at now. A deferred cancellation
// stays active until its end date.
func IsActive(sub *models.Subscription, now time.Time) bool {
	return sub != nil && sub.IsActiveAt(now)
}

// Create cancels whatever the user currently holds and opens a new
// subscription: active straight away when a trial applies, pending payment
// otherwise.
func (s *service) Create(ctx context.Context, input CreateInput) (*models.Subscription, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if input.PlanID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan id is required")
	}
	if input.TrialDays != nil && *input.TrialDays < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "trial days cannot be negative")
	}
	if err := authorizeOwner(input.Actor, input.UserID); err != nil {
		return nil, err
	}

	now := s.now()
	var created *models.Subscription
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		plan, err := loadPlan(ctx, repo, input.PlanID, true)
		if err != nil {
			return err
		}

		open, err := repo.ListOpenByUserForUpdate(ctx, input.UserID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list open subscriptions")
		}
		for i := range open {
			if err := s.closeSuperseded(ctx, tx, repo, &open[i], now, input.Actor); err != nil {
				return err
			}
		}

		trialDays := plan.TrialDays
		if input.TrialDays != nil {
			trialDays = *input.TrialDays
		}
		sub := &models.Subscription{
			ID:               uuid.New(),
			UserID:           input.UserID,
			PlanID:           plan.ID,
			Status:           enums.SubscriptionStatusPending,
			StartsAt:         now,
			EndsAt:           now,
			AmountCents:      plan.PriceCents,
			Currency:         plan.Currency,
			AutoRenew:        input.AutoRenew,
			FeaturesSnapshot: featuresOf(plan),
		}
		if trialDays > 0 {
			trialEnds := now.AddDate(0, 0, trialDays)
			sub.Status = enums.SubscriptionStatusActive
			sub.TrialEndsAt = &trialEnds
			sub.EndsAt = trialEnds
		}
		if err := repo.CreateSubscription(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create subscription")
		}
		created = sub
		return s.emit(ctx, tx, enums.EventSubscriptionCreated, sub, input.Actor, 0, "")
	})
	if err != nil {
		return nil, err
	}

	s.logInfo(ctx, created, input.Actor, "subscription created")
	return created, nil
}

func (s *service) Activate(ctx context.Context, subscriptionID uuid.UUID, at time.Time) (*models.Subscription, error) {
	if err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.ActivateTx(ctx, tx, subscriptionID, at)
	}); err != nil {
		return nil, err
	}
	return s.Get(ctx, subscriptionID)
}

// ActivateTx starts the paid period of a pending subscription inside the
// caller's transaction. Paying during a trial extends the trial by one full
// period; an already paid active row is left alone.
func (s *service) ActivateTx(ctx context.Context, tx *gorm.DB, subscriptionID uuid.UUID, at time.Time) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	repo := s.repo.WithTx(tx)
	sub, err := loadForUpdate(ctx, repo, subscriptionID)
	if err != nil {
		return err
	}
	at = at.UTC()

	switch sub.Status {
	case enums.SubscriptionStatusActive:
		if !trialOnly(sub) {
			return nil
		}
		plan, err := loadPlan(ctx, repo, sub.PlanID, false)
		if err != nil {
			return err
		}
		start := *sub.TrialEndsAt
		if at.After(start) {
			start = at
		}
		sub.EndsAt = start.Add(plan.Duration())
	case enums.SubscriptionStatusPending, enums.SubscriptionStatusSuspended:
		plan, err := loadPlan(ctx, repo, sub.PlanID, false)
		if err != nil {
			return err
		}
		if err := s.closeOtherActive(ctx, tx, repo, sub, at); err != nil {
			return err
		}
		sub.Status = enums.SubscriptionStatusActive
		sub.StartsAt = at
		sub.EndsAt = at.Add(plan.Duration())
	default:
		if s.logg != nil {
			logCtx := s.logg.WithSubscriptionID(ctx, sub.ID.String())
			logCtx = s.logg.WithField(logCtx, "status", sub.Status)
			s.logg.Warn(logCtx, "payment completed for closed subscription, manual refund needed")
		}
		return nil
	}

	if err := repo.UpdateSubscription(ctx, sub); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "activate subscription")
	}
	if err := s.emit(ctx, tx, enums.EventSubscriptionActivated, sub, types.SystemActor(), sub.AmountCents, ""); err != nil {
		return err
	}
	s.logInfo(ctx, sub, types.SystemActor(), "subscription activated")
	return nil
}

// ChangePlan switches plans now, optionally charging the prorated difference,
// or records the switch for the end of the current period.
func (s *service) ChangePlan(ctx context.Context, input ChangePlanInput) (*ChangePlanResult, error) {
	if input.SubscriptionID == uuid.Nil || input.PlanID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id and plan id are required")
	}

	now := s.now()
	result := &ChangePlanResult{}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub, err := loadForUpdate(ctx, repo, input.SubscriptionID)
		if err != nil {
			return err
		}
		if err := authorizeOwner(input.Actor, sub.UserID); err != nil {
			return err
		}
		if sub.Status != enums.SubscriptionStatusActive {
			return stateConflict(sub, "only active subscriptions can change plan")
		}
		if sub.PlanID == input.PlanID {
			return pkgerrors.New(pkgerrors.CodeValidation, "subscription is already on this plan")
		}
		newPlan, err := loadPlan(ctx, repo, input.PlanID, true)
		if err != nil {
			return err
		}

		reason := "deferred"
		if input.Immediately {
			reason = "immediate"
			if input.Prorate {
				oldPlan, err := loadPlan(ctx, repo, sub.PlanID, false)
				if err != nil {
					return err
				}
				result.ChargeCents = ProrationCharge(
					RemainingDays(now, sub.EndsAt),
					sub.AmountCents, oldPlan.DurationDays,
					newPlan.PriceCents, newPlan.DurationDays,
				)
			}
			applyPlan(sub, newPlan)
			sub.StartsAt = now
			sub.EndsAt = now.Add(newPlan.Duration())
			sub.PendingChange = nil
		} else {
			if sub.CancelRequestedAt != nil {
				return stateConflict(sub, "subscription is set to cancel at period end")
			}
			sub.PendingChange = &types.PendingPlanChange{
				PlanID:      newPlan.ID,
				RequestedAt: now,
				EffectiveAt: sub.EndsAt,
				RequestedBy: input.Actor.UserID,
			}
		}

		if err := repo.UpdateSubscription(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "change subscription plan")
		}
		result.Subscription = sub
		return s.emitPlanChange(ctx, tx, sub, newPlan.ID, input.Actor, result.ChargeCents, reason)
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithSubscriptionID(ctx, result.Subscription.ID.String())
		logCtx = s.logg.WithActor(logCtx, input.Actor.UserID.String(), input.Actor.Role)
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"plan_id":      input.PlanID.String(),
			"immediately":  input.Immediately,
			"charge_cents": result.ChargeCents,
		})
		s.logg.Info(logCtx, "subscription plan changed")
	}
	return result, nil
}

// Cancel ends the subscription now, or turns off renewal and keeps it active
// until its end date.
func (s *service) Cancel(ctx context.Context, input CancelInput) (*models.Subscription, error) {
	if input.SubscriptionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id is required")
	}

	now := s.now()
	var cancelled *models.Subscription
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub, err := loadForUpdate(ctx, repo, input.SubscriptionID)
		if err != nil {
			return err
		}
		if err := authorizeOwner(input.Actor, sub.UserID); err != nil {
			return err
		}
		switch sub.Status {
		case enums.SubscriptionStatusCancelled:
			cancelled = sub
			return nil
		case enums.SubscriptionStatusExpired:
			return stateConflict(sub, "subscription already expired")
		}

		reason := trimmedReason(input.Reason)
		sub.AutoRenew = false
		sub.CancellationReason = reason
		if input.Immediately || sub.Status != enums.SubscriptionStatusActive {
			markCancelled(sub, now)
		} else {
			sub.CancelRequestedAt = &now
		}

		if err := repo.UpdateSubscription(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel subscription")
		}
		cancelled = sub
		return s.emit(ctx, tx, enums.EventSubscriptionCancelled, sub, input.Actor, 0, input.Reason)
	})
	if err != nil {
		return nil, err
	}

	s.logInfo(ctx, cancelled, input.Actor, "subscription cancelled")
	return cancelled, nil
}

// Renew starts the next period now for an active or lapsed subscription,
// applying any pending plan change first.
func (s *service) Renew(ctx context.Context, subscriptionID uuid.UUID) (*models.Subscription, error) {
	now := s.now()
	var renewed *models.Subscription
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub, err := loadForUpdate(ctx, repo, subscriptionID)
		if err != nil {
			return err
		}
		switch sub.Status {
		case enums.SubscriptionStatusActive:
		case enums.SubscriptionStatusExpired:
			other, err := repo.FindActiveByUser(ctx, sub.UserID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load active subscription")
			}
			if other != nil {
				return pkgerrors.New(pkgerrors.CodeConflict, "user already has an active subscription").
					WithDetails(map[string]any{"subscription_id": other.ID.String()})
			}
		default:
			return stateConflict(sub, "subscription cannot be renewed")
		}
		if sub.CancelRequestedAt != nil {
			return stateConflict(sub, "subscription is set to cancel at period end")
		}

		planID := sub.PlanID
		if sub.PendingChange != nil {
			planID = sub.PendingChange.PlanID
		}
		plan, err := loadPlan(ctx, repo, planID, true)
		if err != nil {
			return err
		}
		if err := s.renewLocked(ctx, tx, repo, sub, plan, now); err != nil {
			return err
		}
		renewed = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logInfo(ctx, renewed, types.SystemActor(), "subscription renewed")
	return renewed, nil
}

func (s *service) Get(ctx context.Context, subscriptionID uuid.UUID) (*models.Subscription, error) {
	sub, err := s.repo.FindSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, mapSubscriptionError(err, subscriptionID)
	}
	return sub, nil
}

// GetActive returns the user's active subscription or nil.
func (s *service) GetActive(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	sub, err := s.repo.FindActiveByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load active subscription")
	}
	if sub == nil || !IsActive(sub, s.now()) {
		return nil, nil
	}
	return sub, nil
}

// renewLocked moves sub into its next period on plan. The period chains from
// the previous end unless that would still leave it in the past.
func (s *service) renewLocked(ctx context.Context, tx *gorm.DB, repo billing.Repository, sub *models.Subscription, plan *models.Plan, now time.Time) error {
	switched := plan.ID != sub.PlanID
	start := sub.EndsAt
	if !start.Add(plan.Duration()).After(now) {
		start = now
	}
	applyPlan(sub, plan)
	sub.Status = enums.SubscriptionStatusActive
	sub.StartsAt = start
	sub.EndsAt = start.Add(plan.Duration())
	sub.PendingChange = nil
	sub.LastRenewedAt = &now

	if err := repo.UpdateSubscription(ctx, sub); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "renew subscription")
	}
	if switched {
		if err := s.emitPlanChange(ctx, tx, sub, plan.ID, types.SystemActor(), 0, "period_end"); err != nil {
			return err
		}
	}
	return s.emit(ctx, tx, enums.EventSubscriptionRenewed, sub, types.SystemActor(), sub.AmountCents, "")
}

func (s *service) closeSuperseded(ctx context.Context, tx *gorm.DB, repo billing.Repository, sub *models.Subscription, now time.Time, actor types.Actor) error {
	reason := supersededReason
	sub.AutoRenew = false
	sub.CancellationReason = &reason
	markCancelled(sub, now)
	if err := repo.UpdateSubscription(ctx, sub); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel superseded subscription")
	}
	return s.emit(ctx, tx, enums.EventSubscriptionCancelled, sub, actor, 0, reason)
}

// closeOtherActive keeps the one-active-per-user rule when a pending row is
// activated while another row is still active.
func (s *service) closeOtherActive(ctx context.Context, tx *gorm.DB, repo billing.Repository, sub *models.Subscription, now time.Time) error {
	open, err := repo.ListOpenByUserForUpdate(ctx, sub.UserID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list open subscriptions")
	}
	for i := range open {
		if open[i].ID == sub.ID || open[i].Status != enums.SubscriptionStatusActive {
			continue
		}
		if err := s.closeSuperseded(ctx, tx, repo, &open[i], now, types.SystemActor()); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, sub *models.Subscription, actor types.Actor, charge int64, reason string) error {
	return s.emitEvent(ctx, tx, eventType, sub, sub.PlanID, actor, charge, reason)
}

func (s *service) emitPlanChange(ctx context.Context, tx *gorm.DB, sub *models.Subscription, planID uuid.UUID, actor types.Actor, charge int64, reason string) error {
	return s.emitEvent(ctx, tx, enums.EventSubscriptionPlanChanged, sub, planID, actor, charge, reason)
}

func (s *service) emitEvent(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, sub *models.Subscription, planID uuid.UUID, actor types.Actor, charge int64, reason string) error {
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateSubscription,
		AggregateID:   sub.ID,
		Actor:         outbox.ActorFrom(actor),
		Data: payloads.SubscriptionEvent{
			SubscriptionID: sub.ID,
			UserID:         sub.UserID,
			PlanID:         planID,
			Status:         sub.Status,
			EndsAt:         sub.EndsAt,
			ChargeCents:    charge,
			Reason:         reason,
		},
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit subscription event")
	}
	return nil
}

func (s *service) logInfo(ctx context.Context, sub *models.Subscription, actor types.Actor, msg string) {
	if s.logg == nil || sub == nil {
		return
	}
	logCtx := s.logg.WithSubscriptionID(ctx, sub.ID.String())
	logCtx = s.logg.WithUserID(logCtx, sub.UserID.String())
	logCtx = s.logg.WithActor(logCtx, actor.UserID.String(), actor.Role)
	logCtx = s.logg.WithField(logCtx, "status", sub.Status)
	s.logg.Info(logCtx, msg)
}

func authorizeOwner(actor types.Actor, ownerID uuid.UUID) error {
	if actor.IsAdmin() || actor.IsSystem() {
		return nil
	}
	if actor.UserID == uuid.Nil || actor.UserID != ownerID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "subscription belongs to another user")
	}
	return nil
}

func loadForUpdate(ctx context.Context, repo billing.Repository, id uuid.UUID) (*models.Subscription, error) {
	sub, err := repo.FindSubscriptionForUpdate(ctx, id)
	if err != nil {
		return nil, mapSubscriptionError(err, id)
	}
	return sub, nil
}

func loadPlan(ctx context.Context, repo billing.Repository, id uuid.UUID, requireActive bool) (*models.Plan, error) {
	plan, err := repo.FindPlanByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found").
				WithDetails(map[string]any{"plan_id": id.String()})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load plan")
	}
	if requireActive && !plan.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan is not available").
			WithDetails(map[string]any{"plan_id": id.String()})
	}
	if plan.DurationDays <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "plan has no billing period").
			WithDetails(map[string]any{"plan_id": id.String()})
	}
	return plan, nil
}

func mapSubscriptionError(err error, id uuid.UUID) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found").
			WithDetails(map[string]any{"subscription_id": id.String()})
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
}

func stateConflict(sub *models.Subscription, msg string) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, msg).
		WithDetails(map[string]any{
			"subscription_id": sub.ID.String(),
			"status":          string(sub.Status),
		})
}

func applyPlan(sub *models.Subscription, plan *models.Plan) {
	sub.PlanID = plan.ID
	sub.AmountCents = plan.PriceCents
	sub.Currency = plan.Currency
	sub.FeaturesSnapshot = featuresOf(plan)
}

func markCancelled(sub *models.Subscription, now time.Time) {
	sub.Status = enums.SubscriptionStatusCancelled
	sub.CancelledAt = &now
	sub.PendingChange = nil
	if now.After(sub.StartsAt) {
		sub.EndsAt = now
	} else {
		sub.EndsAt = sub.StartsAt
	}
}

// trialOnly reports whether the current period is still the unpaid trial.
func trialOnly(sub *models.Subscription) bool {
	return sub.TrialEndsAt != nil && !sub.EndsAt.After(*sub.TrialEndsAt)
}

func featuresOf(plan *models.Plan) types.FeaturesSnapshot {
	features := make([]string, len(plan.Features))
	copy(features, plan.Features)
	return types.FeaturesSnapshot{
		Version:  types.FeaturesSnapshotVersion,
		PlanSlug: plan.Slug,
		PlanName: plan.Name,
		Features: features,
	}
}

func trimmedReason(reason string) *string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil
	}
	return &reason
}
