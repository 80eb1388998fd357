package subscriptions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradehub-backend/internal/billing"
	"github.com/angelmondragon/tradehub-backend/pkg/db/models"
	"github.com/angelmondragon/tradehub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradehub-backend/pkg/errors"
	"github.com/angelmondragon/tradehub-backend/pkg/types"
)

type expiryOutcome string

const (
	outcomeSkipped   expiryOutcome = "skipped"
	outcomeSwitched  expiryOutcome = "switched"
	outcomeRenewed   expiryOutcome = "renewed"
	outcomeCancelled expiryOutcome = "cancelled"
	outcomeExpired   expiryOutcome = "expired"
)

// ExpiryReport counts what one sweep did.
type ExpiryReport struct {
	Switched  int
	Renewed   int
	Cancelled int
	Expired   int
	Skipped   int
}

func (r *ExpiryReport) add(outcome expiryOutcome) {
	switch outcome {
	case outcomeSwitched:
		r.Switched++
	case outcomeRenewed:
		r.Renewed++
	case outcomeCancelled:
		r.Cancelled++
	case outcomeExpired:
		r.Expired++
	default:
		r.Skipped++
	}
}

// Total is the number of subscriptions the sweep changed.
func (r ExpiryReport) Total() int {
	return r.Switched + r.Renewed + r.Cancelled + r.Expired
}

// ProcessExpired closes out every active subscription whose period ended by
// now. Each row is handled in its own transaction; one failure does not stop
// the sweep.
func (s *service) ProcessExpired(ctx context.Context, now time.Time, limit int) (ExpiryReport, error) {
	var report ExpiryReport
	now = now.UTC()
	ids, err := s.repo.ListDueForExpiry(ctx, now, limit)
	if err != nil {
		return report, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expired subscriptions")
	}

	var errs error
	for _, id := range ids {
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}
		outcome, err := s.expireOne(ctx, id, now)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("subscription %s: %w", id, err))
			continue
		}
		report.add(outcome)
	}

	if s.logg != nil && report.Total() > 0 {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"switched":  report.Switched,
			"renewed":   report.Renewed,
			"cancelled": report.Cancelled,
			"expired":   report.Expired,
		})
		s.logg.Info(logCtx, "subscription expiry sweep finished")
	}
	return report, errs
}

// expireOne applies, in order: a deferred cancellation, a pending plan
// change, auto renewal, plain expiry.
func (s *service) expireOne(ctx context.Context, id uuid.UUID, now time.Time) (expiryOutcome, error) {
	outcome := outcomeSkipped
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub, err := loadForUpdate(ctx, repo, id)
		if err != nil {
			return err
		}
		if sub.Status != enums.SubscriptionStatusActive || sub.EndsAt.After(now) {
			return nil
		}

		switch {
		case sub.CancelRequestedAt != nil:
			sub.Status = enums.SubscriptionStatusCancelled
			sub.CancelledAt = &now
			sub.PendingChange = nil
			outcome = outcomeCancelled
			return s.closeAtPeriodEnd(ctx, tx, repo, sub, enums.EventSubscriptionCancelled)
		case sub.PendingChange != nil:
			plan, err := loadPlan(ctx, repo, sub.PendingChange.PlanID, true)
			if err == nil {
				outcome = outcomeSwitched
				return s.renewLocked(ctx, tx, repo, sub, plan, now)
			}
			if !pkgerrors.Is(err, pkgerrors.CodeNotFound) && !pkgerrors.Is(err, pkgerrors.CodeValidation) {
				return err
			}
			s.logWarn(ctx, sub, "pending plan change target unavailable")
			sub.PendingChange = nil
		}

		if sub.AutoRenew && !trialOnly(sub) {
			plan, err := loadPlan(ctx, repo, sub.PlanID, true)
			if err == nil {
				outcome = outcomeRenewed
				return s.renewLocked(ctx, tx, repo, sub, plan, now)
			}
			if !pkgerrors.Is(err, pkgerrors.CodeValidation) {
				return err
			}
			s.logWarn(ctx, sub, "plan retired, subscription not renewed")
		}

		sub.Status = enums.SubscriptionStatusExpired
		outcome = outcomeExpired
		return s.closeAtPeriodEnd(ctx, tx, repo, sub, enums.EventSubscriptionExpired)
	})
	if err != nil {
		return outcomeSkipped, err
	}
	return outcome, nil
}

func (s *service) closeAtPeriodEnd(ctx context.Context, tx *gorm.DB, repo billing.Repository, sub *models.Subscription, eventType enums.OutboxEventType) error {
	if err := repo.UpdateSubscription(ctx, sub); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "close subscription")
	}
	reason := ""
	if sub.CancellationReason != nil {
		reason = *sub.CancellationReason
	}
	return s.emit(ctx, tx, eventType, sub, types.SystemActor(), 0, reason)
}

func (s *service) logWarn(ctx context.Context, sub *models.Subscription, msg string) {
	if s.logg == nil {
		return
	}
	logCtx := s.logg.WithSubscriptionID(ctx, sub.ID.String())
	logCtx = s.logg.WithField(logCtx, "plan_id", sub.PlanID.String())
	s.logg.Warn(logCtx, msg)
}
