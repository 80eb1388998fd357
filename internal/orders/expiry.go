package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradehub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradehub-backend/pkg/errors"
	"github.com/angelmondragon/tradehub-backend/pkg/types"
)

const unpaidCancellationReason = "payment not received"

// ExpireUnpaid cancels pending orders placed before cutoff that never got a
// settled payment, returning their stock. Each order runs in its own
// transaction so one failure does not hold back the rest.
func (s *service) ExpireUnpaid(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	ids, err := s.repo.ListUnpaidPendingBefore(ctx, cutoff, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list unpaid orders")
	}

	var errs error
	cancelled := 0
	for _, id := range ids {
		ok, err := s.expireOne(ctx, id)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", id, err))
			continue
		}
		if ok {
			cancelled++
		}
	}

	if s.logg != nil && len(ids) > 0 {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"candidates": len(ids),
			"cancelled":  cancelled,
			"cutoff":     cutoff.UTC(),
		})
		s.logg.Info(logCtx, "unpaid orders expired")
	}
	return cancelled, errs
}

func (s *service) expireOne(ctx context.Context, id uuid.UUID) (bool, error) {
	reason := unpaidCancellationReason
	expired := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.loadForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		// paid or moved on since it was listed
		if order.Status != enums.OrderStatusPending || order.PaymentStatus == enums.OrderPaymentStatusPaid {
			return nil
		}
		expired = true
		return s.applyTransition(ctx, tx, order, TransitionInput{
			OrderID: order.ID,
			Target:  enums.OrderStatusCancelled,
			Reason:  &reason,
			Actor:   types.SystemActor(),
		})
	})
	if err != nil {
		return false, err
	}
	return expired, nil
}
