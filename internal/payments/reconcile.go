package payments

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradehub-backend/pkg/db/models"
	"github.com/angelmondragon/tradehub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradehub-backend/pkg/errors"
	"github.com/angelmondragon/tradehub-backend/pkg/gateway"
	"github.com/angelmondragon/tradehub-backend/pkg/metrics"
	"github.com/angelmondragon/tradehub-backend/pkg/outbox"
	"github.com/angelmondragon/tradehub-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/tradehub-backend/pkg/types"
)

// CallbackResult reports what a callback did. Duplicate is set when the
// payment was already settled and nothing changed.
type CallbackResult struct {
	Payment   *models.Payment
	Duplicate bool
}

// statusUpdate is one provider observation to apply to a locked payment.
type statusUpdate struct {
	source         string
	providerStatus string
	status         enums.PaymentStatus
	amountCents    int64
	checkAmount    bool
	transactionRef string
	message        string
	manual         *types.ManualConfirmation
	actor          types.Actor
}

// ApplyCallback verifies and applies a gateway status callback. Replays for a
// settled payment succeed without side effects.
func (s *service) ApplyCallback(ctx context.Context, payload gateway.CallbackPayload) (*CallbackResult, error) {
	logCtx := ctx
	if s.logg != nil {
		logCtx = s.logg.WithBillID(ctx, payload.BillID)
	}
	if err := s.gateway.VerifyCallbackSignature(payload); err != nil {
		s.metrics.ObserveCallback(metrics.CallbackSignatureMismatch)
		if s.logg != nil {
			s.logg.Warn(s.logg.WithField(logCtx, "security", "signature_mismatch"), "rejected payment callback with invalid signature")
		}
		return nil, err
	}
	status, ok := gateway.MapStatus(payload.Status)
	if !ok {
		s.metrics.ObserveCallback(metrics.CallbackRejected)
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown provider status").
			WithDetails(map[string]any{"bill_id": payload.BillID, "status": payload.Status})
	}

	result := &CallbackResult{}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payment, err := repo.FindByBillIDForUpdate(ctx, payload.BillID)
		if err != nil {
			return mapLoadError(err, "bill_id", payload.BillID)
		}
		result.Payment = payment
		if payment.Status.IsTerminal() {
			result.Duplicate = true
			return nil
		}
		return s.applyLocked(ctx, tx, payment, statusUpdate{
			source:         types.GatewaySourceCallback,
			providerStatus: payload.Status,
			status:         status,
			amountCents:    payload.Amount,
			checkAmount:    status == enums.PaymentStatusCompleted || payload.Amount != 0,
			transactionRef: payload.TransactionRef,
			actor:          types.SystemActor(),
		})
	})
	if err != nil {
		outcome := metrics.CallbackError
		switch pkgerrors.CodeOf(err) {
		case pkgerrors.CodeValidation, pkgerrors.CodeNotFound:
			outcome = metrics.CallbackRejected
		}
		s.metrics.ObserveCallback(outcome)
		return nil, err
	}

	if result.Duplicate {
		s.metrics.ObserveCallback(metrics.CallbackDuplicate)
		if s.logg != nil {
			s.logg.Warn(s.logg.WithPaymentID(logCtx, result.Payment.ID.String()), "duplicate payment callback ignored")
		}
		return result, nil
	}
	s.metrics.ObserveCallback(metrics.CallbackApplied)
	return result, nil
}

// CheckStatus asks the gateway about a payment that has not settled and
// applies the answer through the same path as callbacks.
func (s *service) CheckStatus(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	payment, err := s.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status.IsTerminal() {
		return payment, nil
	}

	bill, err := s.gateway.QueryBill(ctx, payment.BillID)
	if err != nil {
		s.gatewayFailure(ctx, "query_bill", payment.BillID, err)
		return nil, err
	}
	status, ok := gateway.MapStatus(bill.Status)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "gateway returned an unknown status").
			WithDetails(map[string]any{"bill_id": payment.BillID, "status": bill.Status})
	}

	var updated *models.Payment
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		locked, err := loadForUpdate(ctx, repo, paymentID)
		if err != nil {
			return err
		}
		updated = locked
		if locked.Status.IsTerminal() {
			return nil
		}
		return s.applyLocked(ctx, tx, locked, statusUpdate{
			source:         types.GatewaySourcePoll,
			providerStatus: bill.Status,
			status:         status,
			amountCents:    bill.Amount,
			checkAmount:    bill.Amount != 0,
			transactionRef: bill.TransactionRef,
			message:        bill.Message,
			actor:          types.SystemActor(),
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ConfirmPayment lets an admin settle a payment the gateway never confirmed.
// A failed payment may be confirmed; a completed one is returned unchanged.
func (s *service) ConfirmPayment(ctx context.Context, input ConfirmInput) (*models.Payment, error) {
	if !input.Actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only admins can confirm payments")
	}
	if input.PaymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}

	now := s.now()
	var confirmed *models.Payment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payment, err := loadForUpdate(ctx, repo, input.PaymentID)
		if err != nil {
			return err
		}
		confirmed = payment
		switch payment.Status {
		case enums.PaymentStatusCompleted:
			return nil
		case enums.PaymentStatusPending, enums.PaymentStatusProcessing, enums.PaymentStatusFailed:
		default:
			return paymentConflict(payment, "payment cannot be confirmed")
		}
		return s.applyLocked(ctx, tx, payment, statusUpdate{
			source:         types.GatewaySourceManual,
			status:         enums.PaymentStatusCompleted,
			transactionRef: input.TransactionRef,
			message:        strings.TrimSpace(input.Note),
			manual: &types.ManualConfirmation{
				ActorID:     input.Actor.UserID,
				ActorRole:   input.Actor.Role,
				Note:        strings.TrimSpace(input.Note),
				ConfirmedAt: now,
			},
			actor: input.Actor,
		})
	})
	if err != nil {
		return nil, err
	}
	return confirmed, nil
}

// applyLocked moves a locked, unsettled payment to upd.status and runs the
// order or subscription side effects in the same transaction.
func (s *service) applyLocked(ctx context.Context, tx *gorm.DB, payment *models.Payment, upd statusUpdate) error {
	if upd.checkAmount && upd.amountCents != payment.AmountCents {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount does not match payment").
			WithDetails(map[string]any{
				"bill_id":  payment.BillID,
				"expected": payment.AmountCents,
				"received": upd.amountCents,
			})
	}

	now := s.now()
	payment.GatewayResponse = &types.GatewayResponse{
		Version:        types.GatewayResponseVersion,
		Source:         upd.source,
		ProviderStatus: upd.providerStatus,
		TransactionRef: upd.transactionRef,
		Message:        upd.message,
		ReceivedAt:     now,
	}
	if ref := strings.TrimSpace(upd.transactionRef); ref != "" {
		payment.TransactionRef = &ref
	}

	repo := s.repo.WithTx(tx)
	switch upd.status {
	case enums.PaymentStatusCompleted:
		payment.Status = enums.PaymentStatusCompleted
		payment.PaidAt = &now
		payment.FailedAt = nil
		payment.ManualConfirmation = upd.manual
		if err := wrapSave(repo.Save(ctx, payment)); err != nil {
			return err
		}
		if err := s.settleTarget(ctx, tx, payment, now); err != nil {
			return err
		}
		if err := s.emit(ctx, tx, enums.EventPaymentCompleted, payment, upd); err != nil {
			return err
		}
	case enums.PaymentStatusFailed:
		payment.Status = enums.PaymentStatusFailed
		payment.FailedAt = &now
		if err := wrapSave(repo.Save(ctx, payment)); err != nil {
			return err
		}
		if payment.OrderID != nil {
			if err := s.orders.MarkPaymentFailedTx(ctx, tx, *payment.OrderID); err != nil {
				return err
			}
		}
		if err := s.emit(ctx, tx, enums.EventPaymentFailed, payment, upd); err != nil {
			return err
		}
	default:
		// still pending at the provider; keep the latest answer only
		return wrapSave(repo.Save(ctx, payment))
	}

	s.metrics.ObserveReconciled(upd.source, string(payment.Status))
	if s.logg != nil {
		logCtx := s.logg.WithPaymentID(ctx, payment.ID.String())
		logCtx = s.logg.WithBillID(logCtx, payment.BillID)
		logCtx = s.logg.WithActor(logCtx, upd.actor.UserID.String(), upd.actor.Role)
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"source": upd.source,
			"status": payment.Status,
		})
		s.logg.Info(logCtx, "payment status applied")
	}
	return nil
}

func (s *service) settleTarget(ctx context.Context, tx *gorm.DB, payment *models.Payment, paidAt time.Time) error {
	switch {
	case payment.OrderID != nil:
		return s.orders.MarkPaidTx(ctx, tx, *payment.OrderID, paidAt)
	case payment.SubscriptionID != nil:
		return s.subscriptions.ActivateTx(ctx, tx, *payment.SubscriptionID, paidAt)
	default:
		return nil
	}
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, payment *models.Payment, upd statusUpdate) error {
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Actor:         outbox.ActorFrom(upd.actor),
		Data: payloads.PaymentStatusEvent{
			PaymentID:      payment.ID,
			BillID:         payment.BillID,
			OrderID:        payment.OrderID,
			SubscriptionID: payment.SubscriptionID,
			Status:         payment.Status,
			AmountCents:    payment.AmountCents,
			Currency:       payment.Currency,
			PayerPhone:     payment.Payer.Phone,
			PayerEmail:     payment.Payer.Email,
			Source:         upd.source,
			OccurredAt:     s.now(),
		},
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit payment event")
	}
	return nil
}
