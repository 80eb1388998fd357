package webhooks

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/angelmondragon/tradehub-backend/api/responses"
	"github.com/angelmondragon/tradehub-backend/api/validators"
	"github.com/angelmondragon/tradehub-backend/internal/payments"
	internalwebhooks "github.com/angelmondragon/tradehub-backend/internal/webhooks"
	pkgerrors "github.com/angelmondragon/tradehub-backend/pkg/errors"
	"github.com/angelmondragon/tradehub-backend/pkg/gateway"
	"github.com/angelmondragon/tradehub-backend/pkg/logger"
)

type PaymentCallbackService interface {
	ApplyCallback(ctx context.Context, payload gateway.CallbackPayload) (*payments.CallbackResult, error)
}

// CallbackGuard de-duplicates deliveries that arrive while one is in flight.
type CallbackGuard interface {
	Claim(ctx context.Context, deliveryID string) (internalwebhooks.DeliveryState, error)
	Complete(ctx context.Context, deliveryID string) error
	Release(ctx context.Context, deliveryID string) error
}

// guardWriteTimeout bounds the guard update issued after the request may
// already be gone.
const guardWriteTimeout = 2 * time.Second

type callbackResponse struct {
	Status        string `json:"status"`
	PaymentID     string `json:"payment_id,omitempty"`
	PaymentStatus string `json:"payment_status,omitempty"`
}

// PaymentCallback receives billing provider status callbacks.
func PaymentCallback(svc PaymentCallbackService, guard CallbackGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}

		var payload gateway.CallbackPayload
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			ctx = logg.WithBillID(ctx, payload.BillID)
		}

		deliveryID := internalwebhooks.DeliveryID(payload.BillID, payload.Status, strconv.FormatInt(payload.Amount, 10), payload.Signature)
		state, err := guard.Claim(ctx, deliveryID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check idempotency"))
			return
		}
		switch state {
		case internalwebhooks.DeliveryDone:
			responses.WriteSuccess(w, callbackResponse{Status: "duplicate"})
			return
		case internalwebhooks.DeliveryInFlight:
			// answer 500 so the provider redelivers once the other attempt settles
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "delivery already in progress"))
			return
		}

		result, err := svc.ApplyCallback(ctx, payload)
		if err != nil {
			settleDelivery(ctx, logg, "release", func(c context.Context) error { return guard.Release(c, deliveryID) })
			responses.WriteError(ctx, logg, w, callbackError(err))
			return
		}
		settleDelivery(ctx, logg, "complete", func(c context.Context) error { return guard.Complete(c, deliveryID) })

		resp := callbackResponse{Status: "accepted"}
		if result.Duplicate {
			resp.Status = "duplicate"
		}
		if result.Payment != nil {
			resp.PaymentID = result.Payment.ID.String()
			resp.PaymentStatus = string(result.Payment.Status)
		}
		if logg != nil {
			logg.Info(logg.WithField(ctx, "outcome", resp.Status), "payment callback processed")
		}
		responses.WriteSuccess(w, resp)
	}
}

// settleDelivery updates the guard on a context detached from the request so
// a disconnected client cannot leave the delivery claimed. Failures are logged
// only; an unreleased claim expires on its own.
func settleDelivery(ctx context.Context, logg *logger.Logger, action string, fn func(context.Context) error) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), guardWriteTimeout)
	defer cancel()
	if err := fn(writeCtx); err != nil && logg != nil {
		logg.Error(logg.WithField(ctx, "guard_action", action), "update callback idempotency key", err)
	}
}

// callbackError keeps 400 and 404 for problems the provider cannot fix by
// retrying and turns everything else into a 500 so it redelivers.
func callbackError(err error) error {
	switch pkgerrors.CodeOf(err) {
	case pkgerrors.CodeValidation, pkgerrors.CodeSignatureMismatch, pkgerrors.CodeNotFound, pkgerrors.CodeInternal:
		return err
	default:
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "callback processing failed")
	}
}
