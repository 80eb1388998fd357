package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgdb "github.com/angelmondragon/tradehub-backend/pkg/db"
	"github.com/angelmondragon/tradehub-backend/pkg/db/models"
	"github.com/angelmondragon/tradehub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradehub-backend/pkg/errors"
	"github.com/angelmondragon/tradehub-backend/pkg/gateway"
	"github.com/angelmondragon/tradehub-backend/pkg/logger"
	"github.com/angelmondragon/tradehub-backend/pkg/metrics"
	"github.com/angelmondragon/tradehub-backend/pkg/types"
)

const defaultPollConcurrency = 4

// Service initiates bills and reconciles their outcome.
type Service interface {
	CreateBill(ctx context.Context, input CreateBillInput) (*BillResult, error)
	SendUSSDPush(ctx context.Context, paymentID uuid.UUID, phone string) (*models.Payment, error)
	ApplyCallback(ctx context.Context, payload gateway.CallbackPayload) (*CallbackResult, error)
	CheckStatus(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error)
	ConfirmPayment(ctx context.Context, input ConfirmInput) (*models.Payment, error)
	PollPending(ctx context.Context, olderThan time.Duration, limit int) (PollReport, error)
	Get(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error)
}

// ServiceParams groups dependencies for the payments service.
type ServiceParams struct {
	Repo              Repository
	TransactionRunner txRunner
	Gateway           Gateway
	Orders            OrderPayments
	Subscriptions     SubscriptionPayments
	Outbox            outboxPublisher
	Metrics           *metrics.PaymentMetrics
	Logger            *logger.Logger
	PollConcurrency   int
	Now               func() time.Time
}

// CreateBillInput bills either an order or a subscription. AmountCents only
// applies to subscriptions, where it bills a proration charge instead of the
// plan price.
type CreateBillInput struct {
	OrderID        *uuid.UUID
	SubscriptionID *uuid.UUID
	AmountCents    int64
	Method         enums.PaymentMethod
	Payer          types.PayerInfo
	Actor          types.Actor
}

type BillResult struct {
	Payment    *models.Payment
	BillID     string
	PaymentURL string
}

// ConfirmInput records an admin settling a payment by hand.
type ConfirmInput struct {
	PaymentID      uuid.UUID
	Actor          types.Actor
	Note           string
	TransactionRef string
}

type service struct {
	repo            Repository
	tx              txRunner
	gateway         Gateway
	orders          OrderPayments
	subscriptions   SubscriptionPayments
	outbox          outboxPublisher
	metrics         *metrics.PaymentMetrics
	logg            *logger.Logger
	pollConcurrency int
	now             func() time.Time
}

// NewService builds the payments service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("gateway required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscriptions service required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	concurrency := params.PollConcurrency
	if concurrency <= 0 {
		concurrency = defaultPollConcurrency
	}
	return &service{
		repo:            params.Repo,
		tx:              params.TransactionRunner,
		gateway:         params.Gateway,
		orders:          params.Orders,
		subscriptions:   params.Subscriptions,
		outbox:          params.Outbox,
		metrics:         params.Metrics,
		logg:            params.Logger,
		pollConcurrency: concurrency,
		now:             func() time.Time { return now().UTC() },
	}, nil
}

// CreateBill prices the order or subscription, registers the bill with the
// gateway and stores a pending payment for it.
func (s *service) CreateBill(ctx context.Context, input CreateBillInput) (*BillResult, error) {
	if (input.OrderID == nil) == (input.SubscriptionID == nil) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "exactly one of order id or subscription id is required")
	}
	if !input.Method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported payment method").
			WithDetails(map[string]any{"method": string(input.Method)})
	}
	if strings.TrimSpace(input.Payer.Name) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payer name is required")
	}
	phone, err := gateway.ValidatePhone(input.Payer.Phone, input.Method)
	if err != nil {
		return nil, err
	}

	target, err := s.billTarget(ctx, input)
	if err != nil {
		return nil, err
	}

	paymentID := uuid.New()
	reference := paymentReference(paymentID)
	payer := types.PayerInfo{
		Version: types.PayerInfoVersion,
		Name:    strings.TrimSpace(input.Payer.Name),
		Email:   strings.TrimSpace(input.Payer.Email),
		Phone:   phone,
	}

	bill, err := s.gateway.CreateBill(ctx, gateway.BillRequest{
		Reference:   reference,
		AmountCents: target.amount,
		Currency:    target.currency,
		Method:      input.Method,
		PayerName:   payer.Name,
		PayerEmail:  payer.Email,
		PayerPhone:  payer.Phone,
		Description: target.description,
	})
	if err != nil {
		s.gatewayFailure(ctx, "create_bill", reference, err)
		return nil, err
	}

	now := s.now()
	payment := &models.Payment{
		ID:             paymentID,
		Reference:      reference,
		OrderID:        input.OrderID,
		SubscriptionID: input.SubscriptionID,
		BillID:         bill.BillID,
		AmountCents:    target.amount,
		Currency:       target.currency,
		Method:         input.Method,
		Provider:       s.gateway.Provider(),
		Status:         enums.PaymentStatusPending,
		Payer:          payer,
		GatewayResponse: &types.GatewayResponse{
			Version:        types.GatewayResponseVersion,
			Source:         types.GatewaySourceCreate,
			ProviderStatus: bill.Status,
			ReceivedAt:     now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if bill.PaymentURL != "" {
		url := bill.PaymentURL
		payment.PaymentURL = &url
	}
	if err := s.repo.Create(ctx, payment); err != nil {
		if pkgdb.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "bill already recorded").
				WithDetails(map[string]any{"bill_id": bill.BillID})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store payment")
	}

	if s.logg != nil {
		logCtx := s.logg.WithPaymentID(ctx, payment.ID.String())
		logCtx = s.logg.WithBillID(logCtx, payment.BillID)
		logCtx = s.logg.WithActor(logCtx, input.Actor.UserID.String(), input.Actor.Role)
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"amount_cents": payment.AmountCents,
			"method":       payment.Method,
		})
		s.logg.Info(logCtx, "bill created")
	}
	return &BillResult{Payment: payment, BillID: payment.BillID, PaymentURL: bill.PaymentURL}, nil
}

// SendUSSDPush prompts the payer's handset for a pending mobile money bill.
// An empty phone reuses the number the bill was created with.
func (s *service) SendUSSDPush(ctx context.Context, paymentID uuid.UUID, phone string) (*models.Payment, error) {
	payment, err := s.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status.IsTerminal() {
		return nil, paymentConflict(payment, "payment is already settled")
	}
	if !payment.Method.IsMobileMoney() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "ussd push requires a mobile money method").
			WithDetails(map[string]any{"method": string(payment.Method)})
	}
	if strings.TrimSpace(phone) == "" {
		phone = payment.Payer.Phone
	}
	normalized, err := gateway.ValidatePhone(phone, payment.Method)
	if err != nil {
		return nil, err
	}

	if err := s.gateway.SendUSSDPush(ctx, payment.BillID, normalized, payment.Method); err != nil {
		s.gatewayFailure(ctx, "ussd_push", payment.BillID, err)
		return nil, err
	}

	var updated *models.Payment
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		locked, err := loadForUpdate(ctx, repo, paymentID)
		if err != nil {
			return err
		}
		updated = locked
		if locked.Status != enums.PaymentStatusPending {
			return nil
		}
		locked.Status = enums.PaymentStatusProcessing
		return wrapSave(repo.Save(ctx, locked))
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithPaymentID(ctx, paymentID.String())
		logCtx = s.logg.WithBillID(logCtx, payment.BillID)
		s.logg.Info(logCtx, "ussd push sent")
	}
	return updated, nil
}

func (s *service) Get(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	payment, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		return nil, mapLoadError(err, "payment_id", paymentID.String())
	}
	return payment, nil
}

type billTarget struct {
	amount      int64
	currency    string
	description string
}

func (s *service) billTarget(ctx context.Context, input CreateBillInput) (billTarget, error) {
	if input.OrderID != nil {
		if input.AmountCents != 0 {
			return billTarget{}, pkgerrors.New(pkgerrors.CodeValidation, "order bills are charged the order total")
		}
		order, err := s.orders.Get(ctx, *input.OrderID)
		if err != nil {
			return billTarget{}, err
		}
		if err := authorizePayer(input.Actor, order.UserID); err != nil {
			return billTarget{}, err
		}
		if order.PaymentStatus == enums.OrderPaymentStatusPaid {
			return billTarget{}, pkgerrors.New(pkgerrors.CodeStateConflict, "order is already paid").
				WithDetails(map[string]any{"order_id": order.ID.String()})
		}
		if order.Status == enums.OrderStatusCancelled || order.Status == enums.OrderStatusRefunded {
			return billTarget{}, pkgerrors.New(pkgerrors.CodeStateConflict, "order can no longer be paid").
				WithDetails(map[string]any{"order_id": order.ID.String(), "status": string(order.Status)})
		}
		return billTarget{
			amount:      order.TotalCents,
			currency:    order.Currency,
			description: "Order " + order.OrderNumber,
		}, nil
	}

	sub, err := s.subscriptions.Get(ctx, *input.SubscriptionID)
	if err != nil {
		return billTarget{}, err
	}
	if err := authorizePayer(input.Actor, sub.UserID); err != nil {
		return billTarget{}, err
	}
	switch sub.Status {
	case enums.SubscriptionStatusPending, enums.SubscriptionStatusActive, enums.SubscriptionStatusSuspended:
	default:
		return billTarget{}, pkgerrors.New(pkgerrors.CodeStateConflict, "subscription can no longer be paid").
			WithDetails(map[string]any{"subscription_id": sub.ID.String(), "status": string(sub.Status)})
	}
	amount := sub.AmountCents
	if input.AmountCents < 0 {
		return billTarget{}, pkgerrors.New(pkgerrors.CodeValidation, "amount cannot be negative")
	}
	if input.AmountCents > 0 {
		amount = input.AmountCents
	}
	return billTarget{
		amount:      amount,
		currency:    sub.Currency,
		description: "Subscription " + sub.FeaturesSnapshot.PlanName,
	}, nil
}

func (s *service) gatewayFailure(ctx context.Context, operation, correlation string, err error) {
	if pkgerrors.Is(err, pkgerrors.CodeGateway) {
		s.metrics.IncGatewayFailure(operation)
	}
	if s.logg == nil {
		return
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"operation":   operation,
		"correlation": correlation,
	})
	if pkgerrors.Is(err, pkgerrors.CodeGateway) {
		if typed := pkgerrors.As(err); typed != nil {
			logCtx = s.logg.WithField(logCtx, "details", typed.Details())
		}
		s.logg.Error(logCtx, "gateway call failed", err)
		return
	}
	logCtx = s.logg.WithField(logCtx, "error", err.Error())
	s.logg.Warn(logCtx, "gateway request rejected")
}

// authorizePayer lets customers bill only what they own. Staff and system
// actors may bill on anyone's behalf.
func authorizePayer(actor types.Actor, ownerID uuid.UUID) error {
	if actor.IsAdmin() || actor.IsSystem() {
		return nil
	}
	if actor.UserID == uuid.Nil || actor.UserID != ownerID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "cannot pay for another user's purchase")
	}
	return nil
}

func paymentReference(id uuid.UUID) string {
	compact := strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))
	return "PAY-" + compact[:16]
}

func loadForUpdate(ctx context.Context, repo Repository, id uuid.UUID) (*models.Payment, error) {
	payment, err := repo.FindByIDForUpdate(ctx, id)
	if err != nil {
		return nil, mapLoadError(err, "payment_id", id.String())
	}
	return payment, nil
}

func mapLoadError(err error, key, value string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found").
			WithDetails(map[string]any{key: value})
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
}

func paymentConflict(payment *models.Payment, msg string) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, msg).
		WithDetails(map[string]any{
			"payment_id": payment.ID.String(),
			"status":     string(payment.Status),
		})
}

func wrapSave(err error) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save payment")
}
