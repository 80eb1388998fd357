package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradehub-backend/internal/cart"
	"github.com/angelmondragon/tradehub-backend/pkg/db/models"
	"github.com/angelmondragon/tradehub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradehub-backend/pkg/errors"
	"github.com/angelmondragon/tradehub-backend/pkg/logger"
	"github.com/angelmondragon/tradehub-backend/pkg/outbox"
	"github.com/angelmondragon/tradehub-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/tradehub-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service drives the order lifecycle.
type Service interface {
	CreateFromCart(ctx context.Context, input CheckoutInput) (*models.Order, error)
	Transition(ctx context.Context, input TransitionInput) (*models.Order, error)
	MarkPaidTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, paidAt time.Time) error
	MarkPaymentFailedTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error
	ExpireUnpaid(ctx context.Context, cutoff time.Time, limit int) (int, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Order, error)
}

// CheckoutInput carries everything needed to turn a user's cart into an order.
type CheckoutInput struct {
	UserID          uuid.UUID
	ShippingAddress types.Address
	BillingAddress  *types.Address
	DiscountCents   int64
	Notes           *string
	Actor           types.Actor
}

// TransitionInput asks for one state machine move.
type TransitionInput struct {
	OrderID        uuid.UUID
	Target         enums.OrderStatus
	TrackingNumber *string
	Reason         *string
	Actor          types.Actor
}

type service struct {
	repo    Repository
	tx      txRunner
	cart    CartReader
	stock   StockLedger
	numbers *NumberGenerator
	outbox  outboxPublisher
	logg    *logger.Logger
	now     func() time.Time
}

// NewService builds the order service with the required dependencies.
func NewService(repo Repository, tx txRunner, cartReader CartReader, stock StockLedger, numbers *NumberGenerator, publisher outboxPublisher, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if cartReader == nil {
		return nil, fmt.Errorf("cart reader required")
	}
	if stock == nil {
		return nil, fmt.Errorf("stock ledger required")
	}
	if numbers == nil {
		return nil, fmt.Errorf("order number generator required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{
		repo:    repo,
		tx:      tx,
		cart:    cartReader,
		stock:   stock,
		numbers: numbers,
		outbox:  publisher,
		logg:    logg,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// CreateFromCart validates the user's cart, then persists the order, moves
// stock, records sales and clears the cart in one transaction.
func (s *service) CreateFromCart(ctx context.Context, input CheckoutInput) (*models.Order, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if err := input.ShippingAddress.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid shipping address")
	}
	if input.BillingAddress != nil {
		if err := input.BillingAddress.Validate(); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid billing address")
		}
	}
	if input.DiscountCents < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "discount cannot be negative")
	}

	owner := cart.UserOwner(input.UserID)
	items, err := s.cart.ListCart(ctx, owner)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}
	issues, err := s.cart.ValidateCart(ctx, items)
	if err != nil {
		return nil, err
	}
	if len(issues) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart needs attention before checkout").
			WithDetails(map[string]any{"issues": issues})
	}

	totals := s.cart.CalculateTotals(items, cart.TotalsOptions{DiscountCents: input.DiscountCents})
	now := s.now()
	number, err := s.numbers.Next(ctx, now)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		ID:              uuid.New(),
		OrderNumber:     number,
		UserID:          input.UserID,
		Status:          enums.OrderStatusPending,
		PaymentStatus:   enums.OrderPaymentStatusPending,
		SubtotalCents:   totals.SubtotalCents,
		TaxCents:        totals.TaxCents,
		ShippingCents:   totals.ShippingCents,
		DiscountCents:   totals.DiscountCents,
		TotalCents:      totals.TotalCents,
		Currency:        totals.Currency,
		ShippingAddress: input.ShippingAddress,
		BillingAddress:  input.BillingAddress,
		Notes:           trimmed(input.Notes),
		Items:           make([]models.OrderItem, 0, len(items)),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, item := range items {
		order.Items = append(order.Items, models.OrderItem{
			ID:              uuid.New(),
			OrderID:         order.ID,
			ProductID:       item.ProductID,
			Quantity:        item.Quantity,
			UnitPriceCents:  item.UnitPriceCents,
			TotalPriceCents: item.LineTotalCents(),
			ProductSnapshot: snapshotOf(item),
		})
	}
	if !order.BalancesTotals() {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order totals do not balance")
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		for _, item := range order.Items {
			if err := s.stock.Decrement(ctx, tx, item.ProductID, item.Quantity); err != nil {
				return err
			}
			if err := s.stock.RecordSale(ctx, tx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}
		if err := s.cart.ClearCart(ctx, tx, owner); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         outbox.ActorFrom(input.Actor),
			Data: payloads.OrderCreatedEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				UserID:      order.UserID,
				TotalCents:  order.TotalCents,
				Currency:    order.Currency,
				ItemCount:   len(order.Items),
			},
		})
	})
	if err != nil {
		s.logFailure(ctx, order.ID, input.Actor, "checkout failed", err)
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithOrderID(ctx, order.ID.String())
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"order_number": order.OrderNumber,
			"total_cents":  order.TotalCents,
			"items":        len(order.Items),
		})
		s.logg.Info(logCtx, "order created")
	}
	return order, nil
}

func (s *service) Transition(ctx context.Context, input TransitionInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !input.Target.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown order status").
			WithDetails(map[string]any{"status": input.Target})
	}

	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		loaded, err := s.loadForUpdate(ctx, tx, input.OrderID)
		if err != nil {
			return err
		}
		if err := authorize(input.Actor, loaded, input.Target); err != nil {
			return err
		}
		if err := s.applyTransition(ctx, tx, loaded, input); err != nil {
			return err
		}
		order = loaded
		return nil
	})
	if err != nil {
		s.logFailure(ctx, input.OrderID, input.Actor, "order transition rejected", err)
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithOrderID(ctx, order.ID.String())
		logCtx = s.logg.WithActor(logCtx, input.Actor.UserID.String(), input.Actor.Role)
		logCtx = s.logg.WithField(logCtx, "status", order.Status)
		s.logg.Info(logCtx, "order status changed")
	}
	return order, nil
}

// MarkPaidTx records a completed payment against the order and confirms it
// when still pending. Calling it again for a paid order does nothing.
func (s *service) MarkPaidTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, paidAt time.Time) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	order, err := s.loadForUpdate(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if order.PaymentStatus == enums.OrderPaymentStatusPaid {
		return nil
	}

	paidAt = paidAt.UTC()
	if err := s.repo.WithTx(tx).Update(ctx, order.ID, map[string]any{
		"payment_status": enums.OrderPaymentStatusPaid,
		"paid_at":        paidAt,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order paid")
	}
	order.PaymentStatus = enums.OrderPaymentStatusPaid
	order.PaidAt = &paidAt

	if order.Status != enums.OrderStatusPending {
		if order.Status == enums.OrderStatusCancelled && s.logg != nil {
			logCtx := s.logg.WithOrderID(ctx, order.ID.String())
			s.logg.Warn(logCtx, "payment completed for cancelled order, manual refund needed")
		}
		return nil
	}
	return s.applyTransition(ctx, tx, order, TransitionInput{
		OrderID: order.ID,
		Target:  enums.OrderStatusConfirmed,
		Actor:   types.SystemActor(),
	})
}

// MarkPaymentFailedTx flags the order's payment as failed unless some other
// payment already settled it.
func (s *service) MarkPaymentFailedTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	order, err := s.loadForUpdate(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if order.PaymentStatus == enums.OrderPaymentStatusPaid || order.PaymentStatus == enums.OrderPaymentStatusFailed {
		return nil
	}
	if err := s.repo.WithTx(tx).Update(ctx, order.ID, map[string]any{
		"payment_status": enums.OrderPaymentStatusFailed,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order payment failed")
	}
	return nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapLoadError(err, id)
	}
	return order, nil
}

// applyTransition is the single place an order's status changes. It checks
// the transition table, stamps lifecycle timestamps, restores stock on
// cancellation and queues the status event.
func (s *service) applyTransition(ctx context.Context, tx *gorm.DB, order *models.Order, input TransitionInput) error {
	from := order.Status
	if !from.CanTransitionTo(input.Target) {
		return pkgerrors.New(pkgerrors.CodeIllegalTransition, fmt.Sprintf("cannot move order from %s to %s", from, input.Target)).
			WithDetails(map[string]any{
				"order_id": order.ID.String(),
				"from":     from,
				"to":       input.Target,
				"allowed":  from.AllowedTransitions(),
			})
	}

	now := s.now()
	updates := map[string]any{"status": input.Target}
	switch input.Target {
	case enums.OrderStatusConfirmed:
		updates["confirmed_at"] = now
		order.ConfirmedAt = &now
	case enums.OrderStatusShipped:
		updates["shipped_at"] = now
		order.ShippedAt = &now
		if tracking := trimmed(input.TrackingNumber); tracking != nil {
			updates["tracking_number"] = *tracking
			order.TrackingNumber = tracking
		}
	case enums.OrderStatusDelivered:
		updates["delivered_at"] = now
		order.DeliveredAt = &now
	case enums.OrderStatusCancelled:
		updates["cancelled_at"] = now
		order.CancelledAt = &now
		if reason := trimmed(input.Reason); reason != nil {
			updates["cancellation_reason"] = *reason
			order.CancellationReason = reason
		}
		for _, item := range order.Items {
			if err := s.stock.Increment(ctx, tx, item.ProductID, item.Quantity); err != nil {
				if pkgerrors.Is(err, pkgerrors.CodeNotFound) {
					// product deleted from the catalog; nothing to restore
					continue
				}
				return err
			}
		}
	}

	if err := s.repo.WithTx(tx).Update(ctx, order.ID, updates); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	order.Status = input.Target

	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         outbox.ActorFrom(input.Actor),
		Data: payloads.OrderStatusChangedEvent{
			OrderID:        order.ID,
			OrderNumber:    order.OrderNumber,
			UserID:         order.UserID,
			From:           from,
			To:             input.Target,
			TrackingNumber: order.TrackingNumber,
			Reason:         order.CancellationReason,
			ChangedAt:      now,
		},
	})
}

func (s *service) loadForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Order, error) {
	order, err := s.repo.WithTx(tx).FindByIDForUpdate(ctx, id)
	if err != nil {
		return nil, mapLoadError(err, id)
	}
	return order, nil
}

func (s *service) logFailure(ctx context.Context, orderID uuid.UUID, actor types.Actor, msg string, err error) {
	if s.logg == nil {
		return
	}
	logCtx := s.logg.WithOrderID(ctx, orderID.String())
	logCtx = s.logg.WithActor(logCtx, actor.UserID.String(), actor.Role)
	switch pkgerrors.CodeOf(err) {
	case pkgerrors.CodeDependency, pkgerrors.CodeInternal:
		s.logg.Error(logCtx, msg, err)
	default:
		logCtx = s.logg.WithField(logCtx, "error", err.Error())
		s.logg.Warn(logCtx, msg)
	}
}

// authorize lets staff and system actors drive any move the table allows.
// Everyone else may only cancel an order they own.
func authorize(actor types.Actor, order *models.Order, target enums.OrderStatus) error {
	if actor.IsAdmin() || actor.IsSystem() {
		return nil
	}
	if actor.UserID == uuid.Nil || actor.UserID != order.UserID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to user")
	}
	if target != enums.OrderStatusCancelled {
		return pkgerrors.New(pkgerrors.CodeForbidden, "customers may only cancel orders")
	}
	return nil
}

func mapLoadError(err error, id uuid.UUID) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found").
			WithDetails(map[string]any{"order_id": id.String()})
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
}

func snapshotOf(item models.CartItem) types.ProductSnapshot {
	snap := types.ProductSnapshot{
		Version: types.ProductSnapshotVersion,
		Options: item.Options.Clone(),
	}
	if item.Product != nil {
		snap.Name = item.Product.Name
		snap.SKU = item.Product.SKU
		snap.ImageURL = item.Product.ImageURL
	}
	return snap
}

func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	v := strings.TrimSpace(*value)
	if v == "" {
		return nil
	}
	return &v
}
