package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradehub-backend/pkg/db/models"
	"github.com/angelmondragon/tradehub-backend/pkg/enums"
	"github.com/angelmondragon/tradehub-backend/pkg/gateway"
	"github.com/angelmondragon/tradehub-backend/pkg/outbox"
)

// Gateway is the billing provider as seen by the payments service.
type Gateway interface {
	Provider() string
	CreateBill(ctx context.Context, req gateway.BillRequest) (*gateway.BillResponse, error)
	SendUSSDPush(ctx context.Context, billID, phone string, method enums.PaymentMethod) error
	QueryBill(ctx context.Context, billID string) (*gateway.BillStatus, error)
	VerifyCallbackSignature(payload gateway.CallbackPayload) error
}

// OrderPayments is the slice of the order service a settled payment touches.
type OrderPayments interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Order, error)
	MarkPaidTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, paidAt time.Time) error
	MarkPaymentFailedTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error
}

// SubscriptionPayments is the slice of the subscription service a settled
// payment touches.
type SubscriptionPayments interface {
	Get(ctx context.Context, subscriptionID uuid.UUID) (*models.Subscription, error)
	ActivateTx(ctx context.Context, tx *gorm.DB, subscriptionID uuid.UUID, at time.Time) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}
