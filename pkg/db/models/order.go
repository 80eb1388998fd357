package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradehub-backend/pkg/enums"
	"github.com/angelmondragon/tradehub-backend/pkg/types"
)

// Order is the customer order header. Amounts are frozen at checkout;
// status fields only change through the orders state machine.
type Order struct {
	ID                 uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderNumber        string                   `gorm:"column:order_number;not null;uniqueIndex"`
	UserID             uuid.UUID                `gorm:"column:user_id;type:uuid;not null"`
	Status             enums.OrderStatus        `gorm:"column:status;not null;default:'pending'"`
	PaymentStatus      enums.OrderPaymentStatus `gorm:"column:payment_status;not null;default:'pending'"`
	SubtotalCents      int64                    `gorm:"column:subtotal_cents;not null"`
	TaxCents           int64                    `gorm:"column:tax_cents;not null"`
	ShippingCents      int64                    `gorm:"column:shipping_cents;not null"`
	DiscountCents      int64                    `gorm:"column:discount_cents;not null;default:0"`
	TotalCents         int64                    `gorm:"column:total_cents;not null"`
	Currency           string                   `gorm:"column:currency;not null"`
	ShippingAddress    types.Address            `gorm:"column:shipping_address;type:jsonb;serializer:json;not null"`
	BillingAddress     *types.Address           `gorm:"column:billing_address;type:jsonb;serializer:json"`
	Notes              *string                  `gorm:"column:notes"`
	TrackingNumber     *string                  `gorm:"column:tracking_number"`
	ConfirmedAt        *time.Time               `gorm:"column:confirmed_at"`
	ShippedAt          *time.Time               `gorm:"column:shipped_at"`
	DeliveredAt        *time.Time               `gorm:"column:delivered_at"`
	CancelledAt        *time.Time               `gorm:"column:cancelled_at"`
	CancellationReason *string                  `gorm:"column:cancellation_reason"`
	PaidAt             *time.Time               `gorm:"column:paid_at"`
	Items              []OrderItem              `gorm:"foreignKey:OrderID"`
	CreatedAt          time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

// BalancesTotals checks total = subtotal + tax + shipping - discount.
func (o Order) BalancesTotals() bool {
	return o.TotalCents == o.SubtotalCents+o.TaxCents+o.ShippingCents-o.DiscountCents
}
