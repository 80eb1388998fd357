package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradehub-backend/pkg/enums"
)

// OrderCreatedEvent is emitted once checkout commits.
type OrderCreatedEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	UserID      uuid.UUID `json:"user_id"`
	TotalCents  int64     `json:"total_cents"`
	Currency    string    `json:"currency"`
	ItemCount   int       `json:"item_count"`
}

// OrderStatusChangedEvent is emitted on every state machine move.
type OrderStatusChangedEvent struct {
	OrderID        uuid.UUID         `json:"order_id"`
	OrderNumber    string            `json:"order_number"`
	UserID         uuid.UUID         `json:"user_id"`
	From           enums.OrderStatus `json:"from"`
	To             enums.OrderStatus `json:"to"`
	TrackingNumber *string           `json:"tracking_number,omitempty"`
	Reason         *string           `json:"reason,omitempty"`
	ChangedAt      time.Time         `json:"changed_at"`
}

// PaymentStatusEvent drives payment confirmation/failure notifications.
type PaymentStatusEvent struct {
	PaymentID      uuid.UUID           `json:"payment_id"`
	BillID         string              `json:"bill_id"`
	OrderID        *uuid.UUID          `json:"order_id,omitempty"`
	SubscriptionID *uuid.UUID          `json:"subscription_id,omitempty"`
	Status         enums.PaymentStatus `json:"status"`
	AmountCents    int64               `json:"amount_cents"`
	Currency       string              `json:"currency"`
	PayerPhone     string              `json:"payer_phone,omitempty"`
	PayerEmail     string              `json:"payer_email,omitempty"`
	Source         string              `json:"source"`
	OccurredAt     time.Time           `json:"occurred_at"`
}

// SubscriptionEvent covers every subscription lifecycle change.
type SubscriptionEvent struct {
	SubscriptionID uuid.UUID                `json:"subscription_id"`
	UserID         uuid.UUID                `json:"user_id"`
	PlanID         uuid.UUID                `json:"plan_id"`
	Status         enums.SubscriptionStatus `json:"status"`
	EndsAt         time.Time                `json:"ends_at"`
	ChargeCents    int64                    `json:"charge_cents,omitempty"`
	Reason         string                   `json:"reason,omitempty"`
}
