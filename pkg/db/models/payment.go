package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradehub-backend/pkg/enums"
	"github.com/angelmondragon/tradehub-backend/pkg/types"
)

// Payment is one billing attempt with the gateway. Exactly one of OrderID or
// SubscriptionID is set.
type Payment struct {
	ID                 uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Reference          string                    `gorm:"column:reference;not null;uniqueIndex"`
	OrderID            *uuid.UUID                `gorm:"column:order_id;type:uuid;index"`
	SubscriptionID     *uuid.UUID                `gorm:"column:subscription_id;type:uuid;index"`
	BillID             string                    `gorm:"column:bill_id;not null;uniqueIndex"`
	AmountCents        int64                     `gorm:"column:amount_cents;not null"`
	Currency           string                    `gorm:"column:currency;not null"`
	Method             enums.PaymentMethod       `gorm:"column:method;not null"`
	Provider           string                    `gorm:"column:provider;not null"`
	Status             enums.PaymentStatus       `gorm:"column:status;not null;default:'pending'"`
	Payer              types.PayerInfo           `gorm:"column:payer;type:jsonb;serializer:json;not null"`
	GatewayResponse    *types.GatewayResponse    `gorm:"column:gateway_response;type:jsonb;serializer:json"`
	TransactionRef     *string                   `gorm:"column:transaction_ref"`
	PaymentURL         *string                   `gorm:"column:payment_url"`
	PaidAt             *time.Time                `gorm:"column:paid_at"`
	FailedAt           *time.Time                `gorm:"column:failed_at"`
	ManualConfirmation *types.ManualConfirmation `gorm:"column:manual_confirmation;type:jsonb;serializer:json"`
	CreatedAt          time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}
