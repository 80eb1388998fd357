package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradehub-backend/pkg/types"
)

// OrderItem is written once with its order and never updated.
type OrderItem struct {
	ID              uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID         uuid.UUID             `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID       uuid.UUID             `gorm:"column:product_id;type:uuid;not null"`
	Quantity        int                   `gorm:"column:quantity;not null"`
	UnitPriceCents  int64                 `gorm:"column:unit_price_cents;not null"`
	TotalPriceCents int64                 `gorm:"column:total_price_cents;not null"`
	ProductSnapshot types.ProductSnapshot `gorm:"column:product_snapshot;type:jsonb;serializer:json;not null"`
	CreatedAt       time.Time             `gorm:"column:created_at;autoCreateTime"`
}
