package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradehub-backend/pkg/types"
)

// CartItem is one line of a user or guest cart. OwnerKey plus ProductID plus
// OptionsKey is unique.
type CartItem struct {
	ID             uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OwnerKey       string            `gorm:"column:owner_key;not null"`
	UserID         *uuid.UUID        `gorm:"column:user_id;type:uuid"`
	SessionID      *string           `gorm:"column:session_id"`
	ProductID      uuid.UUID         `gorm:"column:product_id;type:uuid;not null"`
	Quantity       int               `gorm:"column:quantity;not null"`
	UnitPriceCents int64             `gorm:"column:unit_price_cents;not null"`
	Options        types.CartOptions `gorm:"column:options;type:jsonb;serializer:json"`
	OptionsKey     string            `gorm:"column:options_key;not null;default:''"`
	Product        *Product          `gorm:"foreignKey:ProductID;references:ID"`
	CreatedAt      time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// LineTotalCents is quantity times the captured unit price.
func (c CartItem) LineTotalCents() int64 {
	return int64(c.Quantity) * c.UnitPriceCents
}
