package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradehub-backend/pkg/enums"
)

// Product is the catalog listing. The catalog service owns it; this core
// only reads price/status and moves stock_quantity and sales_count.
type Product struct {
	ID             uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	StoreID        uuid.UUID           `gorm:"column:store_id;type:uuid;not null"`
	Name           string              `gorm:"column:name;not null"`
	SKU            string              `gorm:"column:sku;not null"`
	ImageURL       *string             `gorm:"column:image_url"`
	PriceCents     int64               `gorm:"column:price_cents;not null"`
	Status         enums.ProductStatus `gorm:"column:status;not null;default:'active'"`
	StockQuantity  int                 `gorm:"column:stock_quantity;not null;default:0"`
	TrackInventory bool                `gorm:"column:track_inventory;not null"`
	AllowBackorder bool                `gorm:"column:allow_backorder;not null"`
	WeightGrams    int                 `gorm:"column:weight_grams;not null;default:0"`
	SalesCount     int                 `gorm:"column:sales_count;not null;default:0"`
	CreatedAt      time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// IsPurchasable reports whether the product can be added to a cart at all.
func (p Product) IsPurchasable() bool {
	return p.Status == enums.ProductStatusActive
}

// HasStockFor reports whether qty units can be sold without backorder.
func (p Product) HasStockFor(qty int) bool {
	if !p.TrackInventory || p.AllowBackorder {
		return true
	}
	return p.StockQuantity >= qty
}
