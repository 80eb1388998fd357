package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradehub-backend/pkg/db/models"
	"github.com/angelmondragon/tradehub-backend/pkg/enums"
)

// CreateProduct inserts an active, tracked product priced at 1000 with ten
// units in stock. mutate adjusts it before insert.
func CreateProduct(t *testing.T, db *gorm.DB, mutate func(*models.Product)) *models.Product {
	t.Helper()
	product := &models.Product{
		ID:             uuid.New(),
		StoreID:        uuid.New(),
		Name:           "Test Product",
		SKU:            fmt.Sprintf("SKU-%s", uuid.NewString()[:8]),
		PriceCents:     1000,
		Status:         enums.ProductStatusActive,
		StockQuantity:  10,
		TrackInventory: true,
	}
	if mutate != nil {
		mutate(product)
	}
	if err := db.Create(product).Error; err != nil {
		t.Fatalf("create product: %v", err)
	}
	return product
}

// CreatePlan inserts an active 30 day plan priced at 30000.
func CreatePlan(t *testing.T, db *gorm.DB, mutate func(*models.Plan)) *models.Plan {
	t.Helper()
	plan := &models.Plan{
		ID:           uuid.New(),
		Slug:         "plan-" + uuid.NewString()[:8],
		Name:         "Basic",
		PriceCents:   30000,
		Currency:     "TZS",
		DurationDays: 30,
		Features:     []string{"listings"},
		IsActive:     true,
	}
	if mutate != nil {
		mutate(plan)
	}
	if err := db.Create(plan).Error; err != nil {
		t.Fatalf("create plan: %v", err)
	}
	return plan
}

// Reload refreshes dest from the database by primary key.
func Reload(t *testing.T, db *gorm.DB, dest any, id uuid.UUID) {
	t.Helper()
	if err := db.First(dest, "id = ?", id).Error; err != nil {
		t.Fatalf("reload %T: %v", dest, err)
	}
}
