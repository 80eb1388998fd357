package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradehub-backend/internal/cart"
	"github.com/angelmondragon/tradehub-backend/pkg/db/models"
)

// Repository defines persistence operations for orders and their items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	ListUnpaidPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
}

// StockLedger moves product stock inside the order transaction.
type StockLedger interface {
	Decrement(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error
	Increment(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error
	RecordSale(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error
}

// CartReader is the slice of the cart engine checkout needs.
type CartReader interface {
	ListCart(ctx context.Context, owner cart.Owner) ([]models.CartItem, error)
	ValidateCart(ctx context.Context, items []models.CartItem) ([]cart.ValidationIssue, error)
	CalculateTotals(items []models.CartItem, opts cart.TotalsOptions) cart.Totals
	ClearCart(ctx context.Context, tx *gorm.DB, owner cart.Owner) error
}

// SequenceSource hands out monotonically increasing numbers per name.
type SequenceSource interface {
	NextSequence(ctx context.Context, name string, ttl time.Duration) (int64, error)
}
