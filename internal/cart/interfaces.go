package cart

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradehub-backend/pkg/db/models"
)

// CartRepository defines the persistence surface required by the cart service.
type CartRepository interface {
	WithTx(tx *gorm.DB) CartRepository
	ListByOwner(ctx context.Context, ownerKey string) ([]models.CartItem, error)
	FindLineForUpdate(ctx context.Context, ownerKey string, productID uuid.UUID, optionsKey string) (*models.CartItem, error)
	Create(ctx context.Context, item *models.CartItem) error
	UpdateLine(ctx context.Context, id uuid.UUID, quantity int, unitPriceCents int64) error
	Reassign(ctx context.Context, id uuid.UUID, userID uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByOwner(ctx context.Context, ownerKey string) error
}
