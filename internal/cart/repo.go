package cart

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/tradehub-backend/pkg/db/models"
)

// Repository exposes persistence operations for cart lines.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a cart repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *Repository) WithTx(tx *gorm.DB) CartRepository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// ListByOwner returns the owner's lines with their products, oldest first.
func (r *Repository) ListByOwner(ctx context.Context, ownerKey string) ([]models.CartItem, error) {
	var rows []models.CartItem
	if err := r.db.WithContext(ctx).
		Preload("Product").
		Where("owner_key = ?", ownerKey).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// FindLineForUpdate locks the line matching (owner, product, options).
// It returns nil, nil when no such line exists.
func (r *Repository) FindLineForUpdate(ctx context.Context, ownerKey string, productID uuid.UUID, optionsKey string) (*models.CartItem, error) {
	var row models.CartItem
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("owner_key = ? AND product_id = ? AND options_key = ?", ownerKey, productID, optionsKey).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Create inserts a new line.
func (r *Repository) Create(ctx context.Context, item *models.CartItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(item).Error
}

// UpdateLine sets quantity and refreshes the captured unit price.
func (r *Repository) UpdateLine(ctx context.Context, id uuid.UUID, quantity int, unitPriceCents int64) error {
	return r.db.WithContext(ctx).
		Model(&models.CartItem{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"quantity":         quantity,
			"unit_price_cents": unitPriceCents,
		}).Error
}

// Reassign moves a guest line to the user.
func (r *Repository) Reassign(ctx context.Context, id uuid.UUID, userID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.CartItem{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"owner_key":  UserOwner(userID).Key(),
			"user_id":    userID,
			"session_id": nil,
		}).Error
}

// Delete removes one line.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.CartItem{}).Error
}

// DeleteByOwner removes every line of the owner.
func (r *Repository) DeleteByOwner(ctx context.Context, ownerKey string) error {
	return r.db.WithContext(ctx).Where("owner_key = ?", ownerKey).Delete(&models.CartItem{}).Error
}
