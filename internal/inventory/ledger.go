package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradehub-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/tradehub-backend/pkg/errors"
	"github.com/angelmondragon/tradehub-backend/pkg/logger"
)

// Ledger moves product stock. Every method runs inside the caller's
// transaction so stock changes commit with the order change that caused them.
type Ledger struct {
	logg *logger.Logger
	now  func() time.Time
}

// NewLedger builds a stock ledger. logg may be nil.
func NewLedger(logg *logger.Logger) *Ledger {
	return &Ledger{logg: logg, now: func() time.Time { return time.Now().UTC() }}
}

// Decrement removes qty units. Untracked products are left alone; tracked
// products without backorder only move when enough stock remains, checked
// and applied in one statement.
func (l *Ledger) Decrement(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if err := validateArgs(tx, productID, qty); err != nil {
		return err
	}

	res := tx.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ? AND track_inventory = ? AND (allow_backorder = ? OR stock_quantity >= ?)", productID, true, true, qty).
		Updates(map[string]any{
			"stock_quantity": gorm.Expr("stock_quantity - ?", qty),
			"updated_at":     l.now(),
		})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "decrement stock")
	}
	if res.RowsAffected == 1 {
		l.log(ctx, productID, -qty)
		return nil
	}

	product, err := l.load(ctx, tx, productID)
	if err != nil {
		return err
	}
	if !product.TrackInventory {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").WithDetails(map[string]any{
		"product_id": productID.String(),
		"available":  product.StockQuantity,
		"requested":  qty,
	})
}

// Increment returns qty units to a tracked product.
func (l *Ledger) Increment(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if err := validateArgs(tx, productID, qty); err != nil {
		return err
	}

	res := tx.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ? AND track_inventory = ?", productID, true).
		Updates(map[string]any{
			"stock_quantity": gorm.Expr("stock_quantity + ?", qty),
			"updated_at":     l.now(),
		})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "increment stock")
	}
	if res.RowsAffected == 1 {
		l.log(ctx, productID, qty)
		return nil
	}
	// zero rows: either untracked (no-op) or missing
	_, err := l.load(ctx, tx, productID)
	return err
}

// RecordSale bumps the product's sales counter.
func (l *Ledger) RecordSale(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if err := validateArgs(tx, productID, qty); err != nil {
		return err
	}
	res := tx.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ?", productID).
		UpdateColumn("sales_count", gorm.Expr("sales_count + ?", qty))
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "record sale")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
			WithDetails(map[string]any{"product_id": productID.String()})
	}
	return nil
}

func (l *Ledger) load(ctx context.Context, tx *gorm.DB, productID uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := tx.WithContext(ctx).
		Select("id", "track_inventory", "allow_backorder", "stock_quantity").
		First(&product, "id = ?", productID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
				WithDetails(map[string]any{"product_id": productID.String()})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product stock")
	}
	return &product, nil
}

func (l *Ledger) log(ctx context.Context, productID uuid.UUID, delta int) {
	if l.logg == nil {
		return
	}
	logCtx := l.logg.WithFields(ctx, map[string]any{
		"product_id": productID.String(),
		"delta":      delta,
	})
	l.logg.Debug(logCtx, "stock adjusted")
}

func validateArgs(tx *gorm.DB, productID uuid.UUID, qty int) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if productID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	return nil
}
