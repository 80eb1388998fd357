package cart

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradehub-backend/pkg/db"
	"github.com/angelmondragon/tradehub-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/tradehub-backend/pkg/errors"
	"github.com/angelmondragon/tradehub-backend/pkg/logger"
	"github.com/angelmondragon/tradehub-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type productLoader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Product, error)
}

// Service exposes cart operations.
type Service interface {
	AddToCart(ctx context.Context, input AddItemInput) (*models.CartItem, error)
	MergeCart(ctx context.Context, userID uuid.UUID, sessionID string) (*MergeResult, error)
	ListCart(ctx context.Context, owner Owner) ([]models.CartItem, error)
	ClearCart(ctx context.Context, tx *gorm.DB, owner Owner) error
	ValidateCart(ctx context.Context, items []models.CartItem) ([]ValidationIssue, error)
	CalculateTotals(items []models.CartItem, opts TotalsOptions) Totals
}

// AddItemInput is one add-to-cart request.
type AddItemInput struct {
	Owner     Owner
	ProductID uuid.UUID
	Quantity  int
	Options   types.CartOptions
}

// MergeResult reports what a guest-to-user merge did.
type MergeResult struct {
	Merged     int `json:"merged"`
	Reassigned int `json:"reassigned"`
}

type service struct {
	repo     CartRepository
	tx       txRunner
	products productLoader
	pricing  Pricing
	logg     *logger.Logger
}

// NewService builds a cart service backed by the provided stack.
func NewService(repo CartRepository, tx txRunner, products productLoader, pricing Pricing, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if products == nil {
		return nil, fmt.Errorf("product loader required")
	}
	return &service{
		repo:     repo,
		tx:       tx,
		products: products,
		pricing:  pricing,
		logg:     logg,
	}, nil
}

func (s *service) AddToCart(ctx context.Context, input AddItemInput) (*models.CartItem, error) {
	if err := input.Owner.validate(); err != nil {
		return nil, err
	}
	if input.ProductID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	ownerKey := input.Owner.Key()
	optionsKey := input.Options.Key()

	product, err := s.products.FindByID(ctx, input.ProductID)
	if err != nil {
		return nil, err
	}
	if !product.IsPurchasable() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product is not available").
			WithDetails(map[string]any{"product_id": product.ID.String(), "status": product.Status})
	}

	var result *models.CartItem
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.FindLineForUpdate(ctx, ownerKey, product.ID, optionsKey)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart line")
		}

		quantity := input.Quantity
		if existing != nil {
			quantity += existing.Quantity
		}
		if !product.HasStockFor(quantity) {
			return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").WithDetails(map[string]any{
				"product_id": product.ID.String(),
				"available":  product.StockQuantity,
				"requested":  quantity,
			})
		}

		if existing != nil {
			if err := repo.UpdateLine(ctx, existing.ID, quantity, product.PriceCents); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update cart line")
			}
			existing.Quantity = quantity
			existing.UnitPriceCents = product.PriceCents
			existing.Product = product
			result = existing
			return nil
		}

		item := &models.CartItem{
			ID:             uuid.New(),
			OwnerKey:       ownerKey,
			UserID:         input.Owner.UserID,
			SessionID:      input.Owner.sessionPtr(),
			ProductID:      product.ID,
			Quantity:       quantity,
			UnitPriceCents: product.PriceCents,
			Options:        input.Options.Clone(),
			OptionsKey:     optionsKey,
		}
		if err := repo.Create(ctx, item); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "cart line changed concurrently, retry")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cart line")
		}
		item.Product = product
		result = item
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"owner_key":  ownerKey,
			"product_id": input.ProductID.String(),
			"quantity":   result.Quantity,
		})
		s.logg.Info(logCtx, "cart line saved")
	}
	return result, nil
}

// MergeCart folds a guest cart into the user's cart. After the first call no
// session lines remain, so repeating it changes nothing.
func (s *service) MergeCart(ctx context.Context, userID uuid.UUID, sessionID string) (*MergeResult, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	session := SessionOwner(sessionID)
	if err := session.validate(); err != nil {
		return nil, err
	}
	user := UserOwner(userID)

	result := &MergeResult{}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		guestLines, err := repo.ListByOwner(ctx, session.Key())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load guest cart")
		}
		for _, line := range guestLines {
			existing, err := repo.FindLineForUpdate(ctx, user.Key(), line.ProductID, line.OptionsKey)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user cart line")
			}
			if existing == nil {
				if err := repo.Reassign(ctx, line.ID, userID); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reassign cart line")
				}
				result.Reassigned++
				continue
			}
			if err := repo.UpdateLine(ctx, existing.ID, existing.Quantity+line.Quantity, existing.UnitPriceCents); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "merge cart line")
			}
			if err := repo.Delete(ctx, line.ID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete guest cart line")
			}
			result.Merged++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil && (result.Merged > 0 || result.Reassigned > 0) {
		logCtx := s.logg.WithUserID(ctx, userID.String())
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"merged":     result.Merged,
			"reassigned": result.Reassigned,
		})
		s.logg.Info(logCtx, "guest cart merged")
	}
	return result, nil
}

func (s *service) ListCart(ctx context.Context, owner Owner) ([]models.CartItem, error) {
	if err := owner.validate(); err != nil {
		return nil, err
	}
	items, err := s.repo.ListByOwner(ctx, owner.Key())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	return items, nil
}

// ClearCart empties the owner's cart inside the caller's transaction.
func (s *service) ClearCart(ctx context.Context, tx *gorm.DB, owner Owner) error {
	if err := owner.validate(); err != nil {
		return err
	}
	if err := s.repo.WithTx(tx).DeleteByOwner(ctx, owner.Key()); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart")
	}
	return nil
}

func (s *service) CalculateTotals(items []models.CartItem, opts TotalsOptions) Totals {
	return CalculateTotals(items, s.pricing, opts)
}
