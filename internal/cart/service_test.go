package cart

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradehub-backend/internal/products"
	"github.com/angelmondragon/tradehub-backend/pkg/db"
	"github.com/angelmondragon/tradehub-backend/pkg/db/dbtest"
	"github.com/angelmondragon/tradehub-backend/pkg/db/models"
	"github.com/angelmondragon/tradehub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradehub-backend/pkg/errors"
	"github.com/angelmondragon/tradehub-backend/pkg/types"
)

func newTestService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	conn := dbtest.Open(t)
	svc, err := NewService(NewRepository(conn), db.Wrap(conn), products.NewRepository(conn), DefaultPricing(), nil)
	require.NoError(t, err)
	return svc, conn
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(nil, nil, nil, DefaultPricing(), nil)
	require.Error(t, err)
}

func TestAddToCartMergesEquivalentLines(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	product := dbtest.CreateProduct(t, conn, func(p *models.Product) { p.StockQuantity = 5 })
	owner := UserOwner(uuid.New())

	first, err := svc.AddToCart(ctx, AddItemInput{
		Owner:     owner,
		ProductID: product.ID,
		Quantity:  2,
		Options:   types.CartOptions{"size": "M", "colour": "red"},
	})
	require.NoError(t, err)

	second, err := svc.AddToCart(ctx, AddItemInput{
		Owner:     owner,
		ProductID: product.ID,
		Quantity:  1,
		Options:   types.CartOptions{"Colour": "red", "size": "M"},
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 3, second.Quantity)

	_, err = svc.AddToCart(ctx, AddItemInput{
		Owner:     owner,
		ProductID: product.ID,
		Quantity:  1,
		Options:   types.CartOptions{"size": "L"},
	})
	require.NoError(t, err)

	items, err := svc.ListCart(ctx, owner)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.NotNil(t, items[0].Product)
}

func TestAddToCartChecksCumulativeStock(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	product := dbtest.CreateProduct(t, conn, func(p *models.Product) { p.StockQuantity = 3 })
	owner := SessionOwner("sess-1")

	_, err := svc.AddToCart(ctx, AddItemInput{Owner: owner, ProductID: product.ID, Quantity: 2})
	require.NoError(t, err)

	_, err = svc.AddToCart(ctx, AddItemInput{Owner: owner, ProductID: product.ID, Quantity: 2})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeInsufficientStock, pkgerrors.CodeOf(err))

	items, err := svc.ListCart(ctx, owner)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Quantity)
}

func TestAddToCartRejections(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	inactive := dbtest.CreateProduct(t, conn, func(p *models.Product) { p.Status = enums.ProductStatusInactive })
	backorder := dbtest.CreateProduct(t, conn, func(p *models.Product) {
		p.StockQuantity = 0
		p.AllowBackorder = true
	})
	owner := UserOwner(uuid.New())

	_, err := svc.AddToCart(ctx, AddItemInput{Owner: owner, ProductID: inactive.ID, Quantity: 1})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	_, err = svc.AddToCart(ctx, AddItemInput{Owner: owner, ProductID: uuid.New(), Quantity: 1})
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))

	_, err = svc.AddToCart(ctx, AddItemInput{Owner: owner, ProductID: backorder.ID, Quantity: 0})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	_, err = svc.AddToCart(ctx, AddItemInput{Owner: Owner{}, ProductID: backorder.ID, Quantity: 1})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	item, err := svc.AddToCart(ctx, AddItemInput{Owner: owner, ProductID: backorder.ID, Quantity: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, item.Quantity)
}

func TestMergeCartIsIdempotent(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	shared := dbtest.CreateProduct(t, conn, nil)
	guestOnly := dbtest.CreateProduct(t, conn, nil)
	userID := uuid.New()
	guest := SessionOwner("guest-42")

	_, err := svc.AddToCart(ctx, AddItemInput{Owner: UserOwner(userID), ProductID: shared.ID, Quantity: 1})
	require.NoError(t, err)
	_, err = svc.AddToCart(ctx, AddItemInput{Owner: guest, ProductID: shared.ID, Quantity: 2})
	require.NoError(t, err)
	_, err = svc.AddToCart(ctx, AddItemInput{Owner: guest, ProductID: guestOnly.ID, Quantity: 1})
	require.NoError(t, err)

	result, err := svc.MergeCart(ctx, userID, "guest-42")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Merged)
	assert.Equal(t, 1, result.Reassigned)

	again, err := svc.MergeCart(ctx, userID, "guest-42")
	require.NoError(t, err)
	assert.Zero(t, again.Merged)
	assert.Zero(t, again.Reassigned)

	items, err := svc.ListCart(ctx, UserOwner(userID))
	require.NoError(t, err)
	require.Len(t, items, 2)
	quantities := map[uuid.UUID]int{}
	for _, item := range items {
		quantities[item.ProductID] = item.Quantity
		require.NotNil(t, item.UserID)
		assert.Equal(t, userID, *item.UserID)
		assert.Nil(t, item.SessionID)
	}
	assert.Equal(t, 3, quantities[shared.ID])
	assert.Equal(t, 1, quantities[guestOnly.ID])

	leftovers, err := svc.ListCart(ctx, guest)
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestValidateCartReportsOneIssuePerLine(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	owner := UserOwner(uuid.New())

	ok := dbtest.CreateProduct(t, conn, nil)
	repriced := dbtest.CreateProduct(t, conn, nil)
	soldOut := dbtest.CreateProduct(t, conn, nil)
	retired := dbtest.CreateProduct(t, conn, nil)
	for _, p := range []*models.Product{ok, repriced, soldOut, retired} {
		_, err := svc.AddToCart(ctx, AddItemInput{Owner: owner, ProductID: p.ID, Quantity: 2})
		require.NoError(t, err)
	}

	require.NoError(t, conn.Model(&models.Product{}).Where("id = ?", repriced.ID).Update("price_cents", 1500).Error)
	require.NoError(t, conn.Model(&models.Product{}).Where("id = ?", soldOut.ID).Update("stock_quantity", 1).Error)
	require.NoError(t, conn.Model(&models.Product{}).Where("id = ?", retired.ID).Update("status", enums.ProductStatusInactive).Error)

	items, err := svc.ListCart(ctx, owner)
	require.NoError(t, err)
	items = append(items, models.CartItem{ID: uuid.New(), ProductID: uuid.New(), Quantity: 1})

	issues, err := svc.ValidateCart(ctx, items)
	require.NoError(t, err)
	require.Len(t, issues, 4)

	reasons := map[uuid.UUID]IssueReason{}
	for _, issue := range issues {
		reasons[issue.ProductID] = issue.Reason
	}
	assert.Equal(t, IssuePriceChanged, reasons[repriced.ID])
	assert.Equal(t, IssueInsufficientStock, reasons[soldOut.ID])
	assert.Equal(t, IssueProductInactive, reasons[retired.ID])
	assert.NotContains(t, reasons, ok.ID)
	assert.Len(t, Messages(issues), 4)

	after, err := svc.ListCart(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, after, 4)
}

func TestClearCart(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	owner := UserOwner(uuid.New())
	other := UserOwner(uuid.New())
	product := dbtest.CreateProduct(t, conn, nil)

	_, err := svc.AddToCart(ctx, AddItemInput{Owner: owner, ProductID: product.ID, Quantity: 1})
	require.NoError(t, err)
	_, err = svc.AddToCart(ctx, AddItemInput{Owner: other, ProductID: product.ID, Quantity: 1})
	require.NoError(t, err)

	require.NoError(t, svc.ClearCart(ctx, conn, owner))

	mine, err := svc.ListCart(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, mine)
	theirs, err := svc.ListCart(ctx, other)
	require.NoError(t, err)
	assert.Len(t, theirs, 1)
}
