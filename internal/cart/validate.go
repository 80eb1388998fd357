package cart

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradehub-backend/pkg/db/models"
)

// IssueReason classifies why a cart line can no longer be bought as-is.
type IssueReason string

const (
	IssueProductMissing    IssueReason = "product_missing"
	IssueProductInactive   IssueReason = "product_inactive"
	IssueInsufficientStock IssueReason = "insufficient_stock"
	IssuePriceChanged      IssueReason = "price_changed"
)

// ValidationIssue describes one problem with one cart line.
type ValidationIssue struct {
	CartItemID uuid.UUID   `json:"cart_item_id"`
	ProductID  uuid.UUID   `json:"product_id"`
	Reason     IssueReason `json:"reason"`
	Message    string      `json:"message"`
}

// ValidateCart re-reads live product state and reports at most one issue per
// line. It never mutates the cart.
func (s *service) ValidateCart(ctx context.Context, items []models.CartItem) ([]ValidationIssue, error) {
	if len(items) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	live, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	var issues []ValidationIssue
	for _, item := range items {
		if issue := checkLine(item, live); issue != nil {
			issues = append(issues, *issue)
		}
	}
	return issues, nil
}

func checkLine(item models.CartItem, live map[uuid.UUID]models.Product) *ValidationIssue {
	issue := &ValidationIssue{CartItemID: item.ID, ProductID: item.ProductID}
	product, ok := live[item.ProductID]
	switch {
	case !ok:
		issue.Reason = IssueProductMissing
		issue.Message = "product no longer exists"
	case !product.IsPurchasable():
		issue.Reason = IssueProductInactive
		issue.Message = fmt.Sprintf("%s is no longer available", product.Name)
	case !product.HasStockFor(item.Quantity):
		issue.Reason = IssueInsufficientStock
		issue.Message = fmt.Sprintf("only %d of %s left in stock", product.StockQuantity, product.Name)
	case product.PriceCents != item.UnitPriceCents:
		issue.Reason = IssuePriceChanged
		issue.Message = fmt.Sprintf("price of %s changed from %d to %d", product.Name, item.UnitPriceCents, product.PriceCents)
	default:
		return nil
	}
	return issue
}

// Messages flattens issues into the one-string-per-line form shown to buyers.
func Messages(issues []ValidationIssue) []string {
	out := make([]string, 0, len(issues))
	for _, issue := range issues {
		out = append(out, issue.Message)
	}
	return out
}
