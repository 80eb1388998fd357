package cart

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tradehub-backend/pkg/config"
	"github.com/angelmondragon/tradehub-backend/pkg/db/models"
)

// Pricing holds the rules totals are computed with.
type Pricing struct {
	Currency              string
	TaxRate               decimal.Decimal
	FlatShippingCents     int64
	FreeShippingThreshold int64
	HeavyWeightGrams      int
	HeavySurchargeCents   int64
}

// PricingFromConfig converts validated config into pricing rules.
func PricingFromConfig(cfg config.PricingConfig) (Pricing, error) {
	rate, err := cfg.TaxRateDecimal()
	if err != nil {
		return Pricing{}, err
	}
	return Pricing{
		Currency:              cfg.Currency,
		TaxRate:               rate,
		FlatShippingCents:     cfg.FlatShippingCents,
		FreeShippingThreshold: cfg.FreeShippingThreshold,
		HeavyWeightGrams:      cfg.HeavyWeightGrams,
		HeavySurchargeCents:   cfg.HeavySurchargeCents,
	}, nil
}

// DefaultPricing mirrors the config defaults.
func DefaultPricing() Pricing {
	return Pricing{
		Currency:              "TZS",
		TaxRate:               decimal.RequireFromString("0.18"),
		FlatShippingCents:     5000,
		FreeShippingThreshold: 100000,
		HeavyWeightGrams:      5000,
		HeavySurchargeCents:   3000,
	}
}

// TotalsOptions carries checkout-time adjustments.
type TotalsOptions struct {
	DiscountCents int64
}

// Totals is the money breakdown of a cart. TotalCents always equals
// Subtotal + Tax + Shipping - Discount.
type Totals struct {
	SubtotalCents int64  `json:"subtotal_cents"`
	TaxCents      int64  `json:"tax_cents"`
	ShippingCents int64  `json:"shipping_cents"`
	DiscountCents int64  `json:"discount_cents"`
	TotalCents    int64  `json:"total_cents"`
	WeightGrams   int    `json:"weight_grams"`
	Currency      string `json:"currency"`
}

// CalculateTotals prices the given lines. Weight comes from the preloaded
// product; lines without one weigh nothing.
func CalculateTotals(items []models.CartItem, pricing Pricing, opts TotalsOptions) Totals {
	var subtotal int64
	var weight int
	for _, item := range items {
		subtotal += item.LineTotalCents()
		if item.Product != nil {
			weight += item.Product.WeightGrams * item.Quantity
		}
	}

	tax := decimal.NewFromInt(subtotal).Mul(pricing.TaxRate).Round(0).IntPart()

	var shipping int64
	if len(items) > 0 && subtotal < pricing.FreeShippingThreshold {
		shipping = pricing.FlatShippingCents
		if weight > pricing.HeavyWeightGrams {
			shipping += pricing.HeavySurchargeCents
		}
	}

	discount := opts.DiscountCents
	if discount < 0 {
		discount = 0
	}
	if discount > subtotal {
		discount = subtotal
	}

	return Totals{
		SubtotalCents: subtotal,
		TaxCents:      tax,
		ShippingCents: shipping,
		DiscountCents: discount,
		TotalCents:    subtotal + tax + shipping - discount,
		WeightGrams:   weight,
		Currency:      pricing.Currency,
	}
}
