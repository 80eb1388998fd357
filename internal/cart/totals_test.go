package cart

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/angelmondragon/tradehub-backend/pkg/config"
	"github.com/angelmondragon/tradehub-backend/pkg/db/models"
)

func line(qty int, unit int64, weightGrams int) models.CartItem {
	return models.CartItem{
		Quantity:       qty,
		UnitPriceCents: unit,
		Product:        &models.Product{WeightGrams: weightGrams},
	}
}

func TestCalculateTotals(t *testing.T) {
	pricing := DefaultPricing()

	cases := []struct {
		name     string
		items    []models.CartItem
		discount int64
		want     Totals
	}{
		{
			name:  "two units below free shipping",
			items: []models.CartItem{line(2, 10000, 500)},
			want:  Totals{SubtotalCents: 20000, TaxCents: 3600, ShippingCents: 5000, TotalCents: 28600, WeightGrams: 1000},
		},
		{
			name:  "free shipping at threshold",
			items: []models.CartItem{line(1, 100000, 0)},
			want:  Totals{SubtotalCents: 100000, TaxCents: 18000, ShippingCents: 0, TotalCents: 118000},
		},
		{
			name:  "heavy parcel surcharge",
			items: []models.CartItem{line(3, 2000, 2000)},
			want:  Totals{SubtotalCents: 6000, TaxCents: 1080, ShippingCents: 8000, TotalCents: 15080, WeightGrams: 6000},
		},
		{
			name:  "tax rounds half up",
			items: []models.CartItem{line(1, 1025, 0)},
			want:  Totals{SubtotalCents: 1025, TaxCents: 185, ShippingCents: 5000, TotalCents: 6210},
		},
		{
			name:     "discount clamped to subtotal",
			items:    []models.CartItem{line(1, 1000, 0)},
			discount: 5000,
			want:     Totals{SubtotalCents: 1000, TaxCents: 180, ShippingCents: 5000, DiscountCents: 1000, TotalCents: 5180},
		},
		{
			name:     "negative discount ignored",
			items:    []models.CartItem{line(1, 1000, 0)},
			discount: -10,
			want:     Totals{SubtotalCents: 1000, TaxCents: 180, ShippingCents: 5000, TotalCents: 6180},
		},
		{
			name: "empty cart",
			want: Totals{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CalculateTotals(tc.items, pricing, TotalsOptions{DiscountCents: tc.discount})
			tc.want.Currency = pricing.Currency
			assert.Equal(t, tc.want, got)
			assert.Equal(t, got.SubtotalCents+got.TaxCents+got.ShippingCents-got.DiscountCents, got.TotalCents)
		})
	}
}

func TestCalculateTotalsIsDeterministic(t *testing.T) {
	items := []models.CartItem{line(3, 3333, 100), line(7, 1111, 900)}
	first := CalculateTotals(items, DefaultPricing(), TotalsOptions{DiscountCents: 250})
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, CalculateTotals(items, DefaultPricing(), TotalsOptions{DiscountCents: 250}))
	}
}

func TestPricingFromConfig(t *testing.T) {
	pricing, err := PricingFromConfig(config.PricingConfig{
		Currency:              "KES",
		TaxRate:               "0.16",
		FlatShippingCents:     100,
		FreeShippingThreshold: 1000,
		HeavyWeightGrams:      10,
		HeavySurchargeCents:   50,
	})
	assert.NoError(t, err)
	assert.Equal(t, "0.16", pricing.TaxRate.String())
	assert.Equal(t, "KES", pricing.Currency)

	_, err = PricingFromConfig(config.PricingConfig{TaxRate: "abc"})
	assert.Error(t, err)
}
