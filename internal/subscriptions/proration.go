package subscriptions

import (
	"time"

	"github.com/shopspring/decimal"
)

const day = 24 * time.Hour

// RemainingDays counts whole days left before endsAt. Partial days are
// dropped and a past end yields zero.
func RemainingDays(now, endsAt time.Time) int64 {
	if !endsAt.After(now) {
		return 0
	}
	return int64(endsAt.Sub(now) / day)
}

// DailyRate is the per-day price of a period, truncated to whole minor units.
func DailyRate(priceCents int64, durationDays int) int64 {
	if durationDays <= 0 {
		return 0
	}
	return decimal.NewFromInt(priceCents).
		Div(decimal.NewFromInt(int64(durationDays))).
		Floor().
		IntPart()
}

// ProrationCharge is what switching plans costs for the remaining window:
// the new plan's daily rate minus the unused old rate, never negative.
func ProrationCharge(remainingDays, oldPriceCents int64, oldDurationDays int, newPriceCents int64, newDurationDays int) int64 {
	if remainingDays <= 0 {
		return 0
	}
	charge := remainingDays*DailyRate(newPriceCents, newDurationDays) - remainingDays*DailyRate(oldPriceCents, oldDurationDays)
	if charge < 0 {
		return 0
	}
	return charge
}
