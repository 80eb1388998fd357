package gateway

import (
	"strings"

	"github.com/angelmondragon/tradehub-backend/pkg/enums"
)

// Provider bill statuses as sent on callbacks and bill queries.
const (
	ProviderStatusPaid      = "paid"
	ProviderStatusPending   = "pending"
	ProviderStatusFailed    = "failed"
	ProviderStatusExpired   = "expired"
	ProviderStatusCancelled = "cancelled"
)

var providerStatusMap = map[string]enums.PaymentStatus{
	ProviderStatusPaid:      enums.PaymentStatusCompleted,
	ProviderStatusPending:   enums.PaymentStatusPending,
	ProviderStatusFailed:    enums.PaymentStatusFailed,
	ProviderStatusExpired:   enums.PaymentStatusFailed,
	ProviderStatusCancelled: enums.PaymentStatusFailed,
}

// MapStatus translates a provider status into the local payment status. The
// same table serves callbacks, polling and manual checks.
func MapStatus(providerStatus string) (enums.PaymentStatus, bool) {
	status, ok := providerStatusMap[strings.ToLower(strings.TrimSpace(providerStatus))]
	return status, ok
}
