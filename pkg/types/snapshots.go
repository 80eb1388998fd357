package types

import (
	"time"

	"github.com/google/uuid"
)

// Snapshot schema versions. Bump when a field changes meaning so readers can
// tell old rows apart.
const (
	ProductSnapshotVersion  = 1
	PayerInfoVersion        = 1
	GatewayResponseVersion  = 1
	FeaturesSnapshotVersion = 1
)

// ProductSnapshot is the denormalised product copy stored on an order item.
type ProductSnapshot struct {
	Version  int         `json:"version"`
	Name     string      `json:"name"`
	SKU      string      `json:"sku"`
	ImageURL *string     `json:"image_url,omitempty"`
	Options  CartOptions `json:"options,omitempty"`
}

// PayerInfo is who the gateway bills.
type PayerInfo struct {
	Version int    `json:"version"`
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone"`
}

// GatewayResponse records the last provider answer applied to a payment.
type GatewayResponse struct {
	Version        int       `json:"version"`
	Source         string    `json:"source"`
	ProviderStatus string    `json:"provider_status,omitempty"`
	TransactionRef string    `json:"transaction_ref,omitempty"`
	Message        string    `json:"message,omitempty"`
	ReceivedAt     time.Time `json:"received_at"`
}

const (
	GatewaySourceCreate   = "create_bill"
	GatewaySourceCallback = "callback"
	GatewaySourcePoll     = "poll"
	GatewaySourceManual   = "manual"
)

// ManualConfirmation is the audit record of an admin confirming a payment
// without a gateway event.
type ManualConfirmation struct {
	ActorID     uuid.UUID `json:"actor_id"`
	ActorRole   string    `json:"actor_role"`
	Note        string    `json:"note,omitempty"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// FeaturesSnapshot freezes what a plan granted when the subscription started.
type FeaturesSnapshot struct {
	Version  int      `json:"version"`
	PlanSlug string   `json:"plan_slug"`
	PlanName string   `json:"plan_name"`
	Features []string `json:"features"`
}

// PendingPlanChange is a deferred plan switch applied when the current period ends.
type PendingPlanChange struct {
	PlanID      uuid.UUID `json:"plan_id"`
	RequestedAt time.Time `json:"requested_at"`
	EffectiveAt time.Time `json:"effective_at"`
	RequestedBy uuid.UUID `json:"requested_by"`
}
