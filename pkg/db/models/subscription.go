package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradehub-backend/pkg/enums"
	"github.com/angelmondragon/tradehub-backend/pkg/types"
)

// Subscription is a seller's plan membership. At most one row per user is
// active; the partial index ux_subscriptions_user_active backs that up.
type Subscription struct {
	ID                 uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID             uuid.UUID                `gorm:"column:user_id;type:uuid;not null;index"`
	PlanID             uuid.UUID                `gorm:"column:plan_id;type:uuid;not null"`
	Status             enums.SubscriptionStatus `gorm:"column:status;not null;default:'pending'"`
	StartsAt           time.Time                `gorm:"column:starts_at;not null"`
	EndsAt             time.Time                `gorm:"column:ends_at;not null"`
	TrialEndsAt        *time.Time               `gorm:"column:trial_ends_at"`
	AmountCents        int64                    `gorm:"column:amount_cents;not null"`
	Currency           string                   `gorm:"column:currency;not null"`
	AutoRenew          bool                     `gorm:"column:auto_renew;not null"`
	FeaturesSnapshot   types.FeaturesSnapshot   `gorm:"column:features_snapshot;type:jsonb;serializer:json;not null"`
	PendingChange      *types.PendingPlanChange `gorm:"column:pending_change;type:jsonb;serializer:json"`
	CancelRequestedAt  *time.Time               `gorm:"column:cancel_requested_at"`
	CancelledAt        *time.Time               `gorm:"column:cancelled_at"`
	CancellationReason *string                  `gorm:"column:cancellation_reason"`
	LastRenewedAt      *time.Time               `gorm:"column:last_renewed_at"`
	CreatedAt          time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

// IsActiveAt reports whether the subscription grants access at now. A
// deferred cancellation keeps it active until EndsAt.
func (s Subscription) IsActiveAt(now time.Time) bool {
	return s.Status == enums.SubscriptionStatusActive && now.Before(s.EndsAt)
}

// InTrial reports whether now falls inside the trial window.
func (s Subscription) InTrial(now time.Time) bool {
	return s.TrialEndsAt != nil && now.Before(*s.TrialEndsAt)
}
