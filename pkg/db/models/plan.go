package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Plan is a seller subscription tier.
type Plan struct {
	ID           uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Slug         string         `gorm:"column:slug;not null;uniqueIndex"`
	Name         string         `gorm:"column:name;not null"`
	PriceCents   int64          `gorm:"column:price_cents;not null"`
	Currency     string         `gorm:"column:currency;not null"`
	DurationDays int            `gorm:"column:duration_days;not null"`
	TrialDays    int            `gorm:"column:trial_days;not null;default:0"`
	Features     pq.StringArray `gorm:"column:features;type:text[];default:ARRAY[]::text[]"`
	IsActive     bool           `gorm:"column:is_active;not null"`
	CreatedAt    time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

// Duration is the length of one billing period.
func (p Plan) Duration() time.Duration {
	return time.Duration(p.DurationDays) * 24 * time.Hour
}
