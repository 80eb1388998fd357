package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/tradehub-backend/internal/subscriptions"
	"github.com/angelmondragon/tradehub-backend/pkg/logger"
)

const defaultExpiryBatch = 200

type subscriptionExpirer interface {
	ProcessExpired(ctx context.Context, now time.Time, limit int) (subscriptions.ExpiryReport, error)
}

// SubscriptionExpiryJobParams configure the subscription end-of-period sweep.
type SubscriptionExpiryJobParams struct {
	Logger        *logger.Logger
	Subscriptions subscriptionExpirer
	Limit         int
	Now           func() time.Time
}

// NewSubscriptionExpiryJob builds the job that closes, renews or switches
// subscriptions whose period has ended.
func NewSubscriptionExpiryJob(params SubscriptionExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription service required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultExpiryBatch
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &subscriptionExpiryJob{
		logg:  params.Logger,
		subs:  params.Subscriptions,
		limit: limit,
		now:   now,
	}, nil
}

type subscriptionExpiryJob struct {
	logg  *logger.Logger
	subs  subscriptionExpirer
	limit int
	now   func() time.Time
}

func (j *subscriptionExpiryJob) Name() string { return "subscription-expiry" }

func (j *subscriptionExpiryJob) Run(ctx context.Context) error {
	report, err := j.subs.ProcessExpired(ctx, j.now().UTC(), j.limit)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"switched":  report.Switched,
		"renewed":   report.Renewed,
		"cancelled": report.Cancelled,
		"expired":   report.Expired,
		"skipped":   report.Skipped,
	})
	if err != nil {
		return fmt.Errorf("subscription expiry: %w", err)
	}
	if report.Total() > 0 {
		j.logg.Info(logCtx, "subscription expiry sweep complete")
	}
	return nil
}
