package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/tradehub-backend/pkg/logger"
)

const (
	defaultUnpaidOrderTTL   = 48 * time.Hour
	defaultUnpaidOrderBatch = 200
)

type unpaidOrderExpirer interface {
	ExpireUnpaid(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// UnpaidOrderJobParams configure the stale order cleanup.
type UnpaidOrderJobParams struct {
	Logger *logger.Logger
	Orders unpaidOrderExpirer
	TTL    time.Duration
	Limit  int
	Now    func() time.Time
}

// NewUnpaidOrderJob builds the job that cancels pending orders left unpaid
// past the TTL, putting their stock back on sale.
func NewUnpaidOrderJob(params UnpaidOrderJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = defaultUnpaidOrderTTL
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultUnpaidOrderBatch
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &unpaidOrderJob{logg: params.Logger, orders: params.Orders, ttl: ttl, limit: limit, now: now}, nil
}

type unpaidOrderJob struct {
	logg   *logger.Logger
	orders unpaidOrderExpirer
	ttl    time.Duration
	limit  int
	now    func() time.Time
}

func (j *unpaidOrderJob) Name() string { return "unpaid-order-expiry" }

func (j *unpaidOrderJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.ttl)
	cancelled, err := j.orders.ExpireUnpaid(ctx, cutoff, j.limit)
	if err != nil {
		return fmt.Errorf("expire unpaid orders: %w", err)
	}
	if cancelled > 0 {
		logCtx := j.logg.WithFields(ctx, map[string]any{"cancelled": cancelled, "cutoff": cutoff})
		j.logg.Info(logCtx, "unpaid orders cancelled")
	}
	return nil
}
