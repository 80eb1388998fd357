package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/tradehub-backend/internal/payments"
	"github.com/angelmondragon/tradehub-backend/pkg/logger"
)

const (
	defaultPendingPaymentAge = 10 * time.Minute
	defaultPaymentPollBatch  = 100
)

type paymentPoller interface {
	PollPending(ctx context.Context, olderThan time.Duration, limit int) (payments.PollReport, error)
}

type PaymentPollJobParams struct {
	Logger   *logger.Logger
	Payments paymentPoller
	MinAge   time.Duration
	Limit    int
}

// NewPaymentPollJob builds the job that asks the gateway about payments whose
// callback never arrived.
func NewPaymentPollJob(params PaymentPollJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	minAge := params.MinAge
	if minAge <= 0 {
		minAge = defaultPendingPaymentAge
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultPaymentPollBatch
	}
	return &paymentPollJob{
		logg:     params.Logger,
		payments: params.Payments,
		minAge:   minAge,
		limit:    limit,
	}, nil
}

type paymentPollJob struct {
	logg     *logger.Logger
	payments paymentPoller
	minAge   time.Duration
	limit    int
}

func (j *paymentPollJob) Name() string { return "payment-poll" }

func (j *paymentPollJob) Run(ctx context.Context) error {
	report, err := j.payments.PollPending(ctx, j.minAge, j.limit)
	if err != nil {
		// partial failures still settle the rest of the batch
		logCtx := j.logg.WithFields(ctx, map[string]any{
			"checked": report.Checked,
			"errors":  report.Errors,
		})
		j.logg.Warn(logCtx, "payment poll finished with errors")
		return fmt.Errorf("payment poll: %w", err)
	}
	return nil
}
