package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/tradehub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradehub-backend/pkg/errors"
)

// PollReport summarises one pass over unsettled payments.
type PollReport struct {
	Checked   int
	Completed int
	Failed    int
	Pending   int
	Errors    int
}

type pollResult struct {
	status enums.PaymentStatus
	err    error
}

// PollPending queries the gateway for payments still unsettled after
// olderThan. One failing payment does not stop the others; their errors are
// combined into the returned error.
func (s *service) PollPending(ctx context.Context, olderThan time.Duration, limit int) (PollReport, error) {
	var report PollReport
	cutoff := s.now().Add(-olderThan)
	ids, err := s.repo.ListStalePending(ctx, cutoff, limit)
	if err != nil {
		return report, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending payments")
	}
	if len(ids) == 0 {
		return report, nil
	}

	results := make([]pollResult, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.pollConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			results[i] = s.pollOne(gctx, id)
			return nil
		})
	}
	_ = g.Wait()

	var errs error
	for i, res := range results {
		report.Checked++
		if res.err != nil {
			report.Errors++
			errs = multierr.Append(errs, fmt.Errorf("payment %s: %w", ids[i], res.err))
			continue
		}
		switch res.status {
		case enums.PaymentStatusCompleted:
			report.Completed++
		case enums.PaymentStatusFailed:
			report.Failed++
		default:
			report.Pending++
		}
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"checked":   report.Checked,
			"completed": report.Completed,
			"failed":    report.Failed,
			"pending":   report.Pending,
			"errors":    report.Errors,
		})
		s.logg.Info(logCtx, "pending payment poll finished")
	}
	return report, errs
}

func (s *service) pollOne(ctx context.Context, id uuid.UUID) pollResult {
	if err := ctx.Err(); err != nil {
		return pollResult{err: err}
	}
	payment, err := s.CheckStatus(ctx, id)
	if err != nil {
		return pollResult{err: err}
	}
	return pollResult{status: payment.Status}
}
