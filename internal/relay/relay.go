// Package relay moves committed outbox rows to Pub/Sub. Rows are locked with
// SKIP LOCKED so several relays can run side by side.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradehub-backend/pkg/config"
	"github.com/angelmondragon/tradehub-backend/pkg/db/models"
	"github.com/angelmondragon/tradehub-backend/pkg/logger"
	"github.com/angelmondragon/tradehub-backend/pkg/metrics"
	"github.com/angelmondragon/tradehub-backend/pkg/outbox/registry"
)

const (
	publishTimeout = 15 * time.Second
	maxIdleBackoff = 10 * time.Second
	backoffJitter  = 250 * time.Millisecond
)

type txRunner interface {
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type rowStore interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type resolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// Sink delivers one message and returns once the broker acknowledged it.
type Sink interface {
	Publish(ctx context.Context, topic string, data []byte, attrs map[string]string) (string, error)
}

type Params struct {
	Config   config.OutboxConfig
	Logger   *logger.Logger
	DB       txRunner
	Store    rowStore
	Registry resolver
	Sink     Sink
	Metrics  *metrics.OutboxMetrics
}

type Relay struct {
	logg        *logger.Logger
	db          txRunner
	store       rowStore
	registry    resolver
	sink        Sink
	metrics     *metrics.OutboxMetrics
	batchSize   int
	maxAttempts int
	interval    time.Duration
}

// BatchReport counts what one batch did with its rows.
type BatchReport struct {
	Published int
	Retried   int
	Parked    int
}

func (r BatchReport) Total() int {
	return r.Published + r.Retried + r.Parked
}

func New(p Params) (*Relay, error) {
	switch {
	case p.Logger == nil:
		return nil, errors.New("logger required")
	case p.DB == nil:
		return nil, errors.New("db required")
	case p.Store == nil:
		return nil, errors.New("outbox store required")
	case p.Registry == nil:
		return nil, errors.New("event registry required")
	case p.Sink == nil:
		return nil, errors.New("sink required")
	case p.Config.BatchSize < 1 || p.Config.MaxAttempts < 1 || p.Config.PollIntervalMS < 1:
		return nil, fmt.Errorf("invalid outbox config %+v", p.Config)
	}
	return &Relay{
		logg:        p.Logger,
		db:          p.DB,
		store:       p.Store,
		registry:    p.Registry,
		sink:        p.Sink,
		metrics:     p.Metrics,
		batchSize:   p.Config.BatchSize,
		maxAttempts: p.Config.MaxAttempts,
		interval:    time.Duration(p.Config.PollIntervalMS) * time.Millisecond,
	}, nil
}

// Run drains batches until ctx ends. A full batch that published cleanly is
// followed immediately by the next one. Anything else waits one poll
// interval, and a failing batch backs off exponentially up to maxIdleBackoff.
func (r *Relay) Run(ctx context.Context) error {
	var backoff retry.Backoff
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		report, err := r.RunOnce(ctx)

		var wait time.Duration
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox batch failed", err)
			if backoff == nil {
				backoff = r.newBackoff()
			}
			wait, _ = backoff.Next()
		case report.Total() >= r.batchSize && report.Retried == 0:
			backoff = nil
			continue
		default:
			backoff = nil
			wait = r.interval
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (r *Relay) newBackoff() retry.Backoff {
	b := retry.NewExponential(r.interval)
	b = retry.WithCappedDuration(maxIdleBackoff, b)
	return retry.WithJitter(backoffJitter, b)
}

// RunOnce handles one locked batch inside a single transaction. A row that
// fails to publish is retried by a later batch until it runs out of attempts.
func (r *Relay) RunOnce(ctx context.Context) (BatchReport, error) {
	var report BatchReport
	start := time.Now()
	defer func() { r.metrics.ObserveBatch(time.Since(start)) }()

	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := r.store.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return fmt.Errorf("fetch outbox rows: %w", err)
		}
		for _, row := range rows {
			result, err := r.deliver(ctx, tx, row)
			if err != nil {
				return err
			}
			r.metrics.ObserveEvent(string(row.EventType), result)
			switch result {
			case metrics.OutboxPublished:
				report.Published++
			case metrics.OutboxRetried:
				report.Retried++
			case metrics.OutboxParked:
				report.Parked++
			}
		}
		return nil
	})
	return report, err
}

// deliver publishes row and records the outcome. The returned error is only
// set when the row's state could not be written.
func (r *Relay) deliver(ctx context.Context, tx *gorm.DB, row models.OutboxEvent) (string, error) {
	logCtx := r.logg.WithFields(ctx, rowFields(row))

	resolved, err := r.registry.Resolve(row)
	if err != nil {
		return metrics.OutboxParked, r.park(logCtx, tx, row, err)
	}
	logCtx = r.logg.WithFields(logCtx, map[string]any{
		"event_id": resolved.Envelope.EventID,
		"topic":    resolved.Descriptor.Topic,
	})

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	serverID, pubErr := r.sink.Publish(pubCtx, resolved.Descriptor.Topic, row.Payload, Attributes(row, resolved))
	cancel()

	switch {
	case pubErr == nil:
		if err := r.store.MarkPublishedTx(tx, row.ID); err != nil {
			return "", fmt.Errorf("mark published %s: %w", row.ID, err)
		}
		r.logg.Info(r.logg.WithField(logCtx, "message_id", serverID), "outbox event published")
		return metrics.OutboxPublished, nil
	case row.AttemptCount+1 >= r.maxAttempts:
		return metrics.OutboxParked, r.park(logCtx, tx, row, fmt.Errorf("max publish attempts reached: %w", pubErr))
	default:
		r.logg.Warn(r.logg.WithField(logCtx, "error", pubErr.Error()), "outbox publish failed, will retry")
		if err := r.store.MarkFailedTx(tx, row.ID, pubErr); err != nil {
			return "", fmt.Errorf("mark failed %s: %w", row.ID, err)
		}
		return metrics.OutboxRetried, nil
	}
}

// park moves the row to the attempt ceiling so it is never fetched again.
// The payload stays for inspection until retention removes it.
func (r *Relay) park(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, cause error) error {
	r.logg.Warn(r.logg.WithField(ctx, "error", cause.Error()), "outbox event parked")
	if err := r.store.MarkTerminalTx(tx, row.ID, cause, r.maxAttempts); err != nil {
		return fmt.Errorf("park %s: %w", row.ID, err)
	}
	return nil
}

// Attributes are the Pub/Sub message attributes consumers filter on.
func Attributes(row models.OutboxEvent, resolved *registry.ResolvedEvent) map[string]string {
	attrs := map[string]string{
		"event_type":     string(row.EventType),
		"aggregate_type": string(row.AggregateType),
		"aggregate_id":   row.AggregateID.String(),
		"created_at":     row.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if resolved != nil {
		attrs["event_id"] = resolved.Envelope.EventID
		attrs["version"] = fmt.Sprint(resolved.Envelope.Version)
	}
	return attrs
}

func rowFields(row models.OutboxEvent) map[string]any {
	fields := map[string]any{
		"outbox_id":      row.ID.String(),
		"event_type":     row.EventType,
		"aggregate_type": row.AggregateType,
		"aggregate_id":   row.AggregateID.String(),
		"attempt_count":  row.AttemptCount,
	}
	if row.LastError != nil {
		fields["last_error"] = *row.LastError
	}
	return fields
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
