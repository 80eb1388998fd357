package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradehub-backend/pkg/config"
	"github.com/angelmondragon/tradehub-backend/pkg/db/models"
	"github.com/angelmondragon/tradehub-backend/pkg/enums"
	"github.com/angelmondragon/tradehub-backend/pkg/logger"
	"github.com/angelmondragon/tradehub-backend/pkg/metrics"
	"github.com/angelmondragon/tradehub-backend/pkg/outbox"
	"github.com/angelmondragon/tradehub-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/tradehub-backend/pkg/outbox/registry"
)

func TestRunOncePublishesAndRetries(t *testing.T) {
	first := orderCreatedRow(t, 0)
	second := orderCreatedRow(t, 0)
	store := &fakeStore{rows: []models.OutboxEvent{first, second}}
	sink := &fakeSink{errs: []error{errors.New("unavailable"), nil}}
	r := newTestRelay(t, store, sink, 5)

	report, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatchReport{Published: 1, Retried: 1}, report)
	assert.Equal(t, []uuid.UUID{first.ID}, store.failed)
	assert.Equal(t, []uuid.UUID{second.ID}, store.published)
	require.Len(t, sink.sent, 2)
	assert.Equal(t, "notifications", sink.sent[1].topic)
	assert.JSONEq(t, string(second.Payload), string(sink.sent[1].data))
}

func TestRunOnceParksUnresolvableRows(t *testing.T) {
	row := orderCreatedRow(t, 0)
	row.AggregateType = enums.AggregatePayment
	store := &fakeStore{rows: []models.OutboxEvent{row}}
	sink := &fakeSink{}
	r := newTestRelay(t, store, sink, 5)

	report, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Parked)
	assert.Equal(t, []uuid.UUID{row.ID}, store.parked)
	assert.Equal(t, 5, store.parkedAt)
	assert.Empty(t, sink.sent, "an unresolvable row is never sent")
}

func TestRunOnceParksAtLastAttempt(t *testing.T) {
	row := orderCreatedRow(t, 1)
	store := &fakeStore{rows: []models.OutboxEvent{row}}
	r := newTestRelay(t, store, &fakeSink{errs: []error{errors.New("timeout")}}, 2)

	report, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatchReport{Parked: 1}, report)
	assert.Empty(t, store.failed)
	assert.Equal(t, []uuid.UUID{row.ID}, store.parked)
}

func TestRunOnceFailsWhenRowStateCannotBeSaved(t *testing.T) {
	store := &fakeStore{rows: []models.OutboxEvent{orderCreatedRow(t, 0)}, markErr: errors.New("db gone")}
	r := newTestRelay(t, store, &fakeSink{}, 5)

	_, err := r.RunOnce(context.Background())
	assert.ErrorContains(t, err, "db gone")
}

func TestRunOnceRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	store := &fakeStore{rows: []models.OutboxEvent{orderCreatedRow(t, 0)}}
	r := newTestRelay(t, store, &fakeSink{}, 5)
	r.metrics = metrics.NewOutboxMetrics(reg)

	_, err := r.RunOnce(context.Background())
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	var published float64
	for _, f := range families {
		if f.GetName() != "outbox_events_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "result" && l.GetValue() == metrics.OutboxPublished {
					published = m.GetCounter().GetValue()
				}
			}
		}
	}
	assert.Equal(t, 1.0, published)
}

func TestRunStopsWithContext(t *testing.T) {
	r := newTestRelay(t, &fakeStore{}, &fakeSink{}, 5)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := r.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAttributes(t *testing.T) {
	row := orderCreatedRow(t, 0)
	row.CreatedAt = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	attrs := Attributes(row, &registry.ResolvedEvent{Envelope: outbox.PayloadEnvelope{EventID: "evt-1", Version: 2}})

	assert.Equal(t, map[string]string{
		"event_type":     string(enums.EventOrderCreated),
		"aggregate_type": string(enums.AggregateOrder),
		"aggregate_id":   row.AggregateID.String(),
		"created_at":     "2026-10-01T09:00:00Z",
		"event_id":       "evt-1",
		"version":        "2",
	}, attrs)
}

func TestNewValidatesParams(t *testing.T) {
	_, err := New(Params{})
	assert.Error(t, err)

	reg, err := registry.NewEventRegistry(config.PubSubConfig{NotificationTopic: "notifications"})
	require.NoError(t, err)
	_, err = New(Params{
		Config:   config.OutboxConfig{BatchSize: 0, PollIntervalMS: 10, MaxAttempts: 3},
		Logger:   testLogger(),
		DB:       fakeTx{},
		Store:    &fakeStore{},
		Registry: reg,
		Sink:     &fakeSink{},
	})
	assert.Error(t, err)
}

func newTestRelay(t *testing.T, store *fakeStore, sink *fakeSink, maxAttempts int) *Relay {
	t.Helper()
	reg, err := registry.NewEventRegistry(config.PubSubConfig{NotificationTopic: "notifications"})
	require.NoError(t, err)
	r, err := New(Params{
		Config:   config.OutboxConfig{BatchSize: 10, PollIntervalMS: 10, MaxAttempts: maxAttempts},
		Logger:   testLogger(),
		DB:       fakeTx{},
		Store:    store,
		Registry: reg,
		Sink:     sink,
	})
	require.NoError(t, err)
	return r
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "relay-test", Output: io.Discard})
}

func orderCreatedRow(t *testing.T, attempts int) models.OutboxEvent {
	t.Helper()
	orderID := uuid.New()
	data, err := json.Marshal(payloads.OrderCreatedEvent{OrderID: orderID, OrderNumber: "ORD-20261001-0001", TotalCents: 1500, Currency: "TZS", ItemCount: 1})
	require.NoError(t, err)
	envelope, err := json.Marshal(outbox.PayloadEnvelope{Version: 1, EventID: uuid.NewString(), OccurredAt: time.Now(), Data: data})
	require.NoError(t, err)
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Payload:       envelope,
		AttemptCount:  attempts,
	}
}

type fakeTx struct{}

func (fakeTx) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}

type fakeStore struct {
	rows      []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	parked    []uuid.UUID
	parkedAt  int
	markErr   error
}

func (f *fakeStore) FetchUnpublishedForPublish(_ *gorm.DB, limit, _ int) ([]models.OutboxEvent, error) {
	rows := f.rows
	if len(rows) > limit {
		rows = rows[:limit]
	}
	f.rows = f.rows[len(rows):]
	return rows, nil
}

func (f *fakeStore) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.published = append(f.published, id)
	return nil
}

func (f *fakeStore) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeStore) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, attempts int) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.parked = append(f.parked, id)
	f.parkedAt = attempts
	return nil
}

type sentMessage struct {
	topic string
	data  []byte
	attrs map[string]string
}

type fakeSink struct {
	errs []error
	sent []sentMessage
}

func (f *fakeSink) Publish(_ context.Context, topic string, data []byte, attrs map[string]string) (string, error) {
	f.sent = append(f.sent, sentMessage{topic: topic, data: data, attrs: attrs})
	if len(f.errs) == 0 {
		return "msg-" + topic, nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return "msg-" + topic, err
}
