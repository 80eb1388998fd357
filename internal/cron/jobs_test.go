package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tradehub-backend/internal/payments"
	"github.com/angelmondragon/tradehub-backend/internal/subscriptions"
)

type fakeExpirer struct {
	gotNow   time.Time
	gotLimit int
	report   subscriptions.ExpiryReport
	err      error
}

func (f *fakeExpirer) ProcessExpired(_ context.Context, now time.Time, limit int) (subscriptions.ExpiryReport, error) {
	f.gotNow = now
	f.gotLimit = limit
	return f.report, f.err
}

type fakePoller struct {
	gotAge   time.Duration
	gotLimit int
	err      error
}

func (f *fakePoller) PollPending(_ context.Context, olderThan time.Duration, limit int) (payments.PollReport, error) {
	f.gotAge = olderThan
	f.gotLimit = limit
	return payments.PollReport{Checked: 2, Errors: 1}, f.err
}

type fakeOrderExpirer struct {
	gotCutoff time.Time
	cancelled int
	err       error
}

func (f *fakeOrderExpirer) ExpireUnpaid(_ context.Context, cutoff time.Time, _ int) (int, error) {
	f.gotCutoff = cutoff
	return f.cancelled, f.err
}

func TestSubscriptionExpiryJobPassesClock(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.FixedZone("EAT", 3*3600))
	expirer := &fakeExpirer{report: subscriptions.ExpiryReport{Expired: 2, Renewed: 1}}
	job, err := NewSubscriptionExpiryJob(SubscriptionExpiryJobParams{
		Logger:        testLogger(),
		Subscriptions: expirer,
		Now:           func() time.Time { return now },
	})
	require.NoError(t, err)
	assert.Equal(t, "subscription-expiry", job.Name())

	require.NoError(t, job.Run(context.Background()))
	assert.True(t, expirer.gotNow.Equal(now))
	assert.Equal(t, time.UTC, expirer.gotNow.Location())
	assert.Equal(t, defaultExpiryBatch, expirer.gotLimit)

	expirer.err = errors.New("db down")
	assert.Error(t, job.Run(context.Background()))
}

func TestPaymentPollJobDefaultsAndErrors(t *testing.T) {
	poller := &fakePoller{}
	job, err := NewPaymentPollJob(PaymentPollJobParams{Logger: testLogger(), Payments: poller})
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, defaultPendingPaymentAge, poller.gotAge)
	assert.Equal(t, defaultPaymentPollBatch, poller.gotLimit)

	poller.err = errors.New("payment x: gateway down")
	err = job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway down")
}

func TestUnpaidOrderJobUsesTTL(t *testing.T) {
	now := time.Date(2026, 4, 3, 12, 0, 0, 0, time.UTC)
	orders := &fakeOrderExpirer{cancelled: 3}
	job, err := NewUnpaidOrderJob(UnpaidOrderJobParams{
		Logger: testLogger(),
		Orders: orders,
		TTL:    24 * time.Hour,
		Now:    func() time.Time { return now },
	})
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background()))
	assert.True(t, orders.gotCutoff.Equal(now.Add(-24*time.Hour)))
}

func TestJobConstructorsRequireDependencies(t *testing.T) {
	_, err := NewSubscriptionExpiryJob(SubscriptionExpiryJobParams{Logger: testLogger()})
	assert.Error(t, err)
	_, err = NewPaymentPollJob(PaymentPollJobParams{Payments: &fakePoller{}})
	assert.Error(t, err)
	_, err = NewUnpaidOrderJob(UnpaidOrderJobParams{Logger: testLogger()})
	assert.Error(t, err)
	_, err = NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: testLogger()})
	assert.Error(t, err)
}
