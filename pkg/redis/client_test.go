package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tradehub-backend/pkg/config"
)

func newMiniredisClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	raw := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = raw.Close() })
	return Wrap(raw), mr
}

func TestNextSequenceIncrementsAndExpires(t *testing.T) {
	ctx := context.Background()
	client, mr := newMiniredisClient(t)

	first, err := client.NextSequence(ctx, "orders:202610", time.Hour)
	require.NoError(t, err)
	second, err := client.NextSequence(ctx, "orders:202610", time.Hour)
	require.NoError(t, err)

	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(2), second)
	assert.Equal(t, time.Hour, mr.TTL("th:counter:orders:202610"))

	other, err := client.NextSequence(ctx, "orders:202611", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), other, "each period starts its own sequence")
}

func TestSetNXOnlyFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	client, _ := newMiniredisClient(t)
	key := client.IdempotencyKey("webhook", "BILL-1")

	ok, err := client.SetNX(ctx, key, "1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.SetNX(ctx, key, "1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, client.Set(ctx, key, "done", time.Hour))
	got, err := client.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "done", got)

	require.NoError(t, client.Del(ctx, key))
	_, err = client.Get(ctx, key)
	assert.ErrorIs(t, err, redis.Nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompareAndDeleteOnlyRemovesOwnValue(t *testing.T) {
	ctx := context.Background()
	client, mr := newMiniredisClient(t)
	key := client.LockKey("cron")
	require.NoError(t, mr.Set(key, "owner-a"))

	removed, err := client.CompareAndDelete(ctx, key, "owner-b")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.True(t, mr.Exists(key))

	removed, err = client.CompareAndDelete(ctx, key, "owner-a")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, mr.Exists(key))
}

func TestPingAndUninitialisedClient(t *testing.T) {
	client, _ := newMiniredisClient(t)
	require.NoError(t, client.Ping(context.Background()))

	empty := &Client{}
	assert.Error(t, empty.Ping(context.Background()))
	assert.NoError(t, empty.Close())
}

func TestNextSequenceWithoutTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	client, mr := newMiniredisClient(t)

	_, err := client.NextSequence(ctx, "refunds", 0)
	require.NoError(t, err)
	assert.Zero(t, mr.TTL("th:counter:refunds"))
}

func TestUninitialisedClientErrors(t *testing.T) {
	ctx := context.Background()
	empty := &Client{}
	_, err := empty.NextSequence(ctx, "x", time.Minute)
	assert.ErrorIs(t, err, errNotInitialized)
	_, err = empty.SetNX(ctx, "x", "1", time.Minute)
	assert.ErrorIs(t, err, errNotInitialized)
	assert.ErrorIs(t, empty.Set(ctx, "x", "1", time.Minute), errNotInitialized)
	_, err = empty.CompareAndDelete(ctx, "x", "1")
	assert.ErrorIs(t, err, errNotInitialized)
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	assert.Equal(t, "th:idempotency:scope:id", client.IdempotencyKey("scope", "id"))
	assert.Equal(t, "th:counter:hits", client.CounterKey("hits"))
	assert.Equal(t, "th:lock:cron", client.LockKey("cron"))
	assert.Equal(t, "th:lock:cron-worker:prod", client.LockKey("cron-worker", " ", "prod"))
	assert.Equal(t, "th:idempotency:scope", client.IdempotencyKey("scope", ""), "empty parts are skipped")
}

func TestOptionsFromConfigRequiresAddress(t *testing.T) {
	_, err := optionsFromConfigFor("", "")
	assert.Error(t, err)

	opts, err := optionsFromConfigFor("redis://localhost:6379/3", "")
	require.NoError(t, err)
	assert.Equal(t, 3, opts.DB)
}

func TestOptionsFromConfigFillsPoolSettings(t *testing.T) {
	opts, err := optionsFromConfig(config.RedisConfig{
		Address:     "localhost:6379",
		PoolSize:    25,
		DialTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 25, opts.PoolSize)
	assert.Equal(t, 2*time.Second, opts.DialTimeout)
}

func optionsFromConfigFor(url, addr string) (*redis.Options, error) {
	return optionsFromConfig(config.RedisConfig{URL: url, Address: addr})
}
