package webhooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/tradehub-backend/pkg/redis"
)

// DefaultDeliveryTTL bounds how long a processed delivery is remembered.
const DefaultDeliveryTTL = 24 * time.Hour

// DefaultInFlightTTL bounds how long a delivery stays claimed without being
// completed or released, e.g. after a crash mid-request.
const DefaultInFlightTTL = 2 * time.Minute

const (
	markerInFlight = "processing"
	markerDone     = "done"
)

// DeliveryState is what the guard knows about a delivery when it is claimed.
type DeliveryState int

const (
	// DeliveryNew means the caller now owns the delivery and must Complete or
	// Release it.
	DeliveryNew DeliveryState = iota
	// DeliveryInFlight means another request holds the claim.
	DeliveryInFlight
	// DeliveryDone means the delivery was already processed.
	DeliveryDone
)

// IdempotencyGuard marks webhook deliveries in Redis so concurrent or replayed
// deliveries are answered without reprocessing. The database remains the
// source of truth; a lost key only costs one extra, idempotent apply.
type IdempotencyGuard struct {
	store       redis.IdempotencyStore
	ttl         time.Duration
	inFlightTTL time.Duration
	scope       string
}

func NewIdempotencyGuard(store redis.IdempotencyStore, ttl time.Duration, scope string) (*IdempotencyGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if strings.TrimSpace(scope) == "" {
		return nil, errors.New("scope is required")
	}
	if ttl == 0 {
		ttl = DefaultDeliveryTTL
	}
	inFlight := DefaultInFlightTTL
	if inFlight > ttl {
		inFlight = ttl
	}
	return &IdempotencyGuard{
		store:       store,
		ttl:         ttl,
		inFlightTTL: inFlight,
		scope:       scope,
	}, nil
}

// Claim marks the delivery as in flight for a short window. Only a caller
// that gets DeliveryNew may process it.
func (g *IdempotencyGuard) Claim(ctx context.Context, deliveryID string) (DeliveryState, error) {
	if deliveryID == "" {
		return DeliveryNew, errors.New("delivery id is required")
	}
	key := g.key(deliveryID)
	set, err := g.store.SetNX(ctx, key, markerInFlight, g.inFlightTTL)
	if err != nil {
		return DeliveryNew, fmt.Errorf("set idempotency key: %w", err)
	}
	if set {
		return DeliveryNew, nil
	}

	marker, err := g.store.Get(ctx, key)
	switch {
	case errors.Is(err, redis.ErrNotFound):
		// expired between the two calls; the next delivery will claim it
		return DeliveryInFlight, nil
	case err != nil:
		return DeliveryNew, fmt.Errorf("read idempotency key: %w", err)
	case marker == markerDone:
		return DeliveryDone, nil
	default:
		return DeliveryInFlight, nil
	}
}

// Complete records a processed delivery for the full TTL.
func (g *IdempotencyGuard) Complete(ctx context.Context, deliveryID string) error {
	if deliveryID == "" {
		return errors.New("delivery id is required")
	}
	return g.store.Set(ctx, g.key(deliveryID), markerDone, g.ttl)
}

// Release forgets a claimed delivery so the sender's retry is processed.
func (g *IdempotencyGuard) Release(ctx context.Context, deliveryID string) error {
	if deliveryID == "" {
		return errors.New("delivery id is required")
	}
	return g.store.Del(ctx, g.key(deliveryID))
}

func (g *IdempotencyGuard) key(deliveryID string) string {
	return g.store.IdempotencyKey(g.scope, deliveryID)
}

// DeliveryID fingerprints a callback by its signed fields. Including the
// signature keeps a forged request from occupying the key of a genuine one.
func DeliveryID(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:16])
}
