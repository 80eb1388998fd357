package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tradehub-backend/internal/payments"
	internalwebhooks "github.com/angelmondragon/tradehub-backend/internal/webhooks"
	"github.com/angelmondragon/tradehub-backend/pkg/db/models"
	"github.com/angelmondragon/tradehub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradehub-backend/pkg/errors"
	"github.com/angelmondragon/tradehub-backend/pkg/gateway"
	"github.com/angelmondragon/tradehub-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/tradehub-backend/pkg/redis"
)

func TestPaymentCallback_SuccessAndIdempotent(t *testing.T) {
	service := &fakeCallbackService{}
	handler := PaymentCallback(service, newGuard(t), nil)

	rec := postCallback(t, handler, validPayload())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, service.calls)
	assert.Equal(t, "accepted", decodeStatus(t, rec))

	// replayed delivery is answered from the guard
	rec = postCallback(t, handler, validPayload())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, service.calls)
	assert.Equal(t, "duplicate", decodeStatus(t, rec))
}

func TestPaymentCallback_SettledPaymentReportsDuplicate(t *testing.T) {
	service := &fakeCallbackService{duplicate: true}
	handler := PaymentCallback(service, newGuard(t), nil)

	rec := postCallback(t, handler, validPayload())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "duplicate", decodeStatus(t, rec))
}

func TestPaymentCallback_ErrorStatuses(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"signature", pkgerrors.New(pkgerrors.CodeSignatureMismatch, "callback signature mismatch"), http.StatusBadRequest},
		{"amount", pkgerrors.New(pkgerrors.CodeValidation, "amount does not match payment"), http.StatusBadRequest},
		{"unknown bill", pkgerrors.New(pkgerrors.CodeNotFound, "payment not found"), http.StatusNotFound},
		{"database", pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("conn reset"), "save payment"), http.StatusInternalServerError},
		{"untyped", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service := &fakeCallbackService{err: tc.err}
			handler := PaymentCallback(service, newGuard(t), nil)

			rec := postCallback(t, handler, validPayload())
			assert.Equal(t, tc.status, rec.Code)

			// a failed delivery must be processed again when the provider retries
			service.err = nil
			rec = postCallback(t, handler, validPayload())
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, 2, service.calls)
		})
	}
}

func TestPaymentCallback_CancelledRequestReleasesDelivery(t *testing.T) {
	mr := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = raw.Close() })
	guard, err := internalwebhooks.NewIdempotencyGuard(pkgredis.Wrap(raw), internalwebhooks.DefaultDeliveryTTL, "payment-callback")
	require.NoError(t, err)

	service := &cancellingCallbackService{}
	handler := PaymentCallback(service, guard, nil)

	// the client goes away while the callback is being applied
	ctx, cancel := context.WithCancel(context.Background())
	service.cancel = cancel
	rec := postCallbackWithContext(t, ctx, handler, validPayload())
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, mr.Keys(), "claim must be released despite the cancelled request")

	rec = postCallback(t, handler, validPayload())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "accepted", decodeStatus(t, rec))
	assert.Equal(t, 2, service.calls)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, internalwebhooks.DefaultDeliveryTTL, mr.TTL(keys[0]))
}

func TestPaymentCallback_InFlightDeliveryAsksForRetry(t *testing.T) {
	store := newInMemoryStore()
	guard, err := internalwebhooks.NewIdempotencyGuard(store, time.Minute, "payment-callback")
	require.NoError(t, err)
	service := &fakeCallbackService{}
	handler := PaymentCallback(service, guard, nil)

	payload := validPayload()
	deliveryID := internalwebhooks.DeliveryID(payload.BillID, payload.Status, "28600", payload.Signature)
	state, err := guard.Claim(context.Background(), deliveryID)
	require.NoError(t, err)
	require.Equal(t, internalwebhooks.DeliveryNew, state)

	rec := postCallback(t, handler, payload)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Zero(t, service.calls)
}

func TestPaymentCallback_LogsFailedRelease(t *testing.T) {
	store := newInMemoryStore()
	store.delErr = errors.New("redis unavailable")
	guard, err := internalwebhooks.NewIdempotencyGuard(store, time.Minute, "payment-callback")
	require.NoError(t, err)

	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "test", Output: buf})
	service := &fakeCallbackService{err: errors.New("boom")}

	rec := postCallback(t, PaymentCallback(service, guard, logg), validPayload())
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "update callback idempotency key")
	assert.Contains(t, buf.String(), `"guard_action":"release"`)
	assert.Contains(t, buf.String(), "redis unavailable")
}

func TestPaymentCallback_InvalidBody(t *testing.T) {
	service := &fakeCallbackService{}
	handler := PaymentCallback(service, newGuard(t), nil)

	rec := postCallback(t, handler, map[string]any{"status": "paid", "amount": 100})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", bytes.NewBufferString("not json"))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, service.calls)
}

func TestPaymentCallback_MissingDependencies(t *testing.T) {
	rec := postCallback(t, PaymentCallback(nil, newGuard(t), nil), validPayload())
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = postCallback(t, PaymentCallback(&fakeCallbackService{}, nil, nil), validPayload())
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func validPayload() gateway.CallbackPayload {
	return gateway.CallbackPayload{
		BillID:         "BILL-001",
		Status:         "paid",
		Amount:         28600,
		TransactionRef: "MP-77",
		Signature:      "abc123",
	}
}

func postCallback(t *testing.T, handler http.Handler, payload any) *httptest.ResponseRecorder {
	t.Helper()
	return postCallbackWithContext(t, context.Background(), handler, payload)
}

func postCallbackWithContext(t *testing.T, ctx context.Context, handler http.Handler, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequestWithContext(ctx, http.MethodPost, "/api/v1/webhooks/payments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Data callbackResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	return envelope.Data.Status
}

func newGuard(t *testing.T) *internalwebhooks.IdempotencyGuard {
	t.Helper()
	guard, err := internalwebhooks.NewIdempotencyGuard(newInMemoryStore(), time.Minute, "payment-callback")
	require.NoError(t, err)
	return guard
}

type fakeCallbackService struct {
	calls     int
	err       error
	duplicate bool
}

func (f *fakeCallbackService) ApplyCallback(ctx context.Context, payload gateway.CallbackPayload) (*payments.CallbackResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &payments.CallbackResult{
		Payment: &models.Payment{
			ID:     uuid.New(),
			BillID: payload.BillID,
			Status: enums.PaymentStatusCompleted,
		},
		Duplicate: f.duplicate,
	}, nil
}

// cancellingCallbackService fails its first call the way a request
// abandoned by the client does.
type cancellingCallbackService struct {
	calls  int
	cancel context.CancelFunc
}

func (s *cancellingCallbackService) ApplyCallback(ctx context.Context, payload gateway.CallbackPayload) (*payments.CallbackResult, error) {
	s.calls++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
		return nil, ctx.Err()
	}
	return (&fakeCallbackService{}).ApplyCallback(ctx, payload)
}

type inMemoryStore struct {
	mu     sync.Mutex
	data   map[string]string
	delErr error
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{
		data: make(map[string]string),
	}
}

func (s *inMemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.data[key]
	if !ok {
		return "", pkgredis.ErrNotFound
	}
	return value, nil
}

func (s *inMemoryStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = fmt.Sprintf("%v", value)
	return nil
}

func (s *inMemoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key]; exists {
		return false, nil
	}
	s.data[key] = fmt.Sprintf("%v", value)
	return true, nil
}

func (s *inMemoryStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("th:idempotency:%s:%s", scope, id)
}

func (s *inMemoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.delErr != nil {
		return s.delErr
	}
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}
