package responses

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/tradehub-backend/pkg/errors"
	"github.com/angelmondragon/tradehub-backend/pkg/logger"
)

func TestWriteSuccessStatus(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccessStatus(w, http.StatusAccepted, map[string]string{"status": "accepted"})

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"data":{"status":"accepted"}}`, w.Body.String())
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		status      int
		code        pkgerrors.Code
		message     string
		withDetails bool
	}{
		{
			name:        "validation passes message and details",
			err:         pkgerrors.New(pkgerrors.CodeValidation, "bad input").WithDetails(map[string]string{"field": "bill_id"}),
			status:      http.StatusBadRequest,
			code:        pkgerrors.CodeValidation,
			message:     "bad input",
			withDetails: true,
		},
		{
			name:        "insufficient stock keeps details",
			err:         fmt.Errorf("checkout: %w", pkgerrors.New(pkgerrors.CodeInsufficientStock, "not enough stock").WithDetails(map[string]any{"available": 1})),
			status:      http.StatusConflict,
			code:        pkgerrors.CodeInsufficientStock,
			message:     "not enough stock",
			withDetails: true,
		},
		{
			name:    "gateway hides cause and details",
			err:     pkgerrors.Wrap(pkgerrors.CodeGateway, errors.New("dial tcp: refused"), "create bill").WithDetails(map[string]any{"bill_id": "BILL-001"}),
			status:  http.StatusBadGateway,
			code:    pkgerrors.CodeGateway,
			message: pkgerrors.MetadataFor(pkgerrors.CodeGateway).PublicMessage,
		},
		{
			name:    "untyped becomes internal",
			err:     errors.New("boom"),
			status:  http.StatusInternalServerError,
			code:    pkgerrors.CodeInternal,
			message: "internal server error",
		},
		{
			name:    "nil error",
			status:  http.StatusInternalServerError,
			code:    pkgerrors.CodeInternal,
			message: "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(context.Background(), nil, w, tt.err)

			assert.Equal(t, tt.status, w.Code)
			var body ErrorEnvelope
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, string(tt.code), body.Error.Code)
			assert.Equal(t, tt.message, body.Error.Message)
			if tt.withDetails {
				assert.NotNil(t, body.Error.Details)
			} else {
				assert.Nil(t, body.Error.Details)
			}
		})
	}
}

func TestWriteErrorLogsDiagnostics(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "test", Output: buf})
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_payments_bill_id"}

	WriteError(context.Background(), logg, httptest.NewRecorder(),
		pkgerrors.Wrap(pkgerrors.CodeDependency, pgErr, "save payment"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "request.error", entry["message"])
	assert.Equal(t, string(pkgerrors.CodeDependency), entry["error_code"])
	assert.Equal(t, "ux_payments_bill_id", entry["pg_constraint"])
	assert.Equal(t, float64(http.StatusServiceUnavailable), entry["http_status"])
}
