package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/tradehub-backend/pkg/errors"
)

type callbackBody struct {
	BillID string `json:"bill_id" validate:"required"`
	Amount int64  `json:"amount" validate:"gte=0"`
}

func TestDecodeJSONBodyIgnoresUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"bill_id":"BILL-001","amount":5,"channel":"ussd"}`))
	var body callbackBody
	require.NoError(t, DecodeJSONBody(req, &body))
	assert.Equal(t, "BILL-001", body.BillID)
	assert.Equal(t, int64(5), body.Amount)
}

func TestDecodeJSONBodyReportsFieldErrors(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":-1}`))
	var body callbackBody
	err := DecodeJSONBody(req, &body)
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	details, ok := pkgerrors.As(err).Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "is required", details["bill_id"])
	assert.Equal(t, "must be greater than or equal to 0", details["amount"])
}

func TestDecodeJSONBodyRejectsMalformedJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"bill_id":`))
	var body callbackBody
	err := DecodeJSONBody(req, &body)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestDecodeJSONBodyDetails(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		detail string
	}{
		{name: "empty", body: ``},
		{name: "wrong type", body: `{"bill_id":"B","amount":"five"}`, detail: "field"},
		{name: "syntax", body: `{"bill_id" "B"}`, detail: "offset"},
		{name: "trailing object", body: `{"bill_id":"B"}{"bill_id":"C"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body callbackBody
			err := DecodeJSONBody(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body)), &body)
			require.Error(t, err)
			assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
			if tt.detail != "" {
				details, ok := pkgerrors.As(err).Details().(map[string]any)
				require.True(t, ok)
				assert.Contains(t, details, tt.detail)
			}
		})
	}
}

func TestDecodeJSONBodyRejectsOversizedBody(t *testing.T) {
	big := `{"bill_id":"` + strings.Repeat("x", MaxBodyBytes) + `"}`
	var body callbackBody
	err := DecodeJSONBody(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big)), &body)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}
