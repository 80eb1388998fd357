package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/angelmondragon/tradehub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradehub-backend/pkg/errors"
)

// BillRequest is what the caller knows about a bill before it exists.
type BillRequest struct {
	Reference   string
	AmountCents int64
	Currency    string
	Method      enums.PaymentMethod
	PayerName   string
	PayerEmail  string
	PayerPhone  string
	Description string
}

// BillResponse is the gateway's answer to a created bill.
type BillResponse struct {
	BillID     string `json:"bill_id"`
	PaymentURL string `json:"payment_url"`
	Status     string `json:"status"`
}

// BillStatus is the polled state of a bill.
type BillStatus struct {
	BillID         string `json:"bill_id"`
	Status         string `json:"status"`
	Amount         int64  `json:"amount"`
	TransactionRef string `json:"transaction_ref"`
	Message        string `json:"message"`
}

// CallbackPayload is the body the gateway posts when a bill changes state.
type CallbackPayload struct {
	BillID         string `json:"bill_id" validate:"required"`
	Status         string `json:"status" validate:"required"`
	Amount         int64  `json:"amount" validate:"gte=0"`
	TransactionRef string `json:"transaction_ref,omitempty"`
	Signature      string `json:"signature" validate:"required"`
}

type createBillBody struct {
	Reference   string `json:"reference"`
	Username    string `json:"username"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Method      string `json:"method"`
	PayerName   string `json:"payer_name"`
	PayerEmail  string `json:"payer_email,omitempty"`
	PayerPhone  string `json:"payer_phone"`
	Description string `json:"description,omitempty"`
	CallbackURL string `json:"callback_url,omitempty"`
	Signature   string `json:"signature"`
}

type ussdPushBody struct {
	Username  string `json:"username"`
	Phone     string `json:"phone"`
	Method    string `json:"method"`
	Signature string `json:"signature"`
}

// CreateBill registers a bill with the gateway.
func (c *Client) CreateBill(ctx context.Context, req BillRequest) (*BillResponse, error) {
	if req.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "bill amount must be positive")
	}
	if strings.TrimSpace(req.Currency) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "bill currency is required")
	}
	phone, err := ValidatePhone(req.PayerPhone, req.Method)
	if err != nil {
		return nil, err
	}

	body := createBillBody{
		Reference:   req.Reference,
		Username:    c.username,
		Amount:      req.AmountCents,
		Currency:    req.Currency,
		Method:      string(req.Method),
		PayerName:   req.PayerName,
		PayerEmail:  req.PayerEmail,
		PayerPhone:  phone,
		Description: req.Description,
		CallbackURL: c.callbackURL,
		Signature:   BillSignature(c.username, req.AmountCents, req.Currency, phone, c.sharedKey),
	}

	var resp BillResponse
	err = c.do(ctx, call{
		operation:   "create_bill",
		method:      http.MethodPost,
		path:        "bills",
		body:        body,
		correlation: map[string]any{"reference": req.Reference},
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.BillID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "gateway returned no bill id").
			WithDetails(map[string]any{"reference": req.Reference, "provider": c.provider})
	}
	return &resp, nil
}

// SendUSSDPush asks the operator to prompt the payer's handset. The phone is
// validated locally before any network call.
func (c *Client) SendUSSDPush(ctx context.Context, billID, phone string, method enums.PaymentMethod) error {
	if strings.TrimSpace(billID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "bill id is required")
	}
	if !method.IsMobileMoney() {
		return pkgerrors.New(pkgerrors.CodeValidation, "ussd push requires a mobile money method").
			WithDetails(map[string]any{"method": string(method)})
	}
	normalized, err := ValidatePhone(phone, method)
	if err != nil {
		return err
	}

	return c.do(ctx, call{
		operation: "ussd_push",
		method:    http.MethodPost,
		path:      billPath(billID, "ussd-push"),
		body: ussdPushBody{
			Username:  c.username,
			Phone:     normalized,
			Method:    string(method),
			Signature: USSDSignature(c.username, billID, normalized, c.sharedKey),
		},
		correlation: map[string]any{"bill_id": billID},
	}, nil)
}

// QueryBill fetches the current provider state of a bill.
func (c *Client) QueryBill(ctx context.Context, billID string) (*BillStatus, error) {
	if strings.TrimSpace(billID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "bill id is required")
	}
	var status BillStatus
	if err := c.do(ctx, call{
		operation:   "query_bill",
		method:      http.MethodGet,
		path:        billPath(billID),
		correlation: map[string]any{"bill_id": billID},
	}, &status); err != nil {
		return nil, err
	}
	if status.BillID == "" {
		status.BillID = billID
	}
	return &status, nil
}

// VerifyCallbackSignature recomputes the callback digest and compares it in
// constant time.
func (c *Client) VerifyCallbackSignature(payload CallbackPayload) error {
	expected := CallbackSignature(payload.BillID, payload.Status, payload.Amount, c.sharedKey)
	if !signaturesEqual(expected, payload.Signature) {
		return pkgerrors.New(pkgerrors.CodeSignatureMismatch, "callback signature mismatch").
			WithDetails(map[string]any{"bill_id": payload.BillID})
	}
	return nil
}
