package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/angelmondragon/tradehub-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/tradehub-backend/pkg/errors"
)

const responseBodyReadLimit int64 = 1024

var (
	errBaseURLRequired   = errors.New("gateway base url is required")
	errCredentialsNeeded = errors.New("gateway username and shared key are required")
)

// Client talks to the billing gateway. Every call is bounded by a per-attempt
// timeout and retried on network errors and 5xx answers only.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	username       string
	sharedKey      string
	callbackURL    string
	provider       string
	requestTimeout time.Duration
	maxAttempts    int
	backoff        time.Duration
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured gateway base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(baseURL); trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithRetryPolicy overrides attempts and the base backoff between them.
func WithRetryPolicy(maxAttempts int, backoff time.Duration) Option {
	return func(c *Client) {
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
		if backoff >= 0 {
			c.backoff = backoff
		}
	}
}

// NewClient builds the gateway client from config.
func NewClient(cfg config.GatewayConfig, opts ...Option) (*Client, error) {
	client := &Client{
		baseURL:        strings.TrimSpace(cfg.BaseURL),
		username:       strings.TrimSpace(cfg.Username),
		sharedKey:      cfg.SharedKey,
		callbackURL:    strings.TrimSpace(cfg.CallbackURL),
		provider:       cfg.Provider,
		requestTimeout: cfg.RequestTimeout,
		maxAttempts:    cfg.MaxAttempts,
		backoff:        cfg.RetryBackoff,
		httpClient:     &http.Client{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	if client.baseURL == "" {
		return nil, errBaseURLRequired
	}
	if client.username == "" || client.sharedKey == "" {
		return nil, errCredentialsNeeded
	}
	if client.provider == "" {
		client.provider = "billpay"
	}
	if client.requestTimeout <= 0 {
		client.requestTimeout = 10 * time.Second
	}
	if client.maxAttempts <= 0 {
		client.maxAttempts = 3
	}
	return client, nil
}

// Provider is the name stored on payments created through this client.
func (c *Client) Provider() string {
	return c.provider
}

// call describes one logical gateway request.
type call struct {
	operation   string
	method      string
	path        string
	body        any
	correlation map[string]any
}

func (c *Client) do(ctx context.Context, req call, out any) error {
	var payload []byte
	if req.body != nil {
		encoded, err := json.Marshal(req.body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode gateway request")
		}
		payload = encoded
	}

	var (
		attempts   int
		lastStatus int
		decodeErr  error
	)
	err := retry.Do(ctx, c.newBackoff(), func(ctx context.Context) error {
		attempts++
		status, body, err := c.attempt(ctx, req, payload)
		lastStatus = status
		if err == nil && status >= 200 && status < 300 {
			if out != nil {
				decodeErr = json.Unmarshal(body, out)
			}
			return nil
		}
		if err == nil {
			err = fmt.Errorf("status %d: %s", status, strings.TrimSpace(string(body)))
		}
		if retryable(ctx, status, err) {
			return retry.RetryableError(err)
		}
		return err
	})
	switch {
	case err != nil:
		return c.failure(req, err, lastStatus, attempts, req.operation+" failed")
	case decodeErr != nil:
		return c.failure(req, decodeErr, lastStatus, attempts, "decode gateway response")
	}
	return nil
}

// newBackoff doubles the configured delay after each failed attempt and stops
// after maxAttempts in total.
func (c *Client) newBackoff() retry.Backoff {
	var b retry.Backoff = retry.BackoffFunc(func() (time.Duration, bool) { return 0, false })
	if c.backoff > 0 {
		b = retry.NewExponential(c.backoff)
	}
	return retry.WithMaxRetries(uint64(c.maxAttempts-1), b)
}

func (c *Client) attempt(ctx context.Context, req call, payload []byte) (int, []byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, req.method, c.buildURL(req.path), body)
	if err != nil {
		return 0, nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Gateway-Username", c.username)
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	limit := responseBodyReadLimit
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		limit = 1 << 20
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}

// retryable treats transport errors and 5xx as transient. A cancelled caller
// context is never retried.
func retryable(ctx context.Context, status int, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		return true
	}
	return status >= http.StatusInternalServerError
}

func (c *Client) failure(req call, cause error, status, attempts int, msg string) error {
	details := map[string]any{
		"operation": req.operation,
		"attempts":  attempts,
		"provider":  c.provider,
	}
	if status > 0 {
		details["status_code"] = status
	}
	for k, v := range req.correlation {
		details[k] = v
	}
	return pkgerrors.Wrap(pkgerrors.CodeGateway, cause, msg).WithDetails(details)
}

func (c *Client) buildURL(path string) string {
	trimmed := strings.TrimRight(c.baseURL, "/")
	path = strings.TrimLeft(path, "/")
	return fmt.Sprintf("%s/%s", trimmed, path)
}

func billPath(billID string, suffix ...string) string {
	parts := append([]string{"bills", url.PathEscape(billID)}, suffix...)
	return strings.Join(parts, "/")
}
