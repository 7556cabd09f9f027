// Package functions calls the hosted serverless functions that talk to the
// payment processor.
package functions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	VerifyPaymentFunction  = "verify-payment"
	PaystackSecureFunction = "paystack-secure"

	maxResponseBytes = 1 << 20
)

// RemoteError is a non-2xx answer from a function.
type RemoteError struct {
	Function   string
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("function %s returned %d: %s", e.Function, e.StatusCode, e.Body)
}

func (e *RemoteError) HTTPStatus() int { return e.StatusCode }

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(zap.String("component", "functions_client")),
	}
}

type verifyPaymentRequest struct {
	Reference string `json:"reference"`
}

type paystackSecureRequest struct {
	Action    string `json:"action"`
	Reference string `json:"reference"`
}

// VerifyPayment invokes the primary verification function and returns its raw
// JSON body.
func (c *Client) VerifyPayment(ctx context.Context, reference string) (json.RawMessage, error) {
	return c.Invoke(ctx, VerifyPaymentFunction, verifyPaymentRequest{Reference: reference})
}

// PaystackSecure invokes the processor proxy function with an action.
func (c *Client) PaystackSecure(ctx context.Context, action, reference string) (json.RawMessage, error) {
	return c.Invoke(ctx, PaystackSecureFunction, paystackSecureRequest{Action: action, Reference: reference})
}

// Invoke posts body as JSON to the named function.
func (c *Client) Invoke(ctx context.Context, function string, body any) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", function, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+function, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", function, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("apikey", c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Function call failed", zap.String("function", function), zap.Error(err))
		return nil, fmt.Errorf("failed to call %s: %w", function, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", function, err)
	}

	c.logger.Debug("Function call completed",
		zap.String("function", function),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RemoteError{Function: function, StatusCode: resp.StatusCode, Body: truncate(string(raw), 512)}
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("function %s returned malformed JSON", function)
	}
	return raw, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
