// Package settlement talks to the payment rail that carries out approved
// spending and liquidity-release requests. The rail's internal protocol
// is out of scope here; this package only drives its HTTP API and maps
// rail failures onto retryable executor errors.
package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a thin HTTP client for the settlement rail.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a settlement client. A nil httpClient gets a default
// with a 15 second timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	return &Client{baseURL: baseURL, client: httpClient}
}

// BalanceResponse is the rail's balance report.
type BalanceResponse struct {
	AvailableSats uint64 `json:"available_sats"`
	PendingSats   uint64 `json:"pending_sats"`
}

// PaymentParams describes one outgoing payment.
type PaymentParams struct {
	AmountSats uint64 `json:"amount_sats"`
	Recipient  string `json:"recipient"`
	Memo       string `json:"memo,omitempty"`
}

// PaymentResult is the rail's acknowledgement of a settled payment.
type PaymentResult struct {
	PaymentID string `json:"payment_id"`
	FeeSats   uint64 `json:"fee_sats"`
}

// ReleaseParams describes one liquidity release.
type ReleaseParams struct {
	AmountSats uint64 `json:"amount_sats"`
	ChannelID  string `json:"channel_id"`
}

// Balance fetches the current spendable balance.
func (c *Client) Balance(ctx context.Context) (*BalanceResponse, error) {
	var balance BalanceResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/balance", nil, &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

// Pay submits a payment and waits for the rail's acknowledgement.
func (c *Client) Pay(ctx context.Context, params *PaymentParams) (*PaymentResult, error) {
	var result PaymentResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/payments", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ReleaseLiquidity asks the rail to release channel liquidity.
func (c *Client) ReleaseLiquidity(ctx context.Context, params *ReleaseParams) error {
	return c.do(ctx, http.MethodPost, "/api/v1/liquidity/release", params, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to serialize settlement request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create settlement request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("settlement rail unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("settlement rail rejected %s %s: status %d: %s", method, path, resp.StatusCode, msg)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("malformed settlement response: %w", err)
		}
	}
	return nil
}
