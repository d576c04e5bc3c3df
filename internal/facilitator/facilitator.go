// Package facilitator is an HTTP client for an x402 facilitator, the
// service that executes settlement of verified payment vouchers
// on-chain on the seller's behalf.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pixelmint/pixelmint/pkg/x402"
)

const x402Version = 1

// RequestBody is the wire shape of verify and settle requests.
type RequestBody struct {
	X402Version         int                      `json:"x402Version"`
	PaymentPayload      *x402.PaymentProof       `json:"paymentPayload"`
	PaymentRequirements *x402.PaymentRequirement `json:"paymentRequirements"`
}

// SettleResponse is the response of the settle operation.
type SettleResponse struct {
	Scheme      string `json:"scheme,omitempty"`
	Network     string `json:"network,omitempty"`
	Success     bool   `json:"success"`
	Transaction string `json:"transaction,omitempty"`
	ErrorReason string `json:"errorReason,omitempty"`
}

// VerifyResponse is the response of the verify operation.
type VerifyResponse struct {
	Scheme        string `json:"scheme,omitempty"`
	Network       string `json:"network,omitempty"`
	IsValid       bool   `json:"isValid"`
	Payer         string `json:"payer,omitempty"`
	InvalidReason string `json:"invalidReason,omitempty"`
}

// Client talks to a facilitator service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a facilitator client. An empty baseURL yields a nil
// client, which callers treat as "no facilitator configured".
func New(baseURL string) *Client {
	if baseURL == "" {
		return nil
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Verify asks the facilitator to validate a voucher without settling it.
func (c *Client) Verify(ctx context.Context, proof *x402.PaymentProof, req *x402.PaymentRequirement) (*VerifyResponse, error) {
	var resp VerifyResponse
	if err := c.post(ctx, "/verify", proof, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Settle asks the facilitator to execute the voucher on-chain.
func (c *Client) Settle(ctx context.Context, proof *x402.PaymentProof, req *x402.PaymentRequirement) (*SettleResponse, error) {
	var resp SettleResponse
	if err := c.post(ctx, "/settle", proof, req, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return &resp, fmt.Errorf("facilitator declined settlement: %s", resp.ErrorReason)
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, proof *x402.PaymentProof, req *x402.PaymentRequirement, out any) error {
	payload, err := json.Marshal(RequestBody{
		X402Version:         x402Version,
		PaymentPayload:      proof,
		PaymentRequirements: req,
	})
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("facilitator request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read facilitator response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("facilitator returned %d: %s", resp.StatusCode, body)
	}
	return json.Unmarshal(body, out)
}
