package generation

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

// GenerateRequest is the body POSTed to the gateway's paid endpoint.
type GenerateRequest struct {
	RequestID string `json:"request_id"`
	Prompt    string `json:"prompt"`
	Price     string `json:"price"` // decimal USD, frozen at estimate time
}

// PaidResponse is the gateway's acknowledgement of a verified payment.
// The nonce correlates the later settlement call with the voucher.
type PaidResponse struct {
	Nonce string `json:"nonce"`
}

// SettleResult reports the outcome of a settlement call.
type SettleResult struct {
	Status          string `json:"status"`
	TransactionHash string `json:"transaction_hash"`
}

// Gateway is the buyer's view of the seller's paid endpoint.
type Gateway interface {
	// Challenge fetches the payment requirement for a request without
	// presenting a proof. It must not trigger generation or settlement.
	Challenge(ctx context.Context, req GenerateRequest) (*x402.PaymentRequirement, error)

	// Generate performs the paid request: 402 challenge, voucher signing,
	// retry with proof. Returns the settlement nonce on success.
	Generate(ctx context.Context, req GenerateRequest) (*PaidResponse, error)

	// Settle asks the gateway to settle a previously verified payment.
	Settle(ctx context.Context, nonce string) (*SettleResult, error)
}

const gatewayTimeout = 30 * time.Second

// HTTPGateway talks x402 to a real seller gateway.
type HTTPGateway struct {
	baseURL string
	paying  *x402.Client
	plain   *http.Client
}

// NewHTTPGateway creates a gateway client. The x402 client carries the
// voucher signer; the plain client is used for challenge-only fetches
// and settlement.
func NewHTTPGateway(baseURL string, paying *x402.Client) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		paying:  paying,
		plain:   &http.Client{Timeout: gatewayTimeout},
	}
}

func (g *HTTPGateway) Challenge(ctx context.Context, req GenerateRequest) (*x402.PaymentRequirement, error) {
	httpReq, err := g.newGenerateRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := g.plain.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("challenge request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if !x402.Is402Response(resp) {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("expected payment challenge, %w", newGatewayError(resp.StatusCode, body))
	}
	return x402.ParsePaymentRequirement(resp)
}

func (g *HTTPGateway) Generate(ctx context.Context, req GenerateRequest) (*PaidResponse, error) {
	httpReq, err := g.newGenerateRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	// The voucher is pinned to the request's frozen price: a challenge for
	// any other amount is refused before signing. The shallow copy keeps
	// the constraint scoped to this call.
	paying := *g.paying
	paying.ExpectedPrice = req.Price

	resp, err := paying.DoContext(ctx, httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newGatewayError(resp.StatusCode, body)
	}

	var paid PaidResponse
	if err := json.Unmarshal(body, &paid); err != nil {
		return nil, fmt.Errorf("failed to parse gateway response: %w", err)
	}
	return &paid, nil
}

func (g *HTTPGateway) Settle(ctx context.Context, nonce string) (*SettleResult, error) {
	payload, err := json.Marshal(map[string]string{"nonce": nonce})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/settle", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.plain.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("settle request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read settle response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newGatewayError(resp.StatusCode, body)
	}

	var result SettleResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse settle response: %w", err)
	}
	return &result, nil
}

func (g *HTTPGateway) newGenerateRequest(ctx context.Context, req GenerateRequest) (*http.Request, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/generate_image", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

var _ Gateway = (*HTTPGateway)(nil)
