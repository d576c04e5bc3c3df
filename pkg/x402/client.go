package x402

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"
)

// ErrPriceMismatch reports a 402 challenge naming a different price than
// the one the client was told to expect.
var ErrPriceMismatch = errors.New("challenged price does not match expected price")

// ProofSigner signs payment vouchers for 402 challenges. Implemented by
// the wallet package; defined here so the wire layer stays free of
// chain-client dependencies.
type ProofSigner interface {
	Address() string
	SignPayment(req *PaymentRequirement, amount *big.Int) (*PaymentProof, error)
}

// ParseAmount converts a decimal USDC string to smallest units.
type ParseAmount func(s string) (*big.Int, bool)

// Client wraps http.Client with automatic 402 payment handling
type Client struct {
	httpClient *http.Client
	signer     ProofSigner
	parse      ParseAmount

	// Configuration
	MaxRetries    int    // Max payment retries (default: 1)
	AutoPay       bool   // Automatically sign vouchers for 402s (default: true)
	MaxPayment    string // Max payment amount (default: unlimited)
	ExpectedPrice string // Exact price to accept; any other challenge is refused (default: any)

	// Hooks
	OnPayment func(req *PaymentRequirement, proof *PaymentProof) // Called before each retry
}

// NewClient creates a new x402-enabled HTTP client
func NewClient(signer ProofSigner, parse ParseAmount) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		signer:     signer,
		parse:      parse,
		MaxRetries: 1,
		AutoPay:    true,
	}
}

// Do performs an HTTP request with automatic 402 payment handling
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.DoContext(req.Context(), req)
}

// DoContext performs an HTTP request with context and automatic 402 handling
func (c *Client) DoContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	// Clone the request body if present (we might need to retry)
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		_ = req.Body.Close()
	}

	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		// Reset body for retry
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytesReader(bodyBytes))
		}

		resp, err := c.httpClient.Do(req.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}

		// Not a 402 - return response as-is
		if resp.StatusCode != http.StatusPaymentRequired {
			return resp, nil
		}

		// Don't auto-pay if disabled
		if !c.AutoPay || c.signer == nil {
			return resp, nil
		}

		// Parse payment requirement
		payReq, err := ParsePaymentRequirement(resp)
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to parse payment requirement: %w", err)
		}

		// Refuse challenges for any other price than the expected one
		if c.ExpectedPrice != "" {
			if err := c.checkExpectedPrice(payReq.Price); err != nil {
				return nil, err
			}
		}

		// Check max payment limit
		if c.MaxPayment != "" {
			if err := c.checkPaymentLimit(payReq.Price); err != nil {
				return nil, err
			}
		}

		// Sign the voucher
		proof, err := c.signPayment(payReq)
		if err != nil {
			return nil, fmt.Errorf("payment failed: %w", err)
		}

		// Call hook if set
		if c.OnPayment != nil {
			c.OnPayment(payReq, proof)
		}

		// Add proof to request and retry
		if err := AddProofToRequest(req, proof); err != nil {
			return nil, fmt.Errorf("failed to add proof: %w", err)
		}
	}

	return nil, fmt.Errorf("max retries exceeded")
}

// Get performs a GET request with automatic 402 handling
func (c *Client) Get(url string) (*http.Response, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// signPayment produces a voucher for the full challenged price
func (c *Client) signPayment(req *PaymentRequirement) (*PaymentProof, error) {
	price, ok := c.parse(req.Price)
	if !ok {
		return nil, fmt.Errorf("invalid price %q", req.Price)
	}
	return c.signer.SignPayment(req, price)
}

// checkExpectedPrice verifies the challenged price equals the expected
// one, comparing in smallest units so formatting differences don't matter
func (c *Client) checkExpectedPrice(price string) error {
	want, ok := c.parse(c.ExpectedPrice)
	if !ok {
		return fmt.Errorf("invalid expected price %q", c.ExpectedPrice)
	}
	got, ok := c.parse(price)
	if !ok {
		return fmt.Errorf("invalid price %q", price)
	}
	if got.Cmp(want) != 0 {
		return fmt.Errorf("%w: challenged %s, expected %s", ErrPriceMismatch, price, c.ExpectedPrice)
	}
	return nil
}

// checkPaymentLimit verifies the payment doesn't exceed max
func (c *Client) checkPaymentLimit(price string) error {
	maxAmount, ok := c.parse(c.MaxPayment)
	if !ok {
		return fmt.Errorf("invalid max payment %q", c.MaxPayment)
	}

	reqAmount, ok := c.parse(price)
	if !ok {
		return fmt.Errorf("invalid price %q", price)
	}

	if reqAmount.Cmp(maxAmount) > 0 {
		return fmt.Errorf("payment %s exceeds max %s", price, c.MaxPayment)
	}

	return nil
}

// Helper to create a bytes reader
type bytesReaderWrapper struct {
	data []byte
	pos  int
}

func bytesReader(data []byte) io.Reader {
	return &bytesReaderWrapper{data: data}
}

func (r *bytesReaderWrapper) Read(p []byte) (n int, err error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n = copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
