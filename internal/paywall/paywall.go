// Package paywall implements HTTP 402 Payment Required middleware for
// the seller gateway. Payment is a signed voucher, not an on-chain
// transfer: the middleware verifies the signature and records a pending
// settlement that the gateway settles after delivering the content.
package paywall

import (
	"bytes"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pixelmint/pixelmint/internal/idgen"
	"github.com/pixelmint/pixelmint/internal/usdc"
	"github.com/pixelmint/pixelmint/pkg/x402"
)

const proofContextKey = "payment_proof"

// nonceStore tracks issued nonces to prevent replay attacks.
type nonceStore struct {
	mu     sync.Mutex
	nonces map[string]time.Time // nonce → issued-at
}

func (ns *nonceStore) issue(nonce string, ttl time.Duration) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.nonces[nonce] = time.Now()
	// Purge expired nonces
	cutoff := time.Now().Add(-ttl)
	for k, t := range ns.nonces {
		if t.Before(cutoff) {
			delete(ns.nonces, k)
		}
	}
}

func (ns *nonceStore) consume(nonce string, maxAge time.Duration) bool {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	issued, ok := ns.nonces[nonce]
	if !ok {
		return false
	}
	delete(ns.nonces, nonce) // One-time use
	return time.Since(issued) <= maxAge
}

// PendingSettlement is a verified but not yet settled payment. It is
// consumed exactly once by the settle endpoint.
type PendingSettlement struct {
	Nonce     string
	RequestID string
	Amount    *big.Int
	Proof     *x402.PaymentProof
	CreatedAt time.Time
}

// Config for the paywall middleware
type Config struct {
	// Recipient is the seller wallet that vouchers must pay.
	Recipient string

	Chain    string
	ChainID  int64
	Contract string

	DefaultPrice string
	ValidFor     time.Duration

	// Hooks
	OnPaymentReceived func(proof *x402.PaymentProof, route string)
	OnPaymentFailed   func(proof *x402.PaymentProof, err error)
}

// Paywall holds per-gateway nonce and settlement state.
type Paywall struct {
	cfg    Config
	nonces *nonceStore

	mu      sync.Mutex
	pending map[string]*PendingSettlement
}

func New(cfg Config) *Paywall {
	if cfg.ValidFor <= 0 {
		cfg.ValidFor = 10 * time.Minute
	}
	return &Paywall{
		cfg:     cfg,
		nonces:  &nonceStore{nonces: make(map[string]time.Time)},
		pending: make(map[string]*PendingSettlement),
	}
}

// paidRequest is the body shape of a priced request.
type paidRequest struct {
	RequestID string `json:"request_id"`
	Price     string `json:"price"`
}

// Middleware gates a route behind a signed payment voucher. The price
// comes from the request body; the configured default applies when the
// body carries none.
func (p *Paywall) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := c.GetRawData()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_body",
				"message": "Could not read request body",
			})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(raw))

		var body paidRequest
		_ = json.Unmarshal(raw, &body)
		price := body.Price
		if price == "" {
			price = p.cfg.DefaultPrice
		}

		proofHeader := c.GetHeader(x402.ProofHeader)
		if proofHeader == "" {
			proofHeader = c.GetHeader("X-402-Payment")
		}
		if proofHeader == "" {
			p.returnPaymentRequired(c, price, body.RequestID)
			return
		}

		proof, err := x402.ParseProofHeader(proofHeader)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_payment_proof",
				"message": "Could not parse payment proof",
			})
			return
		}

		pending, err := p.verify(proof, price, body.RequestID)
		if err != nil {
			if p.cfg.OnPaymentFailed != nil {
				p.cfg.OnPaymentFailed(proof, err)
			}
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
				"error":   "payment_verification_failed",
				"message": err.Error(),
			})
			return
		}

		if p.cfg.OnPaymentReceived != nil {
			p.cfg.OnPaymentReceived(proof, c.FullPath())
		}

		c.Set(proofContextKey, pending)
		c.Next()
	}
}

func (p *Paywall) returnPaymentRequired(c *gin.Context, price, requestID string) {
	nonce := idgen.Nonce(16)
	p.nonces.issue(nonce, p.cfg.ValidFor)

	req := x402.PaymentRequirement{
		Price:       price,
		Currency:    "USDC",
		Chain:       p.cfg.Chain,
		ChainID:     p.cfg.ChainID,
		Recipient:   p.cfg.Recipient,
		Contract:    p.cfg.Contract,
		Description: "Image generation " + requestID,
		ValidFor:    int64(p.cfg.ValidFor.Seconds()),
		Nonce:       nonce,
	}

	c.Header("X-Payment-Required", "true")
	c.Header("X-Payment-Currency", "USDC")
	c.Header("X-Payment-Amount", price)
	c.Header("X-Payment-Recipient", p.cfg.Recipient)
	c.Header("X-Payment-Chain", p.cfg.Chain)

	c.AbortWithStatusJSON(http.StatusPaymentRequired, req)
}

func (p *Paywall) verify(proof *x402.PaymentProof, price, requestID string) (*PendingSettlement, error) {
	if proof.Nonce == "" {
		return nil, errMissingNonce
	}
	if !p.nonces.consume(proof.Nonce, p.cfg.ValidFor) {
		return nil, errBadNonce
	}

	// Signature covers from/to/value/nonce/validBefore; recovery also
	// rejects expired vouchers.
	if _, err := proof.RecoverPayer(p.cfg.ChainID); err != nil {
		return nil, err
	}

	if !equalAddress(proof.To, p.cfg.Recipient) {
		return nil, errWrongRecipient
	}

	required, ok := usdc.Parse(price)
	if !ok {
		return nil, errBadPrice
	}
	offered, ok := usdc.Parse(proof.Value)
	if !ok || offered.Cmp(required) < 0 {
		return nil, errInsufficientPayment
	}

	pending := &PendingSettlement{
		Nonce:     proof.Nonce,
		RequestID: requestID,
		Amount:    offered,
		Proof:     proof,
		CreatedAt: time.Now(),
	}

	p.mu.Lock()
	p.pending[pending.Nonce] = pending
	p.mu.Unlock()

	return pending, nil
}

// TakePending consumes the pending settlement for a nonce.
func (p *Paywall) TakePending(nonce string) (*PendingSettlement, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pending, ok := p.pending[nonce]
	if ok {
		delete(p.pending, nonce)
	}
	return pending, ok
}

// PendingCount reports how many verified payments await settlement.
func (p *Paywall) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// GetPending retrieves the verified payment from the gin context.
func GetPending(c *gin.Context) *PendingSettlement {
	if v, exists := c.Get(proofContextKey); exists {
		return v.(*PendingSettlement)
	}
	return nil
}
