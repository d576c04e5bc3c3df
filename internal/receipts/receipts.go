// Package receipts provides cryptographically signed settlement receipts.
//
// Every settled payment voucher produces a signed receipt that buyers and
// sellers can independently verify, whether settlement went through a
// facilitator or through the dev-mode pseudo-settlement path.
package receipts

import (
	"context"
	"errors"
	"time"
)

var (
	ErrReceiptNotFound = errors.New("receipts: not found")
	ErrSigningDisabled = errors.New("receipts: signing disabled (no HMAC secret configured)")
)

const (
	StatusSettled = "settled"
	StatusFailed  = "failed"
)

// Receipt is a signed record that a payment voucher was settled (or that
// settlement was attempted and failed).
type Receipt struct {
	ID          string    `json:"id"`
	RequestID   string    `json:"requestId"`           // generation request the voucher paid for
	Nonce       string    `json:"nonce"`               // challenge nonce carried by the voucher
	From        string    `json:"from"`                // buyer address
	To          string    `json:"to"`                  // seller address
	Amount      string    `json:"amount"`              // USDC amount
	TxHash      string    `json:"txHash,omitempty"`    // settlement transaction, empty on failure
	Status      string    `json:"status"`              // "settled" or "failed"
	PayloadHash string    `json:"payloadHash"`         // SHA-256 of canonical payload
	Signature   string    `json:"signature"`           // HMAC-SHA256 signature
	IssuedAt    time.Time `json:"issuedAt"`            // when the receipt was signed
	ExpiresAt   time.Time `json:"expiresAt"`           // when the signature expires
	Metadata    string    `json:"metadata,omitempty"`  // optional extra context
	CreatedAt   time.Time `json:"createdAt"`
}

// IssueRequest is the input for creating a receipt.
type IssueRequest struct {
	RequestID string
	Nonce     string
	From      string
	To        string
	Amount    string
	TxHash    string
	Status    string
	Metadata  string
}

// VerifyRequest is the input for verifying a receipt signature.
type VerifyRequest struct {
	ReceiptID string `json:"receiptId" binding:"required"`
}

// VerifyResponse is the result of receipt verification.
type VerifyResponse struct {
	Valid     bool   `json:"valid"`
	ReceiptID string `json:"receiptId"`
	Expired   bool   `json:"expired,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Store persists receipt data.
type Store interface {
	Create(ctx context.Context, receipt *Receipt) error
	Get(ctx context.Context, id string) (*Receipt, error)
	ListByAddress(ctx context.Context, addr string, limit int) ([]*Receipt, error)
	ListByRequest(ctx context.Context, requestID string) ([]*Receipt, error)
}

// receiptPayload is the canonical struct signed by HMAC.
// Field order must be deterministic (JSON marshalling of struct is by field order).
type receiptPayload struct {
	Amount    string `json:"amount"`
	From      string `json:"from"`
	Nonce     string `json:"nonce"`
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
	To        string `json:"to"`
	TxHash    string `json:"txHash"`
}
