// Package x402 implements the x402 protocol types and client
// used between the PixelMint buyer and the image gateway.
package x402

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ProofHeader carries the serialized payment voucher on retried requests.
const ProofHeader = "X-Payment-Proof"

// PaymentRequirement is returned by servers in 402 responses
type PaymentRequirement struct {
	Price       string `json:"price"`
	Currency    string `json:"currency"`
	Chain       string `json:"chain"`
	ChainID     int64  `json:"chainId"`
	Recipient   string `json:"recipient"`
	Contract    string `json:"contract"`
	Description string `json:"description,omitempty"`
	ValidFor    int64  `json:"validFor,omitempty"`
	Nonce       string `json:"nonce,omitempty"`
}

// PaymentProof is a signed payment voucher. The buyer signs it at
// authorization time; the seller settles it only after delivering the
// resource. No funds move when the proof is created.
type PaymentProof struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"` // decimal USDC, e.g. "0.04"
	Nonce       string `json:"nonce"`
	ValidBefore int64  `json:"validBefore"` // unix seconds
	Signature   string `json:"signature"`
}

// SigningHash returns the EIP-191 digest the voucher signature covers.
// Addresses are lowercased so checksum casing does not change the digest.
func (p *PaymentProof) SigningHash(chainID int64) common.Hash {
	msg := fmt.Sprintf("x402-voucher:%d:%s:%s:%s:%s:%d",
		chainID,
		strings.ToLower(p.From),
		strings.ToLower(p.To),
		p.Value,
		p.Nonce,
		p.ValidBefore,
	)
	return common.BytesToHash(accounts.TextHash([]byte(msg)))
}

// ErrProofExpired is returned when a voucher is presented past its
// validity window.
var ErrProofExpired = errors.New("x402: payment proof expired")

// RecoverPayer recovers the signing address from the voucher and checks
// it matches the claimed payer. It does not check nonce freshness or
// price; that is the seller's job.
func (p *PaymentProof) RecoverPayer(chainID int64) (common.Address, error) {
	if p.ValidBefore > 0 && time.Now().Unix() > p.ValidBefore {
		return common.Address{}, ErrProofExpired
	}

	sig := common.FromHex(p.Signature)
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("x402: signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	// Normalize v: wallets commonly emit 27/28, crypto.SigToPub wants 0/1.
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(p.SigningHash(chainID).Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("x402: signature recovery failed: %w", err)
	}

	signer := crypto.PubkeyToAddress(*pub)
	if signer != common.HexToAddress(p.From) {
		return common.Address{}, fmt.Errorf("x402: signer %s does not match payer %s", signer.Hex(), p.From)
	}
	return signer, nil
}

// Error represents an x402 error response
type Error struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is402Response checks if an HTTP response is a 402 Payment Required
func Is402Response(resp *http.Response) bool {
	return resp.StatusCode == http.StatusPaymentRequired
}

// ParsePaymentRequirement extracts payment requirements from a 402 response
func ParsePaymentRequirement(resp *http.Response) (*PaymentRequirement, error) {
	if resp.StatusCode != http.StatusPaymentRequired {
		return nil, fmt.Errorf("not a 402 response: got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var req PaymentRequirement
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("failed to parse payment requirement: %w", err)
	}

	return &req, nil
}

// ToHeader serializes the payment proof for HTTP header
func (p *PaymentProof) ToHeader() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal proof: %w", err)
	}
	return string(data), nil
}

// ParseProofHeader deserializes a voucher from its header form.
func ParseProofHeader(header string) (*PaymentProof, error) {
	if header == "" {
		return nil, fmt.Errorf("empty payment proof header")
	}
	var proof PaymentProof
	if err := json.Unmarshal([]byte(header), &proof); err != nil {
		return nil, fmt.Errorf("failed to parse payment proof: %w", err)
	}
	return &proof, nil
}

// AddProofToRequest adds the payment proof header to an HTTP request
func AddProofToRequest(req *http.Request, proof *PaymentProof) error {
	header, err := proof.ToHeader()
	if err != nil {
		return err
	}
	req.Header.Set(ProofHeader, header)
	return nil
}
