package receipts

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pixelmint/pixelmint/internal/idgen"
)

// Service implements receipt business logic.
type Service struct {
	store  Store
	signer *Signer
}

// NewService creates a new receipt service.
// If signer is nil, IssueReceipt is a no-op (signing disabled).
func NewService(store Store, signer *Signer) *Service {
	return &Service{
		store:  store,
		signer: signer,
	}
}

// IssueReceipt signs and persists a receipt. Nil-safe: returns nil if service or signer is nil.
func (s *Service) IssueReceipt(ctx context.Context, req IssueRequest) error {
	if s == nil || s.signer == nil {
		return nil
	}

	payload := receiptPayload{
		Amount:    req.Amount,
		From:      strings.ToLower(req.From),
		Nonce:     req.Nonce,
		RequestID: req.RequestID,
		Status:    req.Status,
		To:        strings.ToLower(req.To),
		TxHash:    req.TxHash,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("receipts: failed to marshal payload: %w", err)
	}
	hash := sha256.Sum256(data)

	sig, issuedAtStr, expiresAtStr, err := s.signer.Sign(payload)
	if err != nil {
		return fmt.Errorf("receipts: failed to sign: %w", err)
	}

	issuedAt, _ := time.Parse(time.RFC3339, issuedAtStr)
	expiresAt, _ := time.Parse(time.RFC3339, expiresAtStr)

	receipt := &Receipt{
		ID:          idgen.Receipt(),
		RequestID:   req.RequestID,
		Nonce:       req.Nonce,
		From:        strings.ToLower(req.From),
		To:          strings.ToLower(req.To),
		Amount:      req.Amount,
		TxHash:      req.TxHash,
		Status:      req.Status,
		PayloadHash: fmt.Sprintf("%x", hash),
		Signature:   sig,
		IssuedAt:    issuedAt,
		ExpiresAt:   expiresAt,
		Metadata:    req.Metadata,
		CreatedAt:   time.Now(),
	}

	return s.store.Create(ctx, receipt)
}

// Get returns a receipt by ID.
func (s *Service) Get(ctx context.Context, id string) (*Receipt, error) {
	return s.store.Get(ctx, id)
}

// ListByAddress returns receipts where the address is either buyer or seller.
func (s *Service) ListByAddress(ctx context.Context, addr string, limit int) ([]*Receipt, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByAddress(ctx, strings.ToLower(addr), limit)
}

// ListByRequest returns receipts for a generation request.
func (s *Service) ListByRequest(ctx context.Context, requestID string) ([]*Receipt, error) {
	return s.store.ListByRequest(ctx, requestID)
}

// Verify checks whether a receipt's signature is valid.
func (s *Service) Verify(ctx context.Context, receiptID string) (*VerifyResponse, error) {
	if s.signer == nil {
		return &VerifyResponse{
			Valid:     false,
			ReceiptID: receiptID,
			Error:     ErrSigningDisabled.Error(),
		}, nil
	}

	receipt, err := s.store.Get(ctx, receiptID)
	if err != nil {
		return &VerifyResponse{
			Valid:     false,
			ReceiptID: receiptID,
			Error:     ErrReceiptNotFound.Error(),
		}, nil
	}

	payload := receiptPayload{
		Amount:    receipt.Amount,
		From:      receipt.From,
		Nonce:     receipt.Nonce,
		RequestID: receipt.RequestID,
		Status:    receipt.Status,
		To:        receipt.To,
		TxHash:    receipt.TxHash,
	}

	valid := s.signer.Verify(payload, receipt.Signature)

	resp := &VerifyResponse{
		Valid:     valid,
		ReceiptID: receiptID,
	}

	if valid && time.Now().After(receipt.ExpiresAt) {
		resp.Expired = true
	}

	if !valid {
		resp.Error = "signature verification failed"
	}

	return resp, nil
}
