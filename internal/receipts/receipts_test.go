package receipts

import (
	"context"
	"testing"
	"time"
)

const (
	testBuyer  = "0x1111111111111111111111111111111111111111"
	testSeller = "0x2222222222222222222222222222222222222222"
	testSecret = "test-hmac-secret-for-receipts"
)

func newTestService() *Service {
	return NewService(NewMemoryStore(), NewSigner(testSecret))
}

func issueTestReceipt(t *testing.T, svc *Service, requestID, status string) {
	t.Helper()
	err := svc.IssueReceipt(context.Background(), IssueRequest{
		RequestID: requestID,
		Nonce:     "nonce-" + requestID,
		From:      testBuyer,
		To:        testSeller,
		Amount:    "0.040000",
		TxHash:    "0xdeadbeef",
		Status:    status,
		Metadata:  "test receipt",
	})
	if err != nil {
		t.Fatalf("IssueReceipt failed: %v", err)
	}
}

func TestIssueReceipt_Success(t *testing.T) {
	svc := newTestService()
	issueTestReceipt(t, svc, "req_abc123", StatusSettled)

	receipts, err := svc.ListByAddress(context.Background(), testBuyer, 10)
	if err != nil {
		t.Fatalf("ListByAddress failed: %v", err)
	}
	if len(receipts) != 1 {
		t.Fatalf("expected 1 receipt, got %d", len(receipts))
	}

	r := receipts[0]
	if r.RequestID != "req_abc123" {
		t.Errorf("expected request req_abc123, got %s", r.RequestID)
	}
	if r.Nonce != "nonce-req_abc123" {
		t.Errorf("unexpected nonce %s", r.Nonce)
	}
	if r.From != testBuyer {
		t.Errorf("expected from %s, got %s", testBuyer, r.From)
	}
	if r.Amount != "0.040000" {
		t.Errorf("expected amount 0.040000, got %s", r.Amount)
	}
	if r.TxHash != "0xdeadbeef" {
		t.Errorf("expected tx hash, got %s", r.TxHash)
	}
	if r.Signature == "" {
		t.Error("expected non-empty signature")
	}
	if r.PayloadHash == "" {
		t.Error("expected non-empty payload hash")
	}
	if r.IssuedAt.IsZero() {
		t.Error("expected non-zero issuedAt")
	}
	// Should expire ~30 days from now
	expectedExpiry := time.Now().Add(30 * 24 * time.Hour)
	if r.ExpiresAt.Before(expectedExpiry.Add(-time.Minute)) {
		t.Errorf("expiresAt too early: %v", r.ExpiresAt)
	}
}

func TestIssueReceipt_NilSigner(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil) // no signer

	err := svc.IssueReceipt(context.Background(), IssueRequest{
		RequestID: "req_123",
		Nonce:     "n1",
		From:      testBuyer,
		To:        testSeller,
		Amount:    "1.000000",
		Status:    StatusSettled,
	})
	if err != nil {
		t.Fatalf("expected nil error for nil signer, got %v", err)
	}

	receipts, _ := svc.ListByAddress(context.Background(), testBuyer, 10)
	if len(receipts) != 0 {
		t.Errorf("expected 0 receipts with nil signer, got %d", len(receipts))
	}
}

func TestIssueReceipt_NilService(t *testing.T) {
	var svc *Service
	err := svc.IssueReceipt(context.Background(), IssueRequest{
		RequestID: "req_123",
		From:      testBuyer,
		To:        testSeller,
		Amount:    "1.000000",
		Status:    StatusSettled,
	})
	if err != nil {
		t.Fatalf("expected nil error for nil service, got %v", err)
	}
}

func TestVerify_Valid(t *testing.T) {
	svc := newTestService()
	issueTestReceipt(t, svc, "req_verify", StatusSettled)

	receipts, _ := svc.ListByAddress(context.Background(), testBuyer, 10)
	if len(receipts) == 0 {
		t.Fatal("no receipts found")
	}

	resp, err := svc.Verify(context.Background(), receipts[0].ID)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !resp.Valid {
		t.Errorf("expected valid receipt, got invalid: %s", resp.Error)
	}
	if resp.Expired {
		t.Error("expected not expired")
	}
}

func TestVerify_InvalidSignature(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, NewSigner(testSecret))

	issueTestReceipt(t, svc, "req_tamper", StatusSettled)

	receipts, _ := svc.ListByAddress(context.Background(), testBuyer, 10)
	if len(receipts) == 0 {
		t.Fatal("no receipts found")
	}

	// Tamper with the signature in the store
	r := receipts[0]
	r.Signature = "deadbeef"
	store.mu.Lock()
	store.receipts[r.ID] = r
	store.mu.Unlock()

	resp, err := svc.Verify(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if resp.Valid {
		t.Error("expected invalid for tampered signature")
	}
}

func TestVerify_TamperedAmount(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, NewSigner(testSecret))

	issueTestReceipt(t, svc, "req_amount", StatusSettled)

	receipts, _ := svc.ListByAddress(context.Background(), testBuyer, 10)
	r := receipts[0]
	r.Amount = "999.000000"
	store.mu.Lock()
	store.receipts[r.ID] = r
	store.mu.Unlock()

	resp, err := svc.Verify(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if resp.Valid {
		t.Error("expected invalid for tampered amount")
	}
}

func TestVerify_NotFound(t *testing.T) {
	svc := newTestService()

	resp, err := svc.Verify(context.Background(), "nonexistent_id")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if resp.Valid {
		t.Error("expected invalid for not-found receipt")
	}
	if resp.Error != ErrReceiptNotFound.Error() {
		t.Errorf("expected not_found error, got %s", resp.Error)
	}
}

func TestVerify_SigningDisabled(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil)

	resp, err := svc.Verify(context.Background(), "any_id")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if resp.Valid {
		t.Error("expected invalid when signing disabled")
	}
	if resp.Error != ErrSigningDisabled.Error() {
		t.Errorf("expected signing_disabled error, got %s", resp.Error)
	}
}

func TestListByAddress_BothSides(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	_ = svc.IssueReceipt(ctx, IssueRequest{
		RequestID: "req_1", Nonce: "n1",
		From: testBuyer, To: testSeller,
		Amount: "0.010000", Status: StatusSettled,
	})

	// Reversed roles: refunds land the other way round
	_ = svc.IssueReceipt(ctx, IssueRequest{
		RequestID: "req_2", Nonce: "n2",
		From: testSeller, To: testBuyer,
		Amount: "0.020000", Status: StatusSettled,
	})

	receipts, err := svc.ListByAddress(ctx, testBuyer, 10)
	if err != nil {
		t.Fatalf("ListByAddress failed: %v", err)
	}
	if len(receipts) != 2 {
		t.Errorf("expected 2 receipts (as from and to), got %d", len(receipts))
	}
}

func TestListByRequest(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	issueTestReceipt(t, svc, "req_shared", StatusFailed)
	issueTestReceipt(t, svc, "req_shared", StatusSettled)
	issueTestReceipt(t, svc, "req_other", StatusSettled)

	receipts, err := svc.ListByRequest(ctx, "req_shared")
	if err != nil {
		t.Fatalf("ListByRequest failed: %v", err)
	}
	if len(receipts) != 2 {
		t.Errorf("expected 2 receipts for shared request, got %d", len(receipts))
	}
}

func TestListByAddress_Limit(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		issueTestReceipt(t, svc, "req_limit", StatusSettled)
	}

	receipts, err := svc.ListByAddress(ctx, testBuyer, 3)
	if err != nil {
		t.Fatalf("ListByAddress failed: %v", err)
	}
	if len(receipts) != 3 {
		t.Errorf("expected 3 receipts (limited), got %d", len(receipts))
	}
}

func TestSigner_SignAndVerify(t *testing.T) {
	s := NewSigner(testSecret)

	payload := map[string]string{"key": "value"}
	sig, issuedAt, expiresAt, err := s.Sign(payload)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if sig == "" || issuedAt == "" || expiresAt == "" {
		t.Fatal("expected non-empty signature, issuedAt, expiresAt")
	}

	if !s.Verify(payload, sig) {
		t.Error("expected Verify to return true for valid signature")
	}

	if s.Verify(payload, "wrong_signature") {
		t.Error("expected Verify to return false for wrong signature")
	}

	if s.Verify(map[string]string{"key": "tampered"}, sig) {
		t.Error("expected Verify to return false for tampered payload")
	}
}

func TestSigner_Nil(t *testing.T) {
	s := NewSigner("")
	if s != nil {
		t.Error("expected nil signer for empty secret")
	}

	sig, _, _, err := s.Sign(map[string]string{"key": "value"})
	if err != nil {
		t.Errorf("expected nil error for nil signer, got %v", err)
	}
	if sig != "" {
		t.Error("expected empty signature for nil signer")
	}

	if s.Verify(map[string]string{"key": "value"}, "anything") {
		t.Error("expected Verify to return false for nil signer")
	}
}

func TestGet_NotFound(t *testing.T) {
	svc := newTestService()

	_, err := svc.Get(context.Background(), "nonexistent")
	if err != ErrReceiptNotFound {
		t.Errorf("expected ErrReceiptNotFound, got %v", err)
	}
}
