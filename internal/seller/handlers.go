package seller

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pixelmint/pixelmint/internal/logging"
	"github.com/pixelmint/pixelmint/internal/metrics"
	"github.com/pixelmint/pixelmint/internal/paywall"
	"github.com/pixelmint/pixelmint/internal/receipts"
	"github.com/pixelmint/pixelmint/internal/usdc"
)

// handleGenerate runs behind the paywall: a request only reaches it with a
// verified voucher. The image itself is produced on the buyer's side; the
// gateway's job here is to hand back the settlement nonce.
func (s *Server) handleGenerate(c *gin.Context) {
	pending := paywall.GetPending(c)
	if pending == nil {
		// Middleware misconfiguration, not a client error
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "No verified payment on request",
		})
		return
	}

	metrics.PendingSettlements.Set(float64(s.paywall.PendingCount()))

	logging.L(c.Request.Context()).Info("payment accepted",
		"request_id", pending.RequestID,
		"nonce", pending.Nonce,
		"amount", usdc.Format(pending.Amount),
		"from", pending.Proof.From,
	)

	c.JSON(http.StatusOK, gin.H{
		"nonce":      pending.Nonce,
		"request_id": pending.RequestID,
	})
}

type settleRequest struct {
	Nonce string `json:"nonce" binding:"required"`
}

// handleSettle consumes a pending settlement. Each nonce settles at most
// once; a second attempt gets 404 like a nonce that never existed.
func (s *Server) handleSettle(c *gin.Context) {
	var req settleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "nonce is required",
		})
		return
	}

	pending, ok := s.paywall.TakePending(req.Nonce)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "unknown_nonce",
			"message": "No pending settlement for nonce",
		})
		return
	}
	metrics.PendingSettlements.Set(float64(s.paywall.PendingCount()))

	ctx := c.Request.Context()
	logger := logging.L(ctx)
	amount := usdc.Format(pending.Amount)

	var txHash string
	if s.facilitator != nil {
		resp, err := s.facilitator.Settle(ctx, pending.Proof, s.requirementFor(pending))
		if err != nil {
			logger.Error("settlement failed",
				"nonce", pending.Nonce,
				"request_id", pending.RequestID,
				"error", err,
			)
			metrics.SettlementsTotal.WithLabelValues("failed").Inc()

			s.issueReceipt(c, pending, "", receipts.StatusFailed, amount)
			s.broadcastSettlement(pending, "", "failed", amount)

			c.JSON(http.StatusBadGateway, gin.H{
				"status":  "failed",
				"error":   "settlement_failed",
				"message": err.Error(),
			})
			return
		}
		txHash = resp.Transaction
	} else {
		// Dev mode: no facilitator, mint a deterministic pseudo transaction
		txHash = pseudoTx(pending.Nonce)
	}

	logger.Info("settlement confirmed",
		"nonce", pending.Nonce,
		"request_id", pending.RequestID,
		"amount", amount,
		"tx_hash", txHash,
	)
	metrics.SettlementsTotal.WithLabelValues("settled").Inc()

	s.issueReceipt(c, pending, txHash, receipts.StatusSettled, amount)
	s.broadcastSettlement(pending, txHash, "settled", amount)

	c.JSON(http.StatusOK, gin.H{
		"status":           "settled",
		"transaction_hash": txHash,
	})
}

func (s *Server) issueReceipt(c *gin.Context, pending *paywall.PendingSettlement, txHash, status, amount string) {
	err := s.receipts.IssueReceipt(c.Request.Context(), receipts.IssueRequest{
		RequestID: pending.RequestID,
		Nonce:     pending.Nonce,
		From:      pending.Proof.From,
		To:        pending.Proof.To,
		Amount:    amount,
		TxHash:    txHash,
		Status:    status,
	})
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to issue receipt",
			"nonce", pending.Nonce,
			"error", err,
		)
	}
}

func (s *Server) broadcastSettlement(pending *paywall.PendingSettlement, txHash, status, amount string) {
	s.realtimeHub.BroadcastSettlement(map[string]interface{}{
		"requestId": pending.RequestID,
		"nonce":     pending.Nonce,
		"from":      pending.Proof.From,
		"to":        pending.Proof.To,
		"amount":    amount,
		"txHash":    txHash,
		"status":    status,
	})
}

// pseudoTx derives a stable fake transaction hash from the settlement nonce.
func pseudoTx(nonce string) string {
	sum := sha256.Sum256([]byte("dev-settlement:" + nonce))
	return "0x" + hex.EncodeToString(sum[:])
}
