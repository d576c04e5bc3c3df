package generation

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelmint/pixelmint/internal/usdc"
	"github.com/pixelmint/pixelmint/pkg/x402"
)

type headerSigner struct{ addr string }

func (s *headerSigner) Address() string { return s.addr }

func (s *headerSigner) SignPayment(req *x402.PaymentRequirement, amount *big.Int) (*x402.PaymentProof, error) {
	return &x402.PaymentProof{
		From:        s.addr,
		To:          req.Recipient,
		Value:       usdc.Format(amount),
		Nonce:       req.Nonce,
		ValidBefore: time.Now().Add(time.Minute).Unix(),
		Signature:   "0xstub",
	}, nil
}

func payingClient() *x402.Client {
	return x402.NewClient(&headerSigner{addr: "0xbuyer"}, usdc.Parse)
}

func testRequest() GenerateRequest {
	return GenerateRequest{RequestID: "req_1", Prompt: "a red fox", Price: "0.04"}
}

func TestHTTPGateway_Challenge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/generate_image", r.URL.Path)
		assert.Empty(t, r.Header.Get(x402.ProofHeader))

		var req GenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "req_1", req.RequestID)

		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"price":"0.04","currency":"USDC","chainId":84532,"recipient":"0xseller","nonce":"n1"}`))
	}))
	defer server.Close()

	gw := NewHTTPGateway(server.URL, payingClient())
	requirement, err := gw.Challenge(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "0.04", requirement.Price)
	assert.Equal(t, "n1", requirement.Nonce)
}

func TestHTTPGateway_Challenge_UnexpectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"nonce":"free-lunch"}`))
	}))
	defer server.Close()

	gw := NewHTTPGateway(server.URL, payingClient())
	_, err := gw.Challenge(context.Background(), testRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected payment challenge")
}

func TestHTTPGateway_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(x402.ProofHeader) == "" {
			w.WriteHeader(http.StatusPaymentRequired)
			w.Write([]byte(`{"price":"0.04","currency":"USDC","chainId":84532,"recipient":"0xseller","nonce":"n1"}`))
			return
		}
		proof, err := x402.ParseProofHeader(r.Header.Get(x402.ProofHeader))
		require.NoError(t, err)
		assert.Equal(t, "n1", proof.Nonce)
		assert.Equal(t, "0.040000", proof.Value)

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"nonce":"n1"}`))
	}))
	defer server.Close()

	gw := NewHTTPGateway(server.URL, payingClient())
	paid, err := gw.Generate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "n1", paid.Nonce)
}

func TestHTTPGateway_Generate_PriceMismatch(t *testing.T) {
	var proofs int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(x402.ProofHeader) != "" {
			proofs++
		}
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"price":"999.00","currency":"USDC","chainId":84532,"recipient":"0xseller","nonce":"n1"}`))
	}))
	defer server.Close()

	// The request was estimated at 0.04; a challenge for any other amount
	// must be refused without a voucher ever being signed.
	gw := NewHTTPGateway(server.URL, payingClient())
	_, err := gw.Generate(context.Background(), testRequest())
	require.ErrorIs(t, err, x402.ErrPriceMismatch)
	assert.Zero(t, proofs)
}

func TestHTTPGateway_Generate_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(x402.ProofHeader) == "" {
			w.WriteHeader(http.StatusPaymentRequired)
			w.Write([]byte(`{"price":"0.04","chainId":84532,"recipient":"0xseller","nonce":"n1"}`))
			return
		}
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`invalid signature`))
	}))
	defer server.Close()

	gw := NewHTTPGateway(server.URL, payingClient())
	_, err := gw.Generate(context.Background(), testRequest())

	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, http.StatusForbidden, gwErr.Status)
	assert.Equal(t, "invalid signature", gwErr.Body)
}

func TestHTTPGateway_Settle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/settle", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "n1", body["nonce"])

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"settled","transaction_hash":"0xabc"}`))
	}))
	defer server.Close()

	gw := NewHTTPGateway(server.URL, payingClient())
	result, err := gw.Settle(context.Background(), "n1")
	require.NoError(t, err)
	assert.Equal(t, "settled", result.Status)
	assert.Equal(t, "0xabc", result.TransactionHash)
}

func TestHTTPGateway_Settle_UnknownNonce(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"unknown nonce"}`))
	}))
	defer server.Close()

	gw := NewHTTPGateway(server.URL, payingClient())
	_, err := gw.Settle(context.Background(), "n-gone")

	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, http.StatusNotFound, gwErr.Status)
}

func TestGatewayError_Truncation(t *testing.T) {
	long := make([]byte, 2*maxErrorBody)
	for i := range long {
		long[i] = 'x'
	}
	err := newGatewayError(500, long)
	assert.Len(t, err.Body, maxErrorBody)
}
