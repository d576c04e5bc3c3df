package wallet

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelmint/pixelmint/pkg/x402"
)

const (
	testKey     = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	testUSDC    = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	testChainID = int64(84532)
)

type mockClient struct {
	usdcBalance *big.Int
	ethBalance  *big.Int
	callErr     error
}

func (m *mockClient) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if m.callErr != nil {
		return nil, m.callErr
	}
	return common.LeftPadBytes(m.usdcBalance.Bytes(), 32), nil
}

func (m *mockClient) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return new(big.Int).Set(m.ethBalance), nil
}

func (m *mockClient) Close() {}

func newTestWallet(t *testing.T, client EthClient) *Wallet {
	t.Helper()
	w, err := New(Config{
		RPCURL:       "https://sepolia.base.org",
		PrivateKey:   testKey,
		ChainID:      testChainID,
		USDCContract: testUSDC,
	}, WithClient(client))
	require.NoError(t, err)
	return w
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: Config{
				RPCURL:       "https://sepolia.base.org",
				PrivateKey:   testKey,
				ChainID:      testChainID,
				USDCContract: testUSDC,
			},
			wantErr: false,
		},
		{
			name: "valid config with 0x prefix",
			cfg: Config{
				RPCURL:       "https://sepolia.base.org",
				PrivateKey:   "0x" + testKey,
				ChainID:      testChainID,
				USDCContract: testUSDC,
			},
			wantErr: false,
		},
		{
			name: "missing RPC URL",
			cfg: Config{
				PrivateKey:   testKey,
				ChainID:      testChainID,
				USDCContract: testUSDC,
			},
			wantErr: true,
		},
		{
			name: "missing private key",
			cfg: Config{
				RPCURL:       "https://sepolia.base.org",
				ChainID:      testChainID,
				USDCContract: testUSDC,
			},
			wantErr: true,
		},
		{
			name: "invalid private key length",
			cfg: Config{
				RPCURL:       "https://sepolia.base.org",
				PrivateKey:   "tooshort",
				ChainID:      testChainID,
				USDCContract: testUSDC,
			},
			wantErr: true,
		},
		{
			name: "missing chain ID",
			cfg: Config{
				RPCURL:       "https://sepolia.base.org",
				PrivateKey:   testKey,
				USDCContract: testUSDC,
			},
			wantErr: true,
		},
		{
			name: "missing USDC contract",
			cfg: Config{
				RPCURL:     "https://sepolia.base.org",
				PrivateKey: testKey,
				ChainID:    testChainID,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConfig(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWallet_Address(t *testing.T) {
	w := newTestWallet(t, &mockClient{usdcBalance: big.NewInt(0), ethBalance: big.NewInt(0)})

	// Address derived from the fixed test key is stable.
	assert.Equal(t, "0x14791697260E4c9A71f18484C9f997B308e59325", w.Address())
}

func TestWallet_USDCBalance(t *testing.T) {
	client := &mockClient{usdcBalance: big.NewInt(2_500_000), ethBalance: big.NewInt(0)}
	w := newTestWallet(t, client)

	bal, err := w.USDCBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(2_500_000), bal)
}

func TestWallet_USDCBalance_RPCError(t *testing.T) {
	client := &mockClient{usdcBalance: big.NewInt(0), ethBalance: big.NewInt(0), callErr: assert.AnError}
	w := newTestWallet(t, client)

	_, err := w.USDCBalance(context.Background())
	assert.Error(t, err)
}

func TestWallet_Balances(t *testing.T) {
	client := &mockClient{
		usdcBalance: big.NewInt(1_040_000),         // 1.04 USDC
		ethBalance:  new(big.Int).SetUint64(25e15), // 0.025 ETH
	}
	w := newTestWallet(t, client)

	bal, err := w.Balances(context.Background())
	require.NoError(t, err)
	assert.Equal(t, w.Address(), bal.Address)
	assert.Equal(t, "1.040000", bal.USDCText())
	assert.Equal(t, "0.025000", bal.ETHText())
}

func TestWallet_SignPayment(t *testing.T) {
	w := newTestWallet(t, &mockClient{usdcBalance: big.NewInt(0), ethBalance: big.NewInt(0)})

	req := &x402.PaymentRequirement{
		Price:     "0.04",
		Currency:  "USDC",
		ChainID:   testChainID,
		Recipient: "0x9999999999999999999999999999999999999999",
		Nonce:     "nonce-1",
	}

	proof, err := w.SignPayment(req, big.NewInt(40_000))
	require.NoError(t, err)
	assert.Equal(t, w.Address(), proof.From)
	assert.Equal(t, req.Recipient, proof.To)
	assert.Equal(t, "0.040000", proof.Value)
	assert.Equal(t, "nonce-1", proof.Nonce)
	assert.Greater(t, proof.ValidBefore, int64(0))

	// The seller side must recover the wallet's address from the voucher.
	signer, err := proof.RecoverPayer(testChainID)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), signer.Hex())
}

func TestWallet_SignPayment_TamperDetected(t *testing.T) {
	w := newTestWallet(t, &mockClient{usdcBalance: big.NewInt(0), ethBalance: big.NewInt(0)})

	proof, err := w.SignPayment(&x402.PaymentRequirement{
		Recipient: "0x9999999999999999999999999999999999999999",
		Nonce:     "nonce-2",
	}, big.NewInt(40_000))
	require.NoError(t, err)

	proof.Value = "0.01"
	_, err = proof.RecoverPayer(testChainID)
	assert.Error(t, err)
}
