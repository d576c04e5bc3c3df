// Package wallet handles blockchain reads and payment-voucher signing.
//
// The buyer never moves funds directly: it signs payment authorizations
// that the seller settles after delivery. The wallet therefore needs only
// read access to the chain (ETH and USDC balances) plus the signing key.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/pixelmint/pixelmint/internal/usdc"
	"github.com/pixelmint/pixelmint/pkg/x402"
)

var (
	ErrInvalidPrivateKey = errors.New("wallet: invalid private key")
	ErrRPCConnection     = errors.New("wallet: RPC connection failed")
)

// ERC20 minimal ABI for balanceOf
const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

// DefaultProofValidity bounds how long a signed payment voucher can be
// presented for settlement.
const DefaultProofValidity = 10 * time.Minute

// EthClient abstracts the go-ethereum client for testing.
type EthClient interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	Close()
}

// Config for creating a new wallet
type Config struct {
	RPCURL       string
	PrivateKey   string // Hex string, 0x prefix optional
	ChainID      int64
	USDCContract string
}

// Option configures the wallet
type Option func(*Wallet)

// WithClient sets a custom Ethereum client (useful for testing)
func WithClient(client EthClient) Option {
	return func(w *Wallet) {
		w.client = client
	}
}

// Balances holds the wallet's native and USDC balances.
type Balances struct {
	Address string
	ETH     *big.Int // wei
	USDC    *big.Int // smallest units
}

// USDCText formats the USDC balance as a decimal string.
func (b *Balances) USDCText() string { return usdc.Format(b.USDC) }

// ETHText formats the native balance in ether with 6 decimal places.
func (b *Balances) ETHText() string {
	if b.ETH == nil {
		return "0.000000"
	}
	f := new(big.Float).SetInt(b.ETH)
	f.Quo(f, big.NewFloat(1e18))
	return f.Text('f', 6)
}

// Wallet reads balances and signs payment vouchers.
type Wallet struct {
	client       EthClient
	privateKey   *ecdsa.PrivateKey
	address      common.Address
	chainID      int64
	usdcContract common.Address
	usdcABI      abi.ABI
}

// New creates a new Wallet instance
func New(cfg Config, opts ...Option) (*Wallet, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}

	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: failed to derive public key", ErrInvalidPrivateKey)
	}

	parsedABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC20 ABI: %w", err)
	}

	w := &Wallet{
		privateKey:   privateKey,
		address:      crypto.PubkeyToAddress(*publicKey),
		chainID:      cfg.ChainID,
		usdcContract: common.HexToAddress(cfg.USDCContract),
		usdcABI:      parsedABI,
	}

	for _, opt := range opts {
		opt(w)
	}

	if w.client == nil {
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRPCConnection, err)
		}
		w.client = client
	}

	return w, nil
}

func validateConfig(cfg Config) error {
	if cfg.RPCURL == "" {
		return fmt.Errorf("%w: RPC URL required", ErrRPCConnection)
	}
	if cfg.PrivateKey == "" {
		return fmt.Errorf("%w: private key required", ErrInvalidPrivateKey)
	}
	if key := strings.TrimPrefix(cfg.PrivateKey, "0x"); len(key) != 64 {
		return fmt.Errorf("%w: must be 64 hex characters", ErrInvalidPrivateKey)
	}
	if cfg.ChainID == 0 {
		return fmt.Errorf("chain ID required")
	}
	if cfg.USDCContract == "" {
		return fmt.Errorf("USDC contract address required")
	}
	return nil
}

// Address returns the wallet's address
func (w *Wallet) Address() string {
	return w.address.Hex()
}

// USDCBalance returns the wallet's USDC balance in smallest units.
func (w *Wallet) USDCBalance(ctx context.Context) (*big.Int, error) {
	data, err := w.usdcABI.Pack("balanceOf", w.address)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf call: %w", err)
	}

	result, err := w.client.CallContract(ctx, ethereum.CallMsg{
		To:   &w.usdcContract,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call balanceOf: %w", err)
	}

	return new(big.Int).SetBytes(result), nil
}

// Balances returns native ETH and USDC balances in one call.
func (w *Wallet) Balances(ctx context.Context) (*Balances, error) {
	eth, err := w.client.BalanceAt(ctx, w.address, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get ETH balance: %w", err)
	}
	usdcBal, err := w.USDCBalance(ctx)
	if err != nil {
		return nil, err
	}
	return &Balances{Address: w.address.Hex(), ETH: eth, USDC: usdcBal}, nil
}

// SignPayment signs a payment voucher for the given requirement and exact
// amount. The voucher authorizes the recipient to settle the amount after
// delivery; no funds move at signing time.
func (w *Wallet) SignPayment(req *x402.PaymentRequirement, amount *big.Int) (*x402.PaymentProof, error) {
	proof := &x402.PaymentProof{
		From:        w.address.Hex(),
		To:          req.Recipient,
		Value:       usdc.Format(amount),
		Nonce:       req.Nonce,
		ValidBefore: time.Now().Add(DefaultProofValidity).Unix(),
	}

	sig, err := crypto.Sign(proof.SigningHash(w.chainID).Bytes(), w.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign payment voucher: %w", err)
	}
	proof.Signature = "0x" + common.Bytes2Hex(sig)
	return proof, nil
}

// Close closes the client connection
func (w *Wallet) Close() error {
	if w.client != nil {
		w.client.Close()
	}
	return nil
}
