// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Blockchain settings
	RPCURL        string
	ChainID       int64
	PrivateKey    string // Hex-encoded, buyer signing key
	WalletAddress string
	USDCContract  string

	// Payment protocol
	GatewayURL     string // Seller gateway base URL (buyer side)
	SellerWallet   string // Recipient address for payment challenges (seller side)
	FacilitatorURL string // x402 facilitator; empty enables dev-mode settlement
	ReceiptSecret  string // HMAC secret for settlement receipts (optional)

	// Pricing oracle
	PriceFeedURL     string
	PriceFeedTimeout time.Duration

	// Generation backend
	AWSRegion   string
	ImageModel  string
	VisionModel string

	// Observability
	OTLPEndpoint string
}

// Base Sepolia defaults
const (
	DefaultRPCURL       = "https://sepolia.base.org"
	DefaultChainID      = 84532                                        // Base Sepolia
	DefaultUSDCContract = "0x036CbD53842c5426634e7929541eC2318f3dCF7e" // Base Sepolia USDC
	DefaultPort         = "8080"
	DefaultEnv          = "development"
	DefaultLogLevel     = "info"
	DefaultPriceFeedURL = "https://api.coingecko.com/api/v3/simple/price?ids=usd-coin&vs_currencies=usd"
	DefaultImageModel   = "amazon.nova-canvas-v1:0"
	DefaultVisionModel  = "us.anthropic.claude-sonnet-4-20250514-v1:0"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:      os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RPCURL:           getEnv("RPC_URL", DefaultRPCURL),
		ChainID:          getEnvInt64("CHAIN_ID", DefaultChainID),
		PrivateKey:       os.Getenv("PRIVATE_KEY"),
		WalletAddress:    os.Getenv("WALLET_ADDRESS"),
		USDCContract:     getEnv("USDC_CONTRACT", DefaultUSDCContract),
		GatewayURL:       os.Getenv("GATEWAY_URL"),
		SellerWallet:     os.Getenv("SELLER_WALLET"),
		FacilitatorURL:   os.Getenv("FACILITATOR_URL"),
		ReceiptSecret:    os.Getenv("RECEIPT_HMAC_SECRET"),
		PriceFeedURL:     getEnv("PRICE_FEED_URL", DefaultPriceFeedURL),
		PriceFeedTimeout: getEnvDuration("PRICE_FEED_TIMEOUT", 5*time.Second),
		AWSRegion:        getEnv("AWS_REGION", "us-east-1"),
		ImageModel:       getEnv("IMAGE_MODEL", DefaultImageModel),
		VisionModel:      getEnv("VISION_MODEL", DefaultVisionModel),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration that every binary depends on. Binary
// specific requirements (GATEWAY_URL for the agent, SELLER_WALLET for the
// gateway) are enforced in the respective main.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}

	if c.PrivateKey != "" {
		// Allow both with and without 0x prefix
		key := c.PrivateKey
		if len(key) == 66 && key[:2] == "0x" {
			key = key[2:]
		}
		if len(key) != 64 {
			return fmt.Errorf("PRIVATE_KEY must be 64 hex characters (with or without 0x prefix)")
		}
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
