// PixelMint MCP server - exposes pay-per-use image generation as MCP tools for LLMs
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/pixelmint/pixelmint/internal/bedrock"
	"github.com/pixelmint/pixelmint/internal/config"
	"github.com/pixelmint/pixelmint/internal/generation"
	"github.com/pixelmint/pixelmint/internal/hooks"
	"github.com/pixelmint/pixelmint/internal/logging"
	"github.com/pixelmint/pixelmint/internal/pricing"
	"github.com/pixelmint/pixelmint/internal/session"
	"github.com/pixelmint/pixelmint/internal/tools"
	"github.com/pixelmint/pixelmint/internal/traces"
	"github.com/pixelmint/pixelmint/internal/usdc"
	"github.com/pixelmint/pixelmint/internal/wallet"
	"github.com/pixelmint/pixelmint/pkg/x402"
)

func main() {
	// stdout is the MCP transport; every log line goes to stderr
	logger := logging.NewWriter(os.Stderr, envOrDefault("LOG_LEVEL", "info"), "text")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.PrivateKey == "" {
		fmt.Fprintln(os.Stderr, "PRIVATE_KEY is required")
		os.Exit(1)
	}
	if cfg.GatewayURL == "" {
		fmt.Fprintln(os.Stderr, "GATEWAY_URL is required")
		os.Exit(1)
	}

	ctx := context.Background()

	shutdownTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Warn("tracing init failed", "error", err)
	} else {
		defer func() { _ = shutdownTraces(ctx) }()
	}

	w, err := wallet.New(wallet.Config{
		RPCURL:       cfg.RPCURL,
		PrivateKey:   cfg.PrivateKey,
		ChainID:      cfg.ChainID,
		USDCContract: cfg.USDCContract,
	})
	if err != nil {
		logger.Error("failed to create wallet", "error", err)
		os.Exit(1)
	}
	defer func() { _ = w.Close() }()

	logger.Info("wallet ready", "address", w.Address(), "chain_id", cfg.ChainID)

	backend, err := bedrock.New(ctx, cfg.AWSRegion, cfg.ImageModel, cfg.VisionModel)
	if err != nil {
		logger.Error("failed to create bedrock client", "error", err)
		os.Exit(1)
	}

	payingClient := x402.NewClient(w, usdc.Parse)
	gateway := generation.NewHTTPGateway(cfg.GatewayURL, payingClient)

	feed := pricing.NewHTTPRateFeed(cfg.PriceFeedURL, cfg.PriceFeedTimeout)
	estimator := pricing.NewEstimator(feed)

	svc := generation.NewService(session.NewStore(), estimator, w, gateway, backend, backend)

	s := tools.NewMCPServer(tools.Config{
		Service: svc,
		Wallet:  w,
		Network: networkName(cfg.ChainID),
		Hooks:   hooks.NewRegistry(hooks.NewLogObserver(logger)),
	})

	logger.Info("mcp server starting", "gateway", cfg.GatewayURL)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func networkName(chainID int64) string {
	switch chainID {
	case 8453:
		return "Base"
	case 84532:
		return "Base Sepolia"
	default:
		return fmt.Sprintf("chain %d", chainID)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
