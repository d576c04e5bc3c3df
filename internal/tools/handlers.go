package tools

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/pixelmint/pixelmint/internal/generation"
	"github.com/pixelmint/pixelmint/internal/session"
	"github.com/pixelmint/pixelmint/internal/usdc"
	"github.com/pixelmint/pixelmint/internal/wallet"
)

const explorerBase = "https://sepolia.basescan.org/tx/"

// WalletReader is the slice of the wallet the tool surface needs.
type WalletReader interface {
	Address() string
	Balances(ctx context.Context) (*wallet.Balances, error)
}

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	svc     *generation.Service
	wallet  WalletReader
	network string
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(svc *generation.Service, w WalletReader, network string) *Handlers {
	return &Handlers{svc: svc, wallet: w, network: network}
}

// HandleEstimateImageCost prices a prompt and records the payment request.
func (h *Handlers) HandleEstimateImageCost(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt := req.GetString("prompt", "")
	if prompt == "" {
		return mcp.NewToolResultError("prompt is required"), nil
	}
	resolution := req.GetString("resolution", "")
	quality := req.GetString("quality", "")
	sessionID := req.GetString("session_id", "")

	res, err := h.svc.Estimate(ctx, sessionID, prompt, resolution, quality)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to estimate cost: %v", err)), nil
	}

	if res.Reused {
		return mcp.NewToolResultText(fmt.Sprintf(
			"Active request exists. Cost: %s USDC. Use make_payment() to proceed.",
			res.Request.CostUSD)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"REQUEST_ID:%s|COST:%s|USD:%s",
		res.Request.ID, res.Request.CostUSD, res.Request.CostUSD)), nil
}

// HandleCheckWalletBalance reports ETH and USDC balances.
func (h *Handlers) HandleCheckWalletBalance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	bal, err := h.wallet.Balances(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check balance: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Address: %s\nNetwork: %s\nETH: %s\nUSDC: %s",
		bal.Address, h.network, bal.ETHText(), bal.USDCText())), nil
}

// HandleMakePayment authorizes the pending request after a balance check.
func (h *Handlers) HandleMakePayment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	requestID := req.GetString("request_id", "")
	sessionID := req.GetString("session_id", "")

	res, err := h.svc.Authorize(ctx, sessionID, requestID)
	if err != nil {
		var insufficient *session.InsufficientFundsError
		switch {
		case errors.Is(err, session.ErrNoActiveRequest):
			return mcp.NewToolResultError("No active request. Please use estimate_image_cost first to get a request ID."), nil
		case errors.Is(err, session.ErrRequestNotFound):
			return mcp.NewToolResultError("Invalid request ID. Please estimate image cost first."), nil
		case errors.As(err, &insufficient):
			return mcp.NewToolResultError(fmt.Sprintf(
				"Insufficient balance. Need %s USDC, have %s USDC",
				usdc.Format(insufficient.Needed), usdc.Format(insufficient.Available))), nil
		default:
			return mcp.NewToolResultError(fmt.Sprintf("Payment authorization failed: %v", err)), nil
		}
	}

	if res.AlreadyAuthorized {
		return mcp.NewToolResultText("Payment already authorized"), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Payment authorized for %s USDC! Ready to generate image.",
		res.Request.CostUSD)), nil
}

// HandleGenerateImage runs the paid generation flow and attaches the
// delivered image.
func (h *Handlers) HandleGenerateImage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	requestID := req.GetString("request_id", "")
	sessionID := req.GetString("session_id", "")

	res, err := h.svc.Generate(ctx, sessionID, requestID)
	if err != nil {
		var gwErr *generation.GatewayError
		switch {
		case errors.Is(err, session.ErrNoActiveRequest):
			return mcp.NewToolResultError("No active request. Please use estimate_image_cost first to get a request ID."), nil
		case errors.Is(err, session.ErrRequestNotFound):
			return mcp.NewToolResultError("Invalid request ID. Use estimate_image_cost first."), nil
		case errors.As(err, &gwErr):
			return mcp.NewToolResultError(fmt.Sprintf(
				"Gateway returned %d. Response: %s", gwErr.Status, gwErr.Body)), nil
		default:
			return mcp.NewToolResultError(fmt.Sprintf("Image generation failed: %v", err)), nil
		}
	}

	if res.Status == generation.StatusPaymentRequired {
		return mcp.NewToolResultText(fmt.Sprintf(
			"AUTHORIZE_CHECK - Cost: %s USDC. Payment authorization needed before image generation.",
			res.Request.CostUSD)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SUCCESS|IMAGE_ID:%s\n\n", res.Resource.ID)
	fmt.Fprintf(&sb, "Image generated successfully! Payment verified on %s.\n", h.network)
	fmt.Fprintf(&sb, "Image ID: %s", res.Resource.ID)
	if res.SettledTx != "" {
		fmt.Fprintf(&sb, "\nTransaction: %s\nExplorer: %s%s", res.SettledTx, explorerBase, res.SettledTx)
	}

	content := []mcp.Content{mcp.NewTextContent(sb.String())}
	for _, img := range h.svc.DrainResources(sessionID) {
		content = append(content, mcp.NewImageContent(
			base64.StdEncoding.EncodeToString(img.Data), img.MediaType))
	}

	return &mcp.CallToolResult{Content: content}, nil
}

// HandleAnalyzeImage forwards a generated image to the vision model.
func (h *Handlers) HandleAnalyzeImage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	imageID := req.GetString("image_id", "")
	if imageID == "" {
		return mcp.NewToolResultError("image_id is required"), nil
	}
	analysisType := req.GetString("analysis_type", "monetization")
	sessionID := req.GetString("session_id", "")

	out, err := h.svc.Analyze(ctx, sessionID, imageID, analysisInstruction(analysisType))
	if err != nil {
		if errors.Is(err, session.ErrResourceNotFound) {
			return mcp.NewToolResultError("Image not found. Please generate an image first."), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Analysis failed: %v", err)), nil
	}

	return mcp.NewToolResultText(out), nil
}

func analysisInstruction(analysisType string) string {
	return fmt.Sprintf(
		"Analyze this AI-generated image for: %s. If monetization: provide "+
			"viability (1-10), market value, licensing opportunities, legal "+
			"considerations, optimization tips, platforms, and SEO keywords. "+
			"Otherwise, provide the requested analysis.", analysisType)
}
