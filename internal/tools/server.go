package tools

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/pixelmint/pixelmint/internal/generation"
	"github.com/pixelmint/pixelmint/internal/hooks"
)

// Config wires the MCP server's collaborators.
type Config struct {
	Service *generation.Service
	Wallet  WalletReader
	Network string
	Hooks   *hooks.Registry
}

// NewMCPServer creates a configured MCP server with all PixelMint tools
// registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("pixelmint", "1.0.0")
	h := NewHandlers(cfg.Service, cfg.Wallet, cfg.Network)

	add := func(tool mcp.Tool, fn server.ToolHandlerFunc) {
		s.AddTool(tool, withHooks(cfg.Hooks, tool.Name, fn))
	}

	add(ToolEstimateImageCost, h.HandleEstimateImageCost)
	add(ToolCheckWalletBalance, h.HandleCheckWalletBalance)
	add(ToolMakePayment, h.HandleMakePayment)
	add(ToolGenerateImage, h.HandleGenerateImage)
	add(ToolAnalyzeImage, h.HandleAnalyzeImage)

	return s
}

// withHooks wraps a tool handler with lifecycle observation. Observers
// run outside the handler itself and never change its outcome.
func withHooks(reg *hooks.Registry, name string, next server.ToolHandlerFunc) server.ToolHandlerFunc {
	if reg == nil {
		return next
	}
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		call := hooks.ToolCall{
			Tool:      name,
			SessionID: req.GetString("session_id", ""),
			Args:      req.GetArguments(),
			StartedAt: time.Now(),
		}
		reg.ToolStart(ctx, call)

		result, err := next(ctx, req)

		outcome := hooks.ToolResult{
			ToolCall: call,
			Duration: time.Since(call.StartedAt),
		}
		switch {
		case err != nil:
			outcome.IsError = true
			outcome.Preview = hooks.Preview(err.Error())
		case result != nil:
			outcome.IsError = result.IsError
			outcome.Preview = hooks.Preview(firstText(result))
		}
		reg.ToolEnd(ctx, outcome)

		return result, err
	}
}

func firstText(result *mcp.CallToolResult) string {
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}
