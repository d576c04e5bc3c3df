package tools

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the PixelMint MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolEstimateImageCost = mcp.NewTool("estimate_image_cost",
	mcp.WithDescription(
		"Estimate the cost to generate an image with Nova Canvas. "+
			"Returns a fixed USDC price and a request ID. The price is frozen: "+
			"later payment and generation always use this amount. "+
			"Call this before make_payment or generate_image."),
	mcp.WithString("prompt",
		mcp.Required(),
		mcp.Description("Description of the image to generate")),
	mcp.WithString("resolution",
		mcp.Description("Image resolution (default '1024x1024')"),
		mcp.Enum("1024x1024", "2048x2048")),
	mcp.WithString("quality",
		mcp.Description("Image quality tier (default 'standard')"),
		mcp.Enum("standard", "premium")),
	mcp.WithString("session_id",
		mcp.Description("Session to scope the request to (default 'default')")),
)

var ToolCheckWalletBalance = mcp.NewTool("check_wallet_balance",
	mcp.WithDescription(
		"Check the agent's wallet balances (ETH and USDC) on base-sepolia."),
	mcp.WithString("session_id",
		mcp.Description("Session identifier (default 'default')")),
)

var ToolMakePayment = mcp.NewTool("make_payment",
	mcp.WithDescription(
		"Authorize payment for a pending image request. This is a consent "+
			"gate: it checks your USDC balance and marks the request as approved. "+
			"No funds move until after the image is delivered."),
	mcp.WithString("request_id",
		mcp.Description("Request ID from estimate_image_cost. Defaults to the session's active request.")),
	mcp.WithString("session_id",
		mcp.Description("Session identifier (default 'default')")),
)

var ToolGenerateImage = mcp.NewTool("generate_image",
	mcp.WithDescription(
		"Generate an image using Amazon Nova Canvas with x402 automatic payment. "+
			"Requires an authorized request (estimate_image_cost, then make_payment). "+
			"Returns the image and its ID; payment settles after delivery."),
	mcp.WithString("request_id",
		mcp.Description("Request ID from estimate_image_cost. Defaults to the session's active request.")),
	mcp.WithString("session_id",
		mcp.Description("Session identifier (default 'default')")),
)

var ToolAnalyzeImage = mcp.NewTool("analyze_image",
	mcp.WithDescription(
		"Analyze a generated image with Claude vision. ONLY use when the user "+
			"explicitly asks for analysis, a description, a poem, or similar. "+
			"Do not call automatically after generation."),
	mcp.WithString("image_id",
		mcp.Required(),
		mcp.Description("ID of the generated image (accepts 'IMAGE_ID:<id>' or bare '<id>')")),
	mcp.WithString("analysis_type",
		mcp.Description("Type of analysis: 'monetization', 'description', 'poem', or free text (default 'monetization')")),
	mcp.WithString("session_id",
		mcp.Description("Session identifier (default 'default')")),
)
