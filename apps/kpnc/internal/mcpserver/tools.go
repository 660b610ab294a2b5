package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	kpnc "github.com/slush-dev/kpnc"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func (g *KPNCMCPServer) registerTools() {
	// External actions
	g.server.AddTool(getInfoTool(), g.handleGetInfo)
	g.server.AddTool(startWatchingPostTool(), g.handleStartWatchingPost)

	// Account tools
	g.server.AddTool(loginTool(), g.handleLogin)
	g.server.AddTool(updateTokenTool(), g.handleUpdateToken)
	g.server.AddTool(sendTestPushTool(), g.handleSendTestPush)

	// Listen tools
	g.server.AddTool(listenTool(), g.handleListen)
	g.server.AddTool(stopTool(), g.handleStop)
}

// decodeArgs unmarshals tool arguments, tolerating calls without any.
func decodeArgs(req *mcp.CallToolRequest, out any) error {
	if len(req.Params.Arguments) == 0 {
		return nil
	}
	return json.Unmarshal(req.Params.Arguments, out)
}

// --- External actions ---

func getInfoTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        kpnc.ActionGetInfo,
		Description: "Report the agent API version and whether the stored account is valid on its server instance.",
		InputSchema: json.RawMessage(`{"type": "object"}`),
	}
}

func (g *KPNCMCPServer) handleGetInfo(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res := g.deps.Actions.Handle(ctx, kpnc.ActionRequest{ID: uuid.New(), Action: kpnc.ActionGetInfo})
	return actionResult(res), nil
}

func startWatchingPostTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        kpnc.ActionStartWatchingPost,
		Description: "Ask the server to watch a post for replies on behalf of the stored account.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"post_url": {"type": "string", "description": "URL of the post to watch"}
			},
			"required": ["post_url"]
		}`),
	}
}

func (g *KPNCMCPServer) handleStartWatchingPost(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		PostURL string `json:"post_url"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	res := g.deps.Actions.Handle(ctx, kpnc.ActionRequest{
		ID:      uuid.New(),
		Action:  kpnc.ActionStartWatchingPost,
		PostURL: args.PostURL,
	})
	return actionResult(res), nil
}

// --- Account tools ---

func loginTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "login",
		Description: "Verify an account id against the server and remember it. The stored push token is re-registered for the account.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"account_id": {"type": "string", "description": "Account identifier (3 to 128 characters)"},
				"instance_address": {"type": "string", "description": "Base URL of the account's server instance (optional)"}
			},
			"required": ["account_id"]
		}`),
	}
}

func (g *KPNCMCPServer) handleLogin(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		AccountID       string `json:"account_id"`
		InstanceAddress string `json:"instance_address"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
	}

	info, err := g.deps.Agent.Login(ctx, g.deps.Client, args.AccountID, args.InstanceAddress)
	if err != nil {
		return errorResult(kpnc.UserMessage(err)), nil
	}
	g.server.ResourceUpdated(ctx, &mcp.ResourceUpdatedNotificationParams{URI: statusURI})

	result := map[string]any{"is_valid": info.IsValid}
	if info.HasExpiry() {
		result["valid_until"] = info.ValidUntil
	}
	return jsonResult(result)
}

func updateTokenTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "update_token",
		Description: "Store a new push registration token and register it with the server.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"token": {"type": "string", "description": "Push registration token"}
			},
			"required": ["token"]
		}`),
	}
}

func (g *KPNCMCPServer) handleUpdateToken(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Token string `json:"token"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.Token == "" {
		return errorResult("token is required"), nil
	}

	performed, err := g.deps.Agent.OnNewToken(ctx, args.Token)
	if err != nil {
		return errorResult(kpnc.UserMessage(err)), nil
	}
	g.server.ResourceUpdated(ctx, &mcp.ResourceUpdatedNotificationParams{URI: statusURI})
	return jsonResult(map[string]any{"performed": performed})
}

func sendTestPushTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "send_test_push",
		Description: "Re-register the stored token and ask the server to send a test push.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"account_id": {"type": "string", "description": "Account to push to (default: stored account)"}
			}
		}`),
	}
}

func (g *KPNCMCPServer) handleSendTestPush(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		AccountID string `json:"account_id"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if err := g.deps.Agent.SendTestPush(ctx, g.deps.Client, args.AccountID); err != nil {
		return errorResult(kpnc.UserMessage(err)), nil
	}
	return jsonResult(map[string]any{"success": true})
}
