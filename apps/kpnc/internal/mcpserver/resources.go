package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	kpnc "github.com/slush-dev/kpnc"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	statusURI    = "kpnc://status"
	receiversURI = "kpnc://receivers"
	repliesURI   = "kpnc://replies"
)

func (g *KPNCMCPServer) registerResources() {
	g.server.AddResource(&mcp.Resource{
		URI:         statusURI,
		Name:        "Agent Status",
		Description: "Stored account, token update state and listening state",
		MIMEType:    "application/json",
	}, g.handleStatusResource)

	g.server.AddResource(&mcp.Resource{
		URI:         receiversURI,
		Name:        "Receivers",
		Description: "Processes registered to receive reply notifications",
		MIMEType:    "application/json",
	}, g.handleReceiversResource)

	g.server.AddResource(&mcp.Resource{
		URI:         repliesURI,
		Name:        "Recent Replies",
		Description: "Reply notifications received since listen was called",
		MIMEType:    "application/json",
	}, g.handleRepliesResource)
}

func (g *KPNCMCPServer) handleStatusResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	store := g.deps.Agent.Store()
	userID, err := store.Get(ctx, kpnc.KeyUserID)
	if err != nil {
		return nil, err
	}
	instance, err := store.Get(ctx, kpnc.KeyInstanceAddress)
	if err != nil {
		return nil, err
	}
	token, err := store.Get(ctx, kpnc.KeyToken)
	if err != nil {
		return nil, err
	}

	g.listenMu.Lock()
	listening := g.listening
	receiver := g.receiverName
	g.listenMu.Unlock()

	updater := g.deps.Agent.Updater()
	status := map[string]any{
		"logged_in":         kpnc.IsAccountIDValid(userID),
		"has_token":         token != "",
		"token_updated":     updater.Updated(),
		"update_in_flight":  updater.InFlight(),
		"update_generation": updater.Generation(),
		"listening":         listening,
		"server_base_url":   string(g.deps.Client.Endpoints()),
		"app_api_version":   kpnc.AppAPIVersion,
		"instance_address":  instance,
		"relay_subscribers": g.deps.Agent.Relay().Subscribers(),
	}
	if userID != "" {
		status["user_id"] = userID
	}
	if listening {
		status["receiver_name"] = receiver
	}
	return jsonResource(req.Params.URI, status)
}

func (g *KPNCMCPServer) handleReceiversResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	targets := []kpnc.ReceiverTarget{}
	if g.deps.Registry != nil {
		list, err := g.deps.Registry.List(ctx)
		if err != nil {
			return nil, err
		}
		if list != nil {
			targets = list
		}
	}
	return jsonResource(req.Params.URI, map[string]any{"receivers": targets})
}

func (g *KPNCMCPServer) handleRepliesResource(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	g.repliesMu.Lock()
	replies := make([]replyEvent, len(g.replies))
	copy(replies, g.replies)
	g.repliesMu.Unlock()

	return jsonResource(req.Params.URI, map[string]any{"replies": replies})
}

// jsonResource marshals v to JSON and wraps it in a ReadResourceResult.
func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling resource: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}
