package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	kpnc "github.com/slush-dev/kpnc"
	"github.com/slush-dev/kpnc/ipc"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// maxRecentReplies bounds the replies kept for the kpnc://replies resource.
const maxRecentReplies = 100

// Deps are the agent components exposed over MCP.
type Deps struct {
	Agent    *kpnc.Agent
	Client   *kpnc.Client
	Actions  *kpnc.ActionHandler
	Registry *ipc.Registry

	// ReceiverListen is the address the listen tool serves its receiver hub
	// on. Port 0 picks a free port.
	ReceiverListen string
}

// KPNCMCPServer wraps an MCP server exposing the KPNC agent as tools and
// resources.
type KPNCMCPServer struct {
	server *mcp.Server
	deps   Deps
	logger *slog.Logger

	listenMu     sync.Mutex
	listening    bool
	receiverName string
	httpServer   *http.Server
	cancelListen context.CancelFunc

	repliesMu sync.Mutex
	replies   []replyEvent
}

// New creates a KPNCMCPServer.
func New(deps Deps, version string, logger *slog.Logger) *KPNCMCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.ReceiverListen == "" {
		deps.ReceiverListen = "127.0.0.1:0"
	}

	s := mcp.NewServer(&mcp.Implementation{
		Name:    "kpnc",
		Version: version,
	}, &mcp.ServerOptions{
		SubscribeHandler:   func(context.Context, *mcp.SubscribeRequest) error { return nil },
		UnsubscribeHandler: func(context.Context, *mcp.UnsubscribeRequest) error { return nil },
	})

	g := &KPNCMCPServer{
		server: s,
		deps:   deps,
		logger: logger,
	}

	g.registerResources()
	g.registerTools()

	return g
}

// Run starts the MCP server on stdio and blocks until done.
func (g *KPNCMCPServer) Run(ctx context.Context) error {
	defer g.stopListening()
	return g.server.Run(ctx, &mcp.StdioTransport{})
}

// RunWithTransport starts the MCP server on a custom transport (for testing).
func (g *KPNCMCPServer) RunWithTransport(ctx context.Context, t mcp.Transport) error {
	_, err := g.server.Connect(ctx, t, nil)
	return err
}

// jsonResult marshals v to JSON and returns it as a text CallToolResult.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}, nil
}

// errorResult returns a CallToolResult with IsError=true.
func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}

// actionResult renders an external action result. The payload already is
// the {data, error} document consumers expect.
func actionResult(res kpnc.ActionResult) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(res.Payload)},
		},
		IsError: res.Err != nil,
	}
}
