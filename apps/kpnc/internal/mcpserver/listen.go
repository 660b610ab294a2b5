package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	kpnc "github.com/slush-dev/kpnc"
	"github.com/slush-dev/kpnc/ipc"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type replyEvent struct {
	ReceivedAt   time.Time `json:"received_at"`
	NewReplyURLs []string  `json:"new_reply_urls"`
}

func listenTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "listen",
		Description: "Register as a reply receiver with the agent. Returns immediately; replies arrive as kpnc://replies resource updates.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {"type": "string", "description": "Receiver name in the registry (default: mcp-<pid>)"}
			}
		}`),
	}
}

func (g *KPNCMCPServer) handleListen(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if g.deps.Registry == nil {
		return errorResult("receiver registry is not configured"), nil
	}

	var args struct {
		Name string `json:"name"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.Name == "" {
		args.Name = fmt.Sprintf("mcp-%d", os.Getpid())
	}

	g.listenMu.Lock()
	defer g.listenMu.Unlock()
	if g.listening {
		return jsonResult(map[string]any{"listening": true, "name": g.receiverName, "message": "already listening"})
	}

	hubURL, err := g.startReceiver(args.Name)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	g.server.ResourceUpdated(ctx, &mcp.ResourceUpdatedNotificationParams{URI: statusURI})
	return jsonResult(map[string]any{"listening": true, "name": args.Name, "hub_url": hubURL})
}

// startReceiver serves a receiver hub and registers it. listenMu must be held.
func (g *KPNCMCPServer) startReceiver(name string) (string, error) {
	listenCtx, cancel := context.WithCancel(context.Background())
	handler, err := ipc.NewReceiverHandler(listenCtx, g.onReplies, g.logger)
	if err != nil {
		cancel()
		return "", err
	}

	ln, err := net.Listen("tcp", g.deps.ReceiverListen)
	if err != nil {
		cancel()
		return "", fmt.Errorf("listening on %s: %w", g.deps.ReceiverListen, err)
	}
	hubURL := "http://" + ln.Addr().String() + ipc.ReceiverHubPath

	srv := &http.Server{Handler: handler}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("Receiver hub stopped", "error", err)
		}
	}()

	target := kpnc.ReceiverTarget{
		Name:    name,
		HubURL:  hubURL,
		Actions: []string{kpnc.ActionNewRepliesReceived},
		PID:     os.Getpid(),
	}
	if err := g.deps.Registry.Register(target); err != nil {
		srv.Close()
		cancel()
		return "", err
	}

	g.listening = true
	g.receiverName = name
	g.httpServer = srv
	g.cancelListen = cancel
	g.logger.Debug("Listening for replies", "name", name, "hub_url", hubURL)
	return hubURL, nil
}

func (g *KPNCMCPServer) onReplies(urls []string) bool {
	ev := replyEvent{ReceivedAt: time.Now().UTC(), NewReplyURLs: urls}

	g.repliesMu.Lock()
	g.replies = append(g.replies, ev)
	if len(g.replies) > maxRecentReplies {
		g.replies = g.replies[len(g.replies)-maxRecentReplies:]
	}
	g.repliesMu.Unlock()

	g.server.ResourceUpdated(context.Background(), &mcp.ResourceUpdatedNotificationParams{
		URI: repliesURI,
		Meta: mcp.Meta{
			"type":           "new_replies",
			"new_reply_urls": urls,
		},
	})
	return true
}

func stopTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "stop",
		Description: "Stop receiving reply notifications and unregister the receiver.",
		InputSchema: json.RawMessage(`{"type": "object"}`),
	}
}

func (g *KPNCMCPServer) handleStop(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !g.stopListening() {
		return jsonResult(map[string]any{"listening": false, "message": "not listening"})
	}
	g.server.ResourceUpdated(ctx, &mcp.ResourceUpdatedNotificationParams{URI: statusURI})
	return jsonResult(map[string]any{"listening": false})
}

// stopListening tears down the receiver hub. It reports whether one was
// running.
func (g *KPNCMCPServer) stopListening() bool {
	g.listenMu.Lock()
	defer g.listenMu.Unlock()
	if !g.listening {
		return false
	}

	if err := g.deps.Registry.Unregister(g.receiverName); err != nil {
		g.logger.Warn("Failed to unregister receiver", "name", g.receiverName, "error", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.httpServer.Shutdown(ctx); err != nil {
		g.httpServer.Close()
	}
	g.cancelListen()

	g.listening = false
	g.receiverName = ""
	g.httpServer = nil
	g.cancelListen = nil
	return true
}
