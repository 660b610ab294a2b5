package ipc

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/philippseith/signalr"
	kpnc "github.com/slush-dev/kpnc"
)

// AgentHubPath is where the agent hub is mounted.
const AgentHubPath = "/kpnc"

// DefaultMessageWait bounds how long MessageReceived waits for the token
// update before giving up on a message.
const DefaultMessageWait = 60 * time.Second

// ServerOption configures Server.
type ServerOption func(*Server)

// WithServerLogger sets a custom logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMessageWait overrides DefaultMessageWait.
func WithMessageWait(d time.Duration) ServerOption {
	return func(s *Server) {
		s.messageWait = d
	}
}

// Server serves the agent hub over HTTP.
type Server struct {
	ctx         context.Context
	agent       *kpnc.Agent
	actions     *kpnc.ActionHandler
	logger      *slog.Logger
	messageWait time.Duration
	mux         *http.ServeMux
}

// NewServer builds the agent hub and mounts it at AgentHubPath. Hub
// connections live until ctx is done.
func NewServer(ctx context.Context, agent *kpnc.Agent, actions *kpnc.ActionHandler, opts ...ServerOption) (*Server, error) {
	s := &Server{
		ctx:         ctx,
		agent:       agent,
		actions:     actions,
		logger:      slog.Default(),
		messageWait: DefaultMessageWait,
		mux:         http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "agent_hub")

	hub, err := signalr.NewServer(ctx,
		signalr.HubFactory(func() signalr.HubInterface {
			return &AgentHub{srv: s}
		}),
		signalr.Logger(&slogAdapter{logger: s.logger}, false),
		signalr.KeepAliveInterval(15*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("creating SignalR server: %w", err)
	}
	hub.MapHTTP(signalr.WithHTTPServeMux(s.mux), AgentHubPath)
	return s, nil
}

// Handler returns the HTTP handler serving the hub.
func (s *Server) Handler() http.Handler { return s.mux }

// AgentHub is the SignalR hub exposed by the agent. A new value is created
// for every invocation; shared state lives in Server, and calls run under the
// context given to NewServer.
type AgentHub struct {
	signalr.Hub
	srv *Server
}

// NewToken reports whether this call performed the token update.
func (h *AgentHub) NewToken(token string) bool {
	performed, err := h.srv.agent.OnNewToken(h.srv.ctx, token)
	if err != nil {
		h.srv.logger.Warn("NewToken failed", "error", kpnc.LogValue(err))
	}
	return performed
}

// MessageReceived relays a push message once the token is up to date.
func (h *AgentHub) MessageReceived(messageID, data string) bool {
	ctx, cancel := context.WithTimeout(h.srv.ctx, h.srv.messageWait)
	defer cancel()
	if err := h.srv.agent.OnMessageReceived(ctx, messageID, data); err != nil {
		h.srv.logger.Warn("MessageReceived dropped", "message_id", messageID, "error", kpnc.LogValue(err))
		return false
	}
	return true
}

// GetInfo returns the get_info result document.
func (h *AgentHub) GetInfo() string {
	res := h.srv.actions.Handle(h.srv.ctx, kpnc.ActionRequest{ID: uuid.New(), Action: kpnc.ActionGetInfo})
	return string(res.Payload)
}

// StartWatchingPost returns the start_watching_post result document.
func (h *AgentHub) StartWatchingPost(postURL string) string {
	res := h.srv.actions.Handle(h.srv.ctx, kpnc.ActionRequest{ID: uuid.New(), Action: kpnc.ActionStartWatchingPost, PostURL: postURL})
	return string(res.Payload)
}
