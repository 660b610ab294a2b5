package ipc

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/philippseith/signalr"
)

// ReceiverHubPath is where a receiver hub is mounted.
const ReceiverHubPath = "/receiver"

// RepliesFunc consumes a reply notification and reports whether it was
// accepted.
type RepliesFunc func(urls []string) bool

// ReceiverHub is the hub a consumer process serves to get reply
// notifications from the agent.
type ReceiverHub struct {
	signalr.Hub
	onReplies RepliesFunc
}

// OnNewRepliesReceived is invoked by the agent's notifier.
func (h *ReceiverHub) OnNewRepliesReceived(urls []string) bool {
	if h.onReplies == nil {
		return false
	}
	return h.onReplies(urls)
}

// NewReceiverHandler returns an HTTP handler serving a ReceiverHub at
// ReceiverHubPath.
func NewReceiverHandler(ctx context.Context, onReplies RepliesFunc, logger *slog.Logger) (http.Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	server, err := signalr.NewServer(ctx,
		signalr.HubFactory(func() signalr.HubInterface {
			return &ReceiverHub{onReplies: onReplies}
		}),
		signalr.Logger(&slogAdapter{logger: logger.With("component", "receiver_hub")}, false),
		signalr.KeepAliveInterval(15*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("creating SignalR server: %w", err)
	}
	mux := http.NewServeMux()
	server.MapHTTP(signalr.WithHTTPServeMux(mux), ReceiverHubPath)
	return mux, nil
}
