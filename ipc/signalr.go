package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/philippseith/signalr"
	kpnc "github.com/slush-dev/kpnc"
)

// Hub method names.
const (
	MethodOnNewRepliesReceived = "OnNewRepliesReceived"
	MethodNewToken             = "NewToken"
	MethodMessageReceived      = "MessageReceived"
	MethodGetInfo              = "GetInfo"
	MethodStartWatchingPost    = "StartWatchingPost"
)

// DefaultConnectTimeout bounds establishing a hub connection.
const DefaultConnectTimeout = 5 * time.Second

// ErrRejected is returned when a receiver answers a notification with false.
var ErrRejected = errors.New("receiver rejected notification")

// slogAdapter adapts slog.Logger to the SignalR library's go-kit/log interface.
// The library emits flat key-value pairs: "level", "debug", "ts", "...", "state", 1
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Log(keyVals ...interface{}) error {
	if len(keyVals) == 0 {
		return nil
	}
	var attrs []any
	for i := 0; i+1 < len(keyVals); i += 2 {
		key := fmt.Sprint(keyVals[i])
		if key == "level" || key == "ts" || key == "caller" {
			continue
		}
		attrs = append(attrs, key, keyVals[i+1])
	}
	a.logger.Debug("signalr", attrs...)
	return nil
}

// dial connects a SignalR client to hubURL and waits until it is connected.
// The caller must Stop the returned client.
func dial(ctx context.Context, hubURL string, timeout time.Duration, logger *slog.Logger) (signalr.Client, error) {
	client, err := signalr.NewClient(ctx,
		signalr.WithConnector(func() (signalr.Connection, error) {
			return signalr.NewHTTPConnection(ctx, hubURL)
		}),
		signalr.Logger(&slogAdapter{logger: logger}, false),
	)
	if err != nil {
		return nil, fmt.Errorf("creating SignalR client: %w", err)
	}

	client.Start()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := <-client.WaitForState(waitCtx, signalr.ClientConnected); err != nil {
		client.Stop()
		return nil, fmt.Errorf("connecting to %s: %w", hubURL, err)
	}
	return client, nil
}

// invoke calls method and waits for its result or ctx.
func invoke(ctx context.Context, client signalr.Client, method string, args ...interface{}) (interface{}, error) {
	select {
	case result := <-client.Invoke(method, args...):
		if result.Error != nil {
			return nil, fmt.Errorf("invoking %s: %w", method, result.Error)
		}
		return result.Value, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// decodeValue converts a loosely typed invocation result into out.
func decodeValue(v interface{}, out any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// SignalRDelivererOption configures SignalRDeliverer.
type SignalRDelivererOption func(*SignalRDeliverer)

// WithDelivererLogger sets a custom logger.
func WithDelivererLogger(logger *slog.Logger) SignalRDelivererOption {
	return func(d *SignalRDeliverer) {
		d.logger = logger
	}
}

// WithConnectTimeout overrides DefaultConnectTimeout.
func WithConnectTimeout(timeout time.Duration) SignalRDelivererOption {
	return func(d *SignalRDeliverer) {
		d.connectTimeout = timeout
	}
}

// SignalRDeliverer delivers notifications by invoking OnNewRepliesReceived
// on the receiver's hub. Each delivery uses its own connection.
type SignalRDeliverer struct {
	logger         *slog.Logger
	connectTimeout time.Duration
}

// NewSignalRDeliverer creates a SignalRDeliverer.
func NewSignalRDeliverer(opts ...SignalRDelivererOption) *SignalRDeliverer {
	d := &SignalRDeliverer{
		logger:         slog.Default(),
		connectTimeout: DefaultConnectTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deliver invokes the receiver and waits for its answer. A receiver that
// answers false yields ErrRejected.
func (d *SignalRDeliverer) Deliver(ctx context.Context, target kpnc.ReceiverTarget, signal kpnc.Signal) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.logger.Debug("Delivering", "receiver", target.Name, "hub_url", target.HubURL, "urls", len(signal.PostURLs))
	client, err := dial(ctx, target.HubURL, d.connectTimeout, d.logger)
	if err != nil {
		return err
	}
	defer client.Stop()

	value, err := invoke(ctx, client, MethodOnNewRepliesReceived, signal.PostURLs)
	if err != nil {
		return err
	}
	var accepted bool
	if err := decodeValue(value, &accepted); err != nil {
		return &kpnc.MalformedResponseError{What: "receiver answer", Err: err}
	}
	if !accepted {
		return ErrRejected
	}
	return nil
}

// AgentClient calls a running agent's hub.
type AgentClient struct {
	client signalr.Client
	cancel context.CancelFunc
}

// DialAgent connects to the agent hub at hubURL.
func DialAgent(ctx context.Context, hubURL string, logger *slog.Logger) (*AgentClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	client, err := dial(ctx, hubURL, DefaultConnectTimeout, logger)
	if err != nil {
		cancel()
		return nil, err
	}
	return &AgentClient{client: client, cancel: cancel}, nil
}

// Close disconnects from the agent.
func (c *AgentClient) Close() {
	c.client.Stop()
	c.cancel()
}

func (c *AgentClient) invokeBool(ctx context.Context, method string, args ...interface{}) (bool, error) {
	value, err := invoke(ctx, c.client, method, args...)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := decodeValue(value, &ok); err != nil {
		return false, &kpnc.MalformedResponseError{What: method + " result", Err: err}
	}
	return ok, nil
}

func (c *AgentClient) invokeResult(ctx context.Context, method string, args ...interface{}) (*kpnc.GenericResult, error) {
	value, err := invoke(ctx, c.client, method, args...)
	if err != nil {
		return nil, err
	}
	var raw string
	if err := decodeValue(value, &raw); err != nil {
		return nil, &kpnc.MalformedResponseError{What: method + " result", Err: err}
	}
	var result kpnc.GenericResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, &kpnc.MalformedResponseError{What: method + " result", Err: err}
	}
	return &result, nil
}

// NewToken hands a rotated registration token to the agent.
func (c *AgentClient) NewToken(ctx context.Context, token string) (bool, error) {
	return c.invokeBool(ctx, MethodNewToken, token)
}

// MessageReceived hands a push message to the agent.
func (c *AgentClient) MessageReceived(ctx context.Context, messageID, data string) (bool, error) {
	return c.invokeBool(ctx, MethodMessageReceived, messageID, data)
}

// GetInfo runs the get_info action on the agent.
func (c *AgentClient) GetInfo(ctx context.Context) (*kpnc.GenericResult, error) {
	return c.invokeResult(ctx, MethodGetInfo)
}

// StartWatchingPost runs the start_watching_post action on the agent.
func (c *AgentClient) StartWatchingPost(ctx context.Context, postURL string) (*kpnc.GenericResult, error) {
	return c.invokeResult(ctx, MethodStartWatchingPost, postURL)
}
