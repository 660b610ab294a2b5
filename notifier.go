package kpnc

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ActionNewRepliesReceived is the action carried by reply notifications.
const ActionNewRepliesReceived = "new_replies_received"

// DefaultDeliveryTimeout bounds one NotifyReplies dispatch.
const DefaultDeliveryTimeout = 30 * time.Second

// ReceiverTarget is a local process that accepts notifications.
type ReceiverTarget struct {
	Name    string   `json:"name"`
	HubURL  string   `json:"hub_url"`
	Actions []string `json:"actions"`
	PID     int      `json:"pid,omitempty"`
}

// Accepts reports whether the target declared action.
func (t ReceiverTarget) Accepts(action string) bool {
	for _, a := range t.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// Signal is the payload delivered to a receiver.
type Signal struct {
	Action   string   `json:"action"`
	PostURLs []string `json:"new_reply_urls"`
}

// Discovery finds the receivers that accept an action.
type Discovery interface {
	Discover(ctx context.Context, action string) ([]ReceiverTarget, error)
}

// Deliverer sends a Signal to one receiver.
type Deliverer interface {
	Deliver(ctx context.Context, target ReceiverTarget, signal Signal) error
}

// DeliveryOutcome is the result of delivering to one receiver.
type DeliveryOutcome struct {
	Target ReceiverTarget
	Err    error
}

// NotifyReport summarizes one NotifyReplies call.
type NotifyReport struct {
	NoRecipients bool
	Outcomes     []DeliveryOutcome
}

// Delivered returns the number of receivers that accepted the signal.
func (r NotifyReport) Delivered() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err == nil {
			n++
		}
	}
	return n
}

// NotifierOption configures Notifier.
type NotifierOption func(*Notifier)

// WithDeliveryTimeout overrides DefaultDeliveryTimeout.
func WithDeliveryTimeout(d time.Duration) NotifierOption {
	return func(n *Notifier) {
		n.timeout = d
	}
}

// WithNotifierLogger sets a custom logger for Notifier.
func WithNotifierLogger(logger *slog.Logger) NotifierOption {
	return func(n *Notifier) {
		n.logger = logger
	}
}

// Notifier tells local receivers about new replies. Receivers are
// rediscovered on every call and each one is addressed explicitly.
type Notifier struct {
	discovery Discovery
	deliverer Deliverer
	timeout   time.Duration
	logger    *slog.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(discovery Discovery, deliverer Deliverer, opts ...NotifierOption) *Notifier {
	n := &Notifier{
		discovery: discovery,
		deliverer: deliverer,
		timeout:   DefaultDeliveryTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NotifyReplies delivers urls to every receiver accepting
// ActionNewRepliesReceived. Per-receiver failures are recorded in the report
// and logged; only a discovery failure is returned. Having no receivers is
// not an error.
func (n *Notifier) NotifyReplies(ctx context.Context, urls []string) (NotifyReport, error) {
	var report NotifyReport
	if len(urls) == 0 {
		return report, nil
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	signal := Signal{Action: ActionNewRepliesReceived, PostURLs: urls}

	targets, err := n.discovery.Discover(ctx, signal.Action)
	if err != nil {
		return report, fmt.Errorf("discovering receivers: %w", err)
	}
	if len(targets) == 0 {
		n.logger.Debug("notifyReplies() no receivers", "urls", len(urls))
		report.NoRecipients = true
		return report, nil
	}

	for _, target := range targets {
		err := n.deliver(ctx, target, signal)
		report.Outcomes = append(report.Outcomes, DeliveryOutcome{Target: target, Err: err})
		if err != nil {
			if IsImportant(err) {
				n.logger.Error("notifyReplies() delivery failed", "receiver", target.Name, "error", LogValue(err))
			} else {
				n.logger.Warn("notifyReplies() delivery failed", "receiver", target.Name, "error", LogValue(err))
			}
			continue
		}
		n.logger.Debug("notifyReplies() delivered", "receiver", target.Name, "urls", len(urls))
	}
	return report, nil
}

// deliver waits for one receiver until ctx expires. A deliverer that ignores
// ctx is abandoned rather than waited for.
func (n *Notifier) deliver(ctx context.Context, target ReceiverTarget, signal Signal) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("receiver %s panicked: %v", target.Name, r)
			}
		}()
		result <- n.deliverer.Deliver(ctx, target, signal)
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run forwards relay events to receivers until ctx is done.
func (n *Notifier) Run(ctx context.Context, relay *Relay) error {
	sub := relay.Subscribe()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub.C():
			if !ok {
				return nil
			}
			ev, err := DecodeRelayEvent(msg)
			if err != nil {
				n.logger.Error("Failed to decode push message", "message_id", msg.MessageID, "error", err)
				continue
			}
			if _, err := n.NotifyReplies(ctx, ev.NewReplyURLs); err != nil {
				n.logger.Error("Failed to notify receivers", "message_id", msg.MessageID, "error", LogValue(err))
			}
		}
	}
}
