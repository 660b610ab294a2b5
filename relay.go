package kpnc

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// maxDedupEntries bounds the relay's set of recently seen message ids.
const maxDedupEntries = 1000

// InboundMessage is a push message accepted by the relay.
type InboundMessage struct {
	MessageID string
	Body      string
}

// RelayEvent is the decoded form of an InboundMessage body.
type RelayEvent struct {
	MessageID    string
	NewReplyURLs []string
}

// DecodeRelayEvent decodes msg.Body as {"new_reply_urls":[...]}.
func DecodeRelayEvent(msg InboundMessage) (RelayEvent, error) {
	var body NewRepliesMessage
	if err := json.Unmarshal([]byte(msg.Body), &body); err != nil {
		return RelayEvent{}, &MalformedResponseError{What: "push message " + msg.MessageID, Err: err}
	}
	return RelayEvent{MessageID: msg.MessageID, NewReplyURLs: body.NewReplyURLs}, nil
}

// RelayOption configures Relay.
type RelayOption func(*Relay)

// WithRelayLogger sets a custom logger for Relay.
func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) {
		r.logger = logger
	}
}

// Relay broadcasts inbound push messages to every current subscriber.
// Messages are not retained: a subscriber only sees what is published after
// it subscribed.
type Relay struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[uuid.UUID]*Subscription

	isDuplicate func(string) bool
}

// NewRelay creates an empty Relay.
func NewRelay(opts ...RelayOption) *Relay {
	r := &Relay{
		logger: slog.Default(),
		subs:   make(map[uuid.UUID]*Subscription),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.isDuplicate = newMessageDeduper(maxDedupEntries)
	return r
}

// OnMessageReceived validates and publishes a push message. It never blocks.
func (r *Relay) OnMessageReceived(messageID, body string) {
	if messageID == "" {
		r.logger.Error("onMessageReceived() messageId is empty")
		return
	}
	if body == "" {
		r.logger.Error("onMessageReceived() message body is empty", "message_id", messageID)
		return
	}
	if r.isDuplicate(messageID) {
		r.logger.Debug("onMessageReceived() duplicate message dropped", "message_id", messageID)
		return
	}

	msg := InboundMessage{MessageID: messageID, Body: body}

	r.mu.RLock()
	defer r.mu.RUnlock()
	r.logger.Debug("onMessageReceived()", "message_id", messageID, "subscribers", len(r.subs))
	for _, sub := range r.subs {
		sub.push(msg)
	}
}

// Subscribe attaches a new subscriber. Callers must Close it when done.
func (r *Relay) Subscribe() *Subscription {
	sub := &Subscription{
		id:     uuid.New(),
		relay:  r,
		ch:     make(chan InboundMessage),
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}

	r.mu.Lock()
	r.subs[sub.id] = sub
	r.mu.Unlock()

	go sub.pump()
	return sub
}

// Subscribers returns the number of attached subscribers.
func (r *Relay) Subscribers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

func (r *Relay) remove(id uuid.UUID) {
	r.mu.Lock()
	delete(r.subs, id)
	r.mu.Unlock()
}

// Subscription receives relay messages in publish order. Its queue is
// unbounded so that publishing never waits for a slow consumer.
type Subscription struct {
	id    uuid.UUID
	relay *Relay
	ch    chan InboundMessage

	mu    sync.Mutex
	queue []InboundMessage
	wake  chan struct{}

	closed    chan struct{}
	closeOnce sync.Once
}

// ID returns the subscriber id.
func (s *Subscription) ID() uuid.UUID { return s.id }

// C returns the delivery channel. It is closed after Close.
func (s *Subscription) C() <-chan InboundMessage { return s.ch }

// Close detaches the subscriber and discards undelivered messages.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.relay.remove(s.id)
		close(s.closed)
	})
}

func (s *Subscription) push(msg InboundMessage) {
	s.mu.Lock()
	s.queue = append(s.queue, msg)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.ch)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.closed:
				return
			}
		}
		msg := s.queue[0]
		s.queue[0] = InboundMessage{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.ch <- msg:
		case <-s.closed:
			return
		}
	}
}

// newMessageDeduper returns a check that reports whether an id was seen
// before. The set is cleared once it reaches limit entries.
func newMessageDeduper(limit int) func(string) bool {
	var mu sync.Mutex
	seen := make(map[string]struct{})

	return func(msgID string) bool {
		if msgID == "" {
			return false
		}
		mu.Lock()
		defer mu.Unlock()
		if _, exists := seen[msgID]; exists {
			return true
		}
		if len(seen) >= limit {
			seen = make(map[string]struct{})
		}
		seen[msgID] = struct{}{}
		return false
	}
}
