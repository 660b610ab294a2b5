package kpnc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// External actions accepted from consumer applications.
const (
	ActionGetInfo           = "get_info"
	ActionStartWatchingPost = "start_watching_post"
)

// DefaultActionTimeout bounds the work done for one external action.
const DefaultActionTimeout = 30 * time.Second

// ActionState is the lifecycle position of an external action request.
type ActionState int

const (
	StateReceived ActionState = iota
	StateDispatched
	StateResultComposed
	StateFinalized
)

func (s ActionState) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateDispatched:
		return "dispatched"
	case StateResultComposed:
		return "result_composed"
	case StateFinalized:
		return "finalized"
	}
	return fmt.Sprintf("ActionState(%d)", int(s))
}

// ActionRequest is an external action sent by a consumer application.
type ActionRequest struct {
	ID      uuid.UUID
	Action  string
	PostURL string
}

// ActionResult is what the consumer gets back. Payload is a GenericResult
// JSON document.
type ActionResult struct {
	ID      uuid.UUID
	Action  string
	State   ActionState
	Payload json.RawMessage
	Err     error
}

// ActionFunc performs one action and returns the value placed in the data
// field of the result.
type ActionFunc func(ctx context.Context, req ActionRequest) (any, error)

// ActionHandlerOption configures ActionHandler.
type ActionHandlerOption func(*ActionHandler)

// WithActionTimeout overrides DefaultActionTimeout.
func WithActionTimeout(d time.Duration) ActionHandlerOption {
	return func(h *ActionHandler) {
		h.timeout = d
	}
}

// WithActionFunc registers or replaces the implementation of action.
func WithActionFunc(action string, fn ActionFunc) ActionHandlerOption {
	return func(h *ActionHandler) {
		h.actions[action] = fn
	}
}

// WithActionLogger sets a custom logger for ActionHandler.
func WithActionLogger(logger *slog.Logger) ActionHandlerOption {
	return func(h *ActionHandler) {
		h.logger = logger
	}
}

// ActionHandler answers external action requests. Every request is
// finalized exactly once, whether the action succeeds, fails, panics, times
// out or is unknown.
type ActionHandler struct {
	store   Store
	client  *Client
	timeout time.Duration
	logger  *slog.Logger
	actions map[string]ActionFunc
}

// NewActionHandler creates an ActionHandler serving get_info and
// start_watching_post.
func NewActionHandler(store Store, client *Client, opts ...ActionHandlerOption) *ActionHandler {
	h := &ActionHandler{
		store:   store,
		client:  client,
		timeout: DefaultActionTimeout,
		logger:  slog.Default(),
	}
	h.actions = map[string]ActionFunc{
		ActionGetInfo:           h.getInfo,
		ActionStartWatchingPost: h.startWatchingPost,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Supports reports whether action has an implementation.
func (h *ActionHandler) Supports(action string) bool {
	_, ok := h.actions[action]
	return ok
}

// Handle runs req and returns its finalized result.
func (h *ActionHandler) Handle(ctx context.Context, req ActionRequest) (res ActionResult) {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	res = ActionResult{ID: req.ID, Action: req.Action, State: StateReceived}
	logger := h.logger.With("action", req.Action, "request_id", req.ID)

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("action %s panicked: %v", req.Action, r)
			res.Payload = composeResult(nil, res.Err)
		}
		res.State = StateFinalized
		if res.Err != nil && IsImportant(res.Err) {
			logger.Error("Action finished with error", "error", LogValue(res.Err))
		} else {
			logger.Debug("Action finished", "error", LogValue(res.Err))
		}
	}()

	fn, ok := h.actions[req.Action]
	if !ok {
		logger.Debug("Unknown action")
		res.Err = fmt.Errorf("%w: %s", ErrUnsupported, req.Action)
		res.Payload = composeResult(nil, res.Err)
		res.State = StateResultComposed
		return res
	}

	res.State = StateDispatched
	data, err := h.dispatch(ctx, fn, req)
	res.Err = err
	res.Payload = composeResult(data, err)
	res.State = StateResultComposed
	return res
}

type actionOutcome struct {
	data any
	err  error
}

// dispatch runs fn under the action timeout. An fn that outlives the timeout
// is abandoned.
func (h *ActionHandler) dispatch(ctx context.Context, fn ActionFunc, req ActionRequest) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	done := make(chan actionOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- actionOutcome{err: fmt.Errorf("action %s panicked: %v", req.Action, r)}
			}
		}()
		data, err := fn(ctx, req)
		done <- actionOutcome{data: data, err: err}
	}()

	select {
	case out := <-done:
		return out.data, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func composeResult(data any, err error) json.RawMessage {
	var result GenericResult
	if err != nil {
		result.Error = UserMessage(err)
	} else if data != nil {
		raw, merr := json.Marshal(data)
		if merr != nil {
			result.Error = UserMessage(merr)
		} else {
			result.Data = raw
		}
	}
	out, _ := json.Marshal(result)
	return out
}

func (h *ActionHandler) getInfo(ctx context.Context, _ ActionRequest) (any, error) {
	userID, err := h.store.Get(ctx, KeyUserID)
	if err != nil {
		return nil, fmt.Errorf("reading account id: %w", err)
	}
	instance, err := h.store.Get(ctx, KeyInstanceAddress)
	if err != nil {
		return nil, fmt.Errorf("reading instance address: %w", err)
	}

	info := InfoResult{AppAPIVersion: AppAPIVersion}
	if !IsAccountIDValid(userID) || strings.TrimSpace(instance) == "" {
		h.logger.Debug("getInfo() account id or instance address not set")
		return info, nil
	}

	_, err = h.client.ForInstance(instance).FetchAccountStatus(ctx, userID)
	switch {
	case err == nil:
		info.IsAccountValid = true
	case errors.Is(err, ErrAccountInvalid):
	default:
		return nil, err
	}
	h.logger.Debug("getInfo() success", "is_valid", info.IsAccountValid)
	return info, nil
}

func (h *ActionHandler) startWatchingPost(ctx context.Context, req ActionRequest) (any, error) {
	if strings.TrimSpace(req.PostURL) == "" {
		return nil, errors.New("post url was not provided")
	}
	userID, err := h.store.Get(ctx, KeyUserID)
	if err != nil {
		return nil, fmt.Errorf("reading account id: %w", err)
	}
	if strings.TrimSpace(userID) == "" {
		return nil, ErrMissingIdentifier
	}
	if err := h.client.WatchPost(ctx, userID, req.PostURL); err != nil {
		return nil, err
	}
	return DefaultSuccessResponse{Success: true}, nil
}
