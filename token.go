package kpnc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// TokenRegistrar sends a registration token to the server.
type TokenRegistrar interface {
	RegisterToken(ctx context.Context, accountID, token string) error
}

// TokenUpdaterOption configures TokenUpdater.
type TokenUpdaterOption func(*TokenUpdater)

// WithUpdaterLogger sets a custom logger for TokenUpdater.
func WithUpdaterLogger(logger *slog.Logger) TokenUpdaterOption {
	return func(u *TokenUpdater) {
		u.logger = logger
	}
}

// updateCycle is the future shared by every caller of one token update.
type updateCycle struct {
	done      chan struct{}
	performed bool
	err       error
}

// TokenUpdater pushes the registration token to the server with at most one
// update in flight. Callers arriving during an update wait for it and share
// its outcome instead of issuing a second request.
//
// Each generation has a latch that opens when its first update completes and
// stays open until Reset starts a new generation. Message handling waits on
// the latch so that pushes are only processed once the server knows the
// current token.
type TokenUpdater struct {
	store     Store
	registrar TokenRegistrar
	logger    *slog.Logger

	// mu guards every field below; inflight and latch always change together.
	mu         sync.Mutex
	inflight   *updateCycle
	latch      chan struct{}
	latchOpen  bool
	generation uint64
}

// NewTokenUpdater creates a TokenUpdater. The store supplies the account id
// when a caller does not pass one.
func NewTokenUpdater(store Store, registrar TokenRegistrar, opts ...TokenUpdaterOption) *TokenUpdater {
	u := &TokenUpdater{
		store:     store,
		registrar: registrar,
		logger:    slog.Default(),
		latch:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// UpdateToken registers token for accountID, or for the stored account id
// when accountID is empty.
//
// It returns true when this call performed the update and the request
// completed at the transport level. A completed request answered with a
// non-2xx status still counts as performed; the server's verdict is logged
// but not acted upon. When another update is already in flight the call
// waits for it and returns false together with that update's error.
func (u *TokenUpdater) UpdateToken(ctx context.Context, accountID, token string) (bool, error) {
	u.mu.Lock()
	if c := u.inflight; c != nil {
		u.mu.Unlock()
		u.logger.Debug("Token update already in flight, waiting for it")
		select {
		case <-c.done:
			return false, c.err
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	c := &updateCycle{done: make(chan struct{})}
	u.inflight = c
	latch := u.latch
	u.mu.Unlock()

	defer u.complete(c, latch)

	c.performed, c.err = u.update(ctx, accountID, token)
	return c.performed, c.err
}

// complete releases the in-flight slot and opens the latch captured when the
// cycle started, unless Reset replaced it in the meantime.
func (u *TokenUpdater) complete(c *updateCycle, latch chan struct{}) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.inflight = nil
	if u.latch == latch && !u.latchOpen {
		close(u.latch)
		u.latchOpen = true
	}
	close(c.done)
}

func (u *TokenUpdater) update(ctx context.Context, accountID, token string) (bool, error) {
	if token == "" {
		u.logger.Error("updateToken() token is empty")
		return false, ErrEmptyToken
	}

	id := accountID
	if id == "" {
		stored, err := u.store.Get(ctx, KeyUserID)
		if err != nil {
			return false, fmt.Errorf("reading account id: %w", err)
		}
		id = stored
	}
	if strings.TrimSpace(id) == "" {
		u.logger.Error("updateToken() account id is not set")
		return false, ErrMissingIdentifier
	}
	if !IsAccountIDValid(id) {
		u.logger.Error("updateToken() account id is not valid", "length", len(id))
		return false, ErrInvalidIdentifier
	}

	u.logger.Debug("Updating token on the server...")
	err := u.registrar.RegisterToken(ctx, id, token)

	var apiErr *APIError
	switch {
	case err == nil:
		u.logger.Debug("Updating token on the server... Done", "success", true)
		return true, nil
	case errors.As(err, &apiErr):
		u.logger.Warn("Updating token on the server... Done", "success", false, "status", apiErr.StatusCode)
		return true, nil
	default:
		u.logger.Error("Updating token on the server failed", "error", LogValue(err))
		return false, err
	}
}

// Reset starts a new generation so that the next update opens a fresh latch.
// It does nothing while an update is in flight, and keeps a latch that has
// not opened yet since its waiters are already waiting for the next update.
func (u *TokenUpdater) Reset() {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.inflight != nil {
		u.logger.Debug("reset() skipped, token update in flight")
		return
	}

	u.logger.Debug("reset()")
	if u.latchOpen {
		u.latch = make(chan struct{})
		u.latchOpen = false
	}
	u.generation++
}

// AwaitUntilUpdated blocks until the current generation's latch opens or ctx
// is done. It has no timeout of its own.
func (u *TokenUpdater) AwaitUntilUpdated(ctx context.Context) error {
	u.mu.Lock()
	latch := u.latch
	u.mu.Unlock()

	select {
	case <-latch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InFlight reports whether an update is currently running.
func (u *TokenUpdater) InFlight() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.inflight != nil
}

// Updated reports whether the current generation's latch is open.
func (u *TokenUpdater) Updated() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.latchOpen
}

// Generation returns the number of effective resets.
func (u *TokenUpdater) Generation() uint64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.generation
}
