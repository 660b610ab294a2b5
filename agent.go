package kpnc

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Agent wires push ingress to the token updater and the relay.
type Agent struct {
	store   Store
	updater *TokenUpdater
	relay   *Relay
	logger  *slog.Logger
}

// NewAgent creates an Agent. A nil logger means slog.Default().
func NewAgent(store Store, updater *TokenUpdater, relay *Relay, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		store:   store,
		updater: updater,
		relay:   relay,
		logger:  logger.With("component", "agent"),
	}
}

// Store returns the agent's store.
func (a *Agent) Store() Store { return a.store }

// Updater returns the agent's token updater.
func (a *Agent) Updater() *TokenUpdater { return a.updater }

// Relay returns the agent's relay.
func (a *Agent) Relay() *Relay { return a.relay }

// Start pushes the stored token, if any, in the background. The returned
// channel is closed once that update finishes.
func (a *Agent) Start(ctx context.Context) (<-chan struct{}, error) {
	done := make(chan struct{})
	token, err := a.store.Get(ctx, KeyToken)
	if err != nil {
		close(done)
		return done, fmt.Errorf("reading stored token: %w", err)
	}
	if token == "" {
		a.logger.Debug("Start() no stored token")
		close(done)
		return done, nil
	}

	go func() {
		defer close(done)
		if _, err := a.updater.UpdateToken(ctx, "", token); err != nil {
			a.logger.Warn("Initial token update failed", "error", LogValue(err))
		}
	}()
	return done, nil
}

// OnNewToken persists a rotated token, starts a new update generation and
// pushes the token to the server.
func (a *Agent) OnNewToken(ctx context.Context, token string) (bool, error) {
	if err := a.store.Set(ctx, KeyToken, token); err != nil {
		return false, fmt.Errorf("storing token: %w", err)
	}
	a.updater.Reset()
	return a.updater.UpdateToken(ctx, "", token)
}

// OnMessageReceived waits until the server knows the current token, then
// hands the message to the relay.
func (a *Agent) OnMessageReceived(ctx context.Context, messageID, body string) error {
	if err := a.updater.AwaitUntilUpdated(ctx); err != nil {
		return fmt.Errorf("waiting for token update: %w", err)
	}
	a.relay.OnMessageReceived(messageID, body)
	return nil
}

// Login verifies accountID against the server and remembers it. When
// instanceAddress is set the account is looked up on that instance and the
// address is stored too. The stored token, if any, is then re-registered for
// the new account.
func (a *Agent) Login(ctx context.Context, client *Client, accountID, instanceAddress string) (*AccountInfo, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, ErrMissingIdentifier
	}
	if !IsAccountIDValid(accountID) {
		return nil, ErrInvalidIdentifier
	}

	lookup := client
	if instanceAddress = strings.TrimSpace(instanceAddress); instanceAddress != "" {
		lookup = client.ForInstance(instanceAddress)
	}
	info, err := lookup.FetchAccountStatus(ctx, accountID)
	if err != nil {
		a.logger.Error("getAccountInfo() error", "error", LogValue(err))
		return nil, err
	}

	if err := a.store.Set(ctx, KeyUserID, accountID); err != nil {
		return nil, fmt.Errorf("storing account id: %w", err)
	}
	if instanceAddress != "" {
		if err := a.store.Set(ctx, KeyInstanceAddress, instanceAddress); err != nil {
			return nil, fmt.Errorf("storing instance address: %w", err)
		}
	}
	a.logger.Debug("getAccountInfo() success", "valid_until", info.ValidUntil)

	token, err := a.store.Get(ctx, KeyToken)
	if err != nil {
		return nil, fmt.Errorf("reading stored token: %w", err)
	}
	a.updater.Reset()
	if token != "" {
		if _, err := a.updater.UpdateToken(ctx, accountID, token); err != nil {
			a.logger.Warn("Token update after login failed", "error", LogValue(err))
		}
	}
	return info, nil
}

// SendTestPush re-registers the stored token and asks the server to send a
// test push to accountID, or to the stored account when accountID is empty.
func (a *Agent) SendTestPush(ctx context.Context, client *Client, accountID string) error {
	token, err := a.store.Get(ctx, KeyToken)
	if err != nil {
		return fmt.Errorf("reading stored token: %w", err)
	}
	if token == "" {
		a.logger.Debug("sendTestPushMessage() token is empty, can't update it on the server")
		return ErrEmptyToken
	}
	if accountID == "" {
		if accountID, err = a.store.Get(ctx, KeyUserID); err != nil {
			return fmt.Errorf("reading account id: %w", err)
		}
	}
	if strings.TrimSpace(accountID) == "" {
		return ErrMissingIdentifier
	}

	if _, err := a.updater.UpdateToken(ctx, accountID, token); err != nil {
		return err
	}

	a.logger.Debug("sendTestPushMessage() requesting for a test push...")
	err = client.SendTestPush(ctx, accountID)
	a.logger.Debug("sendTestPushMessage() requesting for a test push... Done", "success", err == nil)
	return err
}
