package kpnc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the default KPNC server address.
const DefaultBaseURL = "http://127.0.0.1:3000"

// Endpoints builds KPNC server URLs from a base address.
type Endpoints string

func (e Endpoints) base() string { return strings.TrimRight(string(e), "/") }

func (e Endpoints) UpdateFirebaseToken() string { return e.base() + "/update_firebase_token" }
func (e Endpoints) GetAccountInfo() string      { return e.base() + "/get_account_info" }
func (e Endpoints) WatchPost() string           { return e.base() + "/watch_post" }
func (e Endpoints) SendTestPush() string        { return e.base() + "/send_test_push" }

// ClientOption configures Client.
type ClientOption func(*Client)

// WithBaseURL sets the KPNC server base URL.
func WithBaseURL(base string) ClientOption {
	return func(c *Client) {
		c.endpoints = Endpoints(strings.TrimRight(base, "/"))
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client issues the outbound calls to the KPNC server. It never retries;
// callers own any retry policy.
type Client struct {
	endpoints  Endpoints
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new Client with the given options.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		endpoints:  Endpoints(DefaultBaseURL),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoints returns the endpoints the client talks to.
func (c *Client) Endpoints() Endpoints { return c.endpoints }

// ForInstance returns a copy of c bound to another server instance.
func (c *Client) ForInstance(base string) *Client {
	cpy := *c
	cpy.endpoints = Endpoints(strings.TrimRight(base, "/"))
	return &cpy
}

// RegisterToken sends the push registration token for accountID. It succeeds
// iff the server answered with a 2xx status.
func (c *Client) RegisterToken(ctx context.Context, accountID, token string) error {
	body := UpdateTokenRequest{UserID: accountID, FirebaseToken: token}
	if _, err := c.doPost(ctx, c.endpoints.UpdateFirebaseToken(), body); err != nil {
		return fmt.Errorf("updating firebase token: %w", err)
	}
	return nil
}

// FetchAccountStatus returns the account status for accountID. An account
// the server reports as not valid yields ErrAccountInvalid.
func (c *Client) FetchAccountStatus(ctx context.Context, accountID string) (*AccountInfo, error) {
	respBody, err := c.doPost(ctx, c.endpoints.GetAccountInfo(), AccountInfoRequest{UserID: accountID})
	if err != nil {
		return nil, fmt.Errorf("getting account info: %w", err)
	}

	data, err := decodeServerResponse[AccountInfoResponse](respBody, "account info")
	if err != nil {
		return nil, fmt.Errorf("getting account info: %w", err)
	}
	if !data.IsValid {
		return nil, ErrAccountInvalid
	}
	return newAccountInfo(data), nil
}

// WatchPost asks the server to watch postURL for replies on behalf of accountID.
func (c *Client) WatchPost(ctx context.Context, accountID, postURL string) error {
	body := WatchPostRequest{UserID: accountID, PostURL: postURL}
	respBody, err := c.doPost(ctx, c.endpoints.WatchPost(), body)
	if err != nil {
		return fmt.Errorf("watching post: %w", err)
	}

	data, err := decodeServerResponse[DefaultSuccessResponse](respBody, "watch post")
	if err != nil {
		return fmt.Errorf("watching post: %w", err)
	}
	if !data.Success {
		return &ServerError{Message: "server returned success != true"}
	}
	return nil
}

// SendTestPush asks the server to send a test push message to accountID.
func (c *Client) SendTestPush(ctx context.Context, accountID string) error {
	if _, err := c.doPost(ctx, c.endpoints.SendTestPush(), SendTestPushRequest{UserID: accountID}); err != nil {
		return fmt.Errorf("sending test push: %w", err)
	}
	return nil
}

// decodeServerResponse unwraps a {data, error} response body.
func decodeServerResponse[T any](body []byte, what string) (*T, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyBody
	}

	var wrapper ServerResponse[T]
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, &MalformedResponseError{What: what, Err: err}
	}
	if wrapper.Error != nil && *wrapper.Error != "" {
		return nil, &ServerError{Message: *wrapper.Error}
	}
	if wrapper.Data == nil {
		return nil, ErrEmptyBody
	}
	return wrapper.Data, nil
}

func (c *Client) doPost(ctx context.Context, u string, reqBody any) ([]byte, error) {
	reqData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(reqData))
	if err != nil {
		return nil, fmt.Errorf("creating POST request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logRequest(http.MethodPost, u, req.Header, reqData)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Method: http.MethodPost, URL: u, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Method: http.MethodPost, URL: u, Err: err}
	}
	c.logResponse(resp, body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       truncate(string(body), 2000),
			URL:        u,
			Method:     http.MethodPost,
		}
	}
	return body, nil
}

func (c *Client) logRequest(method, url string, headers http.Header, body []byte) {
	c.logger.Debug(">>> "+method, "url", url)
	for k, v := range headers {
		c.logger.Debug("  Request header", "key", k, "value", strings.Join(v, ", "))
	}
	if body != nil {
		c.logger.Debug("  Request body", "json", truncate(string(body), 2000))
	}
}

func (c *Client) logResponse(resp *http.Response, body []byte) {
	c.logger.Debug("<<< Response", "status", resp.StatusCode, "url", resp.Request.URL.String(), "bytes", len(body))
	if len(body) > 0 {
		c.logger.Debug("  Response body", "json", truncate(string(body), 2000))
	}
}

// truncate returns the first maxLen characters of s, or s itself if shorter.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
