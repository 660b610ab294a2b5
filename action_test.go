package kpnc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeResult(t *testing.T, res ActionResult) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(res.Payload, &out))
	return out
}

func accountServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/get_account_info", r.URL.Path)
		req, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"user_id":"user-42"}`, string(req))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

// ---------------------------------------------------------------------------
// get_info
// ---------------------------------------------------------------------------

func TestHandle_GetInfoValidAccount(t *testing.T) {
	server := accountServer(t, `{"data":{"is_valid":true,"valid_until":1700000000000}}`)
	store := NewMemoryStore(map[string]string{KeyUserID: "user-42", KeyInstanceAddress: server.URL})
	h := NewActionHandler(store, NewClient())

	id := uuid.New()
	res := h.Handle(context.Background(), ActionRequest{ID: id, Action: ActionGetInfo})
	assert.Equal(t, StateFinalized, res.State)
	assert.Equal(t, id, res.ID)
	require.NoError(t, res.Err)
	assert.JSONEq(t, `{"data":{"app_api_version":1,"is_account_valid":true}}`, string(res.Payload))
}

func TestHandle_GetInfoInvalidAccount(t *testing.T) {
	server := accountServer(t, `{"data":{"is_valid":false}}`)
	store := NewMemoryStore(map[string]string{KeyUserID: "user-42", KeyInstanceAddress: server.URL})
	h := NewActionHandler(store, NewClient())

	res := h.Handle(context.Background(), ActionRequest{Action: ActionGetInfo})
	require.NoError(t, res.Err)
	assert.NotEqual(t, uuid.Nil, res.ID)
	assert.JSONEq(t, `{"data":{"app_api_version":1,"is_account_valid":false}}`, string(res.Payload))
}

func TestHandle_GetInfoWithoutAccount(t *testing.T) {
	h := NewActionHandler(NewMemoryStore(map[string]string{KeyUserID: "user-42"}), NewClient())

	res := h.Handle(context.Background(), ActionRequest{Action: ActionGetInfo})
	require.NoError(t, res.Err)
	assert.JSONEq(t, `{"data":{"app_api_version":1,"is_account_valid":false}}`, string(res.Payload))
}

func TestHandle_GetInfoServerError(t *testing.T) {
	server := accountServer(t, `{"error":"account not found"}`)
	store := NewMemoryStore(map[string]string{KeyUserID: "user-42", KeyInstanceAddress: server.URL})
	h := NewActionHandler(store, NewClient())

	res := h.Handle(context.Background(), ActionRequest{Action: ActionGetInfo})
	assert.Equal(t, StateFinalized, res.State)
	var serverErr *ServerError
	require.ErrorAs(t, res.Err, &serverErr)
	assert.Equal(t, map[string]any{"error": "account not found"}, decodeResult(t, res))
}

// ---------------------------------------------------------------------------
// start_watching_post
// ---------------------------------------------------------------------------

func TestHandle_StartWatchingPost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/watch_post", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"user_id":"user-42","post_url":"https://example.com/t/1#p2"}`, string(body))
		w.Write([]byte(`{"data":{"success":true}}`))
	}))
	defer server.Close()

	store := NewMemoryStore(map[string]string{KeyUserID: "user-42"})
	h := NewActionHandler(store, NewClient(WithBaseURL(server.URL)))

	res := h.Handle(context.Background(), ActionRequest{Action: ActionStartWatchingPost, PostURL: "https://example.com/t/1#p2"})
	require.NoError(t, res.Err)
	assert.Equal(t, StateFinalized, res.State)
	assert.JSONEq(t, `{"data":{"success":true}}`, string(res.Payload))
}

func TestHandle_StartWatchingPostBlankURL(t *testing.T) {
	h := NewActionHandler(NewMemoryStore(map[string]string{KeyUserID: "user-42"}), NewClient())

	res := h.Handle(context.Background(), ActionRequest{Action: ActionStartWatchingPost, PostURL: "  "})
	assert.Error(t, res.Err)
	assert.Equal(t, map[string]any{"error": "post url was not provided"}, decodeResult(t, res))
}

func TestHandle_StartWatchingPostMissingUser(t *testing.T) {
	h := NewActionHandler(NewMemoryStore(nil), NewClient())

	res := h.Handle(context.Background(), ActionRequest{Action: ActionStartWatchingPost, PostURL: "https://example.com/t/1"})
	assert.ErrorIs(t, res.Err, ErrMissingIdentifier)
	assert.Equal(t, StateFinalized, res.State)
}

// ---------------------------------------------------------------------------
// Finalization
// ---------------------------------------------------------------------------

func TestHandle_Unsupported(t *testing.T) {
	h := NewActionHandler(NewMemoryStore(nil), NewClient())

	res := h.Handle(context.Background(), ActionRequest{Action: "reboot"})
	assert.ErrorIs(t, res.Err, ErrUnsupported)
	assert.Equal(t, StateFinalized, res.State)
	assert.Equal(t, map[string]any{"error": "unsupported action: reboot"}, decodeResult(t, res))
	assert.False(t, h.Supports("reboot"))
	assert.True(t, h.Supports(ActionGetInfo))
}

func TestHandle_TimeoutForcesFinalized(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	h := NewActionHandler(NewMemoryStore(nil), NewClient(),
		WithActionTimeout(50*time.Millisecond),
		WithActionFunc("hang", func(context.Context, ActionRequest) (any, error) {
			<-block
			return nil, nil
		}),
	)

	start := time.Now()
	res := h.Handle(context.Background(), ActionRequest{Action: "hang"})
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, StateFinalized, res.State)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	assert.Equal(t, "Timeout", Kind(res.Err))
	assert.Contains(t, decodeResult(t, res), "error")
}

func TestHandle_PanicIsContained(t *testing.T) {
	h := NewActionHandler(NewMemoryStore(nil), NewClient(),
		WithActionFunc(ActionGetInfo, func(context.Context, ActionRequest) (any, error) {
			panic("kaboom")
		}),
	)

	res := h.Handle(context.Background(), ActionRequest{Action: ActionGetInfo})
	assert.Equal(t, StateFinalized, res.State)
	assert.ErrorContains(t, res.Err, "kaboom")
	assert.Contains(t, decodeResult(t, res)["error"], "kaboom")
}

func TestActionState_String(t *testing.T) {
	assert.Equal(t, "received", StateReceived.String())
	assert.Equal(t, "finalized", StateFinalized.String())
	assert.Equal(t, "ActionState(9)", ActionState(9).String())
}
