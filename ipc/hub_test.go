package ipc

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	kpnc "github.com/slush-dev/kpnc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlogAdapter(t *testing.T) {
	adapter := &slogAdapter{logger: slog.Default()}
	assert.NotPanics(t, func() {
		_ = adapter.Log("level", "debug", "ts", "now", "message", "connected", "odd")
		_ = adapter.Log()
	})
}

func newTestServer(t *testing.T) (*Server, *kpnc.Agent) {
	t.Helper()
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/watch_post":
			w.Write([]byte(`{"data":{"success":true}}`))
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	t.Cleanup(backend.Close)

	client := kpnc.NewClient(kpnc.WithBaseURL(backend.URL))
	store := kpnc.NewMemoryStore(map[string]string{kpnc.KeyUserID: "user-42"})
	agent := kpnc.NewAgent(store, kpnc.NewTokenUpdater(store, client), kpnc.NewRelay(), nil)
	actions := kpnc.NewActionHandler(store, client)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv, err := NewServer(ctx, agent, actions, WithMessageWait(100*time.Millisecond))
	require.NoError(t, err)
	return srv, agent
}

// ---------------------------------------------------------------------------
// AgentHub methods
// ---------------------------------------------------------------------------

func TestAgentHub_NewTokenAndMessage(t *testing.T) {
	srv, agent := newTestServer(t)
	hub := &AgentHub{srv: srv}
	sub := agent.Relay().Subscribe()
	defer sub.Close()

	assert.False(t, hub.MessageReceived("m0", `{"new_reply_urls":["u0"]}`), "message before token update must time out")

	assert.True(t, hub.NewToken("tok1"))
	assert.True(t, hub.MessageReceived("m1", `{"new_reply_urls":["u1"]}`))

	select {
	case msg := <-sub.C():
		assert.Equal(t, "m1", msg.MessageID)
	case <-time.After(5 * time.Second):
		t.Fatal("message not relayed")
	}
}

func TestAgentHub_Actions(t *testing.T) {
	srv, _ := newTestServer(t)
	hub := &AgentHub{srv: srv}

	assert.JSONEq(t, `{"data":{"app_api_version":1,"is_account_valid":false}}`, hub.GetInfo())
	assert.JSONEq(t, `{"data":{"success":true}}`, hub.StartWatchingPost("https://example.com/t/1"))
	assert.JSONEq(t, `{"error":"post url was not provided"}`, hub.StartWatchingPost(""))
}

func TestReceiverHub(t *testing.T) {
	var got []string
	hub := &ReceiverHub{onReplies: func(urls []string) bool {
		got = urls
		return true
	}}
	assert.True(t, hub.OnNewRepliesReceived([]string{"u1"}))
	assert.Equal(t, []string{"u1"}, got)

	assert.False(t, (&ReceiverHub{}).OnNewRepliesReceived([]string{"u1"}))
}

// ---------------------------------------------------------------------------
// Round trip over HTTP
// ---------------------------------------------------------------------------

func TestSignalRDeliverer_RoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got [][]string
	handler, err := NewReceiverHandler(ctx, func(urls []string) bool {
		mu.Lock()
		got = append(got, urls)
		mu.Unlock()
		return len(urls) > 0
	}, nil)
	require.NoError(t, err)
	receiverServer := httptest.NewServer(handler)
	defer receiverServer.Close()

	registry := NewRegistry(t.TempDir(), nil)
	require.NoError(t, registry.Register(kpnc.ReceiverTarget{
		Name:    "test-app",
		HubURL:  receiverServer.URL + ReceiverHubPath,
		Actions: []string{kpnc.ActionNewRepliesReceived},
	}))

	notifier := kpnc.NewNotifier(registry, NewSignalRDeliverer(), kpnc.WithDeliveryTimeout(10*time.Second))
	report, err := notifier.NotifyReplies(ctx, []string{"https://example.com/t/1#p2"})
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	require.NoError(t, report.Outcomes[0].Err)

	mu.Lock()
	assert.Equal(t, [][]string{{"https://example.com/t/1#p2"}}, got)
	mu.Unlock()

	err = NewSignalRDeliverer().Deliver(ctx, kpnc.ReceiverTarget{Name: "test-app", HubURL: receiverServer.URL + ReceiverHubPath},
		kpnc.Signal{Action: kpnc.ActionNewRepliesReceived, PostURLs: []string{}})
	assert.ErrorIs(t, err, ErrRejected)
}

func TestSignalRDeliverer_Unreachable(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()

	d := NewSignalRDeliverer(WithConnectTimeout(200 * time.Millisecond))
	err := d.Deliver(context.Background(), kpnc.ReceiverTarget{Name: "gone", HubURL: url + ReceiverHubPath},
		kpnc.Signal{Action: kpnc.ActionNewRepliesReceived, PostURLs: []string{"u1"}})
	assert.Error(t, err)
}

func TestAgentClient_RoundTrip(t *testing.T) {
	srv, agent := newTestServer(t)
	httpServer := httptest.NewServer(srv.Handler())
	defer httpServer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := DialAgent(ctx, httpServer.URL+AgentHubPath, nil)
	require.NoError(t, err)
	defer client.Close()

	performed, err := client.NewToken(ctx, "tok1")
	require.NoError(t, err)
	assert.True(t, performed)
	assert.True(t, agent.Updater().Updated())

	result, err := client.GetInfo(ctx)
	require.NoError(t, err)
	var info kpnc.InfoResult
	require.NoError(t, json.Unmarshal(result.Data, &info))
	assert.Equal(t, kpnc.InfoResult{AppAPIVersion: 1}, info)
}
