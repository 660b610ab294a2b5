package mcpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	kpnc "github.com/slush-dev/kpnc"
	"github.com/slush-dev/kpnc/ipc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// testServer creates a KPNCMCPServer backed by a fake KPNC server and
// connects an MCP client to it.
func testServer(t *testing.T, values map[string]string) (*mcp.ClientSession, *KPNCMCPServer) {
	t.Helper()
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/get_account_info":
			w.Write([]byte(`{"data":{"is_valid":true,"valid_until":1700000000000}}`))
		case "/watch_post":
			w.Write([]byte(`{"data":{"success":true}}`))
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	t.Cleanup(backend.Close)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	client := kpnc.NewClient(kpnc.WithBaseURL(backend.URL), kpnc.WithLogger(logger))
	store := kpnc.NewMemoryStore(values)
	agent := kpnc.NewAgent(store, kpnc.NewTokenUpdater(store, client), kpnc.NewRelay(), logger)

	g := New(Deps{
		Agent:    agent,
		Client:   client,
		Actions:  kpnc.NewActionHandler(store, client),
		Registry: ipc.NewRegistry(t.TempDir(), logger),
	}, "test", logger)
	t.Cleanup(func() { g.stopListening() })

	t1, t2 := mcp.NewInMemoryTransports()
	ctx := context.Background()

	require.NoError(t, g.RunWithTransport(ctx, t1))

	mcpClient := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0"}, nil)
	cs, err := mcpClient.Connect(ctx, t2, nil)
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })

	return cs, g
}

func callTool(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) (*mcp.CallToolResult, string) {
	t.Helper()
	result, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.NotEmpty(t, result.Content)
	return result, result.Content[0].(*mcp.TextContent).Text
}

func readJSON(t *testing.T, cs *mcp.ClientSession, uri string) map[string]any {
	t.Helper()
	result, err := cs.ReadResource(context.Background(), &mcp.ReadResourceParams{URI: uri})
	require.NoError(t, err)
	require.Len(t, result.Contents, 1)
	var data map[string]any
	require.NoError(t, json.Unmarshal([]byte(result.Contents[0].Text), &data))
	return data
}

func TestToolsRegistered(t *testing.T) {
	cs, _ := testServer(t, nil)

	expected := map[string]bool{
		"get_info":            false,
		"start_watching_post": false,
		"login":               false,
		"update_token":        false,
		"send_test_push":      false,
		"listen":              false,
		"stop":                false,
	}
	for tool, err := range cs.Tools(context.Background(), nil) {
		require.NoError(t, err)
		if _, ok := expected[tool.Name]; ok {
			expected[tool.Name] = true
		}
	}
	for name, found := range expected {
		assert.True(t, found, "tool %q not registered", name)
	}
}

func TestResourcesRegistered(t *testing.T) {
	cs, _ := testServer(t, nil)

	expected := map[string]bool{statusURI: false, receiversURI: false, repliesURI: false}
	for res, err := range cs.Resources(context.Background(), nil) {
		require.NoError(t, err)
		if _, ok := expected[res.URI]; ok {
			expected[res.URI] = true
		}
	}
	for uri, found := range expected {
		assert.True(t, found, "resource %q not registered", uri)
	}
}

func TestGetInfoTool_NotLoggedIn(t *testing.T) {
	cs, _ := testServer(t, nil)

	result, text := callTool(t, cs, "get_info", nil)
	assert.False(t, result.IsError)
	assert.JSONEq(t, `{"data":{"app_api_version":1,"is_account_valid":false}}`, text)
}

func TestStartWatchingPostTool(t *testing.T) {
	cs, _ := testServer(t, map[string]string{kpnc.KeyUserID: "user-42"})

	result, text := callTool(t, cs, "start_watching_post", map[string]any{"post_url": "https://example.com/t/1"})
	assert.False(t, result.IsError)
	assert.JSONEq(t, `{"data":{"success":true}}`, text)

	result, text = callTool(t, cs, "start_watching_post", map[string]any{})
	assert.True(t, result.IsError)
	assert.JSONEq(t, `{"error":"post url was not provided"}`, text)
}

func TestLoginAndStatus(t *testing.T) {
	cs, _ := testServer(t, map[string]string{kpnc.KeyToken: "tok1"})

	status := readJSON(t, cs, statusURI)
	assert.Equal(t, false, status["logged_in"])
	assert.Equal(t, true, status["has_token"])

	result, text := callTool(t, cs, "login", map[string]any{"account_id": "user-42"})
	require.False(t, result.IsError, text)
	assert.Contains(t, text, `"is_valid":true`)

	status = readJSON(t, cs, statusURI)
	assert.Equal(t, true, status["logged_in"])
	assert.Equal(t, "user-42", status["user_id"])
	assert.Equal(t, true, status["token_updated"])

	result, text = callTool(t, cs, "login", map[string]any{"account_id": "x"})
	assert.True(t, result.IsError)
	assert.Equal(t, "account id is not valid", text)
}

func TestUpdateTokenAndTestPush(t *testing.T) {
	cs, _ := testServer(t, map[string]string{kpnc.KeyUserID: "user-42"})

	result, _ := callTool(t, cs, "send_test_push", nil)
	assert.True(t, result.IsError, "no token stored yet")

	result, text := callTool(t, cs, "update_token", map[string]any{"token": "tok1"})
	require.False(t, result.IsError, text)
	assert.JSONEq(t, `{"performed":true}`, text)

	result, text = callTool(t, cs, "send_test_push", nil)
	assert.False(t, result.IsError, text)
}

func TestListenAndStop(t *testing.T) {
	cs, g := testServer(t, nil)

	result, text := callTool(t, cs, "stop", nil)
	assert.False(t, result.IsError)
	assert.Contains(t, text, "not listening")

	result, text = callTool(t, cs, "listen", map[string]any{"name": "mcp-test"})
	require.False(t, result.IsError, text)

	receivers := readJSON(t, cs, receiversURI)["receivers"].([]any)
	require.Len(t, receivers, 1)
	assert.Equal(t, "mcp-test", receivers[0].(map[string]any)["name"])

	notifier := kpnc.NewNotifier(g.deps.Registry, ipc.NewSignalRDeliverer(), kpnc.WithDeliveryTimeout(10*time.Second))
	report, err := notifier.NotifyReplies(context.Background(), []string{"https://example.com/t/1#p9"})
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	require.NoError(t, report.Outcomes[0].Err)

	replies := readJSON(t, cs, repliesURI)["replies"].([]any)
	require.Len(t, replies, 1)
	assert.Equal(t, []any{"https://example.com/t/1#p9"}, replies[0].(map[string]any)["new_reply_urls"])

	result, _ = callTool(t, cs, "stop", nil)
	assert.False(t, result.IsError)
	receivers = readJSON(t, cs, receiversURI)["receivers"].([]any)
	assert.Empty(t, receivers)
}
