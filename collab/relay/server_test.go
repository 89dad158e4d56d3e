package relay

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/vylop-sdk/vylop-sdk-go/collab"
)

func startRelay(t *testing.T, opts ...Option) (*Server, string) {
	t.Helper()
	s := NewServer(opts...)
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return s, srv.URL
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
}

func joinRoom(t *testing.T, url, roomID, username string) *collab.Room {
	t.Helper()
	cfg := collab.DefaultConfig()
	cfg.URL = url
	cfg.ReconnectDelay = 50 * time.Millisecond
	r, err := collab.NewRoom(cfg, collab.Session{RoomID: roomID, Username: username})
	require.NoError(t, err)
	require.NoError(t, r.Connect(context.Background()))
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestServer_Health(t *testing.T) {
	_, base := startRelay(t)

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestServer_MetricsEndpoint(t *testing.T) {
	_, base := startRelay(t)
	joinRoom(t, wsURL(base), "room-m", "alice")

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return strings.Contains(string(body), "relay_connections 1")
	}, 2*time.Second, 20*time.Millisecond)
}

func TestServer_RejectsBadToken(t *testing.T) {
	_, base := startRelay(t, WithToken("s3cret"))

	cfg := collab.DefaultConfig()
	cfg.URL = wsURL(base)
	cfg.Token = "wrong"
	r, err := collab.NewRoom(cfg, collab.Session{RoomID: "r", Username: "alice"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	err = r.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, collab.IsTransportError(err))
	assert.Equal(t, collab.StateDisconnected, r.State())
}

func TestServer_TwoParticipants(t *testing.T) {
	_, base := startRelay(t)
	url := wsURL(base)

	alice := joinRoom(t, url, "room-1", "alice")
	bob := joinRoom(t, url, "room-1", "bob")

	require.Eventually(t, func() bool {
		return len(alice.Online()) == 2 && len(bob.Online()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.Edit("class Main { /* alice */ }"))
	require.Eventually(t, func() bool {
		return bob.ActiveFile().Content == "class Main { /* alice */ }"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "class Main { /* alice */ }", alice.ActiveFile().Content)

	require.NoError(t, bob.CreateFile("util.py", "", "print(1)"))
	require.Eventually(t, func() bool {
		_, ok := alice.File("util.py")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, collab.DefaultFileName, alice.ActiveFile().Name)

	require.NoError(t, bob.SendChat("hi alice"))
	require.Eventually(t, func() bool { return len(alice.Chat()) == 1 }, 2*time.Second, 10*time.Millisecond)
	msg := alice.Chat()[0]
	assert.Equal(t, "bob", msg.Sender)
	assert.Equal(t, "hi alice", msg.Content)
	assert.Len(t, msg.Timestamp, 5)

	require.NoError(t, bob.Close())
	require.Eventually(t, func() bool {
		online := alice.Online()
		return len(online) == 1 && online[0] == "alice"
	}, 2*time.Second, 10*time.Millisecond)
}
