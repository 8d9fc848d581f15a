package signal

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/CallRelay/internal/app"
	"github.com/dkeye/CallRelay/internal/app/orch"
	"github.com/dkeye/CallRelay/internal/domain"
	"github.com/dkeye/CallRelay/internal/metrics"
	"github.com/dkeye/CallRelay/internal/storage/calllog"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	*httptest.Server
	orch   *orch.Orchestrator
	ctl    *SignalWSController
	ledger *app.Ledger
	cancel context.CancelFunc
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	presence := app.NewPresence()
	ledger := app.NewLedger(app.LedgerConfig{Retention: time.Minute}, presence, calllog.NewMemory())
	o := &orch.Orchestrator{Presence: presence, Ledger: ledger, Policy: app.SimplePolicy{}, Metrics: metrics.New()}
	ctl := NewSignalWSController(o, o.Metrics, opts)

	ctx, cancel := context.WithCancel(context.Background())
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		ctl.HandleSignal(ctx, c, domain.UserID(c.Query("as")))
	})
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
		_ = ledger.Shutdown(context.Background())
	})
	return &testServer{Server: srv, orch: o, ctl: ctl, ledger: ledger, cancel: cancel}
}

func (s *testServer) dial(t *testing.T, identity string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
	if identity != "" {
		url += "?as=" + identity
	}
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(v))
}

// readUntil skips events until one of type typ arrives.
func readUntil(t *testing.T, ws *websocket.Conn, typ string) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := ws.ReadMessage()
		require.NoError(t, err, "waiting for %s", typ)
		var ev map[string]any
		require.NoError(t, json.Unmarshal(data, &ev))
		if ev["type"] == typ {
			return ev
		}
	}
}

func announce(t *testing.T, ws *websocket.Conn, uid string) {
	t.Helper()
	send(t, ws, map[string]any{
		"type":    "announce-presence",
		"userId":  uid,
		"profile": map[string]any{"name": strings.ToUpper(uid[:1]) + uid[1:]},
	})
	readUntil(t, ws, orch.EventOnlineUsers)
}

func TestSignalCallFlowOverWebsocket(t *testing.T) {
	srv := newTestServer(t, Options{})
	a := srv.dial(t, "")
	b := srv.dial(t, "")

	announce(t, a, "alice")
	announce(t, b, "bob")
	roster := readUntil(t, a, orch.EventOnlineUsers)
	assert.Len(t, roster["users"], 2)

	send(t, a, map[string]any{
		"type":          "initiate-call",
		"calleeId":      "bob",
		"callKind":      "audio",
		"callerProfile": map[string]any{"name": "Alice"},
	})
	incoming := readUntil(t, b, orch.EventIncomingCall)
	sid := incoming["sessionId"].(string)
	assert.Equal(t, "alice", incoming["callerId"])
	assert.Equal(t, sid, readUntil(t, a, orch.EventCallInitiated)["sessionId"])

	send(t, b, map[string]any{"type": "call-accept", "sessionId": sid, "callerId": "alice"})
	assert.Equal(t, sid, readUntil(t, a, orch.EventCallAccepted)["sessionId"])

	send(t, a, map[string]any{
		"type":     "relay-candidate",
		"targetId": "bob",
		"payload":  map[string]any{"candidate": "candidate:1 1 udp 2122260223 10.0.0.1 54321 typ host"},
	})
	cand := readUntil(t, b, orch.EventRelayCandidate)
	assert.Equal(t, "alice", cand["from"])

	send(t, b, map[string]any{"type": "end-call", "sessionId": sid})
	assert.Equal(t, "bob", readUntil(t, a, orch.EventEndCall)["from"])

	s, ok := srv.orch.Ledger.Get(domain.SessionID(sid))
	require.True(t, ok)
	assert.Equal(t, domain.StateEnded, s.State)
}

func TestSignalPingAndBadPayload(t *testing.T) {
	srv := newTestServer(t, Options{})
	ws := srv.dial(t, "")

	send(t, ws, map[string]any{"type": "ping"})
	readUntil(t, ws, "pong")

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Equal(t, "bad_json", readUntil(t, ws, "error")["error"])

	send(t, ws, map[string]any{"type": "initiate-call", "calleeId": "bob", "callKind": "fax"})
	assert.Equal(t, "bad_payload", readUntil(t, ws, "error")["error"])
}

func TestSignalIdentityMismatch(t *testing.T) {
	srv := newTestServer(t, Options{})
	ws := srv.dial(t, "alice")

	send(t, ws, map[string]any{"type": "announce-presence", "userId": "bob"})
	assert.Equal(t, "identity_mismatch", readUntil(t, ws, "error")["error"])
	assert.False(t, srv.orch.Presence.Online("bob"))
}

func TestSignalInitiateRateLimited(t *testing.T) {
	srv := newTestServer(t, Options{CallRateLimit: 1, CallRateWindow: time.Hour})
	ws := srv.dial(t, "")
	announce(t, ws, "alice")

	call := map[string]any{"type": "initiate-call", "calleeId": "carol", "callKind": "audio"}
	send(t, ws, call)
	assert.Equal(t, orch.CodeTargetUnreachable, readUntil(t, ws, orch.EventCallError)["code"])

	send(t, ws, call)
	assert.Equal(t, "rate_limited", readUntil(t, ws, "error")["error"])
}

func TestSignalDisconnectLeavesRoster(t *testing.T) {
	srv := newTestServer(t, Options{})
	a := srv.dial(t, "")
	b := srv.dial(t, "")
	announce(t, a, "alice")
	announce(t, b, "bob")

	require.NoError(t, b.Close())
	require.Eventually(t, func() bool {
		return !srv.orch.Presence.Online("bob")
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, srv.orch.Presence.Online("alice"))
}

func TestSignalWaitDrainsConnectionsOnCancel(t *testing.T) {
	srv := newTestServer(t, Options{})
	a := srv.dial(t, "")
	b := srv.dial(t, "")
	announce(t, a, "alice")
	announce(t, b, "bob")

	send(t, a, map[string]any{"type": "initiate-call", "calleeId": "bob", "callKind": "audio"})
	sid := readUntil(t, b, orch.EventIncomingCall)["sessionId"].(string)

	srv.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.ctl.Wait(ctx))

	// Every disconnect has reached the router before the ledger shuts down.
	assert.Zero(t, srv.orch.Presence.Len())
	require.NoError(t, srv.ledger.Shutdown(ctx))
	s, ok := srv.ledger.Get(domain.SessionID(sid))
	require.True(t, ok)
	assert.Equal(t, domain.StateMissed, s.State)
}
