package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clawline/clawline/internal/identity"
	"github.com/clawline/clawline/internal/protocol"
)

// rawRequest is a request frame as the fake gateway decodes it.
type rawRequest struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// serverConn wraps one accepted connection on the fake gateway side. Writes
// are serialized so tests can push events from helper goroutines.
type serverConn struct {
	t  *testing.T
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *serverConn) writeJSON(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.WriteJSON(v); err != nil {
		c.t.Logf("fake gateway: write: %v", err)
	}
}

func (c *serverConn) sendEvent(event string, payload any) {
	c.writeJSON(map[string]any{"event": event, "payload": payload})
}

func (c *serverConn) respondOK(id string, payload any) {
	c.writeJSON(map[string]any{"id": id, "ok": true, "payload": payload})
}

func (c *serverConn) respondErr(id, code, message string) {
	errBody := map[string]string{"message": message}
	if code != "" {
		errBody["code"] = code
	}
	c.writeJSON(map[string]any{"id": id, "ok": false, "error": errBody})
}

func (c *serverConn) sendChat(state, runID, text, errMsg string) {
	payload := map[string]any{
		"runId":      runID,
		"sessionKey": "ignored",
		"state":      state,
	}
	if text != "" {
		payload["message"] = map[string]any{
			"role":    "assistant",
			"content": []map[string]string{{"type": "text", "text": text}},
		}
	}
	if errMsg != "" {
		payload["errorMessage"] = errMsg
	}
	c.sendEvent(protocol.EventChat, payload)
}

// fakeGateway is an in-process gateway speaking just enough of the protocol
// for tests. On every accepted connection it pushes connect.challenge and
// then routes each request frame to handle, all on one goroutine.
type fakeGateway struct {
	t      *testing.T
	srv    *httptest.Server
	handle func(c *serverConn, req rawRequest)

	// challenges per connection; default 1.
	challenges int

	mu    sync.Mutex
	dials int
}

func newFakeGateway(t *testing.T, handle func(c *serverConn, req rawRequest)) *fakeGateway {
	t.Helper()
	g := &fakeGateway{t: t, handle: handle, challenges: 1}
	upgrader := websocket.Upgrader{}

	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		g.mu.Lock()
		g.dials++
		g.mu.Unlock()

		conn := &serverConn{t: t, ws: ws}
		for i := 0; i < g.challenges; i++ {
			conn.sendEvent(protocol.EventConnectChallenge, map[string]string{"nonce": "nonce-1"})
		}

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var req rawRequest
			if json.Unmarshal(data, &req) != nil {
				continue
			}
			if g.handle != nil {
				g.handle(conn, req)
			}
		}
	}))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGateway) url() string {
	return g.srv.URL // http scheme, exercises normalization
}

func (g *fakeGateway) dialCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dials
}

// acceptConnect answers connect with a standard success payload.
func acceptConnect(tickMs int, deviceToken string) func(c *serverConn, req rawRequest) {
	return func(c *serverConn, req rawRequest) {
		if req.Method != protocol.MethodConnect {
			return
		}
		payload := map[string]any{}
		if tickMs > 0 {
			payload["policy"] = map[string]int{"tickIntervalMs": tickMs}
		}
		if deviceToken != "" {
			payload["auth"] = map[string]any{
				"deviceToken": deviceToken,
				"role":        "operator",
				"scopes":      []string{"operator.read", "operator.write"},
			}
		}
		c.respondOK(req.ID, payload)
	}
}

func testSettings(t *testing.T, url string) SettingsFunc {
	t.Helper()
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	return func() Settings {
		return Settings{
			GatewayURL:    url,
			Token:         "op-token",
			AgentID:       "main",
			StreamingMode: ModeWebSocket,
			Identity:      id,
			ClientID:      "clawline-test",
			DisplayName:   "clawline test",
			ClientVersion: "0.0.0",
			Platform:      "test",
			ClientMode:    "cli",
		}
	}
}

// stateRecorder captures state transitions in order.
type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *stateRecorder) snapshot() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.states))
	copy(out, r.states)
	return out
}

func (r *stateRecorder) saw(want State) bool {
	for _, s := range r.snapshot() {
		if s == want {
			return true
		}
	}
	return false
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}
