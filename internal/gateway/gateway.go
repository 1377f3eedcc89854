package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	clierrors "github.com/clawline/clawline/internal/errors"
	"github.com/clawline/clawline/internal/protocol"
)

// Streaming modes. Websocket is the persistent-connection mode this package
// implements; http-sse and off select the fallback request path instead.
const (
	ModeWebSocket = "websocket"
	ModeHTTPSSE   = "http-sse"
	ModeOff       = "off"
)

// Pairing status values persisted by the store.
const (
	PairingUnpaired = "unpaired"
	PairingPending  = "pending"
	PairingPaired   = "paired"
)

// StateStore persists the client state the facade owns across runs. The
// SQLite store implements it; tests use an in-memory mock.
type StateStore interface {
	// SaveDeviceToken stores a gateway-issued device auth token.
	SaveDeviceToken(token, role string, scopes []string) error

	// SavePairingStatus records the pairing state transition.
	SavePairingStatus(status string) error

	// SessionKey returns the persisted session key, or "" if none.
	SessionKey() (string, error)

	// SaveSessionKey persists the current session key.
	SaveSessionKey(key string) error

	// AppendTranscript records one completed message of a run.
	AppendTranscript(sessionKey, runID, role, text string) error
}

// HealthProber performs the one-shot liveness probe used when the persistent
// connection cannot vouch for the gateway.
type HealthProber interface {
	Health(ctx context.Context) error
}

// SendOptions carry the optional chat.send fields.
type SendOptions struct {
	Thinking    string
	TimeoutMs   int
	Attachments []protocol.Attachment
}

// Gateway composes the device identity, connection machine and chat router
// into the operations the rest of the client uses.
type Gateway struct {
	settings SettingsFunc
	store    StateStore
	conn     *Conn
	router   *Router
	prober   HealthProber

	mu          sync.Mutex
	nextSubID   int
	stateSubs   []subscription[State]
	pairingSubs []subscription[struct{}]
	sessionKey  string
}

type subscription[T any] struct {
	id int
	fn func(T)
}

// New wires a facade over the given settings accessor and store.
func New(settings SettingsFunc, store StateStore) *Gateway {
	g := &Gateway{
		settings: settings,
		store:    store,
		router:   NewRouter(),
	}
	g.conn = NewConn(settings)
	g.conn.OnStateChange(g.fanOutState)
	g.conn.OnEvent(g.router.HandleEvent)
	g.conn.OnAuthUpdate(g.handleAuthUpdate)
	g.conn.OnPairingRequired(g.handlePairingRequired)
	return g
}

// SetHealthProber installs the fallback liveness probe.
func (g *Gateway) SetHealthProber(p HealthProber) {
	g.mu.Lock()
	g.prober = p
	g.mu.Unlock()
}

// Conn exposes the connection machine for lifecycle control.
func (g *Gateway) Conn() *Conn { return g.conn }

// Connect starts the persistent connection.
func (g *Gateway) Connect() { g.conn.Start() }

// Disconnect tears the connection down until the next Connect.
func (g *Gateway) Disconnect() { g.conn.Stop() }

// Restart forces a fresh connection attempt immediately.
func (g *Gateway) Restart() { g.conn.Restart() }

// State returns the current connection state.
func (g *Gateway) State() State { return g.conn.State() }

// SubscribeState registers a listener for connection state changes and
// returns its unsubscribe handle. Listeners run in subscription order.
func (g *Gateway) SubscribeState(fn func(State)) func() {
	g.mu.Lock()
	g.nextSubID++
	id := g.nextSubID
	g.stateSubs = append(g.stateSubs, subscription[State]{id: id, fn: fn})
	g.mu.Unlock()

	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		for i, sub := range g.stateSubs {
			if sub.id == id {
				g.stateSubs = append(g.stateSubs[:i], g.stateSubs[i+1:]...)
				return
			}
		}
	}
}

// SubscribePairingRequired registers a listener for the pairing-required
// signal and returns its unsubscribe handle.
func (g *Gateway) SubscribePairingRequired(fn func()) func() {
	g.mu.Lock()
	g.nextSubID++
	id := g.nextSubID
	g.pairingSubs = append(g.pairingSubs, subscription[struct{}]{id: id, fn: func(struct{}) { fn() }})
	g.mu.Unlock()

	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		for i, sub := range g.pairingSubs {
			if sub.id == id {
				g.pairingSubs = append(g.pairingSubs[:i], g.pairingSubs[i+1:]...)
				return
			}
		}
	}
}

func (g *Gateway) fanOutState(s State) {
	g.mu.Lock()
	subs := make([]subscription[State], len(g.stateSubs))
	copy(subs, g.stateSubs)
	g.mu.Unlock()

	for _, sub := range subs {
		sub.fn(s)
	}
}

func (g *Gateway) handleAuthUpdate(auth *protocol.ConnectResultAuth) {
	if auth.DeviceToken == "" {
		return
	}
	log.Printf("gateway: device token issued (role %s)", auth.Role)
	if err := g.store.SaveDeviceToken(auth.DeviceToken, auth.Role, auth.Scopes); err != nil {
		log.Printf("gateway: save device token: %v", err)
	}
	if err := g.store.SavePairingStatus(PairingPaired); err != nil {
		log.Printf("gateway: save pairing status: %v", err)
	}
}

func (g *Gateway) handlePairingRequired() {
	if err := g.store.SavePairingStatus(PairingPending); err != nil {
		log.Printf("gateway: save pairing status: %v", err)
	}

	g.mu.Lock()
	subs := make([]subscription[struct{}], len(g.pairingSubs))
	copy(subs, g.pairingSubs)
	g.mu.Unlock()

	for _, sub := range subs {
		sub.fn(struct{}{})
	}
}

// SessionKey resolves the current session key, minting and persisting
// {agentId}:{timestampMs}:{uuid} on first use.
func (g *Gateway) SessionKey() (string, error) {
	g.mu.Lock()
	if g.sessionKey != "" {
		key := g.sessionKey
		g.mu.Unlock()
		return key, nil
	}
	g.mu.Unlock()

	key, err := g.store.SessionKey()
	if err != nil {
		return "", err
	}
	if key == "" {
		agentID := g.settings().AgentID
		if agentID == "" {
			agentID = "main"
		}
		key = fmt.Sprintf("%s:%d:%s", agentID, timeNow().UnixMilli(), uuid.NewString())
		if err := g.store.SaveSessionKey(key); err != nil {
			return "", err
		}
		log.Printf("gateway: started session %s", key)
	}

	g.mu.Lock()
	g.sessionKey = key
	g.mu.Unlock()
	return key, nil
}

// NewSession discards the current session key so the next send mints a fresh
// one.
func (g *Gateway) NewSession() error {
	g.mu.Lock()
	g.sessionKey = ""
	g.mu.Unlock()
	return g.store.SaveSessionKey("")
}

// SendMessage issues chat.send and registers the callbacks for the resulting
// run. The returned run id is server-assigned when the gateway echoes one,
// otherwise the client's idempotency key. Cancelling ctx after the send
// aborts the run: chat.abort is issued best-effort, the callbacks are
// unregistered and OnDone fires.
func (g *Gateway) SendMessage(ctx context.Context, text string, cb RunCallbacks, opts *SendOptions) (string, error) {
	sessionKey, err := g.SessionKey()
	if err != nil {
		return "", err
	}

	idemKey := uuid.NewString()
	params := protocol.ChatSendParams{
		SessionKey:     sessionKey,
		Message:        text,
		IdempotencyKey: idemKey,
	}
	if opts != nil {
		params.Thinking = opts.Thinking
		params.TimeoutMs = opts.TimeoutMs
		params.Attachments = opts.Attachments
	}

	payload, err := g.conn.Request(ctx, protocol.MethodChatSend, params, 0)
	if err != nil {
		return "", clierrors.Wrap(clierrors.CodeChatSendFailed, "chat.send rejected", err)
	}

	var result protocol.ChatSendResult
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &result); err != nil {
			log.Printf("gateway: bad chat.send payload: %v", err)
		}
	}
	runID := result.RunID
	if runID == "" {
		// The gateway did not echo a run id; chat events for this run are
		// expected to carry the idempotency key instead.
		runID = idemKey
	}

	g.registerRun(ctx, runID, sessionKey, cb)
	return runID, nil
}

// registerRun wires the caller's callbacks into the router, adding transcript
// persistence and ctx-driven abort on top.
func (g *Gateway) registerRun(ctx context.Context, runID, sessionKey string, cb RunCallbacks) {
	var (
		mu       sync.Mutex
		lastText string
		done     = make(chan struct{})
		once     sync.Once
	)
	finish := func() { once.Do(func() { close(done) }) }

	g.router.Register(runID, RunCallbacks{
		OnChunk: func(text string) {
			mu.Lock()
			lastText = text
			mu.Unlock()
			if cb.OnChunk != nil {
				cb.OnChunk(text)
			}
		},
		OnDone: func() {
			finish()
			mu.Lock()
			text := lastText
			mu.Unlock()
			if text != "" {
				if err := g.store.AppendTranscript(sessionKey, runID, "assistant", text); err != nil {
					log.Printf("gateway: append transcript: %v", err)
				}
			}
			if cb.OnDone != nil {
				cb.OnDone()
			}
		},
		OnError: func(message string) {
			finish()
			if cb.OnError != nil {
				cb.OnError(message)
			}
		},
	})

	if ctx.Done() == nil {
		return
	}
	go func() {
		select {
		case <-done:
		case <-ctx.Done():
			if !g.router.Registered(runID) {
				return
			}
			g.router.Unregister(runID)
			finish()

			abortCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := g.Abort(abortCtx, runID); err != nil {
				log.Printf("gateway: abort run %s: %v", runID, err)
			}
			if cb.OnDone != nil {
				cb.OnDone()
			}
		}
	}()
}

// Abort issues chat.abort for a run. Best-effort: a nil return does not
// guarantee the run stopped server-side.
func (g *Gateway) Abort(ctx context.Context, runID string) error {
	sessionKey, err := g.SessionKey()
	if err != nil {
		return err
	}
	_, err = g.conn.Request(ctx, protocol.MethodChatAbort, protocol.ChatAbortParams{
		SessionKey: sessionKey,
		RunID:      runID,
	}, 0)
	return err
}

// History issues chat.history and returns the raw payload.
func (g *Gateway) History(ctx context.Context, limit int) (json.RawMessage, error) {
	sessionKey, err := g.SessionKey()
	if err != nil {
		return nil, err
	}
	return g.conn.Request(ctx, protocol.MethodChatHistory, protocol.ChatHistoryParams{
		SessionKey: sessionKey,
		Limit:      limit,
	}, 0)
}

// HistoryMessages fetches history and normalizes the payload, which arrives
// either as a bare list or wrapped in a messages field depending on gateway
// version.
func (g *Gateway) HistoryMessages(ctx context.Context, limit int) ([]protocol.ChatMessage, error) {
	raw, err := g.History(ctx, limit)
	if err != nil {
		return nil, err
	}
	return normalizeHistory(raw)
}

func normalizeHistory(raw json.RawMessage) ([]protocol.ChatMessage, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var bare []protocol.ChatMessage
	if err := json.Unmarshal(raw, &bare); err == nil {
		return bare, nil
	}

	var wrapped struct {
		Messages []protocol.ChatMessage `json:"messages"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, clierrors.Wrap(clierrors.CodeRPCFailed, "unrecognized history payload", err)
	}
	return wrapped.Messages, nil
}

// RemoveDevice issues devices.remove. Best-effort: failure is reported as
// false, not an error, since revocation of an already absent device is fine.
func (g *Gateway) RemoveDevice(ctx context.Context, deviceID string) bool {
	_, err := g.conn.Request(ctx, protocol.MethodDevicesRemove, protocol.DevicesRemoveParams{
		DeviceID: deviceID,
	}, 0)
	if err != nil {
		log.Printf("gateway: devices.remove %s: %v", deviceID, err)
		return false
	}
	return true
}

// Healthy reports gateway liveness. A connected websocket short-circuits to
// healthy without I/O; otherwise the HTTP prober is consulted.
func (g *Gateway) Healthy(ctx context.Context) bool {
	if g.settings().StreamingMode == ModeWebSocket && g.conn.State() == StateConnected {
		return true
	}

	g.mu.Lock()
	prober := g.prober
	g.mu.Unlock()
	if prober == nil {
		return false
	}
	return prober.Health(ctx) == nil
}
