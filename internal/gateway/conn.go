// Package gateway implements the client side of the gateway streaming
// protocol: the connection state machine, the RPC correlation layer, the chat
// session router and the facade that composes them.
//
// Exactly one transport connection is live at a time. The connection machine
// owns the socket and all protocol timers; nothing else touches the transport
// directly. A generation counter invalidates goroutines and timers belonging
// to a previous connection attempt, so a slow dial or a stale watchdog can
// never disturb the connection that replaced it.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	clierrors "github.com/clawline/clawline/internal/errors"
	"github.com/clawline/clawline/internal/identity"
	"github.com/clawline/clawline/internal/protocol"
)

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected    State = "disconnected"
	StateConnecting      State = "connecting"
	StateAuthenticating  State = "authenticating"
	StateConnected       State = "connected"
	StateReconnecting    State = "reconnecting"
	StatePairingRequired State = "pairing_required"
)

const (
	// handshakeTimeout bounds both the websocket dial and the wait for the
	// server's connect.challenge after the transport opens.
	handshakeTimeout = 5 * time.Second

	// connectTimeout bounds the connect RPC itself.
	connectTimeout = 10 * time.Second

	// defaultTickInterval applies when the gateway's connect response does
	// not dictate a keep-alive policy.
	defaultTickInterval = 30 * time.Second
)

// Settings is a snapshot of the configuration the connection machine needs.
// It is read through an accessor on every use so edits to the gateway URL or
// tokens take effect on the next connection attempt without rewiring.
type Settings struct {
	// GatewayURL is the gateway endpoint. http(s) schemes are rewritten to
	// ws(s); a bare host:port dials unencrypted ws.
	GatewayURL string

	// Token is the operator bearer token, if configured.
	Token string

	// DeviceToken is a gateway-issued token from a previous paired
	// connection. Used when no operator token is configured.
	DeviceToken string

	// AgentID names the agent this client converses with.
	AgentID string

	// StreamingMode selects the transport: ModeWebSocket, ModeHTTPSSE or
	// ModeOff. Only the facade consults it; the connection machine always
	// speaks websocket.
	StreamingMode string

	// Identity is the device keypair used to sign the handshake. Nil means
	// token-only authentication.
	Identity *identity.Identity

	// Client descriptor fields sent in the connect request.
	ClientID      string
	DisplayName   string
	ClientVersion string
	Platform      string
	ClientMode    string
}

// SettingsFunc returns the current settings snapshot.
type SettingsFunc func() Settings

// timeNow is swapped in tests.
var timeNow = time.Now

// Conn is the connection state machine. Create with NewConn, wire handlers
// with the On* setters before Start, then drive it with Start/Stop/Restart.
type Conn struct {
	settings SettingsFunc
	calls    *callTable
	policy   *reconnectPolicy

	mu             sync.Mutex
	state          State
	ws             *websocket.Conn
	gen            int
	stopped        bool
	connectSent    bool
	tickInterval   time.Duration
	lastTick       time.Time
	handshakeTimer *time.Timer
	reconnectTimer *time.Timer

	onState   func(State)
	onEvent   func(*protocol.EventFrame)
	onAuth    func(*protocol.ConnectResultAuth)
	onPairing func()

	// writeMu serializes writes; gorilla/websocket allows one concurrent
	// writer per connection.
	writeMu sync.Mutex
}

// NewConn creates a connection machine in the disconnected state.
func NewConn(settings SettingsFunc) *Conn {
	return &Conn{
		settings: settings,
		calls:    newCallTable(),
		policy:   newReconnectPolicy(),
		state:    StateDisconnected,
	}
}

// OnStateChange sets the handler invoked after every state transition.
// Handlers run without the machine lock held and must not block indefinitely.
func (c *Conn) OnStateChange(fn func(State)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// OnEvent sets the handler for server events the machine does not consume
// itself (everything except connect.challenge and tick).
func (c *Conn) OnEvent(fn func(*protocol.EventFrame)) {
	c.mu.Lock()
	c.onEvent = fn
	c.mu.Unlock()
}

// OnAuthUpdate sets the handler invoked when a connect response carries a
// newly issued device token.
func (c *Conn) OnAuthUpdate(fn func(*protocol.ConnectResultAuth)) {
	c.mu.Lock()
	c.onAuth = fn
	c.mu.Unlock()
}

// OnPairingRequired sets the handler invoked when the gateway refuses the
// handshake because this device awaits approval.
func (c *Conn) OnPairingRequired(fn func()) {
	c.mu.Lock()
	c.onPairing = fn
	c.mu.Unlock()
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start opens a connection if one is not already being attempted. Safe to
// call from any state; a live or in-progress connection is left alone.
func (c *Conn) Start() {
	c.mu.Lock()
	c.stopped = false
	switch c.state {
	case StateConnecting, StateAuthenticating, StateConnected:
		c.mu.Unlock()
		return
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.gen++
	gen := c.gen
	c.state = StateConnecting
	notify := c.onState
	c.mu.Unlock()

	if notify != nil {
		notify(StateConnecting)
	}
	go c.run(gen)
}

// Stop tears the connection down and stays down until Start or Restart.
// All pending RPCs are rejected and all timers cancelled.
func (c *Conn) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.gen++
	c.cancelTimersLocked()
	ws := c.ws
	c.ws = nil
	changed := c.state != StateDisconnected
	c.state = StateDisconnected
	notify := c.onState
	c.mu.Unlock()

	c.calls.flush(clierrors.ConnClosed())
	if ws != nil {
		c.writeClose(ws, websocket.CloseNormalClosure, "client stopped")
		ws.Close()
	}
	if changed && notify != nil {
		notify(StateDisconnected)
	}
}

// Restart forces immediate teardown and a fresh connection attempt,
// regardless of any backoff delay currently pending.
func (c *Conn) Restart() {
	c.mu.Lock()
	c.stopped = false
	c.gen++
	gen := c.gen
	c.cancelTimersLocked()
	ws := c.ws
	c.ws = nil
	c.state = StateConnecting
	notify := c.onState
	c.mu.Unlock()

	c.calls.flush(clierrors.ConnClosed())
	if ws != nil {
		ws.Close()
	}
	if notify != nil {
		notify(StateConnecting)
	}
	go c.run(gen)
}

// cancelTimersLocked stops the handshake and reconnect timers. Caller holds mu.
func (c *Conn) cancelTimersLocked() {
	if c.handshakeTimer != nil {
		c.handshakeTimer.Stop()
		c.handshakeTimer = nil
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

// Request issues an RPC and waits for its response, the timeout, a connection
// flush, or ctx cancellation, whichever settles it first. A non-positive
// timeout uses DefaultRequestTimeout.
func (c *Conn) Request(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return nil, clierrors.NotConnected()
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	id := uuid.NewString()
	data, err := json.Marshal(protocol.NewRequest(id, method, params))
	if err != nil {
		return nil, clierrors.Internal("marshal request", err)
	}

	done := c.calls.add(id, method, timeout)

	c.writeMu.Lock()
	err = ws.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		c.calls.reject(id, clierrors.Wrap(clierrors.CodeConnClosed, "send request", err))
	}

	select {
	case res := <-done:
		return res.payload, res.err
	case <-ctx.Done():
		c.calls.reject(id, clierrors.Wrap(clierrors.CodeRPCFailed, method+" canceled", ctx.Err()))
		res := <-done
		return res.payload, res.err
	}
}

// run dials the gateway and drives one connection to completion. gen ties
// every side effect to this attempt.
func (c *Conn) run(gen int) {
	endpoint, err := normalizeEndpoint(c.settings().GatewayURL)
	if err != nil {
		log.Printf("gateway: %v", err)
		c.handleDisconnect(gen)
		return
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, _, err := dialer.Dial(endpoint, nil)
	if err != nil {
		log.Printf("gateway: dial %s: %v", endpoint, err)
		c.handleDisconnect(gen)
		return
	}

	c.mu.Lock()
	if gen != c.gen || c.stopped {
		c.mu.Unlock()
		ws.Close()
		return
	}
	c.ws = ws
	c.connectSent = false
	c.state = StateAuthenticating
	c.handshakeTimer = time.AfterFunc(handshakeTimeout, func() {
		c.handshakeExpired(gen)
	})
	notify := c.onState
	c.mu.Unlock()

	if notify != nil {
		notify(StateAuthenticating)
	}
	c.readLoop(gen, ws)
}

// handshakeExpired fires when no connect.challenge arrived in time.
func (c *Conn) handshakeExpired(gen int) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateAuthenticating {
		c.mu.Unlock()
		return
	}
	ws := c.ws
	c.mu.Unlock()

	log.Printf("gateway: no challenge within %s, closing", handshakeTimeout)
	if ws != nil {
		ws.Close()
	}
}

// readLoop processes frames until the transport closes. Malformed frames are
// dropped without affecting the connection.
func (c *Conn) readLoop(gen int, ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.handleDisconnect(gen)
			return
		}

		frame, ok := protocol.Decode(data)
		if !ok {
			continue
		}

		switch f := frame.(type) {
		case *protocol.EventFrame:
			c.handleEvent(gen, f)
		case *protocol.ResponseFrame:
			c.handleResponse(f)
		}
	}
}

func (c *Conn) handleResponse(res *protocol.ResponseFrame) {
	if res.OK {
		c.calls.resolve(res.ID, res.Payload)
		return
	}

	code := clierrors.CodeRPCFailed
	message := "request failed"
	if res.Error != nil {
		if res.Error.Code != "" {
			code = res.Error.Code
		}
		if res.Error.Message != "" {
			message = res.Error.Message
		}
	}
	c.calls.reject(res.ID, clierrors.New(code, message))
}

func (c *Conn) handleEvent(gen int, ev *protocol.EventFrame) {
	switch ev.Event {
	case protocol.EventConnectChallenge:
		c.mu.Lock()
		// Only the first challenge of a connection triggers a connect call;
		// a server resending the challenge must not cause a duplicate.
		if gen != c.gen || c.connectSent {
			c.mu.Unlock()
			return
		}
		c.connectSent = true
		if c.handshakeTimer != nil {
			c.handshakeTimer.Stop()
			c.handshakeTimer = nil
		}
		c.mu.Unlock()

		var challenge protocol.ChallengePayload
		if len(ev.Payload) > 0 {
			if err := json.Unmarshal(ev.Payload, &challenge); err != nil {
				log.Printf("gateway: bad challenge payload: %v", err)
			}
		}
		go c.authenticate(gen, challenge.Nonce)

	case protocol.EventTick:
		c.mu.Lock()
		c.lastTick = timeNow()
		c.mu.Unlock()

	default:
		c.mu.Lock()
		fn := c.onEvent
		c.mu.Unlock()
		if fn != nil {
			fn(ev)
		}
	}
}

// authenticate answers a challenge with one connect request. A signing
// failure degrades to token-only authentication rather than aborting the
// attempt.
func (c *Conn) authenticate(gen int, nonce string) {
	s := c.settings()
	scopes := protocol.OperatorScopes()
	signedAt := timeNow().UnixMilli()

	// Prefer the configured operator token; otherwise present the device
	// token issued on a previous paired connection.
	token := s.Token
	if token == "" {
		token = s.DeviceToken
	}

	params := protocol.ConnectParams{
		MinProtocol: protocol.MinProtocol,
		MaxProtocol: protocol.MaxProtocol,
		Client: protocol.ClientInfo{
			ID:          s.ClientID,
			DisplayName: s.DisplayName,
			Version:     s.ClientVersion,
			Platform:    s.Platform,
			Mode:        s.ClientMode,
		},
		Role:   protocol.RoleOperator,
		Scopes: scopes,
	}
	if token != "" || s.DeviceToken != "" {
		params.Auth = &protocol.ConnectAuth{Token: token, DeviceToken: s.DeviceToken}
	}

	if s.Identity != nil {
		payload := identity.BuildAuthPayload(identity.AuthPayloadParams{
			DeviceID:   s.Identity.DeviceID,
			ClientID:   s.ClientID,
			ClientMode: s.ClientMode,
			Role:       protocol.RoleOperator,
			Scopes:     scopes,
			SignedAtMs: signedAt,
			Token:      token,
			Nonce:      nonce,
		})
		sig, err := s.Identity.Sign(payload)
		if err != nil {
			log.Printf("gateway: signing auth payload failed, falling back to token auth: %v", err)
		} else {
			params.Device = &protocol.DevicePayload{
				ID:        s.Identity.DeviceID,
				PublicKey: s.Identity.PublicKey,
				Signature: sig,
				SignedAt:  signedAt,
				Nonce:     nonce,
			}
		}
	}

	payload, err := c.Request(context.Background(), protocol.MethodConnect, params, connectTimeout)
	if err != nil {
		c.handleConnectError(gen, err)
		return
	}
	c.handleConnectSuccess(gen, payload)
}

func (c *Conn) handleConnectSuccess(gen int, raw json.RawMessage) {
	var result protocol.ConnectResult
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			log.Printf("gateway: bad connect payload: %v", err)
		}
	}

	tick := defaultTickInterval
	if result.Policy != nil && result.Policy.TickIntervalMs > 0 {
		tick = time.Duration(result.Policy.TickIntervalMs) * time.Millisecond
	}

	c.mu.Lock()
	if gen != c.gen || c.stopped {
		c.mu.Unlock()
		return
	}
	c.tickInterval = tick
	c.lastTick = timeNow()
	c.state = StateConnected
	c.policy.Reset()
	notifyState := c.onState
	notifyAuth := c.onAuth
	c.mu.Unlock()

	log.Printf("gateway: connected (tick interval %s)", tick)
	c.startWatchdog(gen, tick)

	if result.Auth != nil && notifyAuth != nil {
		notifyAuth(result.Auth)
	}
	if notifyState != nil {
		notifyState(StateConnected)
	}
}

func (c *Conn) handleConnectError(gen int, err error) {
	if clierrors.IsPairingRequired(err) {
		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return
		}
		// Bump the generation so the reader's close handling becomes a
		// no-op: pairing requires operator action, not a retry loop.
		c.gen++
		c.cancelTimersLocked()
		ws := c.ws
		c.ws = nil
		c.state = StatePairingRequired
		notifyState := c.onState
		notifyPairing := c.onPairing
		c.mu.Unlock()

		c.calls.flush(clierrors.ConnClosed())
		if ws != nil {
			c.writeClose(ws, websocket.CloseNormalClosure, "pairing required")
			ws.Close()
		}

		log.Printf("gateway: pairing required, approve this device on the gateway")
		if notifyPairing != nil {
			notifyPairing()
		}
		if notifyState != nil {
			notifyState(StatePairingRequired)
		}
		return
	}

	log.Printf("gateway: connect failed: %v", err)
	c.closeTransport(gen)
}

// startWatchdog launches the keep-alive check for one connection. It probes
// at max(tick, 1s) and closes the transport abnormally once no tick has been
// seen for 2.5 times the tick interval.
func (c *Conn) startWatchdog(gen int, tick time.Duration) {
	interval := tick
	if interval < time.Second {
		interval = time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			c.mu.Lock()
			if gen != c.gen || c.state != StateConnected {
				c.mu.Unlock()
				return
			}
			silent := timeNow().Sub(c.lastTick)
			c.mu.Unlock()

			if tickExpired(silent, tick) {
				log.Printf("gateway: no tick for %s, closing dead connection", silent.Round(time.Millisecond))
				c.closeTransport(gen)
				return
			}
		}
	}()
}

// tickExpired reports whether the silence since the last tick exceeds the
// 2.5x liveness budget.
func tickExpired(silent, tick time.Duration) bool {
	return silent > tick*5/2
}

// closeTransport force-closes the socket of the given generation. The reader
// observes the close and runs the normal disconnect path.
func (c *Conn) closeTransport(gen int) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	ws := c.ws
	c.mu.Unlock()

	if ws != nil {
		ws.Close()
	}
}

// handleDisconnect runs when the transport of a live generation goes away,
// for any reason. Pending RPCs are flushed before the new state takes effect.
func (c *Conn) handleDisconnect(gen int) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.handshakeTimer != nil {
		c.handshakeTimer.Stop()
		c.handshakeTimer = nil
	}
	ws := c.ws
	c.ws = nil
	stopped := c.stopped

	var next State
	var delay time.Duration
	if stopped {
		next = StateDisconnected
	} else {
		next = StateReconnecting
		delay = c.policy.Next()
		c.reconnectTimer = time.AfterFunc(delay, c.redial)
	}
	changed := c.state != next
	c.state = next
	notify := c.onState
	c.mu.Unlock()

	c.calls.flush(clierrors.ConnClosed())
	if ws != nil {
		ws.Close()
	}

	if !stopped {
		log.Printf("gateway: connection lost, reconnecting in %s", delay)
	}
	if changed && notify != nil {
		notify(next)
	}
}

// redial fires from the reconnect timer.
func (c *Conn) redial() {
	c.mu.Lock()
	if c.stopped || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	c.gen++
	gen := c.gen
	c.state = StateConnecting
	notify := c.onState
	c.mu.Unlock()

	if notify != nil {
		notify(StateConnecting)
	}
	go c.run(gen)
}

func (c *Conn) writeClose(ws *websocket.Conn, code int, reason string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := timeNow().Add(time.Second)
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}

// normalizeEndpoint rewrites http(s) schemes to ws(s) and defaults a bare
// host:port to unencrypted ws.
func normalizeEndpoint(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", clierrors.New(clierrors.CodeConnInvalidURL, "gateway url is empty")
	}

	switch {
	case strings.HasPrefix(s, "ws://"), strings.HasPrefix(s, "wss://"):
		// already a websocket url
	case strings.HasPrefix(s, "http://"):
		s = "ws://" + strings.TrimPrefix(s, "http://")
	case strings.HasPrefix(s, "https://"):
		s = "wss://" + strings.TrimPrefix(s, "https://")
	case strings.Contains(s, "://"):
		return "", clierrors.New(clierrors.CodeConnInvalidURL, fmt.Sprintf("unsupported gateway url scheme in %q", raw))
	default:
		s = "ws://" + s
	}

	if _, err := url.Parse(s); err != nil {
		return "", clierrors.Wrap(clierrors.CodeConnInvalidURL, "parse gateway url", err)
	}
	return s, nil
}
