package protocol

import (
	"encoding/json"
	"strings"
)

// Protocol version bounds advertised in the connect request.
const (
	MinProtocol = 1
	MaxProtocol = 3
)

// RPC method names. The method surface is fixed; this client speaks exactly
// these five.
const (
	MethodConnect       = "connect"
	MethodChatSend      = "chat.send"
	MethodChatAbort     = "chat.abort"
	MethodChatHistory   = "chat.history"
	MethodDevicesRemove = "devices.remove"
)

// Role and scopes this client connects with. Scope order matters: the same
// ordered list is signed into the device auth payload.
const RoleOperator = "operator"

// OperatorScopes returns the scopes requested on connect, in signing order.
func OperatorScopes() []string {
	return []string{"operator.read", "operator.write"}
}

// ClientInfo describes this client to the gateway.
type ClientInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Version     string `json:"version"`
	Platform    string `json:"platform"`
	Mode        string `json:"mode"`
}

// ConnectAuth carries bearer credentials. Token is the operator token; a
// previously issued device token rides alongside so the gateway can prefer it.
type ConnectAuth struct {
	Token       string `json:"token,omitempty"`
	DeviceToken string `json:"deviceToken,omitempty"`
}

// DevicePayload is the signed device identity block of a connect request.
// The signature covers the auth payload built over the server's challenge
// nonce; SignedAt is milliseconds since epoch.
type DevicePayload struct {
	ID        string `json:"id"`
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
	SignedAt  int64  `json:"signedAt"`
	Nonce     string `json:"nonce"`
}

// ConnectParams is the params object of the connect request.
type ConnectParams struct {
	MinProtocol int            `json:"minProtocol"`
	MaxProtocol int            `json:"maxProtocol"`
	Client      ClientInfo     `json:"client"`
	Role        string         `json:"role,omitempty"`
	Scopes      []string       `json:"scopes,omitempty"`
	Auth        *ConnectAuth   `json:"auth,omitempty"`
	Device      *DevicePayload `json:"device,omitempty"`
}

// ChallengePayload is the payload of a connect.challenge event.
type ChallengePayload struct {
	Nonce string `json:"nonce"`
}

// ConnectResult is the payload of a successful connect response. All fields
// are optional; older gateways omit policy entirely.
type ConnectResult struct {
	Auth   *ConnectResultAuth `json:"auth,omitempty"`
	Policy *ConnectPolicy     `json:"policy,omitempty"`
}

// ConnectResultAuth carries a newly issued device token and the granted
// role/scopes.
type ConnectResultAuth struct {
	DeviceToken string   `json:"deviceToken,omitempty"`
	Role        string   `json:"role,omitempty"`
	Scopes      []string `json:"scopes,omitempty"`
}

// ConnectPolicy carries server-dictated connection policy.
type ConnectPolicy struct {
	TickIntervalMs int `json:"tickIntervalMs,omitempty"`
}

// ChatSendParams is the params object of a chat.send request.
type ChatSendParams struct {
	SessionKey     string       `json:"sessionKey"`
	Message        string       `json:"message"`
	IdempotencyKey string       `json:"idempotencyKey"`
	Thinking       string       `json:"thinking,omitempty"`
	TimeoutMs      int          `json:"timeoutMs,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
}

// Attachment is an optional media block attached to a chat.send.
type Attachment struct {
	Type     string `json:"type"`
	MimeType string `json:"mimeType,omitempty"`
	FileName string `json:"fileName,omitempty"`
	Content  string `json:"content,omitempty"`
}

// ChatSendResult is the payload of a successful chat.send response. RunID may
// be empty; callers fall back to their idempotency key when it is.
type ChatSendResult struct {
	RunID string `json:"runId,omitempty"`
}

// ChatAbortParams is the params object of a chat.abort request.
type ChatAbortParams struct {
	SessionKey string `json:"sessionKey"`
	RunID      string `json:"runId,omitempty"`
}

// ChatHistoryParams is the params object of a chat.history request.
type ChatHistoryParams struct {
	SessionKey string `json:"sessionKey"`
	Limit      int    `json:"limit,omitempty"`
}

// DevicesRemoveParams is the params object of a devices.remove request.
type DevicesRemoveParams struct {
	DeviceID string `json:"deviceId"`
}

// Chat run states carried in chat events.
const (
	ChatStateDelta   = "delta"
	ChatStateFinal   = "final"
	ChatStateError   = "error"
	ChatStateAborted = "aborted"
)

// ChatEventPayload is the payload of a chat event. For delta/final states
// Message carries the cumulative content so far; for error states
// ErrorMessage carries the failure text.
type ChatEventPayload struct {
	RunID        string       `json:"runId"`
	SessionKey   string       `json:"sessionKey"`
	Seq          int64        `json:"seq,omitempty"`
	State        string       `json:"state"`
	Message      *ChatMessage `json:"message,omitempty"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
}

// ChatMessage is one chat message with typed content blocks.
type ChatMessage struct {
	Role    string        `json:"role,omitempty"`
	Content []ChatContent `json:"content"`
}

// ChatContent is one content block. Only "text" blocks matter to this client.
type ChatContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Text concatenates the non-empty text blocks of a message with no separator.
// This is the streaming extraction; history replay uses TextJoined instead.
func (m *ChatMessage) Text() string {
	if m == nil {
		return ""
	}
	var b strings.Builder
	for _, c := range m.Content {
		if c.Type == "text" && c.Text != "" {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// TextJoined joins non-empty text blocks with newlines. History entries keep
// block boundaries visible this way while live streaming does not; the two
// extraction policies are intentionally different.
func (m *ChatMessage) TextJoined() string {
	if m == nil {
		return ""
	}
	var parts []string
	for _, c := range m.Content {
		if c.Type == "text" && c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// DecodeChatPayload parses the payload of a chat event.
func DecodeChatPayload(raw json.RawMessage) (*ChatEventPayload, error) {
	var p ChatEventPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
