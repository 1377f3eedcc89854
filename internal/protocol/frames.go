// Package protocol defines the wire format spoken over the gateway socket.
//
// Three frame shapes travel on the transport: events (server push), requests
// (client to server) and responses (server answering a request). Frames are
// JSON text messages; decoding commits to exactly one shape before anything
// else looks at the frame, and malformed text is dropped rather than killing
// the connection.
package protocol

import "encoding/json"

// Frame is one decoded wire frame. Exactly one of the three concrete types
// (*EventFrame, *RequestFrame, *ResponseFrame) hides behind it.
type Frame interface {
	frame()
}

// EventFrame is a server-pushed event. Recognized event names are
// EventConnectChallenge, EventTick and EventChat; unknown events are legal
// and ignored by the dispatcher.
type EventFrame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Seq     *int64          `json:"seq,omitempty"`
}

// RequestFrame is a client-issued RPC request. Outbound only; the Type field
// always carries the literal "req".
type RequestFrame struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// ResponseFrame answers a request by correlation id. On ok=false the Error
// block carries the failure; on ok=true Payload carries the result.
type ResponseFrame struct {
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorBody      `json:"error,omitempty"`
}

// ErrorBody is the error block of a failed response. Code is optional and,
// when present, stable enough for callers to branch on (PAIRING_REQUIRED).
type ErrorBody struct {
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

func (*EventFrame) frame()    {}
func (*RequestFrame) frame()  {}
func (*ResponseFrame) frame() {}

// Recognized server event names.
const (
	EventConnectChallenge = "connect.challenge"
	EventTick             = "tick"
	EventChat             = "chat"
)

// NewRequest builds an outbound request frame with the "req" discriminator.
func NewRequest(id, method string, params any) *RequestFrame {
	return &RequestFrame{Type: "req", ID: id, Method: method, Params: params}
}

// probe decodes just enough of a frame to classify it. Pointer fields
// distinguish absent from zero-valued.
type probe struct {
	Event *string         `json:"event"`
	ID    *string         `json:"id"`
	OK    *bool           `json:"ok"`
	Seq   *int64          `json:"seq"`
	Pay   json.RawMessage `json:"payload"`
	Err   *ErrorBody      `json:"error"`
}

// Decode parses one text message into a frame. Classification is structural:
// a string "event" field makes it an event; otherwise a string "id" plus a
// boolean "ok" make it a response. Anything else, including malformed JSON,
// returns ok=false and the frame is dropped.
func Decode(data []byte) (Frame, bool) {
	var p probe
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, false
	}

	if p.Event != nil {
		return &EventFrame{Event: *p.Event, Payload: p.Pay, Seq: p.Seq}, true
	}
	if p.ID != nil && p.OK != nil {
		return &ResponseFrame{ID: *p.ID, OK: *p.OK, Payload: p.Pay, Error: p.Err}, true
	}
	return nil, false
}
