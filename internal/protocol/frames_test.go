package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecode_Classification(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string // "event", "response", "drop"
	}{
		{name: "event frame", data: `{"event":"tick"}`, want: "event"},
		{name: "event with payload and seq", data: `{"event":"chat","payload":{"runId":"r1"},"seq":4}`, want: "event"},
		{name: "response ok", data: `{"id":"42","ok":true,"payload":{"x":1}}`, want: "response"},
		{name: "response error", data: `{"id":"42","ok":false,"error":{"code":"NOPE","message":"no"}}`, want: "response"},
		{name: "event wins over id/ok", data: `{"event":"tick","id":"1","ok":true}`, want: "event"},
		{name: "missing ok", data: `{"id":"42"}`, want: "drop"},
		{name: "missing id", data: `{"ok":true}`, want: "drop"},
		{name: "empty object", data: `{}`, want: "drop"},
		{name: "malformed json", data: `{"event":`, want: "drop"},
		{name: "non-object", data: `[1,2,3]`, want: "drop"},
		{name: "event is not a string", data: `{"event":7}`, want: "drop"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, ok := Decode([]byte(tt.data))
			if tt.want == "drop" {
				if ok {
					t.Fatalf("Decode(%s) should drop, got %#v", tt.data, frame)
				}
				return
			}
			if !ok {
				t.Fatalf("Decode(%s) dropped, want %s frame", tt.data, tt.want)
			}
			switch tt.want {
			case "event":
				if _, isEvent := frame.(*EventFrame); !isEvent {
					t.Errorf("Decode(%s) = %T, want *EventFrame", tt.data, frame)
				}
			case "response":
				if _, isResp := frame.(*ResponseFrame); !isResp {
					t.Errorf("Decode(%s) = %T, want *ResponseFrame", tt.data, frame)
				}
			}
		})
	}
}

func TestDecode_EventFields(t *testing.T) {
	frame, ok := Decode([]byte(`{"event":"connect.challenge","payload":{"nonce":"n-1"},"seq":9}`))
	if !ok {
		t.Fatal("Decode() dropped a valid event")
	}
	ev := frame.(*EventFrame)
	if ev.Event != EventConnectChallenge {
		t.Errorf("Event = %q, want %q", ev.Event, EventConnectChallenge)
	}
	if ev.Seq == nil || *ev.Seq != 9 {
		t.Errorf("Seq = %v, want 9", ev.Seq)
	}

	var challenge ChallengePayload
	if err := json.Unmarshal(ev.Payload, &challenge); err != nil {
		t.Fatalf("decode challenge payload: %v", err)
	}
	if challenge.Nonce != "n-1" {
		t.Errorf("Nonce = %q, want %q", challenge.Nonce, "n-1")
	}
}

func TestDecode_ResponseError(t *testing.T) {
	frame, ok := Decode([]byte(`{"id":"7","ok":false,"error":{"code":"PAIRING_REQUIRED","message":"pairing required"}}`))
	if !ok {
		t.Fatal("Decode() dropped a valid response")
	}
	res := frame.(*ResponseFrame)
	if res.ID != "7" || res.OK {
		t.Errorf("got id=%q ok=%v, want id=7 ok=false", res.ID, res.OK)
	}
	if res.Error == nil || res.Error.Code != "PAIRING_REQUIRED" {
		t.Errorf("Error = %+v, want code PAIRING_REQUIRED", res.Error)
	}
}

func TestNewRequest_Marshal(t *testing.T) {
	req := NewRequest("id-1", MethodChatAbort, ChatAbortParams{SessionKey: "s", RunID: "r"})
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	if got["type"] != "req" {
		t.Errorf(`type = %v, want "req"`, got["type"])
	}
	if got["id"] != "id-1" {
		t.Errorf("id = %v, want id-1", got["id"])
	}
	if got["method"] != "chat.abort" {
		t.Errorf("method = %v, want chat.abort", got["method"])
	}
	params, _ := got["params"].(map[string]any)
	if params["sessionKey"] != "s" {
		t.Errorf("params.sessionKey = %v, want s", params["sessionKey"])
	}
}

func TestChatMessage_Text(t *testing.T) {
	msg := &ChatMessage{
		Role: "assistant",
		Content: []ChatContent{
			{Type: "text", Text: "Hello"},
			{Type: "image", Text: "ignored"},
			{Type: "text", Text: ""},
			{Type: "text", Text: " world"},
		},
	}

	if got := msg.Text(); got != "Hello world" {
		t.Errorf("Text() = %q, want %q", got, "Hello world")
	}
	if got := msg.TextJoined(); got != "Hello\n world" {
		t.Errorf("TextJoined() = %q, want %q", got, "Hello\n world")
	}

	var nilMsg *ChatMessage
	if nilMsg.Text() != "" || nilMsg.TextJoined() != "" {
		t.Error("nil message should extract to empty text")
	}
}

func TestDecodeChatPayload(t *testing.T) {
	raw := json.RawMessage(`{"runId":"r1","sessionKey":"main:1:a","seq":2,"state":"delta","message":{"role":"assistant","content":[{"type":"text","text":"Hel"}]}}`)
	p, err := DecodeChatPayload(raw)
	if err != nil {
		t.Fatalf("DecodeChatPayload() error: %v", err)
	}
	if p.RunID != "r1" || p.State != ChatStateDelta {
		t.Errorf("got runId=%q state=%q", p.RunID, p.State)
	}
	if p.Message.Text() != "Hel" {
		t.Errorf("Text() = %q, want Hel", p.Message.Text())
	}
}
