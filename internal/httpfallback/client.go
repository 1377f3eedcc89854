// Package httpfallback talks to the gateway's OpenAI-compatible HTTP surface.
//
// It is used when the streaming mode is not "websocket": a plain
// request/response exchange (`off`) or server-sent events (`http-sse`).
// Unlike the persistent connection, where each chat delta carries the
// cumulative text so far, SSE deltas are incremental fragments that the
// caller appends.
package httpfallback

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	clierrors "github.com/clawline/clawline/internal/errors"
)

// Message is one turn of an OpenAI-compatible conversation body.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client issues chat completions and health probes against the gateway's
// HTTP endpoint.
type Client struct {
	baseURL string
	token   string
	agentID string
	httpc   *http.Client
}

// BaseURL derives the HTTP base URL from a gateway endpoint. WebSocket
// schemes map to their HTTP equivalents; a bare host:port gets http://.
func BaseURL(gatewayURL string) (string, error) {
	raw := strings.TrimSpace(gatewayURL)
	if raw == "" {
		return "", clierrors.New(clierrors.CodeConnInvalidURL, "gateway url is empty")
	}

	switch {
	case strings.HasPrefix(raw, "ws://"):
		raw = "http://" + raw[len("ws://"):]
	case strings.HasPrefix(raw, "wss://"):
		raw = "https://" + raw[len("wss://"):]
	case strings.HasPrefix(raw, "http://"), strings.HasPrefix(raw, "https://"):
		// Already an HTTP endpoint.
	case strings.Contains(raw, "://"):
		return "", clierrors.New(clierrors.CodeConnInvalidURL,
			fmt.Sprintf("unsupported gateway url scheme in %q", raw))
	default:
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", clierrors.Wrap(clierrors.CodeConnInvalidURL, "invalid gateway url", err)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

// NewClient builds a fallback client for the given gateway endpoint. The
// token is sent as a bearer credential; agentID selects the agent via the
// model field.
func NewClient(gatewayURL, token, agentID string) (*Client, error) {
	base, err := BaseURL(gatewayURL)
	if err != nil {
		return nil, err
	}
	if agentID == "" {
		agentID = "main"
	}
	return &Client{
		baseURL: base,
		token:   token,
		agentID: agentID,
		httpc:   &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

// Health probes GET {base}/health. A nil return means the gateway answered
// with a 2xx status.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return clierrors.Wrap(clierrors.CodeConnDialFailed, "build health request", err)
	}
	c.authorize(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return clierrors.Wrap(clierrors.CodeConnDialFailed, "gateway health probe failed", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return clierrors.New(clierrors.CodeConnDialFailed,
			fmt.Sprintf("gateway health probe returned %d", resp.StatusCode))
	}
	return nil
}

// Complete performs a non-streaming chat completion and returns the full
// assistant reply.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	resp, err := c.postCompletions(ctx, messages, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		Choices []struct {
			Message Message `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", clierrors.Wrap(clierrors.CodeChatSendFailed, "decode completion response", err)
	}
	if len(out.Choices) == 0 {
		return "", clierrors.New(clierrors.CodeChatSendFailed, "completion response has no choices")
	}
	return out.Choices[0].Message.Content, nil
}

// Stream performs a streaming chat completion over server-sent events.
// Each fragment is passed to onChunk as it arrives; fragments are
// incremental, not cumulative. The accumulated full reply is returned.
func (c *Client) Stream(ctx context.Context, messages []Message, onChunk func(string)) (string, error) {
	resp, err := c.postCompletions(ctx, messages, true)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	return parseSSE(resp.Body, onChunk)
}

func (c *Client) postCompletions(ctx context.Context, messages []Message, stream bool) (*http.Response, error) {
	body := struct {
		Model    string    `json:"model"`
		Messages []Message `json:"messages"`
		Stream   bool      `json:"stream"`
	}{
		Model:    "openclaw:" + c.agentID,
		Messages: messages,
		Stream:   stream,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, clierrors.Wrap(clierrors.CodeChatSendFailed, "encode completion request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, clierrors.Wrap(clierrors.CodeChatSendFailed, "build completion request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	c.authorize(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, clierrors.Wrap(clierrors.CodeChatSendFailed, "completion request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, clierrors.New(clierrors.CodeChatSendFailed,
			fmt.Sprintf("completion request returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))))
	}
	return resp, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// parseSSE reads an event stream of `data: {...}` lines, forwarding each
// incremental content fragment to onChunk until `data: [DONE]` or EOF.
func parseSSE(r io.Reader, onChunk func(string)) (string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 256*1024), 256*1024)

	var full strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var event struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if json.Unmarshal([]byte(data), &event) != nil || len(event.Choices) == 0 {
			continue
		}
		if fragment := event.Choices[0].Delta.Content; fragment != "" {
			full.WriteString(fragment)
			if onChunk != nil {
				onChunk(fragment)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return full.String(), clierrors.Wrap(clierrors.CodeChatRunFailed, "read event stream", err)
	}
	return full.String(), nil
}
