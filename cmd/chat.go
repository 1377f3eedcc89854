package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/clawline/clawline/internal/config"
	"github.com/clawline/clawline/internal/gateway"
	"github.com/clawline/clawline/internal/httpfallback"
)

func runChat(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := registerCommonFlags(fs)
	thinking := fs.String("thinking", "", "Thinking level hint passed to the agent")
	newSession := fs.Bool("new-session", false, "Start a fresh session instead of resuming")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: clawline chat [options]\n\nStart an interactive chat session with the gateway's agent.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	cfg, err := common.loadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if cfg.StreamingMode != config.ModeWebSocket {
		return chatLoopHTTP(cfg, os.Stdin, stdout, stderr)
	}

	a, err := newApp(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close()

	if *newSession {
		if err := a.gateway.NewSession(); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}

	// Surface connection drops and pairing prompts while the operator types.
	unsubscribe := a.gateway.SubscribeState(func(s gateway.State) {
		switch s {
		case gateway.StateReconnecting:
			fmt.Fprintln(stderr, "[connection lost, reconnecting]")
		case gateway.StateConnected:
			fmt.Fprintln(stderr, "[connected]")
		case gateway.StatePairingRequired:
			fmt.Fprintln(stderr, "[pairing required]")
		}
	})
	defer unsubscribe()

	a.gateway.Connect()
	state, err := waitForConnection(a.gateway, connectTimeout)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if state == gateway.StatePairingRequired {
		printPairingHint(stderr, a.identity)
		return 1
	}

	sessionKey, err := a.gateway.SessionKey()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Connected to %s (agent %s, session %s)\n", cfg.GatewayURL, cfg.AgentID, sessionKey)
	fmt.Fprintln(stdout, "Type a message and press enter. Commands: /new, /history, /quit")

	return chatLoop(a, *thinking, os.Stdin, stdout, stderr)
}

func chatLoop(a *app, thinking string, in io.Reader, stdout, stderr io.Writer) int {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)

	for {
		fmt.Fprint(stdout, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(stdout)
			return 0
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/quit", "/exit":
			return 0
		case "/new":
			if err := a.gateway.NewSession(); err != nil {
				fmt.Fprintf(stderr, "Error: %v\n", err)
				continue
			}
			key, _ := a.gateway.SessionKey()
			fmt.Fprintf(stdout, "Started new session %s\n", key)
			continue
		case "/history":
			printHistory(a, 20, stdout, stderr)
			continue
		}

		var opts *gateway.SendOptions
		if thinking != "" {
			opts = &gateway.SendOptions{Thinking: thinking}
		}

		printer := &streamPrinter{w: stdout}
		done := make(chan error, 1)
		_, err := a.gateway.SendMessage(context.Background(), line, gateway.RunCallbacks{
			OnChunk: printer.update,
			OnDone:  func() { done <- nil },
			OnError: func(msg string) { done <- fmt.Errorf("%s", msg) },
		}, opts)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			continue
		}
		if err := <-done; err != nil {
			printer.finish()
			fmt.Fprintf(stderr, "Error: %v\n", err)
			continue
		}
		printer.finish()
	}
}

// chatLoopHTTP runs the interactive loop over the HTTP fallback. The
// conversation lives in memory as an OpenAI-compatible message list since
// the fallback has no session keys.
func chatLoopHTTP(cfg *config.Config, in io.Reader, stdout, stderr io.Writer) int {
	client, err := httpfallback.NewClient(cfg.GatewayURL, cfg.Token, cfg.AgentID)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Chatting with %s over %s (agent %s)\n", cfg.GatewayURL, cfg.StreamingMode, cfg.AgentID)
	fmt.Fprintln(stdout, "Type a message and press enter. Commands: /new, /quit")

	var messages []httpfallback.Message
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)

	for {
		fmt.Fprint(stdout, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(stdout)
			return 0
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/quit", "/exit":
			return 0
		case "/new":
			messages = nil
			fmt.Fprintln(stdout, "Started new conversation")
			continue
		}

		messages = append(messages, httpfallback.Message{Role: "user", Content: line})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		var reply string
		if cfg.StreamingMode == config.ModeHTTPSSE {
			reply, err = client.Stream(ctx, messages, func(fragment string) {
				fmt.Fprint(stdout, fragment)
			})
			fmt.Fprintln(stdout)
		} else {
			reply, err = client.Complete(ctx, messages)
			if err == nil {
				fmt.Fprintln(stdout, reply)
			}
		}
		cancel()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			// Drop the failed turn so a retry resends it cleanly.
			messages = messages[:len(messages)-1]
			continue
		}
		messages = append(messages, httpfallback.Message{Role: "assistant", Content: reply})
	}
}

func printHistory(a *app, limit int, stdout, stderr io.Writer) {
	ctx, cancel := historyContext()
	defer cancel()

	messages, err := a.gateway.HistoryMessages(ctx, limit)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return
	}
	if len(messages) == 0 {
		fmt.Fprintln(stdout, "No history for this session.")
		return
	}
	for i := range messages {
		m := &messages[i]
		role := m.Role
		if role == "" {
			role = "unknown"
		}
		fmt.Fprintf(stdout, "[%s] %s\n", role, m.TextJoined())
	}
}
