package main

import (
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

const connectTimeout = 15 * time.Second

func runSend(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := registerCommonFlags(fs)
	thinking := fs.String("thinking", "", "Thinking level hint passed to the agent")
	timeoutMs := fs.Int("timeout-ms", 0, "Per-run timeout in milliseconds (0 = gateway default)")
	newSession := fs.Bool("new-session", false, "Start a fresh session before sending")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: clawline send [options] <message>\n\nSend one message and print the reply. Reads the message from stdin when omitted.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	text := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if text == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(stderr, "Error: read stdin: %v\n", err)
			return 1
		}
		text = strings.TrimSpace(string(data))
	}
	if text == "" {
		fmt.Fprintln(stderr, "Error: no message given")
		return 1
	}

	cfg, err := common.loadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	switch cfg.StreamingMode {
	case config.ModeWebSocket:
		return sendWebSocket(cfg, text, *thinking, *timeoutMs, *newSession, stdout, stderr)
	case config.ModeHTTPSSE, config.ModeOff:
		return sendHTTP(cfg, text, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Error: unknown streaming mode %q\n", cfg.StreamingMode)
		return 1
	}
}

func sendWebSocket(cfg *config.Config, text, thinking string, timeoutMs int, newSession bool, stdout, stderr io.Writer) int {
	a, err := newApp(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close()

	if newSession {
		if err := a.gateway.NewSession(); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}

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

	var opts *gateway.SendOptions
	if thinking != "" || timeoutMs > 0 {
		opts = &gateway.SendOptions{Thinking: thinking, TimeoutMs: timeoutMs}
	}

	printer := &streamPrinter{w: stdout}
	done := make(chan error, 1)
	_, err = a.gateway.SendMessage(context.Background(), text, gateway.RunCallbacks{
		OnChunk: printer.update,
		OnDone:  func() { done <- nil },
		OnError: func(msg string) { done <- fmt.Errorf("%s", msg) },
	}, opts)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if err := <-done; err != nil {
		printer.finish()
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	printer.finish()
	return 0
}

func sendHTTP(cfg *config.Config, text string, stdout, stderr io.Writer) int {
	client, err := httpfallback.NewClient(cfg.GatewayURL, cfg.Token, cfg.AgentID)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	messages := []httpfallback.Message{{Role: "user", Content: text}}

	if cfg.StreamingMode == config.ModeHTTPSSE {
		// SSE fragments are incremental, print them as they come.
		_, err := client.Stream(ctx, messages, func(fragment string) {
			fmt.Fprint(stdout, fragment)
		})
		if err != nil {
			fmt.Fprintf(stderr, "\nError: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout)
		return 0
	}

	reply, err := client.Complete(ctx, messages)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, reply)
	return 0
}
