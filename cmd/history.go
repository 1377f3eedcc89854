package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/clawline/clawline/internal/gateway"
)

func historyContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func runHistory(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := registerCommonFlags(fs)
	limit := fs.Int("limit", 50, "Maximum number of messages to show")
	local := fs.Bool("local", false, "Read from the local transcript instead of the gateway")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: clawline history [options]\n\nShow the conversation history for the current session.\n\nOptions:\n")
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

	a, err := newApp(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close()

	if *local {
		return printLocalHistory(a, *limit, stdout, stderr)
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

	printHistory(a, *limit, stdout, stderr)
	return 0
}

// printLocalHistory replays the transcript saved from past streaming runs.
// It works offline; only runs completed by this client are recorded.
func printLocalHistory(a *app, limit int, stdout, stderr io.Writer) int {
	sessionKey, err := a.store.SessionKey()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if sessionKey == "" {
		fmt.Fprintln(stdout, "No session yet.")
		return 0
	}

	entries, err := a.store.Transcript(sessionKey, limit)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if len(entries) == 0 {
		fmt.Fprintln(stdout, "No local transcript for this session.")
		return 0
	}
	for _, e := range entries {
		fmt.Fprintf(stdout, "%s [%s] %s\n", e.CreatedAt.Format("15:04:05"), e.Role, e.Text)
	}
	return 0
}
