package main

import (
	"flag"
	"fmt"
	"io"
	"runtime"
	"strings"
	"time"

	"github.com/clawline/clawline/internal/config"
	"github.com/clawline/clawline/internal/gateway"
	"github.com/clawline/clawline/internal/httpfallback"
	"github.com/clawline/clawline/internal/identity"
	"github.com/clawline/clawline/internal/storage"
)

// commonFlags are the options shared by every command that talks to a
// gateway. Flag values override the config file.
type commonFlags struct {
	configPath string
	gatewayURL string
	token      string
	agentID    string
	mode       string
	stateDB    string
}

func registerCommonFlags(fs *flag.FlagSet) *commonFlags {
	f := &commonFlags{}
	fs.StringVar(&f.configPath, "config", "", "Config file path (default ~/.clawline/config.toml)")
	fs.StringVar(&f.gatewayURL, "gateway", "", "Gateway URL (overrides config)")
	fs.StringVar(&f.token, "token", "", "Operator token (overrides config)")
	fs.StringVar(&f.agentID, "agent", "", "Agent id (overrides config)")
	fs.StringVar(&f.mode, "mode", "", "Streaming mode: websocket, http-sse or off (overrides config)")
	fs.StringVar(&f.stateDB, "state-db", "", "State database path (overrides config)")
	return f
}

// loadConfig loads the config file and applies flag overrides on top.
func (f *commonFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.gatewayURL != "" {
		cfg.GatewayURL = f.gatewayURL
	}
	if f.token != "" {
		cfg.Token = f.token
	}
	if f.agentID != "" {
		cfg.AgentID = f.agentID
	}
	if f.mode != "" {
		cfg.StreamingMode = f.mode
	}
	if f.stateDB != "" {
		cfg.StateDB = f.stateDB
	}
	return cfg, nil
}

// app bundles the pieces a connected command needs.
type app struct {
	cfg      *config.Config
	store    *storage.SQLiteStore
	identity *identity.Identity
	gateway  *gateway.Gateway
}

// newApp opens the state store, ensures a device identity exists and wires
// the gateway facade. Callers must Close it.
func newApp(cfg *config.Config) (*app, error) {
	store, err := storage.NewSQLiteStore(cfg.StateDB)
	if err != nil {
		return nil, err
	}

	id, err := store.Identity()
	if err != nil {
		store.Close()
		return nil, err
	}
	if id == nil {
		id, err = identity.Generate()
		if err != nil {
			store.Close()
			return nil, err
		}
		if err := store.SaveIdentity(id); err != nil {
			store.Close()
			return nil, err
		}
	}

	settings := func() gateway.Settings {
		deviceToken := ""
		if tok, err := store.DeviceToken(); err == nil && tok != nil {
			deviceToken = tok.Token
		}
		return gateway.Settings{
			GatewayURL:    cfg.GatewayURL,
			Token:         cfg.Token,
			DeviceToken:   deviceToken,
			AgentID:       cfg.AgentID,
			StreamingMode: cfg.StreamingMode,
			Identity:      id,
			ClientID:      "clawline-" + shortID(id.DeviceID),
			DisplayName:   cfg.DisplayName,
			ClientVersion: Version,
			Platform:      runtime.GOOS,
			ClientMode:    "cli",
		}
	}

	gw := gateway.New(settings, store)
	if prober, err := httpfallback.NewClient(cfg.GatewayURL, cfg.Token, cfg.AgentID); err == nil {
		gw.SetHealthProber(prober)
	}

	return &app{cfg: cfg, store: store, identity: id, gateway: gw}, nil
}

func (a *app) Close() {
	a.gateway.Disconnect()
	a.store.Close()
}

// shortID returns an 8-char handle of a device id for display and client ids.
func shortID(deviceID string) string {
	if len(deviceID) > 8 {
		return deviceID[:8]
	}
	return deviceID
}

// waitForConnection blocks until the gateway reaches connected, needs
// pairing, or the timeout passes.
func waitForConnection(gw *gateway.Gateway, timeout time.Duration) (gateway.State, error) {
	deadline := time.Now().Add(timeout)
	for {
		switch state := gw.State(); state {
		case gateway.StateConnected, gateway.StatePairingRequired:
			return state, nil
		default:
			if time.Now().After(deadline) {
				return state, fmt.Errorf("gateway did not connect within %s (state: %s)", timeout, state)
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// printPairingHint tells the operator what to do when the gateway wants the
// device approved first.
func printPairingHint(w io.Writer, id *identity.Identity) {
	fmt.Fprintln(w, "This device is not paired with the gateway yet.")
	fmt.Fprintf(w, "Approve device %s on the gateway, then retry.\n", shortID(id.DeviceID))
	fmt.Fprintln(w, "Run 'clawline identity --qr' to show the full device id for approval.")
}

// streamPrinter renders chat deltas where each delta carries the cumulative
// text so far. It prints only the unseen suffix so the reply appears to
// stream; a non-extending snapshot restarts on a fresh line.
type streamPrinter struct {
	w    io.Writer
	last string
}

func (p *streamPrinter) update(text string) {
	if strings.HasPrefix(text, p.last) {
		fmt.Fprint(p.w, text[len(p.last):])
	} else {
		fmt.Fprint(p.w, "\n"+text)
	}
	p.last = text
}

func (p *streamPrinter) finish() {
	if p.last != "" {
		fmt.Fprintln(p.w)
	}
	p.last = ""
}
