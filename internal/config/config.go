// Package config provides TOML configuration file loading for the client.
// The configuration file lives at ~/.clawline/config.toml by default, but can
// be overridden with the --config flag. CLI flags always take precedence over
// file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Streaming mode values accepted in streaming_mode.
const (
	ModeWebSocket = "websocket"
	ModeHTTPSSE   = "http-sse"
	ModeOff       = "off"
)

// Config represents the client configuration file structure.
// Field names use Go camelCase internally but map to snake_case in TOML files
// via struct tags.
type Config struct {
	// GatewayURL is the gateway endpoint. http(s) is rewritten to ws(s)
	// for the streaming connection; a bare host:port dials ws://.
	// Default: ws://127.0.0.1:18789
	GatewayURL string `toml:"gateway_url"`

	// Token is the operator bearer token. When empty, a device token
	// issued on a previous paired connection is used instead.
	Token string `toml:"token"`

	// AgentID names the agent to converse with and prefixes minted
	// session keys. Default: main
	AgentID string `toml:"agent_id"`

	// StreamingMode selects the transport: websocket (persistent
	// connection), http-sse (streaming fallback) or off (plain request).
	// Default: websocket
	StreamingMode string `toml:"streaming_mode"`

	// DisplayName is the human-readable name this client announces to the
	// gateway. Defaults to the system hostname.
	DisplayName string `toml:"display_name"`

	// StateDB is the path to the SQLite database holding the device
	// identity, device token and transcript.
	// Default: ~/.clawline/clawline.db
	StateDB string `toml:"state_db"`

	// Thinking requests extended reasoning from the agent when set
	// (e.g. "low", "high"). Empty leaves the gateway default.
	Thinking string `toml:"thinking"`

	// SendTimeoutMs overrides the per-run timeout passed to chat.send.
	// Zero leaves the gateway default.
	SendTimeoutMs int `toml:"send_timeout_ms"`

	// ShareContext includes local context (working directory, platform)
	// in the client descriptor. Default: false
	ShareContext bool `toml:"share_context"`
}

// DefaultConfigPath returns the default config file location:
// ~/.clawline/config.toml. Returns an error only if the user's home
// directory cannot be determined.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".clawline", "config.toml"), nil
}

// Load reads a TOML config file from the given path and returns a Config
// with defaults applied.
//
// Behavior:
//   - If path is empty, attempts to load from the default location.
//     Returns a default Config without error if that file doesn't exist.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file exists but cannot be parsed.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		// No explicit path: try default location, but don't error if missing.
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			cfg.applyDefaults()
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			cfg.applyDefaults()
			return cfg, nil
		}
		path = defaultPath
	} else {
		// Explicit path provided: error if file doesn't exist.
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.GatewayURL == "" {
		c.GatewayURL = "ws://127.0.0.1:18789"
	}
	if c.AgentID == "" {
		c.AgentID = "main"
	}
	if c.StreamingMode == "" {
		c.StreamingMode = ModeWebSocket
	}
	if c.DisplayName == "" {
		if hostname, err := os.Hostname(); err == nil {
			c.DisplayName = hostname
		} else {
			c.DisplayName = "clawline"
		}
	}
	if c.StateDB == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.StateDB = filepath.Join(home, ".clawline", "clawline.db")
		}
	}
}

func (c *Config) validate() error {
	switch c.StreamingMode {
	case ModeWebSocket, ModeHTTPSSE, ModeOff:
		return nil
	default:
		return fmt.Errorf("invalid streaming_mode %q (must be websocket, http-sse or off)", c.StreamingMode)
	}
}
