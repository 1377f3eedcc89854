package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.GatewayURL != "ws://127.0.0.1:18789" {
		t.Errorf("GatewayURL = %q", cfg.GatewayURL)
	}
	if cfg.AgentID != "main" {
		t.Errorf("AgentID = %q, want main", cfg.AgentID)
	}
	if cfg.StreamingMode != ModeWebSocket {
		t.Errorf("StreamingMode = %q, want websocket", cfg.StreamingMode)
	}
	if cfg.DisplayName == "" {
		t.Error("DisplayName should default to the hostname")
	}
	if cfg.StateDB == "" {
		t.Error("StateDB should have a default path")
	}
}

func TestLoad_ParsesValues(t *testing.T) {
	path := writeConfig(t, `
gateway_url = "wss://gw.example.com"
token = "op-token"
agent_id = "research"
streaming_mode = "http-sse"
display_name = "workstation"
thinking = "high"
send_timeout_ms = 120000
share_context = true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.GatewayURL != "wss://gw.example.com" {
		t.Errorf("GatewayURL = %q", cfg.GatewayURL)
	}
	if cfg.Token != "op-token" {
		t.Errorf("Token = %q", cfg.Token)
	}
	if cfg.AgentID != "research" {
		t.Errorf("AgentID = %q", cfg.AgentID)
	}
	if cfg.StreamingMode != ModeHTTPSSE {
		t.Errorf("StreamingMode = %q", cfg.StreamingMode)
	}
	if cfg.DisplayName != "workstation" {
		t.Errorf("DisplayName = %q", cfg.DisplayName)
	}
	if cfg.Thinking != "high" {
		t.Errorf("Thinking = %q", cfg.Thinking)
	}
	if cfg.SendTimeoutMs != 120000 {
		t.Errorf("SendTimeoutMs = %d", cfg.SendTimeoutMs)
	}
	if !cfg.ShareContext {
		t.Error("ShareContext = false, want true")
	}
}

func TestLoad_ExplicitPathMustExist(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("Load() should fail for an explicit path that doesn't exist")
	}
}

func TestLoad_RejectsBadTOML(t *testing.T) {
	path := writeConfig(t, `gateway_url = [broken`)
	if _, err := Load(path); err == nil {
		t.Error("Load() should fail on unparseable TOML")
	}
}

func TestLoad_RejectsBadStreamingMode(t *testing.T) {
	path := writeConfig(t, `streaming_mode = "carrier-pigeon"`)
	if _, err := Load(path); err == nil {
		t.Error("Load() should reject an unknown streaming_mode")
	}
}
