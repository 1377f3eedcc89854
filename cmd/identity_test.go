package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/clawline/clawline/internal/identity"
)

// identityArgs builds flags pointing all state at a temp directory so the
// command never touches the real ~/.clawline.
func identityArgs(t *testing.T, extra ...string) []string {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(cfgPath, []byte(""), 0600); err != nil {
		t.Fatal(err)
	}
	args := []string{
		"--config=" + cfgPath,
		"--state-db=" + filepath.Join(dir, "state.db"),
	}
	return append(args, extra...)
}

func TestIdentityCreatesKeypairOnFirstRun(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runIdentity(identityArgs(t), &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, stderr.String())
	}

	out := stdout.String()
	if !strings.Contains(out, "Device ID:") {
		t.Errorf("output should show the device id, got %q", out)
	}
	if !strings.Contains(out, "Pairing:      unpaired") {
		t.Errorf("fresh identity should be unpaired, got %q", out)
	}
	if !strings.Contains(out, "Device token: none") {
		t.Errorf("fresh identity should have no token, got %q", out)
	}
}

func TestIdentityRegenerateChangesDeviceID(t *testing.T) {
	args := identityArgs(t)

	var first, second, stderr bytes.Buffer
	if code := runIdentity(args, &first, &stderr); code != 0 {
		t.Fatalf("first run failed: %s", stderr.String())
	}
	if code := runIdentity(append(args, "--regenerate"), &second, &stderr); code != 0 {
		t.Fatalf("regenerate failed: %s", stderr.String())
	}

	firstID := extractDeviceID(t, first.String())
	secondID := extractDeviceID(t, second.String())
	if firstID == secondID {
		t.Errorf("device id should change after --regenerate, both %q", firstID)
	}
}

func extractDeviceID(t *testing.T, output string) string {
	t.Helper()
	for _, line := range strings.Split(output, "\n") {
		if strings.HasPrefix(line, "Device ID:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "Device ID:"))
		}
	}
	t.Fatalf("no device id in output %q", output)
	return ""
}

func TestDisplayDeviceQR(t *testing.T) {
	id, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	displayDeviceQR(&buf, id, "workstation")

	output := buf.String()
	if !strings.Contains(output, "SCAN TO APPROVE DEVICE") {
		t.Error("output should contain the header")
	}
	// ToSmallString renders with Unicode half-block characters.
	if !strings.ContainsAny(output, "█▄▀") {
		t.Error("output should contain QR code block characters")
	}
}

func TestIdentityQRFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runIdentity(identityArgs(t, "--qr"), &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "SCAN TO APPROVE DEVICE") {
		t.Error("--qr should render the QR block")
	}
}
