package main

import (
	"bytes"
	"strings"
	"testing"
)

func runWithArgs(args []string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunUsage(t *testing.T) {
	code, out, _ := runWithArgs([]string{"clawline"})
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(out, "Usage:") {
		t.Fatalf("expected usage output, got %q", out)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	code, out, _ := runWithArgs([]string{"clawline", "nope"})
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(out, "Unknown command") {
		t.Fatalf("expected unknown command output, got %q", out)
	}
}

func TestRunVersion(t *testing.T) {
	code, out, _ := runWithArgs([]string{"clawline", "--version"})
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(out, "clawline") || !strings.Contains(out, Version) {
		t.Fatalf("expected version output, got %q", out)
	}
}

func TestRunDevicesMissingSubcommand(t *testing.T) {
	code, out, _ := runWithArgs([]string{"clawline", "devices"})
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(out, "Usage: clawline devices") {
		t.Fatalf("expected devices usage, got %q", out)
	}
}

func TestChatHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runChat([]string{"--help"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Usage: clawline chat") {
		t.Fatalf("expected chat usage, got %q", stderr.String())
	}
}

func TestSendHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runSend([]string{"--help"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Usage: clawline send") {
		t.Fatalf("expected send usage, got %q", stderr.String())
	}
}

func TestSendInvalidFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runSend([]string{"--timeout-ms=abc"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if stderr.Len() == 0 {
		t.Fatal("expected error output for invalid flag")
	}
}

func TestHistoryHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runHistory([]string{"--help"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Usage: clawline history") {
		t.Fatalf("expected history usage, got %q", stderr.String())
	}
}

func TestIdentityHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runIdentity([]string{"--help"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Usage: clawline identity") {
		t.Fatalf("expected identity usage, got %q", stderr.String())
	}
}

func TestDevicesRemoveHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runDevicesRemove([]string{"--help"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Usage: clawline devices remove") {
		t.Fatalf("expected devices remove usage, got %q", stderr.String())
	}
}

func TestDevicesRemoveMissingID(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runDevicesRemove([]string{}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "device-id is required") {
		t.Fatalf("expected device-id error, got %q", stderr.String())
	}
}

func TestDiscoverHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runDiscover([]string{"--help"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Usage: clawline discover") {
		t.Fatalf("expected discover usage, got %q", stderr.String())
	}
}

func TestDoctorHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runDoctor([]string{"--help"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Usage: clawline doctor") {
		t.Fatalf("expected doctor usage, got %q", stderr.String())
	}
}

func TestSendRejectsBadConfigPath(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runSend([]string{"--config=/nonexistent/config.toml", "hello"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Error:") {
		t.Fatalf("expected config error on stderr, got %q", stderr.String())
	}
}
