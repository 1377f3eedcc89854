// This file implements the `clawline doctor` diagnostic command.
//
// Doctor runs a sequence of preflight checks against the local client state
// and the configured gateway, reporting actionable remediation guidance for
// any issues. It supports both human-readable (default) and machine-readable
// (--json) output.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/clawline/clawline/internal/config"
	"github.com/clawline/clawline/internal/gateway"
	"github.com/clawline/clawline/internal/httpfallback"
	"github.com/clawline/clawline/internal/storage"
)

// DoctorResult is the top-level JSON output for `clawline doctor --json`.
type DoctorResult struct {
	// Version is the doctor output schema version. Always "1".
	Version string `json:"version"`

	// Checks is the ordered list of diagnostic checks that were evaluated.
	Checks []DoctorCheck `json:"checks"`

	// Summary contains aggregate pass/warn/fail counts derived from Checks.
	Summary DoctorSummary `json:"summary"`
}

// DoctorCheck is one diagnostic check in the doctor output.
type DoctorCheck struct {
	// ID is a stable, machine-readable identifier for the check.
	ID string `json:"id"`

	// Status is the check result: "pass", "warn", or "fail".
	Status string `json:"status"`

	// Message is a human-readable summary of what was found.
	Message string `json:"message"`

	// NextAction is a concrete remediation step the operator should take.
	NextAction string `json:"next_action"`
}

// DoctorSummary holds aggregate counts of check outcomes.
type DoctorSummary struct {
	Pass int `json:"pass"`
	Warn int `json:"warn"`
	Fail int `json:"fail"`
}

// Stable check IDs used by the doctor command.
// These are part of the public CLI contract and must not change.
const (
	checkIDConfig         = "config.file"
	checkIDStateDB        = "state.database"
	checkIDIdentity       = "device.identity"
	checkIDGatewayHealth  = "gateway.health"
	checkIDGatewayConnect = "gateway.connect"
)

// Stable status values for doctor checks.
const (
	statusPass = "pass"
	statusWarn = "warn"
	statusFail = "fail"
)

// Function-variable seams for testability.
// Tests override these to inject deterministic behavior without network access.
var (
	// doctorProbeHealth probes the gateway's HTTP health endpoint.
	doctorProbeHealth = defaultProbeHealth

	// doctorProbeConnect attempts a full websocket handshake and reports
	// the state it settled in.
	doctorProbeConnect = defaultProbeConnect
)

func defaultProbeHealth(cfg *config.Config) error {
	client, err := httpfallback.NewClient(cfg.GatewayURL, cfg.Token, cfg.AgentID)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return client.Health(ctx)
}

func defaultProbeConnect(cfg *config.Config) (gateway.State, error) {
	a, err := newApp(cfg)
	if err != nil {
		return gateway.StateDisconnected, err
	}
	defer a.Close()

	a.gateway.Connect()
	return waitForConnection(a.gateway, 10*time.Second)
}

// runDoctor implements the `clawline doctor` CLI command.
// Returns 0 when no checks fail, 1 when any check fails.
func runDoctor(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := registerCommonFlags(fs)
	jsonMode := fs.Bool("json", false, "Emit machine-readable JSON to stdout")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: clawline doctor [options]\n\nDiagnose configuration and gateway connectivity.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	// Evaluate checks in deterministic order. Later checks depend on the
	// config, so a config failure short-circuits them to fail as well.
	checks := make([]DoctorCheck, 0, 5)

	cfg, cfgCheck := evalConfig(common)
	checks = append(checks, cfgCheck)

	if cfg != nil {
		checks = append(checks, evalStateDB(cfg))
		checks = append(checks, evalIdentity(cfg))
		checks = append(checks, evalGatewayHealth(cfg))
		if cfg.StreamingMode == config.ModeWebSocket {
			checks = append(checks, evalGatewayConnect(cfg))
		}
	}

	summary := DoctorSummary{}
	for _, c := range checks {
		switch c.Status {
		case statusPass:
			summary.Pass++
		case statusWarn:
			summary.Warn++
		case statusFail:
			summary.Fail++
		}
	}

	result := DoctorResult{Version: "1", Checks: checks, Summary: summary}

	if *jsonMode {
		if err := renderDoctorJSON(stdout, result); err != nil {
			fmt.Fprintf(stderr, "Error: failed to encode JSON: %v\n", err)
			return 1
		}
	} else {
		renderDoctorHuman(stdout, result)
	}

	if summary.Fail > 0 {
		return 1
	}
	return 0
}

// evalConfig evaluates the config.file check and returns the loaded config
// for the checks that follow (nil on failure).
func evalConfig(common *commonFlags) (*config.Config, DoctorCheck) {
	check := DoctorCheck{ID: checkIDConfig}

	cfg, err := common.loadConfig()
	if err != nil {
		check.Status = statusFail
		check.Message = fmt.Sprintf("Configuration error: %v", err)
		check.NextAction = "Fix ~/.clawline/config.toml or pass a valid --config path."
		return nil, check
	}

	check.Status = statusPass
	check.Message = fmt.Sprintf("Configuration loaded (gateway %s, mode %s).", cfg.GatewayURL, cfg.StreamingMode)
	check.NextAction = "No action required."
	return cfg, check
}

// evalStateDB evaluates the state.database check.
func evalStateDB(cfg *config.Config) DoctorCheck {
	check := DoctorCheck{ID: checkIDStateDB}

	store, err := storage.NewSQLiteStore(cfg.StateDB)
	if err != nil {
		check.Status = statusFail
		check.Message = fmt.Sprintf("State database error: %v", err)
		check.NextAction = fmt.Sprintf("Check permissions on %s or pass --state-db.", cfg.StateDB)
		return check
	}
	store.Close()

	check.Status = statusPass
	check.Message = fmt.Sprintf("State database opened at %s.", cfg.StateDB)
	check.NextAction = "No action required."
	return check
}

// evalIdentity evaluates the device.identity check.
// Decision table:
//   - store unreadable -> fail
//   - no identity yet -> warn (one will be generated on first connect)
//   - identity present, paired -> pass
//   - identity present, not paired -> warn
func evalIdentity(cfg *config.Config) DoctorCheck {
	check := DoctorCheck{ID: checkIDIdentity}

	store, err := storage.NewSQLiteStore(cfg.StateDB)
	if err != nil {
		check.Status = statusFail
		check.Message = fmt.Sprintf("Cannot read device identity: %v", err)
		check.NextAction = "Fix the state database first."
		return check
	}
	defer store.Close()

	id, err := store.Identity()
	if err != nil {
		check.Status = statusFail
		check.Message = fmt.Sprintf("Device identity is corrupt: %v", err)
		check.NextAction = "Run `clawline identity --regenerate` to create a fresh keypair."
		return check
	}
	if id == nil {
		check.Status = statusWarn
		check.Message = "No device identity yet."
		check.NextAction = "One will be generated on first connect; run `clawline identity` to create it now."
		return check
	}

	pairing, err := store.PairingStatus()
	if err != nil {
		pairing = "unknown"
	}
	if pairing == "paired" {
		check.Status = statusPass
		check.Message = fmt.Sprintf("Device %s is paired.", shortID(id.DeviceID))
		check.NextAction = "No action required."
		return check
	}

	check.Status = statusWarn
	check.Message = fmt.Sprintf("Device %s exists but pairing status is %q.", shortID(id.DeviceID), pairing)
	check.NextAction = "Connect once and approve the device on the gateway (`clawline identity --qr`)."
	return check
}

// evalGatewayHealth evaluates the gateway.health check over HTTP.
func evalGatewayHealth(cfg *config.Config) DoctorCheck {
	check := DoctorCheck{ID: checkIDGatewayHealth}

	if err := doctorProbeHealth(cfg); err != nil {
		check.Status = statusFail
		check.Message = fmt.Sprintf("Gateway health probe failed: %v", err)
		check.NextAction = fmt.Sprintf("Check that a gateway is running at %s, or run `clawline discover`.", cfg.GatewayURL)
		return check
	}

	check.Status = statusPass
	check.Message = "Gateway answered the health probe."
	check.NextAction = "No action required."
	return check
}

// evalGatewayConnect evaluates the gateway.connect check.
// Decision table:
//   - reaches connected -> pass
//   - reaches pairing_required -> warn
//   - anything else -> fail
func evalGatewayConnect(cfg *config.Config) DoctorCheck {
	check := DoctorCheck{ID: checkIDGatewayConnect}

	state, err := doctorProbeConnect(cfg)
	switch {
	case err != nil:
		check.Status = statusFail
		check.Message = fmt.Sprintf("WebSocket handshake failed: %v", err)
		check.NextAction = "Verify the gateway URL and token in the config."
	case state == gateway.StatePairingRequired:
		check.Status = statusWarn
		check.Message = "Gateway requires this device to be paired."
		check.NextAction = "Approve the device on the gateway, then re-run doctor."
	default:
		check.Status = statusPass
		check.Message = "WebSocket handshake completed."
		check.NextAction = "No action required."
	}
	return check
}

// renderDoctorJSON writes the doctor result as JSON to stdout.
// Only valid JSON is written to stdout; no extra lines.
func renderDoctorJSON(w io.Writer, result DoctorResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// renderDoctorHuman writes the doctor result in human-readable format.
func renderDoctorHuman(w io.Writer, result DoctorResult) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Clawline Doctor")
	fmt.Fprintln(w, "===============")
	fmt.Fprintln(w, "")

	for _, c := range result.Checks {
		fmt.Fprintf(w, "  %s %s: %s\n", statusIcon(c.Status), c.ID, c.Message)
		if c.Status != statusPass {
			fmt.Fprintf(w, "    -> %s\n", c.NextAction)
		}
	}

	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Summary: %d passed, %d warnings, %d failures\n",
		result.Summary.Pass, result.Summary.Warn, result.Summary.Fail)
	fmt.Fprintln(w, "")
}

// statusIcon returns a text marker for the check status.
func statusIcon(status string) string {
	switch status {
	case statusPass:
		return "[PASS]"
	case statusWarn:
		return "[WARN]"
	case statusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}
