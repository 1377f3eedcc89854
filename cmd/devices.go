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

func runDevicesRemove(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("devices remove", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := registerCommonFlags(fs)

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: clawline devices remove [options] <device-id>\n\nRemove a paired device from the gateway.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	remaining := fs.Args()
	if len(remaining) < 1 {
		fmt.Fprintln(stderr, "Error: device-id is required")
		return 1
	}
	deviceID := remaining[0]

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

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if !a.gateway.RemoveDevice(ctx, deviceID) {
		fmt.Fprintf(stderr, "Error: gateway refused to remove device %s\n", deviceID)
		return 1
	}
	fmt.Fprintf(stdout, "Removed device %s\n", deviceID)

	// Removing this client's own device invalidates its token and pairing.
	if deviceID == a.identity.DeviceID {
		if err := a.store.ClearDeviceToken(); err != nil {
			fmt.Fprintf(stderr, "Warning: clear device token: %v\n", err)
		}
		if err := a.store.SavePairingStatus("unpaired"); err != nil {
			fmt.Fprintf(stderr, "Warning: save pairing status: %v\n", err)
		}
		fmt.Fprintln(stdout, "This was the local device; cleared the stored device token.")
	}
	return 0
}
