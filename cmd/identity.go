package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/clawline/clawline/internal/identity"
	"github.com/clawline/clawline/internal/storage"
)

func runIdentity(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("identity", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := registerCommonFlags(fs)
	regenerate := fs.Bool("regenerate", false, "Discard the keypair and generate a new one (unpairs this device)")
	qr := fs.Bool("qr", false, "Show the device id as a QR code for out-of-band approval")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: clawline identity [options]\n\nShow or manage the device identity used to authenticate to the gateway.\n\nOptions:\n")
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

	store, err := storage.NewSQLiteStore(cfg.StateDB)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	if *regenerate {
		// The old keypair and any token issued for it become useless.
		if err := store.DeleteIdentity(); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if err := store.SavePairingStatus("unpaired"); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}

	id, err := store.Identity()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if id == nil {
		id, err = identity.Generate()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if err := store.SaveIdentity(id); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if *regenerate {
			fmt.Fprintln(stdout, "Generated a new device identity.")
		}
	}

	pairing, err := store.PairingStatus()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	token, err := store.DeviceToken()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if *qr {
		displayDeviceQR(stdout, id, cfg.DisplayName)
	}

	fmt.Fprintf(stdout, "Device ID:    %s\n", id.DeviceID)
	fmt.Fprintf(stdout, "Public key:   %s\n", id.PublicKey)
	fmt.Fprintf(stdout, "Created:      %s\n", time.UnixMilli(id.CreatedAtMs).Format(time.RFC3339))
	fmt.Fprintf(stdout, "Pairing:      %s\n", pairing)
	if token != nil {
		fmt.Fprintf(stdout, "Device token: issued (role %s)\n", token.Role)
	} else {
		fmt.Fprintln(stdout, "Device token: none")
	}
	return 0
}

// displayDeviceQR shows the device id as a QR code so a gateway operator
// can approve it without copying a 64-char hex string by hand.
// The payload uses a URL scheme: openclaw://pair?device=<id>&name=<name>
func displayDeviceQR(w io.Writer, id *identity.Identity, displayName string) {
	payload := fmt.Sprintf("openclaw://pair?device=%s&name=%s",
		id.DeviceID,
		url.QueryEscape(displayName))

	qr, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		fmt.Fprintf(w, "Error generating QR code: %v\n", err)
		return
	}

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "         SCAN TO APPROVE DEVICE")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")

	// ToSmallString(false) produces compact half-block output without a border.
	fmt.Fprint(w, qr.ToSmallString(false))
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
}
