package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/clawline/clawline/internal/discovery"
)

func runDiscover(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("discover", flag.ContinueOnError)
	fs.SetOutput(stderr)
	timeout := fs.Duration("timeout", 3*time.Second, "How long to browse for gateways")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: clawline discover [options]\n\nBrowse the local network for gateways advertising over mDNS.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	fmt.Fprintf(stderr, "Browsing for gateways (%s)...\n", *timeout)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	gateways, err := discovery.Discover(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if len(gateways) == 0 {
		fmt.Fprintln(stdout, "No gateways found.")
		fmt.Fprintln(stdout, "Make sure a gateway is running on this network, or pass --gateway explicitly.")
		return 0
	}

	for _, gw := range gateways {
		fmt.Fprintf(stdout, "%-24s %s", gw.Name, gw.URL())
		if gw.Version != "" {
			fmt.Fprintf(stdout, "  (version %s)", gw.Version)
		}
		if gw.AgentID != "" {
			fmt.Fprintf(stdout, "  agent=%s", gw.AgentID)
		}
		fmt.Fprintln(stdout)
	}
	fmt.Fprintf(stdout, "\nConnect with: clawline chat --gateway %s\n", gateways[0].URL())
	return 0
}
