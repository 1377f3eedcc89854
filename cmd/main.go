package main

import (
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags.
// Example: go build -ldflags="-X main.Version=v0.1.0" ./cmd
var Version = "dev"

const usage = `clawline - terminal client for OpenClaw gateways

Usage:
  clawline <command> [options]

Commands:
  chat          Start an interactive chat session
  send          Send one message and print the reply
  history       Show the conversation history
  identity      Show or manage the device identity
  devices remove <device-id>  Remove a paired device from the gateway
  discover      Find gateways on the local network
  doctor        Diagnose configuration and gateway connectivity

Run 'clawline <command> --help' for more information on a command.
`

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprint(stdout, usage)
		return 0
	}

	switch args[1] {
	case "chat":
		return runChat(args[2:], stdout, stderr)
	case "send":
		return runSend(args[2:], stdout, stderr)
	case "history":
		return runHistory(args[2:], stdout, stderr)
	case "identity":
		return runIdentity(args[2:], stdout, stderr)
	case "devices":
		if len(args) < 3 {
			fmt.Fprintln(stdout, "Usage: clawline devices <remove>")
			return 1
		}
		switch args[2] {
		case "remove":
			return runDevicesRemove(args[3:], stdout, stderr)
		default:
			fmt.Fprintf(stdout, "Unknown devices command: %s\n", args[2])
			return 1
		}
	case "discover":
		return runDiscover(args[2:], stdout, stderr)
	case "doctor":
		return runDoctor(args[2:], stdout, stderr)
	case "--help", "-h", "help":
		fmt.Fprint(stdout, usage)
		return 0
	case "--version", "-v", "version":
		fmt.Fprintf(stdout, "clawline %s\n", Version)
		return 0
	default:
		fmt.Fprintf(stdout, "Unknown command: %s\n", args[1])
		fmt.Fprint(stdout, usage)
		return 1
	}
}
