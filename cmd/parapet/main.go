// Command parapet is the gateway's operator CLI: run a demo episode,
// verify receipt chains offline, run conformance checks, anchor
// batches, and generate signing keys.
package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run dispatches to a subcommand. Exit codes: 0 success, 1 check
// failure, 2 usage or runtime error.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "demo":
		return runDemoCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "conform", "conformance":
		return runConformCmd(args[2:], stdout, stderr)
	case "anchor":
		return runAnchorCmd(args[2:], stdout, stderr)
	case "keygen":
		return runKeygenCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Parapet - tool action safety gateway")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  parapet <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintf(w, "  %-10s %s\n", "demo", "Run a scripted episode through the gateway (--dir, --profile)")
	fmt.Fprintf(w, "  %-10s %s\n", "verify", "Verify a receipt directory offline (--receipts, --json)")
	fmt.Fprintf(w, "  %-10s %s\n", "conform", "Run conformance checks (--receipts, --badge, --json-out)")
	fmt.Fprintf(w, "  %-10s %s\n", "anchor", "Build a Merkle anchor for an episode (--receipts, --episode)")
	fmt.Fprintf(w, "  %-10s %s\n", "keygen", "Generate an Ed25519 signing key (--key-id)")
	fmt.Fprintf(w, "  %-10s %s\n", "help", "Show this help")
	fmt.Fprintln(w, "")
}
