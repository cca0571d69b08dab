package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/parapet-labs/parapet/pkg/ledger"
)

// trustedKeyFlags collects repeated --trusted keyid=pubhex pairs.
type trustedKeyFlags map[string]string

func (f trustedKeyFlags) String() string { return fmt.Sprintf("%d keys", len(f)) }

func (f trustedKeyFlags) Set(v string) error {
	keyID, pub, ok := strings.Cut(v, "=")
	if !ok || keyID == "" || pub == "" {
		return fmt.Errorf("expected keyid=pubhex, got %q", v)
	}
	f[keyID] = pub
	return nil
}

// runVerifyCmd re-derives every hash in a receipt directory and walks
// the chain. Exit codes: 0 chain verifies, 1 findings, 2 usage/runtime
// error.
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		receiptDir string
		jsonOutput bool
		trusted    = trustedKeyFlags{}
	)
	cmd.StringVar(&receiptDir, "receipts", "", "Path to receipt directory (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the report as JSON")
	cmd.Var(trusted, "trusted", "Trusted signer as keyid=pubhex (repeatable)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if receiptDir == "" {
		fmt.Fprintln(stderr, "Error: --receipts is required")
		return 2
	}

	receipts, err := ledger.LoadDir(receiptDir)
	if err != nil {
		fmt.Fprintf(stderr, "Error: load receipts: %v\n", err)
		return 2
	}

	report := ledger.VerifyChain(receipts, trusted)

	if jsonOutput {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else if report.OK {
		fmt.Fprintf(stdout, "chain OK: %d receipts verified\n", report.Checked)
	} else {
		fmt.Fprintf(stdout, "chain FAILED: %d receipts, %d problems\n", report.Checked, len(report.Problems))
		for _, p := range report.Problems {
			fmt.Fprintf(stdout, "  - [%s] %s: %s\n", p.Code, p.ReceiptID, p.Detail)
		}
	}

	if !report.OK {
		return 1
	}
	return 0
}
