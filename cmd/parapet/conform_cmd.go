package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/parapet-labs/parapet/pkg/conform"
	"github.com/parapet-labs/parapet/pkg/crypto"
	"github.com/parapet-labs/parapet/pkg/ledger"
)

// runConformCmd audits a receipt directory against the gateway's safety
// claims and optionally emits a signed JSON report plus an SVG badge.
//
// Exit codes:
//
//	0 = all checks passed
//	1 = one or more checks failed
//	2 = usage or runtime error
func runConformCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("conform", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		receiptDir  string
		requireSigs bool
		schemaRange string
		jsonOutput  bool
		jsonOutFile string
		badgeFile   string
		keyFile     string
		keyID       string
		trusted     = trustedKeyFlags{}
	)
	cmd.StringVar(&receiptDir, "receipts", "", "Path to receipt directory (REQUIRED)")
	cmd.BoolVar(&requireSigs, "require-signatures", false, "Fail unsigned receipts")
	cmd.StringVar(&schemaRange, "schema-range", "", "Semver range schema_version must satisfy")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the report as JSON")
	cmd.StringVar(&jsonOutFile, "json-out", "", "Write the (optionally signed) report to file")
	cmd.StringVar(&badgeFile, "badge", "", "Write an SVG badge artifact to file")
	cmd.StringVar(&keyFile, "key-file", "", "Hex Ed25519 seed file; sign the report when set")
	cmd.StringVar(&keyID, "key-id", "conform", "Key ID recorded on the signed report")
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

	report, err := conform.Run(receipts, conform.Options{
		TrustedKeys:       trusted,
		RequireSignatures: requireSigs,
		SchemaConstraint:  schemaRange,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: conformance run: %v\n", err)
		return 2
	}

	var artifact any = report
	if keyFile != "" {
		signer, err := loadSigner(keyFile, keyID)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		signed, err := conform.Sign(report, signer)
		if err != nil {
			fmt.Fprintf(stderr, "Error: sign report: %v\n", err)
			return 2
		}
		artifact = signed
	}

	if jsonOutFile != "" {
		data, _ := json.MarshalIndent(artifact, "", "  ")
		if err := os.WriteFile(jsonOutFile, data, 0o644); err != nil {
			fmt.Fprintf(stderr, "Error: write report: %v\n", err)
			return 2
		}
	}
	if badgeFile != "" {
		if err := conform.WriteBadge(report, badgeFile); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(artifact, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else if report.Passed {
		fmt.Fprintf(stdout, "conformant: %d receipts, %d checks\n", report.ReceiptCount, len(report.Checks))
	} else {
		fmt.Fprintf(stdout, "NOT conformant: %d findings\n", report.FailureCount())
		for _, c := range report.Checks {
			for _, f := range c.Findings {
				fmt.Fprintf(stdout, "  - [%s] %s %s\n", c.Code, f.ReceiptID, f.Detail)
			}
		}
	}

	if !report.Passed {
		return 1
	}
	return 0
}

// loadSigner reads a hex Ed25519 seed from path.
func loadSigner(path, keyID string) (crypto.Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("decode key file: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("key file must hold a %d-byte hex seed", ed25519.SeedSize)
	}
	return crypto.NewEd25519SignerFromKey(ed25519.NewKeyFromSeed(seed), keyID), nil
}
