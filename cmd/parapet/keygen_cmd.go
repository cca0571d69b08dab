package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
)

// runKeygenCmd generates an Ed25519 keypair for plan, verdict, receipt,
// or report signing. The seed goes to --out (or stdout); the public key
// always prints so it can be registered as a trusted key.
func runKeygenCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("keygen", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		keyID   string
		outFile string
	)
	cmd.StringVar(&keyID, "key-id", "parapet-key", "Key ID to print alongside the public key")
	cmd.StringVar(&outFile, "out", "", "Write the hex seed to this file instead of stdout")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		fmt.Fprintf(stderr, "Error: key generation: %v\n", err)
		return 2
	}
	seed := hex.EncodeToString(priv.Seed())

	if outFile != "" {
		if err := os.WriteFile(outFile, []byte(seed+"\n"), 0o600); err != nil {
			fmt.Fprintf(stderr, "Error: write seed: %v\n", err)
			return 2
		}
		fmt.Fprintf(stdout, "seed written to %s\n", outFile)
	} else {
		fmt.Fprintf(stdout, "seed: %s\n", seed)
	}
	fmt.Fprintf(stdout, "trusted key: %s=%s\n", keyID, hex.EncodeToString(pub))
	return 0
}
