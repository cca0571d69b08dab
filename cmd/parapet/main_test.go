package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"parapet"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestUsageAndDispatch(t *testing.T) {
	code, _, stderr := run(t)
	require.Equal(t, 2, code)
	require.Contains(t, stderr, "USAGE")

	code, stdout, _ := run(t, "help")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, "conform")

	code, _, stderr = run(t, "frobnicate")
	require.Equal(t, 2, code)
	require.Contains(t, stderr, "Unknown command")
}

func TestVerifyRequiresReceiptsFlag(t *testing.T) {
	code, _, stderr := run(t, "verify")
	require.Equal(t, 2, code)
	require.Contains(t, stderr, "--receipts is required")
}

func TestDemoVerifyConformRoundTrip(t *testing.T) {
	dir := t.TempDir()

	code, stdout, stderr := run(t, "demo", "--dir", dir, "--episode", "ep-cli")
	require.Equal(t, 0, code, "stderr: %s", stderr)
	require.Contains(t, stdout, "refused")
	require.Contains(t, stdout, "allowed")

	code, stdout, _ = run(t, "verify", "--receipts", dir)
	require.Equal(t, 0, code, "stdout: %s", stdout)
	require.Contains(t, stdout, "chain OK")

	badge := filepath.Join(t.TempDir(), "badge.svg")
	report := filepath.Join(t.TempDir(), "report.json")
	code, stdout, _ = run(t, "conform", "--receipts", dir, "--badge", badge, "--json-out", report)
	require.Equal(t, 0, code, "stdout: %s", stdout)
	require.Contains(t, stdout, "conformant")

	svg, err := os.ReadFile(badge)
	require.NoError(t, err)
	require.Contains(t, string(svg), "conformant")

	body, err := os.ReadFile(report)
	require.NoError(t, err)
	require.Contains(t, string(body), `"passed": true`)
}

func TestAnchorOverDemoEpisode(t *testing.T) {
	dir := t.TempDir()
	code, _, stderr := run(t, "demo", "--dir", dir, "--episode", "ep-anchor")
	require.Equal(t, 0, code, "stderr: %s", stderr)

	code, stdout, _ := run(t, "anchor", "--receipts", dir, "--episode", "ep-anchor")
	require.Equal(t, 0, code, "stdout: %s", stdout)
	require.Contains(t, stdout, "root sha256:")
}

func TestKeygenWritesSeedFile(t *testing.T) {
	seedFile := filepath.Join(t.TempDir(), "seed.hex")
	code, stdout, _ := run(t, "keygen", "--key-id", "audit-1", "--out", seedFile)
	require.Equal(t, 0, code)
	require.Contains(t, stdout, "trusted key: audit-1=")

	seed, err := os.ReadFile(seedFile)
	require.NoError(t, err)
	require.Len(t, strings.TrimSpace(string(seed)), 64)
}
