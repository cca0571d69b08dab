// Package sandbox declares the filesystem/network boundary contract
// attached to every dispatch. The contract is declarative: an external
// executor enforces it, this layer only guarantees the contract itself
// is well-formed before anything is dispatched under it.
package sandbox

import (
	"fmt"
	"net"
	"net/netip"
	"path"
	"strings"
)

// Contract is the boundary an executor must enforce for one dispatch.
type Contract struct {
	WorkspaceRoot    string   `json:"workspace_root"`
	NetworkAllowlist []string `json:"network_allowlist"` // hosts, host:port, or CIDR blocks
}

// Validate rejects malformed contracts. Dispatch with an invalid
// contract must refuse with contract_malformed rather than hand the
// executor something it cannot enforce.
func (c Contract) Validate() error {
	if c.WorkspaceRoot == "" {
		return fmt.Errorf("workspace root is required")
	}
	if !strings.HasPrefix(c.WorkspaceRoot, "/") {
		return fmt.Errorf("workspace root %q is not absolute", c.WorkspaceRoot)
	}
	if cleaned := path.Clean(c.WorkspaceRoot); cleaned != c.WorkspaceRoot {
		return fmt.Errorf("workspace root %q is not canonical (want %q)", c.WorkspaceRoot, cleaned)
	}
	if c.WorkspaceRoot == "/" {
		return fmt.Errorf("workspace root cannot be the filesystem root")
	}
	for _, entry := range c.NetworkAllowlist {
		if err := validateAllowlistEntry(entry); err != nil {
			return err
		}
	}
	return nil
}

// ReceiptFragment is the contract summary recorded on action receipts.
func (c Contract) ReceiptFragment() map[string]any {
	return map[string]any{
		"workspace_root":  c.WorkspaceRoot,
		"allowlist_count": len(c.NetworkAllowlist),
	}
}

func validateAllowlistEntry(entry string) error {
	if entry == "" {
		return fmt.Errorf("empty network allowlist entry")
	}
	if strings.Contains(entry, "/") {
		if _, err := netip.ParsePrefix(entry); err != nil {
			return fmt.Errorf("allowlist entry %q is not a valid CIDR: %w", entry, err)
		}
		return nil
	}
	host := entry
	if h, port, err := net.SplitHostPort(entry); err == nil {
		if port == "" {
			return fmt.Errorf("allowlist entry %q has an empty port", entry)
		}
		host = h
	}
	if _, err := netip.ParseAddr(host); err == nil {
		return nil
	}
	if !validHostname(host) {
		return fmt.Errorf("allowlist entry %q is not a valid host", entry)
	}
	return nil
}

func validHostname(host string) bool {
	if host == "" || len(host) > 253 {
		return false
	}
	for _, label := range strings.Split(host, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		for i, r := range label {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			case r == '-' && i > 0 && i < len(label)-1:
			default:
				return false
			}
		}
	}
	return true
}
