// Package broker resolves client credentials into upstream credentials
// without ever forwarding the client token as-is. Resolution either
// exchanges the credential for an audience-bound token or retrieves a
// pre-provisioned vault secret; with neither configured it fails closed.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/parapet-labs/parapet/pkg/contracts"
)

// Mode records which resolution path produced the upstream credential.
type Mode string

const (
	ModeExchanged Mode = "exchanged"
	ModeVault     Mode = "vault"
	ModeNone      Mode = "none"
	ModeBlocked   Mode = "blocked"
)

// ErrPassthroughBlocked is returned when no non-passthrough path is
// configured for the target resource.
var ErrPassthroughBlocked = errors.New(string(contracts.ReasonPassthroughBlocked))

// UpstreamCredential is the resolved credential handed to the executor.
// Blocked is true only on the fail-closed path; receipts must never
// record Blocked=false unless Mode is exchanged or vault (or none, when
// the action needed no credential at all).
type UpstreamCredential struct {
	Token     string
	Mode      Mode
	Audience  string
	ExpiresAt time.Time
	Blocked   bool
}

// Broker chooses the resolution path per target resource: a vault
// secret wins when provisioned, otherwise token exchange, otherwise
// fail closed.
type Broker struct {
	vault     *Vault
	exchanger *TokenExchanger
}

// New builds a broker. Either component may be nil; a broker with
// neither blocks every credentialed resolution.
func New(vault *Vault, exchanger *TokenExchanger) *Broker {
	return &Broker{vault: vault, exchanger: exchanger}
}

// Resolve maps (clientCredential, targetResource) to an upstream
// credential. An empty targetResource means the action needs no
// credential and resolves to ModeNone. The input credential is never
// returned unmodified.
func (b *Broker) Resolve(ctx context.Context, clientCredential, targetResource, principal string) (UpstreamCredential, error) {
	if targetResource == "" {
		return UpstreamCredential{Mode: ModeNone}, nil
	}

	if b.vault != nil {
		secret, found, err := b.vault.Get(ctx, targetResource)
		if err != nil {
			return UpstreamCredential{Mode: ModeBlocked, Blocked: true},
				fmt.Errorf("vault lookup for %s: %w", targetResource, err)
		}
		if found {
			if secret == clientCredential {
				return UpstreamCredential{Mode: ModeBlocked, Blocked: true},
					fmt.Errorf("vault secret for %s equals the client credential: %w", targetResource, ErrPassthroughBlocked)
			}
			return UpstreamCredential{
				Token:    secret,
				Mode:     ModeVault,
				Audience: targetResource,
			}, nil
		}
	}

	if b.exchanger != nil && clientCredential != "" {
		token, expires, err := b.exchanger.Exchange(clientCredential, targetResource, principal)
		if err != nil {
			return UpstreamCredential{Mode: ModeBlocked, Blocked: true},
				fmt.Errorf("token exchange for %s: %w", targetResource, err)
		}
		return UpstreamCredential{
			Token:     token,
			Mode:      ModeExchanged,
			Audience:  targetResource,
			ExpiresAt: expires,
		}, nil
	}

	return UpstreamCredential{Mode: ModeBlocked, Blocked: true},
		fmt.Errorf("no credential path for %s: %w", targetResource, ErrPassthroughBlocked)
}

// ReceiptPayload is the credential receipt fragment for a resolution.
// It carries the mode and audience, never token material.
func (c UpstreamCredential) ReceiptPayload() map[string]any {
	p := map[string]any{
		"mode":    string(c.Mode),
		"blocked": c.Blocked,
	}
	if c.Audience != "" {
		p["audience"] = c.Audience
	}
	if !c.ExpiresAt.IsZero() {
		p["expires_at"] = c.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	return p
}
