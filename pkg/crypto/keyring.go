package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"sync/atomic"

	"golang.org/x/crypto/hkdf"
)

// KeyProvider abstracts the signing backend so the in-memory keypair can
// be swapped for an HSM, Vault, or cloud KMS.
type KeyProvider interface {
	Sign(msg []byte) ([]byte, error)
	PublicKey() ed25519.PublicKey
	Seed() []byte
}

// MemoryKeyProvider holds an Ed25519 keypair in process memory.
type MemoryKeyProvider struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

func NewMemoryKeyProvider() (*MemoryKeyProvider, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &MemoryKeyProvider{pub: pub, priv: priv}, nil
}

func (m *MemoryKeyProvider) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(m.priv, msg), nil
}

func (m *MemoryKeyProvider) PublicKey() ed25519.PublicKey {
	return m.pub
}

func (m *MemoryKeyProvider) Seed() []byte {
	return m.priv.Seed()
}

// Keyring manages the gateway signing keys. Key rotation replaces the
// provider with an atomic pointer swap; in-flight requests keep the
// provider they loaded, never an in-place mutation.
type Keyring struct {
	provider atomic.Pointer[providerBox]
}

type providerBox struct {
	p KeyProvider
}

func NewKeyring(p KeyProvider) (*Keyring, error) {
	if p == nil {
		var err error
		p, err = NewMemoryKeyProvider()
		if err != nil {
			return nil, err
		}
	}
	k := &Keyring{}
	k.provider.Store(&providerBox{p: p})
	return k, nil
}

// Rotate installs a new provider for all subsequent signing operations.
func (k *Keyring) Rotate(p KeyProvider) error {
	if p == nil {
		return fmt.Errorf("nil key provider")
	}
	k.provider.Store(&providerBox{p: p})
	return nil
}

func (k *Keyring) Sign(msg []byte) ([]byte, error) {
	return k.provider.Load().p.Sign(msg)
}

func (k *Keyring) PublicKey() ed25519.PublicKey {
	return k.provider.Load().p.PublicKey()
}

// DeriveForEpisode derives an episode-scoped keyring via HKDF-SHA256.
// The master seed is the IKM and the episode ID the info string, so each
// episode gets a unique, deterministic Ed25519 keypair without exposing
// the master key.
func (k *Keyring) DeriveForEpisode(episodeID string) (*Keyring, error) {
	if episodeID == "" {
		return nil, fmt.Errorf("episode id must not be empty")
	}
	seed := k.provider.Load().p.Seed()
	if len(seed) == 0 {
		return nil, fmt.Errorf("provider does not expose a derivable seed")
	}

	reader := hkdf.New(sha256.New, seed, nil, []byte("parapet/episode/"+episodeID))
	derived := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		return nil, fmt.Errorf("hkdf derivation failed: %w", err)
	}

	priv := ed25519.NewKeyFromSeed(derived)
	derivedProvider := &MemoryKeyProvider{
		pub:  priv.Public().(ed25519.PublicKey),
		priv: priv,
	}
	return NewKeyring(derivedProvider)
}
