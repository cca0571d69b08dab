package broker

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"
	_ "modernc.org/sqlite"
)

const vaultSchema = `
CREATE TABLE IF NOT EXISTS vault_secrets (
	resource    TEXT PRIMARY KEY,
	ciphertext  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);`

// Vault stores pre-provisioned upstream secrets keyed by target
// resource, encrypted at rest with AES-256-GCM. Each resource gets its
// own key derived from the master seed, so one leaked key exposes one
// resource.
type Vault struct {
	db     *sql.DB
	master []byte
}

// OpenVault opens (or creates) a sqlite-backed vault at dsn. The master
// seed must be at least 32 bytes.
func OpenVault(dsn string, master []byte) (*Vault, error) {
	if len(master) < 32 {
		return nil, errors.New("vault master seed must be at least 32 bytes")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open vault db: %w", err)
	}
	if _, err := db.Exec(vaultSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init vault schema: %w", err)
	}
	return &Vault{db: db, master: master}, nil
}

// Close releases the underlying database handle.
func (v *Vault) Close() error { return v.db.Close() }

func (v *Vault) resourceKey(resource string) ([]byte, error) {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, v.master, nil, []byte("parapet/vault/"+resource))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive vault key: %w", err)
	}
	return key, nil
}

// Put encrypts and stores the secret for a resource, replacing any
// prior value.
func (v *Vault) Put(ctx context.Context, resource, secret string) error {
	if resource == "" {
		return errors.New("resource is required")
	}
	key, err := v.resourceKey(resource)
	if err != nil {
		return err
	}
	sealed, err := seal(key, []byte(secret))
	if err != nil {
		return err
	}
	_, err = v.db.ExecContext(ctx, `
		INSERT INTO vault_secrets (resource, ciphertext, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(resource) DO UPDATE SET ciphertext = excluded.ciphertext, updated_at = excluded.updated_at`,
		resource, sealed, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store vault secret: %w", err)
	}
	return nil
}

// Get retrieves and decrypts the secret for a resource. The second
// return is false when no secret is provisioned.
func (v *Vault) Get(ctx context.Context, resource string) (string, bool, error) {
	var sealed string
	err := v.db.QueryRowContext(ctx,
		`SELECT ciphertext FROM vault_secrets WHERE resource = ?`, resource).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load vault secret: %w", err)
	}
	key, err := v.resourceKey(resource)
	if err != nil {
		return "", false, err
	}
	plain, err := open(key, sealed)
	if err != nil {
		return "", false, err
	}
	return string(plain), true, nil
}

// Delete removes the secret for a resource. Deleting an absent secret
// is not an error.
func (v *Vault) Delete(ctx context.Context, resource string) error {
	_, err := v.db.ExecContext(ctx, `DELETE FROM vault_secrets WHERE resource = ?`, resource)
	return err
}

func seal(key, plaintext []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

func open(key []byte, sealed string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	if len(raw) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ct := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt vault secret: %w", err)
	}
	return plain, nil
}
