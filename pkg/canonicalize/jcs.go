// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme)
// serialization for deterministic hashing of gateway artifacts. Two
// semantically identical payloads canonicalize to identical bytes
// regardless of construction order.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// HashPrefix marks every digest produced by this package.
const HashPrefix = "sha256:"

// JCS returns the RFC 8785 canonical JSON representation of v.
// v is first marshaled with encoding/json so struct tags are honored,
// then transformed: lexicographic key ordering, no insignificant
// whitespace, no HTML escaping.
func JCS(v any) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jcs: pre-marshal failed: %w", err)
	}
	canonical, err := jcs.Transform(intermediate)
	if err != nil {
		return nil, fmt.Errorf("jcs: transform failed: %w", err)
	}
	return canonical, nil
}

// CanonicalHash returns the prefixed SHA-256 hex digest of the canonical
// form of v.
func CanonicalHash(v any) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes computes the prefixed SHA-256 hex digest of raw bytes.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return HashPrefix + hex.EncodeToString(h[:])
}
