// Package merkle batches receipt hashes into a Merkle root for external
// anchoring. Leaf and interior hashing are domain-separated so a leaf
// can never be replayed as an interior node.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const (
	leafDomain = "parapet:receipt:leaf:v1"
	nodeDomain = "parapet:receipt:node:v1"
)

// Root computes the Merkle root over receipt hashes in order. An odd
// node at any level is promoted unchanged to the next level.
func Root(receiptHashes []string) (string, error) {
	if len(receiptHashes) == 0 {
		return "", fmt.Errorf("cannot anchor an empty batch")
	}

	level := make([][32]byte, 0, len(receiptHashes))
	for _, h := range receiptHashes {
		if h == "" {
			return "", fmt.Errorf("empty receipt hash in batch")
		}
		level = append(level, leafHash(h))
	}

	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, nodeHash(level[i], level[i+1]))
		}
		level = next
	}
	return "sha256:" + hex.EncodeToString(level[0][:]), nil
}

func leafHash(receiptHash string) [32]byte {
	h := sha256.New()
	h.Write([]byte(leafDomain))
	h.Write([]byte{0x00})
	h.Write([]byte(receiptHash))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func nodeHash(left, right [32]byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(nodeDomain))
	h.Write([]byte{0x01})
	h.Write(left[:])
	h.Write(right[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
