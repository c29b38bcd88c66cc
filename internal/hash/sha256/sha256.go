// Package sha256 fingerprints page snapshots with SHA-256.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher digests page content.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of content.
func (h *Hasher) Hash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
