// Package hash computes deterministic prompt fingerprints for exact-match
// cache lookups.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// DigestLength is the hex length of a fingerprint.
const DigestLength = sha256.Size * 2

// Fingerprint returns the SHA-256 hex digest of the normalized prompt text.
// Normalization lower-cases the text and trims leading/trailing whitespace,
// so fingerprints are case- and padding-insensitive.
func Fingerprint(text string) string {
	normalized := strings.ToLower(strings.TrimSpace(text))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
