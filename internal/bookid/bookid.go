// Package bookid derives a stable book identifier from archive bytes.
package bookid

import (
	"crypto/sha256"
	"encoding/hex"
)

const prefix = "book:"

// FromBytes returns a deterministic id for the given archive bytes.
// Identical bytes always yield the same id, which makes ingestion
// idempotent and deduplicates repeated uploads of the same file.
func FromBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return prefix + hex.EncodeToString(sum[:16])
}
