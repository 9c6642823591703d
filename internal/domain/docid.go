package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// EncodeSourceID derives the stable document key for a source URL.
// Deterministic keys make reprocessing idempotent: the same announcement
// always maps to the same dedup entry regardless of crawl order.
func EncodeSourceID(url string) string {
	hash := sha256.Sum256([]byte(url))
	return "src-" + hex.EncodeToString(hash[:12])
}
