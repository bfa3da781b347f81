package store

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// HashText returns the cache key for a document's OCR text: SHA-256 over the
// NFC-normalized, whitespace-trimmed text. Unicode normalization keeps keys
// stable across OCR runs that differ only in composed vs decomposed forms.
func HashText(text string) string {
	normalized := norm.NFC.String(strings.TrimSpace(text))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
