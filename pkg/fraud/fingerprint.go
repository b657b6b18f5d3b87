package fraud

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Fingerprint produces a stable cache key for a narrative: NFKC
// normalization, case folding and whitespace collapse, then a SHA-256 hex
// digest. Cosmetic edits (smart quotes, doubled spaces, casing) map to the
// same key so resubmissions hit the cache.
func Fingerprint(text string) string {
	normalized := norm.NFKC.String(text)
	normalized = strings.ToLower(normalized)
	normalized = strings.Join(strings.Fields(normalized), " ")

	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
