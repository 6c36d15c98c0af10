// Package canonical produces the deterministic JSON encoding used for
// hashing and job payloads: object keys sorted, no insignificant
// whitespace.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/goccy/go-json"
)

// JSON encodes v deterministically. Map keys are emitted in sorted
// order, matching the encoding/json contract goccy implements.
func JSON(v map[string]any) ([]byte, error) {
	return json.Marshal(v)
}

// SHA256 returns the raw 32-byte digest of data.
func SHA256(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// SHA256Hex returns the lowercase hex digest of data.
func SHA256Hex(data []byte) string {
	return hex.EncodeToString(SHA256(data))
}

// HashJSON hashes the canonical encoding of v and returns raw bytes.
func HashJSON(v map[string]any) ([]byte, error) {
	data, err := JSON(v)
	if err != nil {
		return nil, err
	}
	return SHA256(data), nil
}
