// Package canonical provides RFC 8785 (JSON Canonicalization Scheme) compliant
// serialization and content addressing for governance artifacts. Two payloads
// hash equal exactly when they are semantically equal JSON; key order and
// insignificant whitespace never matter.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// DigestPrefix identifies the hash algorithm in stored digests.
const DigestPrefix = "sha256:"

// Canonicalize returns the RFC 8785 canonical JSON representation of v.
// v is first marshaled with encoding/json so struct tags are respected, then
// transformed: keys sorted by UTF-16 code units, no insignificant whitespace,
// no HTML escaping, shortest-round-trip number formatting.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: transform: %w", err)
	}
	return out, nil
}

// Hash returns the content address of v: "sha256:" followed by the hex SHA-256
// of its canonical form.
func Hash(v any) (string, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes content-addresses raw bytes without canonicalization.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return DigestPrefix + hex.EncodeToString(sum[:])
}
