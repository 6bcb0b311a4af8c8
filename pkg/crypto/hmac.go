package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

const hmacKeySize = 32

// HMACVerifier verifies HMAC-SHA256 decision signatures. Each approver's MAC
// key is derived from a shared root secret with HKDF-SHA256, using the signer
// id as the info string, so distributing one secret provisions the whole
// roster. Comparison is constant time with respect to the secret material.
type HMACVerifier struct {
	root []byte
}

// NewHMACVerifier creates a verifier over the given root secret.
func NewHMACVerifier(rootSecret []byte) *HMACVerifier {
	return &HMACVerifier{root: append([]byte(nil), rootSecret...)}
}

// Verify reports whether signature is the HMAC of message under the signer's
// derived key.
func (v *HMACVerifier) Verify(message, signature []byte, signerID string) bool {
	if signerID == "" {
		return false
	}
	mac := hmac.New(sha256.New, v.deriveKey(signerID))
	mac.Write(message)
	return hmac.Equal(signature, mac.Sum(nil))
}

// Sign produces the MAC an approver would submit. Exposed for tests and for
// CLI tooling that provisions approver agents.
func (v *HMACVerifier) Sign(message []byte, signerID string) []byte {
	mac := hmac.New(sha256.New, v.deriveKey(signerID))
	mac.Write(message)
	return mac.Sum(nil)
}

func (v *HMACVerifier) deriveKey(signerID string) []byte {
	r := hkdf.New(sha256.New, v.root, nil, []byte("s2do/approver/"+signerID))
	key := make([]byte, hmacKeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		// hkdf-sha256 yields up to 8160 bytes; a 32-byte read cannot fail
		panic(err)
	}
	return key
}
