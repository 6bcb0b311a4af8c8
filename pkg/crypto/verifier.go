// Package crypto provides decision signature verification for the governance
// engine. Verifiers are pure: any key material needed to check a claimed
// signer comes from an injected KeyDirectory, never from network lookups, so
// verification can run inside locked sections without blocking.
package crypto

import (
	"crypto/ed25519"
	"sync"
)

// Verifier checks a raw signature for a claimed signer. Unknown signers and
// malformed signatures report false, never an error; the caller maps a false
// result to its own invalid-signature failure.
type Verifier interface {
	Verify(message, signature []byte, signerID string) bool
}

// KeyDirectory resolves a signer id to verification key material.
type KeyDirectory interface {
	VerificationKey(signerID string) ([]byte, bool)
}

// MemoryDirectory is an in-memory KeyDirectory, suitable for tests and
// single-node deployments. Production nodes load it from the roster at boot.
type MemoryDirectory struct {
	mu   sync.RWMutex
	keys map[string][]byte
}

// NewMemoryDirectory creates an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{keys: make(map[string][]byte)}
}

// AddKey registers or replaces a signer's verification key.
func (d *MemoryDirectory) AddKey(signerID string, key []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys[signerID] = append([]byte(nil), key...)
}

// RemoveKey revokes a signer's key.
func (d *MemoryDirectory) RemoveKey(signerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.keys, signerID)
}

// VerificationKey returns the signer's key, if known.
func (d *MemoryDirectory) VerificationKey(signerID string) ([]byte, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	key, ok := d.keys[signerID]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), key...), true
}

// Ed25519Verifier verifies Ed25519 signatures against a key directory.
type Ed25519Verifier struct {
	keys KeyDirectory
}

// NewEd25519Verifier creates a verifier backed by the given directory.
func NewEd25519Verifier(keys KeyDirectory) *Ed25519Verifier {
	return &Ed25519Verifier{keys: keys}
}

// Verify reports whether signature is a valid Ed25519 signature of message by
// the claimed signer.
func (v *Ed25519Verifier) Verify(message, signature []byte, signerID string) bool {
	key, ok := v.keys.VerificationKey(signerID)
	if !ok || len(key) != ed25519.PublicKeySize {
		return false
	}
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(key), message, signature)
}
