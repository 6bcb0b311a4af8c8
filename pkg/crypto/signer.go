package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/contracts"
)

// Ed25519Signer produces decision signatures for one approver. The engine
// itself never signs; this lives here for approver agents, provisioning
// tooling, and tests.
type Ed25519Signer struct {
	priv     ed25519.PrivateKey
	pub      ed25519.PublicKey
	SignerID string
}

// NewEd25519Signer generates a fresh keypair for a signer id.
func NewEd25519Signer(signerID string) (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &Ed25519Signer{priv: priv, pub: pub, SignerID: signerID}, nil
}

// NewEd25519SignerFromKey wraps an existing private key.
func NewEd25519SignerFromKey(priv ed25519.PrivateKey, signerID string) *Ed25519Signer {
	return &Ed25519Signer{
		priv:     priv,
		pub:      priv.Public().(ed25519.PublicKey),
		SignerID: signerID,
	}
}

// PublicKey returns the verification key to place in the directory.
func (s *Ed25519Signer) PublicKey() []byte {
	return s.pub
}

// Sign signs raw bytes.
func (s *Ed25519Signer) Sign(message []byte) []byte {
	return ed25519.Sign(s.priv, message)
}

// SignDecision builds and signs the decision tuple, returning the encoded
// signature in stored wire form.
func (s *Ed25519Signer) SignDecision(requestID string, verdict contracts.DecisionVerdict, ts time.Time) (string, error) {
	msg, err := DecisionMessage(requestID, s.SignerID, verdict, ts)
	if err != nil {
		return "", err
	}
	return EncodeSignature(SchemeEd25519, s.Sign(msg)), nil
}
