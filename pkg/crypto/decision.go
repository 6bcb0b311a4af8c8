package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/canonical"
	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/contracts"
)

// Signature scheme identifiers. Stored signatures are "<scheme>:<hex>".
const (
	SigSeparator  = ":"
	SchemeEd25519 = "ed25519"
	SchemeHMAC    = "hmac-sha256"
)

// DecisionMessage builds the exact bytes an approver signs: the RFC 8785
// canonical JSON of the decision tuple. The timestamp is pinned to UTC
// RFC 3339 so every client serializes it identically.
func DecisionMessage(requestID, approverID string, verdict contracts.DecisionVerdict, ts time.Time) ([]byte, error) {
	return canonical.Canonicalize(map[string]string{
		"request_id":  requestID,
		"approver_id": approverID,
		"verdict":     string(verdict),
		"timestamp":   ts.UTC().Format(time.RFC3339Nano),
	})
}

// EncodeSignature renders a raw signature in the stored wire form.
func EncodeSignature(scheme string, sig []byte) string {
	return scheme + SigSeparator + hex.EncodeToString(sig)
}

// DecodeSignature splits a stored signature into scheme and raw bytes.
func DecodeSignature(encoded string) (scheme string, sig []byte, err error) {
	scheme, hexSig, ok := strings.Cut(encoded, SigSeparator)
	if !ok || scheme == "" {
		return "", nil, fmt.Errorf("signature missing scheme prefix")
	}
	sig, err = hex.DecodeString(hexSig)
	if err != nil {
		return "", nil, fmt.Errorf("signature hex: %w", err)
	}
	return scheme, sig, nil
}

// SchemeRouter dispatches encoded signatures to the verifier registered for
// their scheme prefix. Unregistered schemes and malformed encodings verify
// false.
type SchemeRouter struct {
	verifiers map[string]Verifier
}

// NewSchemeRouter creates an empty router.
func NewSchemeRouter() *SchemeRouter {
	return &SchemeRouter{verifiers: make(map[string]Verifier)}
}

// Register binds a scheme prefix to a verifier.
func (r *SchemeRouter) Register(scheme string, v Verifier) {
	r.verifiers[scheme] = v
}

// VerifyEncoded checks a stored "<scheme>:<hex>" signature for the claimed
// signer.
func (r *SchemeRouter) VerifyEncoded(message []byte, encoded, signerID string) bool {
	scheme, sig, err := DecodeSignature(encoded)
	if err != nil {
		return false
	}
	v, ok := r.verifiers[scheme]
	if !ok {
		return false
	}
	return v.Verify(message, sig, signerID)
}
