// Package attest connects the governance engine to the external attestation
// ledger. The ledger is the tamper-evident record of request lifecycle
// transitions; it is never authoritative for approval state.
//
// Delivery properties:
//   - Ledger writes never block the decision path; the Recorder queues them
//   - Delivery is at-least-once with exponential backoff
//   - The ledger deduplicates by (request_id, to_status), so retries collapse
//     into one transaction
package attest

import (
	"context"
	"errors"

	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/contracts"
)

var (
	// ErrLedgerUnavailable marks a transient ledger failure. Callers queue and
	// retry; request state is unaffected.
	ErrLedgerUnavailable = errors.New("attestation ledger unavailable")

	// ErrNotFound is returned when no transaction matches a transition query.
	ErrNotFound = errors.New("transition not found")
)

// Client talks to an attestation ledger. Implementations must make
// RecordTransition idempotent on (request_id, to_status): re-recording an
// already-attested transition returns the original transaction reference.
type Client interface {
	// RecordTransition appends one lifecycle transition and returns its
	// transaction reference.
	RecordTransition(ctx context.Context, rec contracts.AttestationRecord) (string, error)

	// QueryTransition returns the ledger transaction for a request's
	// transition into toStatus, or ErrNotFound.
	QueryTransition(ctx context.Context, requestID string, toStatus contracts.ApprovalStatus) (*contracts.TransitionEvent, error)
}
