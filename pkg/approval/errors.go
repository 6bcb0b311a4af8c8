package approval

import "errors"

// Failure kinds surfaced by the coordinator. Callers branch with errors.Is;
// the HTTP layer maps each to a distinct problem response.
var (
	// ErrNotFound: no request with the given id.
	ErrNotFound = errors.New("approval request not found")

	// ErrAlreadyFinalized: the request reached a terminal status and admits
	// no further decisions.
	ErrAlreadyFinalized = errors.New("approval request already finalized")

	// ErrUnauthorizedApprover: the submitter is not in the required approver
	// set.
	ErrUnauthorizedApprover = errors.New("approver not in required set")

	// ErrDuplicateApprover: the approver already has a recorded decision on
	// this request. Decisions are immutable; resubmission is rejected, never
	// replaced.
	ErrDuplicateApprover = errors.New("approver already decided")

	// ErrInvalidSignature: the decision signature does not verify for the
	// claimed approver.
	ErrInvalidSignature = errors.New("decision signature invalid")

	// ErrRequestExpired: the request's deadline passed before the decision
	// arrived. The expiry transition is persisted when this is returned.
	ErrRequestExpired = errors.New("approval request expired")
)
