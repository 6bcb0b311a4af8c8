// Package contracts defines the shared types of the S2DO governance engine:
// approval requests, signed approver decisions, audit tokens, and the
// attestation records published to the external ledger.
//
// Governance properties:
//   - Approval thresholds are derived from policy tables, never hard-coded
//   - Terminal statuses (APPROVED, REJECTED, EXPIRED) are immutable
//   - Every decision is cryptographically bound to its approver
package contracts

import "time"

// ActionType classifies the sensitive action a request seeks approval for.
type ActionType string

const (
	ActionCommunication         ActionType = "COMMUNICATION"
	ActionIntegrationDeployment ActionType = "INTEGRATION_DEPLOYMENT"
	ActionSecretAccess          ActionType = "SECRET_ACCESS"
	ActionConfigurationChange   ActionType = "CONFIGURATION_CHANGE"
	ActionComplianceAttestation ActionType = "COMPLIANCE_ATTESTATION"
	ActionCopilotDelegation     ActionType = "COPILOT_DELEGATION"
)

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	switch t {
	case ActionCommunication, ActionIntegrationDeployment, ActionSecretAccess,
		ActionConfigurationChange, ActionComplianceAttestation, ActionCopilotDelegation:
		return true
	}
	return false
}

// ApprovalStatus represents the current state of an approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
	ApprovalExpired  ApprovalStatus = "EXPIRED"
)

// IsTerminal reports whether the status admits no further transitions.
func (s ApprovalStatus) IsTerminal() bool {
	return s == ApprovalApproved || s == ApprovalRejected || s == ApprovalExpired
}

// DecisionVerdict is an approver's vote on a request.
type DecisionVerdict string

const (
	VerdictApprove DecisionVerdict = "APPROVE"
	VerdictReject  DecisionVerdict = "REJECT"
)

// Decision is one approver's signed vote. The signature covers the tuple
// (request_id, approver_id, verdict, timestamp) canonicalized as JSON, and is
// stored as "<scheme>:<hex>" (e.g. "ed25519:ab12...").
type Decision struct {
	ApproverID    string          `json:"approver_id"`
	Verdict       DecisionVerdict `json:"verdict"`
	Justification string          `json:"justification,omitempty"`
	Signature     string          `json:"signature"`
	Timestamp     time.Time       `json:"timestamp"`
}

// ApprovalRequest is the unit of governance: one sensitive action awaiting a
// threshold of signed approver decisions.
type ApprovalRequest struct {
	// Identity
	RequestID  string     `json:"request_id"`
	ActionType ActionType `json:"action_type"`
	AssetID    string     `json:"asset_id"`

	// Content addressing: content and metadata are hashed independently so
	// metadata edits never disturb the content digest.
	ContentHash  string `json:"content_hash"`
	MetadataHash string `json:"metadata_hash"`

	// Approval requirements, derived from the policy table at creation
	RequiredApprovers []string `json:"required_approvers"`
	MinApprovals      int      `json:"min_approvals"`

	// Decisions in submission order, at most one per approver
	Decisions []Decision `json:"decisions"`

	// Lifecycle
	Status    ApprovalStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`

	// Version increments on every mutation; stores use it for
	// compare-and-swap updates.
	Version int64 `json:"version"`
}

// Approvals counts APPROVE decisions.
func (r *ApprovalRequest) Approvals() int {
	n := 0
	for _, d := range r.Decisions {
		if d.Verdict == VerdictApprove {
			n++
		}
	}
	return n
}

// Rejections counts REJECT decisions.
func (r *ApprovalRequest) Rejections() int {
	n := 0
	for _, d := range r.Decisions {
		if d.Verdict == VerdictReject {
			n++
		}
	}
	return n
}

// IsRequiredApprover reports whether approverID appears in RequiredApprovers.
func (r *ApprovalRequest) IsRequiredApprover(approverID string) bool {
	for _, a := range r.RequiredApprovers {
		if a == approverID {
			return true
		}
	}
	return false
}

// HasDecisionFrom reports whether approverID has already voted.
func (r *ApprovalRequest) HasDecisionFrom(approverID string) bool {
	for _, d := range r.Decisions {
		if d.ApproverID == approverID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. Stores hand out clones so callers can never
// mutate shared state.
func (r *ApprovalRequest) Clone() *ApprovalRequest {
	cp := *r
	cp.RequiredApprovers = append([]string(nil), r.RequiredApprovers...)
	cp.Decisions = append([]Decision(nil), r.Decisions...)
	return &cp
}
