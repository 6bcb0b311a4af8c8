// Package approval implements the request coordinator, the state machine
// that carries a sensitive action from PENDING to APPROVED, REJECTED, or
// EXPIRED under signed, threshold-checked approver decisions.
//
// Lifecycle properties:
//   - Terminal statuses are immutable; late decisions are rejected
//   - Thresholds come from the policy table, never from code
//   - Expiry is evaluated lazily at submit and read time
//   - Every transition is handed to the attestation recorder
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/canonical"
	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/contracts"
	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/crypto"
	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/policy"
)

// DecisionVerifier checks an encoded "<scheme>:<hex>" decision signature for
// a claimed approver. Implementations are pure; key resolution is injected.
type DecisionVerifier interface {
	VerifyEncoded(message []byte, encoded, signerID string) bool
}

// AttestationRecorder receives lifecycle transitions for publication to the
// external ledger. RecordTransition must not block the decision path;
// delivery is asynchronous and retried. Pending reports whether a request
// still has undelivered transitions.
type AttestationRecorder interface {
	RecordTransition(rec contracts.AttestationRecord)
	Pending(requestID string) bool
}

// Coordinator owns approval request state. All collaborators are injected;
// local state is authoritative and ledger writes never sit on the decision
// path.
type Coordinator struct {
	store    RequestStore
	table    policy.Table
	schemas  *policy.SchemaSet
	verifier DecisionVerifier
	attest   AttestationRecorder
	clock    func() time.Time
	logger   *slog.Logger
}

// NewCoordinator wires a coordinator. recorder may be nil, in which case
// transitions are not attested (library embedding without a ledger).
func NewCoordinator(store RequestStore, table policy.Table, verifier DecisionVerifier, recorder AttestationRecorder) *Coordinator {
	return &Coordinator{
		store:    store,
		table:    table,
		verifier: verifier,
		attest:   recorder,
		clock:    time.Now,
		logger:   slog.Default().With("component", "approval"),
	}
}

// WithClock overrides the clock for deterministic testing.
func (c *Coordinator) WithClock(clock func() time.Time) *Coordinator {
	c.clock = clock
	return c
}

// WithSchemas attaches per-action payload schemas enforced at creation.
func (c *Coordinator) WithSchemas(set *policy.SchemaSet) *Coordinator {
	c.schemas = set
	return c
}

// CreateParams describes a new approval request. Content and Metadata are
// hashed independently; the engine persists the digests, not the payloads.
type CreateParams struct {
	ActionType        contracts.ActionType
	AssetID           string
	Content           map[string]any
	Metadata          map[string]any
	RequiredApprovers []string
}

// SubmitParams is one approver's signed decision. Timestamp is the instant
// the approver signed; it is part of the signed tuple, so it travels with the
// submission.
type SubmitParams struct {
	ApproverID    string
	Verdict       contracts.DecisionVerdict
	Justification string
	Signature     string
	Timestamp     time.Time
}

// View is the read model returned by GetStatus.
type View struct {
	Request            *contracts.ApprovalRequest `json:"request"`
	AttestationPending bool                       `json:"attestation_pending"`
}

// CreateRequest validates parameters against policy, derives the threshold
// and deadline, and persists a PENDING request. The creation transition is
// attested as "" -> PENDING.
func (c *Coordinator) CreateRequest(ctx context.Context, p CreateParams) (*contracts.ApprovalRequest, error) {
	if !p.ActionType.Valid() {
		return nil, fmt.Errorf("action type %q: %w", p.ActionType, policy.ErrInvalidPolicy)
	}
	approvers := dedupe(p.RequiredApprovers)
	if len(approvers) == 0 {
		return nil, fmt.Errorf("required approvers empty: %w", policy.ErrInvalidPolicy)
	}
	if c.schemas != nil {
		if err := c.schemas.Validate(p.ActionType, p.Content); err != nil {
			return nil, err
		}
	}
	row, err := c.table.For(p.ActionType)
	if err != nil {
		return nil, err
	}

	content := p.Content
	if content == nil {
		content = map[string]any{}
	}
	metadata := p.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	contentHash, err := canonical.Hash(content)
	if err != nil {
		return nil, fmt.Errorf("hash content: %w", err)
	}
	metadataHash, err := canonical.Hash(metadata)
	if err != nil {
		return nil, fmt.Errorf("hash metadata: %w", err)
	}

	now := c.clock()
	req := &contracts.ApprovalRequest{
		RequestID:         uuid.New().String(),
		ActionType:        p.ActionType,
		AssetID:           p.AssetID,
		ContentHash:       contentHash,
		MetadataHash:      metadataHash,
		RequiredApprovers: approvers,
		MinApprovals:      row.MinApprovals(len(approvers)),
		Decisions:         []contracts.Decision{},
		Status:            contracts.ApprovalPending,
		CreatedAt:         now,
		ExpiresAt:         row.ExpiresAt(now),
		Version:           1,
	}

	if err := c.store.Insert(ctx, req); err != nil {
		return nil, fmt.Errorf("persist request: %w", err)
	}

	c.record(contracts.AttestationRecord{
		RequestID:    req.RequestID,
		ToStatus:     contracts.ApprovalPending,
		ContentHash:  req.ContentHash,
		MetadataHash: req.MetadataHash,
		Timestamp:    now,
	})

	c.logger.InfoContext(ctx, "request created",
		"request_id", req.RequestID,
		"action_type", req.ActionType,
		"min_approvals", req.MinApprovals,
		"expires_at", req.ExpiresAt,
	)
	return req, nil
}

// SubmitDecision records one approver's signed decision and re-derives the
// request status. Checks run in a fixed order: finalized, authorization,
// duplicate, signature, expiry. An expiry discovered here is persisted and
// attested before ErrRequestExpired is returned.
func (c *Coordinator) SubmitDecision(ctx context.Context, requestID string, p SubmitParams) (*contracts.ApprovalRequest, error) {
	if p.Verdict != contracts.VerdictApprove && p.Verdict != contracts.VerdictReject {
		return nil, fmt.Errorf("verdict %q: %w", p.Verdict, policy.ErrInvalidPolicy)
	}

	msg, err := crypto.DecisionMessage(requestID, p.ApproverID, p.Verdict, p.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("decision message: %w", err)
	}

	var (
		expiredNow bool
		finalized  contracts.ApprovalStatus
		decidedAt  time.Time
	)
	updated, err := c.store.Update(ctx, requestID, func(req *contracts.ApprovalRequest) error {
		// The SQL store re-runs this closure on CAS conflicts.
		expiredNow, finalized = false, ""

		if req.Status.IsTerminal() {
			return fmt.Errorf("request %s is %s: %w", requestID, req.Status, ErrAlreadyFinalized)
		}
		if !req.IsRequiredApprover(p.ApproverID) {
			return fmt.Errorf("approver %s on request %s: %w", p.ApproverID, requestID, ErrUnauthorizedApprover)
		}
		if req.HasDecisionFrom(p.ApproverID) {
			return fmt.Errorf("approver %s on request %s: %w", p.ApproverID, requestID, ErrDuplicateApprover)
		}
		if !c.verifier.VerifyEncoded(msg, p.Signature, p.ApproverID) {
			return fmt.Errorf("approver %s on request %s: %w", p.ApproverID, requestID, ErrInvalidSignature)
		}

		now := c.clock()
		decidedAt = now
		if !now.Before(req.ExpiresAt) {
			req.Status = contracts.ApprovalExpired
			expiredNow = true
			return nil
		}

		req.Decisions = append(req.Decisions, contracts.Decision{
			ApproverID:    p.ApproverID,
			Verdict:       p.Verdict,
			Justification: p.Justification,
			Signature:     p.Signature,
			Timestamp:     p.Timestamp,
		})
		next := DeriveStatus(req.Approvals(), req.Rejections(), len(req.RequiredApprovers), req.MinApprovals)
		if next != req.Status {
			req.Status = next
			finalized = next
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if expiredNow {
		c.recordTransition(updated, contracts.ApprovalPending, contracts.ApprovalExpired, decidedAt)
		c.logger.InfoContext(ctx, "request expired at decision submit",
			"request_id", requestID, "approver_id", p.ApproverID)
		return nil, fmt.Errorf("request %s: %w", requestID, ErrRequestExpired)
	}

	if finalized != "" {
		c.recordTransition(updated, contracts.ApprovalPending, finalized, decidedAt)
		c.logger.InfoContext(ctx, "request finalized",
			"request_id", requestID, "status", finalized,
			"approvals", updated.Approvals(), "rejections", updated.Rejections())
	} else {
		c.logger.InfoContext(ctx, "decision recorded",
			"request_id", requestID, "approver_id", p.ApproverID, "verdict", p.Verdict)
	}
	return updated, nil
}

// GetStatus returns the request's current state, applying lazy expiry first.
func (c *Coordinator) GetStatus(ctx context.Context, requestID string) (*View, error) {
	req, err := c.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	req, err = c.expireIfDue(ctx, req)
	if err != nil {
		return nil, err
	}
	return &View{Request: req, AttestationPending: c.attestationPending(requestID)}, nil
}

// ListPending returns all requests still awaiting decisions, after applying
// lazy expiry to each.
func (c *Coordinator) ListPending(ctx context.Context) ([]*contracts.ApprovalRequest, error) {
	pending, err := c.store.ListByStatus(ctx, contracts.ApprovalPending)
	if err != nil {
		return nil, err
	}
	out := make([]*contracts.ApprovalRequest, 0, len(pending))
	for _, req := range pending {
		current, err := c.expireIfDue(ctx, req)
		if err != nil {
			return nil, err
		}
		if current.Status == contracts.ApprovalPending {
			out = append(out, current)
		}
	}
	return out, nil
}

// DeriveStatus computes a request's status from its decision counts. APPROVED
// once approvals reach the threshold; REJECTED once enough rejections arrive
// that the threshold can no longer be met; PENDING otherwise.
func DeriveStatus(approvals, rejections, totalApprovers, minApprovals int) contracts.ApprovalStatus {
	if approvals >= minApprovals {
		return contracts.ApprovalApproved
	}
	if rejections > totalApprovers-minApprovals {
		return contracts.ApprovalRejected
	}
	return contracts.ApprovalPending
}

// expireIfDue flips a PENDING request past its deadline to EXPIRED. Decisions
// are never mutated by expiry. Concurrent readers race benignly: the store
// serializes the flip and only the winner attests it.
func (c *Coordinator) expireIfDue(ctx context.Context, req *contracts.ApprovalRequest) (*contracts.ApprovalRequest, error) {
	if req.Status != contracts.ApprovalPending || c.clock().Before(req.ExpiresAt) {
		return req, nil
	}

	var expiredAt time.Time
	updated, err := c.store.Update(ctx, req.RequestID, func(r *contracts.ApprovalRequest) error {
		if r.Status != contracts.ApprovalPending {
			return errUnchanged
		}
		now := c.clock()
		if now.Before(r.ExpiresAt) {
			return errUnchanged
		}
		r.Status = contracts.ApprovalExpired
		expiredAt = now
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return c.store.Get(ctx, req.RequestID)
	}
	if err != nil {
		return nil, err
	}

	c.recordTransition(updated, contracts.ApprovalPending, contracts.ApprovalExpired, expiredAt)
	c.logger.InfoContext(ctx, "request expired", "request_id", updated.RequestID)
	return updated, nil
}

func (c *Coordinator) recordTransition(req *contracts.ApprovalRequest, from, to contracts.ApprovalStatus, ts time.Time) {
	c.record(contracts.AttestationRecord{
		RequestID:    req.RequestID,
		FromStatus:   from,
		ToStatus:     to,
		ContentHash:  req.ContentHash,
		MetadataHash: req.MetadataHash,
		Timestamp:    ts,
	})
}

func (c *Coordinator) record(rec contracts.AttestationRecord) {
	if c.attest == nil {
		return
	}
	c.attest.RecordTransition(rec)
}

func (c *Coordinator) attestationPending(requestID string) bool {
	if c.attest == nil {
		return false
	}
	return c.attest.Pending(requestID)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
