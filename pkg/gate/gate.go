// Package gate is the execution boundary for agent communications. Nothing
// leaves the system without an APPROVED request behind it, and no approval is
// ever spent twice: execution claims a single-acquire slot before the action
// runs.
//
// Execution order: approval check, claim, token minting, action. A claim is
// consumed even when the action then fails, so a communication runs at most
// once ever.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/approval"
	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/contracts"
	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/sensitivity"
	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/tokenledger"
)

var (
	// ErrNotFound is returned for an unknown pending id.
	ErrNotFound = errors.New("pending communication not found")

	// ErrNotApproved blocks execution while the backing request is not
	// APPROVED.
	ErrNotApproved = errors.New("request not approved")

	// ErrAlreadyExecuted is returned once the execution slot is spent.
	ErrAlreadyExecuted = errors.New("communication already executed")
)

// ActionSpec describes a communication awaiting approval.
type ActionSpec struct {
	AgentID           string
	Recipient         string
	Channel           string
	Content           map[string]any
	Metadata          map[string]any
	RequiredApprovers []string
}

// Action is a communication the gate can execute once approved.
type Action interface {
	Describe() ActionSpec
	Run(ctx context.Context) (any, error)
}

// Coordinator is the slice of the approval engine the gate needs.
type Coordinator interface {
	CreateRequest(ctx context.Context, p approval.CreateParams) (*contracts.ApprovalRequest, error)
	GetStatus(ctx context.Context, requestID string) (*approval.View, error)
}

// Submission is the result of submitting a communication for approval.
type Submission struct {
	PendingID string              `json:"pending_id"`
	RequestID string              `json:"request_id"`
	Review    sensitivity.Outcome `json:"review"`
}

// ExecutionReceipt records one executed communication and the tokens minted
// for it.
type ExecutionReceipt struct {
	PendingID          string    `json:"pending_id"`
	RequestID          string    `json:"request_id"`
	SensitivityTokenID string    `json:"sensitivity_token_id,omitempty"`
	ApprovalTokenID    string    `json:"approval_token_id"`
	RecordTokenID      string    `json:"record_token_id"`
	Result             any       `json:"result,omitempty"`
	ExecutedAt         time.Time `json:"executed_at"`
}

type pendingAction struct {
	spec      ActionSpec
	action    Action
	requestID string
	review    sensitivity.Outcome
}

// Gate wires the approval coordinator, token ledger, sensitivity rules, and
// the claim store into the submit/execute flow.
type Gate struct {
	coordinator Coordinator
	tokens      *tokenledger.Ledger
	review      *sensitivity.Evaluator
	claims      ClaimStore
	issuer      string
	clock       func() time.Time
	logger      *slog.Logger

	pending *pendingStore
}

// NewGate builds a gate. issuer names this node on minted tokens.
func NewGate(coordinator Coordinator, tokens *tokenledger.Ledger, review *sensitivity.Evaluator, claims ClaimStore) *Gate {
	return &Gate{
		coordinator: coordinator,
		tokens:      tokens,
		review:      review,
		claims:      claims,
		issuer:      "s2do-gate",
		clock:       time.Now,
		logger:      slog.Default().With("component", "gate"),
		pending:     newPendingStore(),
	}
}

// WithIssuer overrides the issuer recorded on minted tokens.
func (g *Gate) WithIssuer(issuer string) *Gate {
	g.issuer = issuer
	return g
}

// WithClock overrides the clock for deterministic testing.
func (g *Gate) WithClock(clock func() time.Time) *Gate {
	g.clock = clock
	return g
}

// Submit evaluates sensitivity rules, opens the approval request, and parks
// the action until Execute. Rule evaluation failure blocks submission.
func (g *Gate) Submit(ctx context.Context, action Action) (*Submission, error) {
	spec := action.Describe()

	outcome, err := g.review.Evaluate(ctx, sensitivity.Input{
		Content:   spec.Content,
		Metadata:  spec.Metadata,
		Recipient: spec.Recipient,
	})
	if err != nil {
		return nil, fmt.Errorf("sensitivity review: %w", err)
	}

	req, err := g.coordinator.CreateRequest(ctx, approval.CreateParams{
		ActionType:        contracts.ActionCommunication,
		AssetID:           spec.Channel + ":" + spec.Recipient,
		Content:           spec.Content,
		Metadata:          spec.Metadata,
		RequiredApprovers: spec.RequiredApprovers,
	})
	if err != nil {
		return nil, err
	}

	pendingID := uuid.New().String()
	g.pending.put(pendingID, &pendingAction{
		spec:      spec,
		action:    action,
		requestID: req.RequestID,
		review:    outcome,
	})

	g.logger.InfoContext(ctx, "communication submitted",
		"pending_id", pendingID,
		"request_id", req.RequestID,
		"agent_id", spec.AgentID,
		"review_required", outcome.Required,
	)
	return &Submission{PendingID: pendingID, RequestID: req.RequestID, Review: outcome}, nil
}

// Execute runs a pending communication whose request is APPROVED. The first
// caller to claim the slot executes; everyone after gets ErrAlreadyExecuted,
// even if the action itself failed.
func (g *Gate) Execute(ctx context.Context, pendingID string) (*ExecutionReceipt, error) {
	entry, ok := g.pending.get(pendingID)
	if !ok {
		return nil, fmt.Errorf("pending %s: %w", pendingID, ErrNotFound)
	}

	view, err := g.coordinator.GetStatus(ctx, entry.requestID)
	if err != nil {
		return nil, err
	}
	if view.Request.Status != contracts.ApprovalApproved {
		return nil, fmt.Errorf("request %s is %s: %w", entry.requestID, view.Request.Status, ErrNotApproved)
	}

	acquired, err := g.claims.Claim(ctx, pendingID)
	if err != nil {
		return nil, fmt.Errorf("claim execution slot: %w", err)
	}
	if !acquired {
		return nil, fmt.Errorf("pending %s: %w", pendingID, ErrAlreadyExecuted)
	}

	receipt := &ExecutionReceipt{
		PendingID:  pendingID,
		RequestID:  entry.requestID,
		ExecutedAt: g.clock(),
	}

	var parents []string
	if entry.review.Required {
		sensToken, err := g.tokens.MintSensitivityApproval(ctx, entry.requestID, g.issuer, entry.review.RuleID,
			map[string]any{"recipient": entry.spec.Recipient, "channel": entry.spec.Channel})
		if err != nil {
			return nil, fmt.Errorf("mint sensitivity token: %w", err)
		}
		receipt.SensitivityTokenID = sensToken.TokenID
		parents = append(parents, sensToken.TokenID)
	}

	approvalToken, err := g.tokens.MintCommunicationApproval(ctx, entry.requestID, g.issuer, entry.spec.Recipient,
		entry.spec.Content, entry.spec.Metadata, parents...)
	if err != nil {
		return nil, fmt.Errorf("mint approval token: %w", err)
	}
	receipt.ApprovalTokenID = approvalToken.TokenID

	result, runErr := entry.action.Run(ctx)
	outcome := "delivered"
	if runErr != nil {
		outcome = "failed"
	}

	recordToken, err := g.tokens.Mint(ctx, tokenledger.MintParams{
		TokenType: contracts.TokenCommunicationRecord,
		Content:   entry.spec.Content,
		Metadata:  entry.spec.Metadata,
		Issuer:    g.issuer,
		Recipient: entry.spec.Recipient,
		Parents:   []string{approvalToken.TokenID},
		Attributes: map[string]any{
			"request_id": entry.requestID,
			"agent_id":   entry.spec.AgentID,
			"outcome":    outcome,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mint communication record: %w", err)
	}
	receipt.RecordTokenID = recordToken.TokenID

	if runErr != nil {
		g.logger.ErrorContext(ctx, "communication failed",
			"pending_id", pendingID, "request_id", entry.requestID, "error", runErr)
		return nil, fmt.Errorf("execute communication: %w", runErr)
	}

	receipt.Result = result
	g.logger.InfoContext(ctx, "communication executed",
		"pending_id", pendingID,
		"request_id", entry.requestID,
		"approval_token", approvalToken.TokenID,
		"record_token", recordToken.TokenID,
	)
	return receipt, nil
}

// Lookup returns the backing request id and review outcome for a pending
// communication.
func (g *Gate) Lookup(pendingID string) (requestID string, review sensitivity.Outcome, ok bool) {
	entry, ok := g.pending.get(pendingID)
	if !ok {
		return "", sensitivity.Outcome{}, false
	}
	return entry.requestID, entry.review, true
}
