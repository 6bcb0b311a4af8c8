// Package tokenledger mints and reads S2DO audit tokens, the append-only
// provenance DAG that ties governance artifacts (models, workflows, approvals,
// communication records) to their ancestry.
//
// DAG properties:
//   - Tokens are immutable once minted; there is no update or delete
//   - Every parent reference points at an already-committed token
//   - Lineage is returned in mint order, the requested token last
//   - Revocation is a child AUDIT_RECORD with a "revokes" attribute
package tokenledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/canonical"
	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/contracts"
	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/policy"
)

// Ledger mints audit tokens over a TokenStore.
type Ledger struct {
	store  TokenStore
	clock  func() time.Time
	logger *slog.Logger
}

// NewLedger wraps a token store.
func NewLedger(store TokenStore) *Ledger {
	return &Ledger{
		store:  store,
		clock:  time.Now,
		logger: slog.Default().With("component", "tokenledger"),
	}
}

// WithClock overrides the clock for deterministic testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// MintParams describes a token to mint. Content and Metadata are hashed
// independently and never persisted.
type MintParams struct {
	TokenType  contracts.TokenType
	Content    map[string]any
	Metadata   map[string]any
	Issuer     string
	Recipient  string
	Parents    []string
	Attributes map[string]any

	// TTL, when positive, sets ExpiresAt relative to mint time.
	TTL time.Duration
}

// Mint creates a token. All parent references are checked atomically with the
// insert; a mint against an unknown parent fails with ErrDanglingParent and
// writes nothing.
func (l *Ledger) Mint(ctx context.Context, p MintParams) (*contracts.AuditToken, error) {
	if !p.TokenType.Valid() {
		return nil, fmt.Errorf("token type %q: %w", p.TokenType, policy.ErrInvalidPolicy)
	}
	if p.Issuer == "" {
		return nil, fmt.Errorf("issuer required: %w", policy.ErrInvalidPolicy)
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

	now := l.clock()
	token := &contracts.AuditToken{
		TokenID:        uuid.New().String(),
		TokenType:      p.TokenType,
		ContentHash:    contentHash,
		MetadataHash:   metadataHash,
		Issuer:         p.Issuer,
		Recipient:      p.Recipient,
		CreatedAt:      now,
		ParentTokenIDs: dedupeIDs(p.Parents),
		Attributes:     p.Attributes,
	}
	if p.TTL > 0 {
		exp := now.Add(p.TTL)
		token.ExpiresAt = &exp
	}

	if err := l.store.Insert(ctx, token); err != nil {
		return nil, err
	}

	l.logger.InfoContext(ctx, "token minted",
		"token_id", token.TokenID,
		"token_type", token.TokenType,
		"sequence", token.Sequence,
		"parents", len(token.ParentTokenIDs),
	)
	return token.Clone(), nil
}

// Get returns the token, or ErrNotFound.
func (l *Ledger) Get(ctx context.Context, tokenID string) (*contracts.AuditToken, error) {
	return l.store.Get(ctx, tokenID)
}

// Lineage returns the token's full ancestry in mint order, the requested
// token last. Parents always precede children because a parent must exist
// before its child can be minted.
func (l *Ledger) Lineage(ctx context.Context, tokenID string) ([]*contracts.AuditToken, error) {
	self, err := l.store.Get(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	ancestors, err := l.store.Ancestors(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	return append(ancestors, self), nil
}

// Revoke mints an AUDIT_RECORD child that marks tokenID revoked. The revoked
// token itself is untouched; consumers check IsRevoked.
func (l *Ledger) Revoke(ctx context.Context, tokenID, issuer, reason string) (*contracts.AuditToken, error) {
	if _, err := l.store.Get(ctx, tokenID); err != nil {
		return nil, err
	}
	return l.Mint(ctx, MintParams{
		TokenType: contracts.TokenAuditRecord,
		Content:   map[string]any{"action": "revoke", "reason": reason},
		Issuer:    issuer,
		Parents:   []string{tokenID},
		Attributes: map[string]any{
			"revokes": tokenID,
		},
	})
}

// IsRevoked reports whether any AUDIT_RECORD child revokes tokenID.
func (l *Ledger) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	children, err := l.store.Children(ctx, tokenID)
	if err != nil {
		return false, err
	}
	for _, child := range children {
		if revoked, ok := child.RevokesToken(); ok && revoked == tokenID {
			return true, nil
		}
	}
	return false, nil
}

// LineageBundle is a portable lineage export. BundleHash covers the token
// list, so a verifier can detect tampering in transit.
type LineageBundle struct {
	TokenID     string                  `json:"token_id"`
	GeneratedAt time.Time               `json:"generated_at"`
	Tokens      []*contracts.AuditToken `json:"tokens"`
	BundleHash  string                  `json:"bundle_hash"`
}

// ExportLineage packages a token's lineage for external verification.
func (l *Ledger) ExportLineage(ctx context.Context, tokenID string) (*LineageBundle, error) {
	tokens, err := l.Lineage(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	hash, err := canonical.Hash(tokens)
	if err != nil {
		return nil, fmt.Errorf("hash lineage: %w", err)
	}
	return &LineageBundle{
		TokenID:     tokenID,
		GeneratedAt: l.clock(),
		Tokens:      tokens,
		BundleHash:  hash,
	}, nil
}

// MintGovernanceModel mints a root token for a governance model release.
// Version must be valid semver so model releases order correctly.
func (l *Ledger) MintGovernanceModel(ctx context.Context, issuer, name, version string, content map[string]any) (*contracts.AuditToken, error) {
	if _, err := semver.NewVersion(version); err != nil {
		return nil, fmt.Errorf("model version %q: %w", version, policy.ErrInvalidPolicy)
	}
	return l.Mint(ctx, MintParams{
		TokenType: contracts.TokenGovernanceModel,
		Content:   content,
		Issuer:    issuer,
		Attributes: map[string]any{
			"model":   name,
			"version": version,
		},
	})
}

// MintVerificationRequirement mints the token describing what a workflow has
// to verify, parented on its governance model.
func (l *Ledger) MintVerificationRequirement(ctx context.Context, issuer, requirement string, content map[string]any, parents ...string) (*contracts.AuditToken, error) {
	return l.Mint(ctx, MintParams{
		TokenType:  contracts.TokenVerificationRequirement,
		Content:    content,
		Issuer:     issuer,
		Parents:    parents,
		Attributes: map[string]any{"requirement": requirement},
	})
}

// MintApprovalWorkflow mints the token for a concrete approval workflow
// instance.
func (l *Ledger) MintApprovalWorkflow(ctx context.Context, issuer, workflow string, content map[string]any, parents ...string) (*contracts.AuditToken, error) {
	return l.Mint(ctx, MintParams{
		TokenType:  contracts.TokenApprovalWorkflow,
		Content:    content,
		Issuer:     issuer,
		Parents:    parents,
		Attributes: map[string]any{"workflow": workflow},
	})
}

// MintAuditRecord mints a free-form audit record over any set of parents.
func (l *Ledger) MintAuditRecord(ctx context.Context, issuer string, content map[string]any, parents ...string) (*contracts.AuditToken, error) {
	return l.Mint(ctx, MintParams{
		TokenType: contracts.TokenAuditRecord,
		Content:   content,
		Issuer:    issuer,
		Parents:   parents,
	})
}

// MintCommunicationApproval mints the token that certifies an approved
// communication, bound to its approval request.
func (l *Ledger) MintCommunicationApproval(ctx context.Context, requestID, issuer, recipient string, content, metadata map[string]any, parents ...string) (*contracts.AuditToken, error) {
	return l.Mint(ctx, MintParams{
		TokenType:  contracts.TokenCommunicationApproval,
		Content:    content,
		Metadata:   metadata,
		Issuer:     issuer,
		Recipient:  recipient,
		Parents:    parents,
		Attributes: map[string]any{"request_id": requestID},
	})
}

// MintCommunicationRecord mints the post-delivery record of an executed
// communication, parented on its approval token.
func (l *Ledger) MintCommunicationRecord(ctx context.Context, requestID, issuer, recipient string, content, metadata map[string]any, parents ...string) (*contracts.AuditToken, error) {
	return l.Mint(ctx, MintParams{
		TokenType:  contracts.TokenCommunicationRecord,
		Content:    content,
		Metadata:   metadata,
		Issuer:     issuer,
		Recipient:  recipient,
		Parents:    parents,
		Attributes: map[string]any{"request_id": requestID},
	})
}

// MintSensitivityApproval mints the token recording a sensitivity review
// outcome for a communication request.
func (l *Ledger) MintSensitivityApproval(ctx context.Context, requestID, issuer, ruleID string, content map[string]any, parents ...string) (*contracts.AuditToken, error) {
	return l.Mint(ctx, MintParams{
		TokenType: contracts.TokenSensitivityApproval,
		Content:   content,
		Issuer:    issuer,
		Parents:   parents,
		Attributes: map[string]any{
			"request_id": requestID,
			"rule_id":    ruleID,
		},
	})
}

func dedupeIDs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
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
