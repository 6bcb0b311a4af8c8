package contracts

import "time"

// TokenType classifies an audit token within the provenance DAG.
type TokenType string

const (
	TokenGovernanceModel         TokenType = "GOVERNANCE_MODEL"
	TokenVerificationRequirement TokenType = "VERIFICATION_REQUIREMENT"
	TokenApprovalWorkflow        TokenType = "APPROVAL_WORKFLOW"
	TokenCommunicationApproval   TokenType = "COMMUNICATION_APPROVAL"
	TokenSensitivityApproval     TokenType = "CULTURAL_SENSITIVITY_APPROVAL"
	TokenCommunicationRecord     TokenType = "AGENT_COMMUNICATION_RECORD"
	TokenAuditRecord             TokenType = "AUDIT_RECORD"
)

// Valid reports whether t is a known token type.
func (t TokenType) Valid() bool {
	switch t {
	case TokenGovernanceModel, TokenVerificationRequirement, TokenApprovalWorkflow,
		TokenCommunicationApproval, TokenSensitivityApproval, TokenCommunicationRecord,
		TokenAuditRecord:
		return true
	}
	return false
}

// AuditToken is one node of the append-only provenance DAG. Tokens are never
// edited or deleted; revocation is expressed as a child AUDIT_RECORD token
// carrying a "revokes" attribute.
type AuditToken struct {
	// Identity
	TokenID   string    `json:"token_id"`
	TokenType TokenType `json:"token_type"`

	// Content addressing
	ContentHash  string `json:"content_hash"`
	MetadataHash string `json:"metadata_hash"`

	// Parties
	Issuer    string `json:"issuer"`
	Recipient string `json:"recipient,omitempty"`

	// Lifecycle
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// Provenance: ordered references to existing tokens
	ParentTokenIDs []string `json:"parent_token_ids,omitempty"`

	// Free-form attributes (e.g. "revokes", "channel", "model_version")
	Attributes map[string]any `json:"attributes,omitempty"`

	// Sequence is the ledger-assigned mint order; lineage traversal sorts
	// ancestors by it to produce a stable topological order.
	Sequence uint64 `json:"sequence"`
}

// Expired reports whether the token's validity window has passed at now.
// Tokens without ExpiresAt never expire.
func (t *AuditToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

// RevokesToken returns the token id this AUDIT_RECORD revokes, if any.
func (t *AuditToken) RevokesToken() (string, bool) {
	if t.TokenType != TokenAuditRecord {
		return "", false
	}
	v, ok := t.Attributes["revokes"]
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

// Clone returns a deep copy.
func (t *AuditToken) Clone() *AuditToken {
	cp := *t
	cp.ParentTokenIDs = append([]string(nil), t.ParentTokenIDs...)
	if t.ExpiresAt != nil {
		exp := *t.ExpiresAt
		cp.ExpiresAt = &exp
	}
	if t.Attributes != nil {
		cp.Attributes = make(map[string]any, len(t.Attributes))
		for k, v := range t.Attributes {
			cp.Attributes[k] = v
		}
	}
	return &cp
}
