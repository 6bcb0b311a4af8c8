// Package policy holds the governance policy tables: approval thresholds and
// request lifetimes per action type, optional per-action payload schemas, and
// YAML profile overrides. Thresholds live in data so changing governance
// posture never means changing code.
package policy

import (
	"errors"
	"fmt"
	"time"

	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/contracts"
)

// ErrInvalidPolicy indicates a request or profile that violates the policy
// table (unknown action type, empty approver set, payload schema failure).
var ErrInvalidPolicy = errors.New("invalid policy")

// ThresholdKind selects how min_approvals derives from the approver set size.
type ThresholdKind string

const (
	// ThresholdMajority requires ceil(n/2) approvals.
	ThresholdMajority ThresholdKind = "majority"
	// ThresholdUnanimous requires all n approvals.
	ThresholdUnanimous ThresholdKind = "unanimous"
)

// ActionPolicy is the rule row for one action type.
type ActionPolicy struct {
	Threshold ThresholdKind `yaml:"threshold" json:"threshold"`
	TTL       time.Duration `yaml:"-" json:"ttl"`
}

// Table maps action types to their policy rows.
type Table map[contracts.ActionType]ActionPolicy

// Default returns the built-in policy table. Secret access demands unanimous
// consent within a short window; everything else is majority rule with a
// week to decide.
func Default() Table {
	return Table{
		contracts.ActionCommunication:         {Threshold: ThresholdMajority, TTL: 7 * 24 * time.Hour},
		contracts.ActionIntegrationDeployment: {Threshold: ThresholdMajority, TTL: 7 * 24 * time.Hour},
		contracts.ActionSecretAccess:          {Threshold: ThresholdUnanimous, TTL: 4 * time.Hour},
		contracts.ActionConfigurationChange:   {Threshold: ThresholdMajority, TTL: 7 * 24 * time.Hour},
		contracts.ActionComplianceAttestation: {Threshold: ThresholdMajority, TTL: 7 * 24 * time.Hour},
		contracts.ActionCopilotDelegation:     {Threshold: ThresholdMajority, TTL: 7 * 24 * time.Hour},
	}
}

// For returns the policy row for an action type.
func (t Table) For(action contracts.ActionType) (ActionPolicy, error) {
	p, ok := t[action]
	if !ok {
		return ActionPolicy{}, fmt.Errorf("no policy for action type %q: %w", action, ErrInvalidPolicy)
	}
	return p, nil
}

// MinApprovals derives the approval threshold for an approver set of size n.
func (p ActionPolicy) MinApprovals(n int) int {
	switch p.Threshold {
	case ThresholdUnanimous:
		return n
	default:
		return (n + 1) / 2 // ceil(n/2)
	}
}

// ExpiresAt derives the request deadline from its creation time.
func (p ActionPolicy) ExpiresAt(createdAt time.Time) time.Time {
	return createdAt.Add(p.TTL)
}

// Clone returns an independent copy of the table.
func (t Table) Clone() Table {
	cp := make(Table, len(t))
	for k, v := range t {
		cp[k] = v
	}
	return cp
}
