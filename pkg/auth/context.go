package auth

import (
	"context"
	"errors"
)

type contextKey string

const approverKey contextKey = "approver"

// Approver is the authenticated caller extracted from a validated token.
type Approver struct {
	ID       string
	Squadron string
	Roles    []string
}

// HasRole reports whether the approver carries the given role.
func (a *Approver) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// WithApprover attaches an Approver to the context.
func WithApprover(ctx context.Context, a *Approver) context.Context {
	return context.WithValue(ctx, approverKey, a)
}

// ApproverFrom retrieves the Approver from the context.
func ApproverFrom(ctx context.Context) (*Approver, error) {
	a, ok := ctx.Value(approverKey).(*Approver)
	if !ok {
		return nil, errors.New("no approver in context")
	}
	return a, nil
}
