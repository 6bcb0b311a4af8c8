//go:build property
// +build property

// Package tokenledger_test contains property-based tests for provenance DAG
// lineage traversal.
package tokenledger_test

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/contracts"
	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/tokenledger"
)

// buildDAG mints n tokens; token i takes its parents from picks[i] reduced
// modulo the tokens already minted.
func buildDAG(n int, picks [][]int) (*tokenledger.Ledger, []*contracts.AuditToken, error) {
	l := tokenledger.NewLedger(tokenledger.NewMemoryTokenStore())
	ctx := context.Background()

	tokens := make([]*contracts.AuditToken, 0, n)
	for i := 0; i < n; i++ {
		var parents []string
		if i > 0 && i < len(picks) {
			for _, p := range picks[i] {
				if p < 0 {
					p = -p
				}
				parents = append(parents, tokens[p%i].TokenID)
			}
		}
		token, err := l.Mint(ctx, tokenledger.MintParams{
			TokenType: contracts.TokenAuditRecord,
			Issuer:    "property-harness",
			Parents:   parents,
		})
		if err != nil {
			return nil, nil, err
		}
		tokens = append(tokens, token)
	}
	return l, tokens, nil
}

// TestLineageTopologicalOrder verifies that for any DAG shape, every lineage
// is strictly ascending in sequence and ends with the requested token.
func TestLineageTopologicalOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("lineage ascends in mint order and ends with the token", prop.ForAll(
		func(n int, picks [][]int) bool {
			l, tokens, err := buildDAG(n, picks)
			if err != nil {
				return false
			}
			for _, token := range tokens {
				lineage, err := l.Lineage(context.Background(), token.TokenID)
				if err != nil {
					return false
				}
				if lineage[len(lineage)-1].TokenID != token.TokenID {
					return false
				}
				for i := 1; i < len(lineage); i++ {
					if lineage[i-1].Sequence >= lineage[i].Sequence {
						return false
					}
				}
			}
			return true
		},
		gen.IntRange(1, 12),
		gen.SliceOf(gen.SliceOf(gen.IntRange(0, 64))),
	))

	properties.TestingRun(t)
}

// TestLineageClosure verifies that a lineage is closed under parenthood:
// every parent of every member is itself a member.
func TestLineageClosure(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("every parent of a lineage member is in the lineage", prop.ForAll(
		func(n int, picks [][]int) bool {
			l, tokens, err := buildDAG(n, picks)
			if err != nil {
				return false
			}
			last := tokens[len(tokens)-1]
			lineage, err := l.Lineage(context.Background(), last.TokenID)
			if err != nil {
				return false
			}
			members := make(map[string]bool, len(lineage))
			for _, token := range lineage {
				members[token.TokenID] = true
			}
			for _, token := range lineage {
				for _, parent := range token.ParentTokenIDs {
					if !members[parent] {
						return false
					}
				}
			}
			return true
		},
		gen.IntRange(1, 12),
		gen.SliceOf(gen.SliceOf(gen.IntRange(0, 64))),
	))

	properties.TestingRun(t)
}
