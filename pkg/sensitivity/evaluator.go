// Package sensitivity decides whether an outbound communication needs a
// cultural-sensitivity review before it can be approved. Rules are CEL
// expressions over the request's content, metadata, and recipient; they come
// from the governance profile, so reviews tighten without a deploy.
package sensitivity

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/policy"
)

// Rule is one compiled-on-demand review trigger. The first matching rule
// decides the outcome.
type Rule struct {
	ID          string
	Description string
	Expr        string
}

// Input is the communication under evaluation.
type Input struct {
	Content   map[string]any
	Metadata  map[string]any
	Recipient string
}

// Outcome reports whether a review is required and which rule demanded it.
type Outcome struct {
	Required bool   `json:"required"`
	RuleID   string `json:"rule_id,omitempty"`
}

// Evaluator evaluates review rules. Programs are compiled once and cached;
// evaluation is cost-limited so a profile rule can never stall a request.
type Evaluator struct {
	env      *cel.Env
	mu       sync.RWMutex
	prgCache map[string]cel.Program
	rules    []Rule
}

// NewEvaluator builds an evaluator over the given rules. With no rules it
// loads the default ruleset.
func NewEvaluator(rules ...Rule) (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("content", cel.DynType),
		cel.Variable("metadata", cel.DynType),
		cel.Variable("recipient", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Evaluator{
		env:      env,
		prgCache: make(map[string]cel.Program),
		rules:    rules,
	}, nil
}

// FromProfile builds an evaluator from a governance profile's sensitivity
// section.
func FromProfile(p *policy.Profile) (*Evaluator, error) {
	rules := make([]Rule, 0, len(p.Sensitivity))
	for _, r := range p.Sensitivity {
		rules = append(rules, Rule{ID: r.ID, Description: r.Description, Expr: r.Expr})
	}
	return NewEvaluator(rules...)
}

// DefaultRules is the built-in ruleset used when the profile declares none.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "external-recipient",
			Description: "communications leaving the organization are reviewed",
			Expr:        `recipient != "" && !recipient.endsWith("@coaching2100.com")`,
		},
		{
			ID:          "regional-audience",
			Description: "region-targeted content is reviewed",
			Expr:        `has(content.regions) && content.regions.exists(r, r in ["APAC", "MEA", "LATAM"])`,
		},
		{
			ID:          "sensitive-topics",
			Description: "tagged cultural topics are reviewed",
			Expr:        `has(content.tags) && content.tags.exists(t, t in ["religion", "politics", "holiday", "tradition"])`,
		},
		{
			ID:          "broad-reach",
			Description: "large audiences are reviewed",
			Expr:        `has(metadata.audience_size) && double(metadata.audience_size) >= 1000.0`,
		},
	}
}

// Evaluate runs the rules in order and returns the first match. A rule that
// fails to compile or evaluate fails the whole evaluation; callers treat an
// error as review-required.
func (e *Evaluator) Evaluate(_ context.Context, in Input) (Outcome, error) {
	content := in.Content
	if content == nil {
		content = map[string]any{}
	}
	metadata := in.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	input := map[string]any{
		"content":   content,
		"metadata":  metadata,
		"recipient": in.Recipient,
	}

	for _, rule := range e.rules {
		matched, err := e.evaluateExpr(rule.Expr, input)
		if err != nil {
			return Outcome{}, fmt.Errorf("sensitivity rule %s: %w", rule.ID, err)
		}
		if matched {
			return Outcome{Required: true, RuleID: rule.ID}, nil
		}
	}
	return Outcome{}, nil
}

// Rules returns the active ruleset.
func (e *Evaluator) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

func (e *Evaluator) evaluateExpr(expr string, input map[string]any) (bool, error) {
	e.mu.RLock()
	prg, hit := e.prgCache[expr]
	e.mu.RUnlock()

	if !hit {
		e.mu.Lock()
		// Double check
		if prg, hit = e.prgCache[expr]; !hit {
			ast, issues := e.env.Compile(expr)
			if issues != nil && issues.Err() != nil {
				e.mu.Unlock()
				return false, fmt.Errorf("compile: %w", issues.Err())
			}
			p, err := e.env.Program(ast,
				cel.InterruptCheckFrequency(100),
				cel.CostLimit(10000),
			)
			if err != nil {
				e.mu.Unlock()
				return false, fmt.Errorf("program: %w", err)
			}
			e.prgCache[expr] = p
			prg = p
		}
		e.mu.Unlock()
	}

	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule result is %T, not bool", out.Value())
	}
	return val, nil
}
