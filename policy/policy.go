// Package policy provides types and helpers for writing access rules over
// store operations, and deals with their evaluation at runtime. A rule
// returns one of three decisions: Allow terminates the chain and permits the
// operation, Deny terminates it and rejects, Skip abstains and passes
// evaluation to the next rule.
package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/strata-db/strata/delta"
	"github.com/strata-db/strata/read"
)

// Policy decision sentinel errors. Rules return them, optionally wrapped via
// Allowf/Denyf/Skipf; check with errors.Is.
var (
	// Allow terminates the evaluation with an allow decision.
	Allow = errors.New("strata/policy: allow rule")

	// Deny terminates the evaluation with a deny decision.
	Deny = errors.New("strata/policy: deny rule")

	// Skip abstains and continues to the next rule in the chain.
	Skip = errors.New("strata/policy: skip rule")
)

// Allowf returns a formatted wrapped Allow decision.
func Allowf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Allow)...)
}

// Denyf returns a formatted wrapped Deny decision.
func Denyf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Deny)...)
}

// Skipf returns a formatted wrapped Skip decision.
func Skipf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Skip)...)
}

// ReadRequest describes one fetch operation under evaluation. Rules may
// inspect it but must not modify it.
type ReadRequest struct {
	Identity string
	IDs      []any
	Shape    read.Shape
}

type (
	// ReadRule decides whether a fetch is allowed.
	ReadRule interface {
		EvalRead(context.Context, *ReadRequest) error
	}

	// ReadPolicy combines multiple read rules into a single policy.
	ReadPolicy []ReadRule

	// WriteRule decides whether a delta is allowed to be written.
	WriteRule interface {
		EvalWrite(context.Context, delta.Delta) error
	}

	// WritePolicy combines multiple write rules into a single policy.
	WritePolicy []WriteRule

	// Rule groups read and write rules.
	Rule interface {
		ReadRule
		WriteRule
	}
)

// ReadRuleFunc allows ordinary functions to act as read rules.
type ReadRuleFunc func(context.Context, *ReadRequest) error

// EvalRead returns f(ctx, r).
func (f ReadRuleFunc) EvalRead(ctx context.Context, r *ReadRequest) error {
	return f(ctx, r)
}

// WriteRuleFunc allows ordinary functions to act as write rules.
type WriteRuleFunc func(context.Context, delta.Delta) error

// EvalWrite returns f(ctx, d).
func (f WriteRuleFunc) EvalWrite(ctx context.Context, d delta.Delta) error {
	return f(ctx, d)
}

// EvalRead evaluates the request against the policy. Rules run in order; the
// first Allow or Deny decision wins, Skip and nil move on. An exhausted
// policy allows.
func (p ReadPolicy) EvalRead(ctx context.Context, r *ReadRequest) error {
	if decision, ok := DecisionFromContext(ctx); ok {
		return terminal(decision)
	}
	for _, rule := range p {
		if done, err := step(rule.EvalRead(ctx, r)); done {
			return err
		}
	}
	return nil
}

// EvalWrite evaluates the delta against the policy, with the same chain
// semantics as EvalRead.
func (p WritePolicy) EvalWrite(ctx context.Context, d delta.Delta) error {
	if decision, ok := DecisionFromContext(ctx); ok {
		return terminal(decision)
	}
	for _, rule := range p {
		if done, err := step(rule.EvalWrite(ctx, d)); done {
			return err
		}
	}
	return nil
}

func step(decision error) (bool, error) {
	switch {
	case decision == nil, errors.Is(decision, Skip):
		return false, nil
	default:
		return true, terminal(decision)
	}
}

func terminal(decision error) error {
	if errors.Is(decision, Allow) {
		return nil
	}
	return decision
}

// Policy groups the read and write policies of a store.
type Policy struct {
	Read  ReadPolicy
	Write WritePolicy
}

// EvalRead forwards evaluation to the read policy.
func (p Policy) EvalRead(ctx context.Context, r *ReadRequest) error {
	return p.Read.EvalRead(ctx, r)
}

// EvalWrite forwards evaluation to the write policy.
func (p Policy) EvalWrite(ctx context.Context, d delta.Delta) error {
	return p.Write.EvalWrite(ctx, d)
}

type decisionCtxKey struct{}

// DecisionContext returns a context carrying a fixed policy decision,
// short-circuiting every evaluation under it. Useful for internal calls that
// must bypass the installed policy.
func DecisionContext(parent context.Context, decision error) context.Context {
	if decision == nil || errors.Is(decision, Skip) {
		return parent
	}
	return context.WithValue(parent, decisionCtxKey{}, decision)
}

// DecisionFromContext retrieves the policy decision attached to the context.
func DecisionFromContext(ctx context.Context) (error, bool) {
	decision, ok := ctx.Value(decisionCtxKey{}).(error)
	return decision, ok
}
