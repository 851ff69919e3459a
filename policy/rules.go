package policy

import (
	"context"
	"slices"

	"github.com/strata-db/strata/delta"
)

// Viewer represents the authenticated principal behind a request. Attach it
// to the context with WithViewer; rules read it back with ViewerFromContext.
type Viewer interface {
	// GetID returns the viewer's unique identifier.
	GetID() string
	// GetRoles returns the viewer's roles.
	GetRoles() []string
}

type viewerCtxKey struct{}

// WithViewer returns a new context with the viewer attached.
func WithViewer(ctx context.Context, v Viewer) context.Context {
	return context.WithValue(ctx, viewerCtxKey{}, v)
}

// ViewerFromContext retrieves the viewer from the context, or nil.
func ViewerFromContext(ctx context.Context) Viewer {
	v, _ := ctx.Value(viewerCtxKey{}).(Viewer)
	return v
}

// SimpleViewer is a basic Viewer implementation for tests and simple setups.
type SimpleViewer struct {
	UserID string
	Roles  []string
}

// GetID returns the user ID.
func (v *SimpleViewer) GetID() string { return v.UserID }

// GetRoles returns the user's roles.
func (v *SimpleViewer) GetRoles() []string { return v.Roles }

type fixedDecision struct{ decision error }

func (f fixedDecision) EvalRead(context.Context, *ReadRequest) error { return f.decision }
func (f fixedDecision) EvalWrite(context.Context, delta.Delta) error { return f.decision }

// AlwaysAllowRule returns a rule that unconditionally allows.
func AlwaysAllowRule() Rule { return fixedDecision{Allow} }

// AlwaysDenyRule returns a rule that unconditionally denies. Append it to a
// policy to turn the exhausted-policy default from allow into deny.
func AlwaysDenyRule() Rule { return fixedDecision{Deny} }

type contextDecision struct {
	eval func(context.Context) error
}

func (c contextDecision) EvalRead(ctx context.Context, _ *ReadRequest) error { return c.eval(ctx) }
func (c contextDecision) EvalWrite(ctx context.Context, _ delta.Delta) error { return c.eval(ctx) }

// ContextRule creates a rule from a context evaluation function. Returning
// nil is equivalent to returning Skip.
func ContextRule(eval func(context.Context) error) Rule {
	return contextDecision{eval}
}

// HasRoleRule allows viewers carrying the given role and abstains otherwise.
func HasRoleRule(role string) Rule {
	return ContextRule(func(ctx context.Context) error {
		v := ViewerFromContext(ctx)
		if v != nil && slices.Contains(v.GetRoles(), role) {
			return Allow
		}
		return Skip
	})
}

// DenyUnauthenticatedRule denies requests with no viewer on the context.
func DenyUnauthenticatedRule() Rule {
	return ContextRule(func(ctx context.Context) error {
		if ViewerFromContext(ctx) == nil {
			return Denyf("strata/policy: unauthenticated request")
		}
		return Skip
	})
}

// DenyAttributeWritesRule denies deltas touching any of the given attribute
// keys, and abstains otherwise.
func DenyAttributeWritesRule(keys ...string) WriteRule {
	return WriteRuleFunc(func(_ context.Context, d delta.Delta) error {
		for _, e := range d {
			for key := range e.Changes {
				if slices.Contains(keys, key) {
					return Denyf("strata/policy: attribute %q is not writable", key)
				}
			}
		}
		return Skip
	})
}

// DenyIdentityReadsRule denies fetches of the given identity, and abstains
// otherwise.
func DenyIdentityReadsRule(identity string) ReadRule {
	return ReadRuleFunc(func(_ context.Context, r *ReadRequest) error {
		if r.Identity == identity {
			return Denyf("strata/policy: identity %q is not readable", identity)
		}
		return Skip
	})
}
