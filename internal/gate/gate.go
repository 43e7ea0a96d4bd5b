// Package gate is a small Gate/Policy authorization registry. A Gate maps
// resource type names to policies; each policy decides whether a subject
// may perform an action on a loaded resource.
//
// The subject type is generic. QuoteMaster uses Gate[string] where the
// subject is the session's tenant identifier.
package gate

import "context"

// Gate is the central authorization checkpoint.
// U must be comparable so the zero subject can be refused outright.
type Gate[U comparable] struct {
	policies map[string]Policy[U]
}

// NewGate creates an empty Gate ready to register policies.
func NewGate[U comparable]() *Gate[U] {
	return &Gate[U]{policies: make(map[string]Policy[U])}
}

// Register adds the policy of resourceType, replacing any previous one.
func (g *Gate[U]) Register(resourceType string, p Policy[U]) {
	g.policies[resourceType] = p
}

// Authorize returns ErrUnauthorized for the zero subject or a denied
// action, and ErrNoPolicyDefined when resourceType was never registered.
func (g *Gate[U]) Authorize(ctx context.Context, user U, action Action, resourceType string, resource any) error {
	var zero U
	if user == zero {
		return ErrUnauthorized
	}
	p, ok := g.policies[resourceType]
	if !ok {
		return ErrNoPolicyDefined
	}
	if !p.Can(ctx, user, action, resource) {
		return ErrUnauthorized
	}
	return nil
}

// Can reports whether Authorize would succeed.
func (g *Gate[U]) Can(ctx context.Context, user U, action Action, resourceType string, resource any) bool {
	return g.Authorize(ctx, user, action, resourceType, resource) == nil
}
