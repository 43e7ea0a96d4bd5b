// Package policy registers the authorization rules of every resource on a
// gate.Gate keyed by tenant identifier.
package policy

import (
	"context"

	"github.com/diewo77/quotemaster/internal/auth"
	"github.com/diewo77/quotemaster/internal/gate"
)

// Resource type names registered on the gate.
const (
	ResourceClient   = "client"
	ResourceProduct  = "product"
	ResourceEstimate = "estimate"
	ResourceInvoice  = "invoice"
	ResourceRevenue  = "revenue"
	ResourceSettings = "settings"
)

// Ownable is implemented by every tenant-scoped model.
type Ownable interface {
	GetUserID() string
}

// OwnershipPolicy allows access only to rows owned by the subject tenant.
type OwnershipPolicy struct{}

func NewOwnershipPolicy() *OwnershipPolicy {
	return &OwnershipPolicy{}
}

// Can checks ownership. For list and create there is no row yet, and the
// repository scope already restricts the result to the tenant.
func (p *OwnershipPolicy) Can(_ context.Context, tenant string, _ gate.Action, resource any) bool {
	if resource == nil {
		return true
	}
	ownable, ok := resource.(Ownable)
	if !ok {
		// rows without an owner are never exposed
		return false
	}
	return tenant != "" && ownable.GetUserID() == tenant
}

// AdminBypassPolicy lets admin sessions through and defers to inner for
// everyone else.
type AdminBypassPolicy struct {
	inner   gate.Policy[string]
	isAdmin func(ctx context.Context, subject string) bool
}

func NewAdminBypassPolicy(inner gate.Policy[string], isAdmin func(ctx context.Context, subject string) bool) *AdminBypassPolicy {
	return &AdminBypassPolicy{inner: inner, isAdmin: isAdmin}
}

func (p *AdminBypassPolicy) Can(ctx context.Context, subject string, action gate.Action, resource any) bool {
	if p.isAdmin(ctx, subject) {
		return true
	}
	return p.inner.Can(ctx, subject, action, resource)
}

// SessionIsAdmin reads the admin role from the request session.
func SessionIsAdmin(ctx context.Context, _ string) bool {
	s, ok := auth.FromContext(ctx)
	return ok && s.IsAdmin()
}

// NewGate returns the gate used by the handlers: ownership for every
// tenant resource.
func NewGate() *gate.Gate[string] {
	g := gate.NewGate[string]()
	owner := NewOwnershipPolicy()
	for _, r := range []string{ResourceClient, ResourceProduct, ResourceEstimate, ResourceInvoice, ResourceRevenue, ResourceSettings} {
		g.Register(r, owner)
	}
	return g
}

// NewAdminGate returns a gate where admin sessions may read any tenant's
// rows. Only the admin surface uses it.
func NewAdminGate() *gate.Gate[string] {
	g := gate.NewGate[string]()
	bypass := NewAdminBypassPolicy(NewOwnershipPolicy(), SessionIsAdmin)
	for _, r := range []string{ResourceClient, ResourceProduct, ResourceEstimate, ResourceInvoice, ResourceRevenue, ResourceSettings} {
		g.Register(r, bypass)
	}
	return g
}
