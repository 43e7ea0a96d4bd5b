// Package auth resolves the caller's session from request headers. The
// session carries the opaque tenant identifier every data access is
// scoped by.
package auth

import (
	"context"
	"errors"
)

// ErrUnauthenticated is returned by resolvers when no valid credential is
// present.
var ErrUnauthenticated = errors.New("unauthenticated")

// Roles carried by a session.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Session is the resolved identity of a request.
type Session struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	Subject  string `json:"subject,omitempty"`
	Provider string `json:"provider"`
}

// IsAdmin reports whether the session may use the admin surface.
func (s Session) IsAdmin() bool { return s.Role == RoleAdmin }

type ctxKey string

const sessionCtxKey = ctxKey("session")

// WithSession stores the session in ctx.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionCtxKey, s)
}

// FromContext extracts the session.
func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionCtxKey).(Session)
	return s, ok
}

// TenantFromContext returns the tenant of the session, "" when anonymous.
func TenantFromContext(ctx context.Context) string {
	s, _ := FromContext(ctx)
	return s.TenantID
}
