package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// SessionResolver turns request headers into a Session. Implementations
// return ErrUnauthenticated when their credential is absent or invalid.
type SessionResolver interface {
	ResolveSession(ctx context.Context, h http.Header) (Session, error)
}

// ResolverFunc adapts a function to SessionResolver.
type ResolverFunc func(ctx context.Context, h http.Header) (Session, error)

func (f ResolverFunc) ResolveSession(ctx context.Context, h http.Header) (Session, error) {
	return f(ctx, h)
}

// Chain tries each resolver in order and returns the first session found.
type Chain []SessionResolver

func (c Chain) ResolveSession(ctx context.Context, h http.Header) (Session, error) {
	for _, r := range c {
		s, err := r.ResolveSession(ctx, h)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, ErrUnauthenticated) {
			return Session{}, err
		}
	}
	return Session{}, ErrUnauthenticated
}

// TenantHeader is read by HeaderResolver.
const TenantHeader = "X-Tenant-ID"

// HeaderResolver trusts the X-Tenant-ID header. Only for development and
// tests; it is never part of the production chain.
type HeaderResolver struct{}

func (HeaderResolver) ResolveSession(_ context.Context, h http.Header) (Session, error) {
	tenant := strings.TrimSpace(h.Get(TenantHeader))
	if tenant == "" || len(tenant) > 255 {
		return Session{}, ErrUnauthenticated
	}
	return Session{TenantID: tenant, Role: RoleUser, Subject: tenant, Provider: "header"}, nil
}

// NewChain builds the resolver chain for the configured provider names
// (jwt, cookie, header). header is ignored unless dev is true.
func NewChain(providers []string, tokens *TokenManager, sessionSecret string, dev bool) (Chain, error) {
	var chain Chain
	for _, p := range providers {
		switch strings.ToLower(strings.TrimSpace(p)) {
		case "jwt":
			chain = append(chain, NewJWTResolver(tokens))
		case "cookie":
			chain = append(chain, NewCookieResolver(sessionSecret))
		case "header":
			if dev {
				chain = append(chain, HeaderResolver{})
			}
		case "":
		default:
			return nil, fmt.Errorf("unknown auth provider %q", p)
		}
	}
	if dev && !containsHeader(chain) {
		chain = append(chain, HeaderResolver{})
	}
	if len(chain) == 0 {
		return nil, errors.New("no auth provider configured")
	}
	return chain, nil
}

func containsHeader(c Chain) bool {
	for _, r := range c {
		if _, ok := r.(HeaderResolver); ok {
			return true
		}
	}
	return false
}

// cookieFromHeader reads a cookie without a full *http.Request.
func cookieFromHeader(h http.Header, name string) (string, bool) {
	c, err := (&http.Request{Header: h}).Cookie(name)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}
