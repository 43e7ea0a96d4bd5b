package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"
)

// SessionCookieName is the cookie read by CookieResolver.
const SessionCookieName = "session"

// CookieResolver reads the HMAC-signed "session" cookie. The cookie value is
// base64url(tenant) + "." + base64url(hmac).
type CookieResolver struct {
	secret []byte
}

func NewCookieResolver(secret string) *CookieResolver {
	return &CookieResolver{secret: []byte(secret)}
}

func (c *CookieResolver) sign(payload string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Encode returns the signed cookie value for tenant.
func (c *CookieResolver) Encode(tenant string) string {
	payload := base64.RawURLEncoding.EncodeToString([]byte(tenant))
	return payload + "." + c.sign(payload)
}

// Decode verifies a cookie value and returns its tenant.
func (c *CookieResolver) Decode(value string) (string, bool) {
	payload, sig, ok := strings.Cut(value, ".")
	if !ok || payload == "" {
		return "", false
	}
	if !hmac.Equal([]byte(sig), []byte(c.sign(payload))) {
		return "", false
	}
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil || len(raw) == 0 {
		return "", false
	}
	return string(raw), true
}

func (c *CookieResolver) ResolveSession(_ context.Context, h http.Header) (Session, error) {
	value, ok := cookieFromHeader(h, SessionCookieName)
	if !ok {
		return Session{}, ErrUnauthenticated
	}
	tenant, ok := c.Decode(value)
	if !ok {
		return Session{}, ErrUnauthenticated
	}
	return Session{TenantID: tenant, Role: RoleUser, Subject: tenant, Provider: "cookie"}, nil
}
