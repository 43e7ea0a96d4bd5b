package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AdminCookieName carries the admin JWT for browser clients.
const AdminCookieName = "admin_session"

type Claims struct {
	TenantID string `json:"tenant_id,omitempty"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// TokenManager issues and validates HS256 tokens.
type TokenManager struct {
	secret string
	issuer string
}

func NewTokenManager(secret, issuer string) *TokenManager {
	if secret == "" {
		secret = "change-me-in-production"
	}
	if issuer == "" {
		issuer = "quotemaster"
	}
	return &TokenManager{secret: secret, issuer: issuer}
}

// GenerateToken signs a token. User tokens need a tenant; admin tokens need
// a subject.
func (tm *TokenManager) GenerateToken(tenantID, role, subject string, expiresIn time.Duration) (string, error) {
	if role == "" {
		role = RoleUser
	}
	if role == RoleUser && tenantID == "" {
		return "", fmt.Errorf("tenant_id required for user tokens")
	}
	if subject == "" {
		subject = tenantID
	}
	now := time.Now()
	claims := Claims{
		TenantID: tenantID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			Issuer:    tm.issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(tm.secret))
}

func (tm *TokenManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(tm.secret), nil
	}, jwt.WithIssuer(tm.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("parse token failed: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// ExtractToken returns the token of a "Bearer <token>" header value.
func ExtractToken(authHeader string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(authHeader), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errors.New("invalid authorization header")
	}
	return strings.TrimSpace(token), nil
}

// JWTResolver accepts a Bearer token or the admin_session cookie.
type JWTResolver struct {
	tokens *TokenManager
}

func NewJWTResolver(tokens *TokenManager) *JWTResolver {
	return &JWTResolver{tokens: tokens}
}

func (r *JWTResolver) ResolveSession(_ context.Context, h http.Header) (Session, error) {
	raw := ""
	if header := h.Get("Authorization"); header != "" {
		tok, err := ExtractToken(header)
		if err != nil {
			return Session{}, ErrUnauthenticated
		}
		raw = tok
	} else if v, ok := cookieFromHeader(h, AdminCookieName); ok {
		raw = v
	}
	if raw == "" {
		return Session{}, ErrUnauthenticated
	}
	claims, err := r.tokens.ValidateToken(raw)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	role := claims.Role
	if role != RoleAdmin {
		role = RoleUser
	}
	if role == RoleUser && claims.TenantID == "" {
		return Session{}, ErrUnauthenticated
	}
	return Session{TenantID: claims.TenantID, Role: role, Subject: claims.Subject, Provider: "jwt"}, nil
}
