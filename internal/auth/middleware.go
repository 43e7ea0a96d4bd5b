package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/diewo77/quotemaster/internal/httpx"
)

// Middleware attaches the resolved session to the request context when
// one is present. Anonymous requests pass through untouched.
func Middleware(resolver SessionResolver, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, err := resolver.ResolveSession(r.Context(), r.Header)
			switch {
			case err == nil:
				r = r.WithContext(WithSession(r.Context(), s))
			case !errors.Is(err, ErrUnauthenticated) && log != nil:
				log.Warn("session resolution failed", slog.String("error", err.Error()))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuth answers 401 unless the session carries a tenant.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if TenantFromContext(r.Context()) == "" {
			httpx.JSONError(w, http.StatusUnauthorized, httpx.CodeUnauthorized, nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin answers 401 without a session and 403 for non-admin sessions.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := FromContext(r.Context())
		if !ok {
			httpx.JSONError(w, http.StatusUnauthorized, httpx.CodeUnauthorized, nil)
			return
		}
		if !s.IsAdmin() {
			httpx.JSONError(w, http.StatusForbidden, httpx.CodeForbidden, nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
