package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/diewo77/quotemaster/internal/httpx"
)

// Recover turns a handler panic into a 500 internal_error response.
func Recover(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.Error("panic recovered",
					slog.String("request_id", RequestIDFromContext(r.Context())),
					slog.String("error", fmt.Sprint(rec)),
					slog.String("stack", string(debug.Stack())))
				httpx.JSONError(w, http.StatusInternalServerError, httpx.CodeInternal, nil)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
