// Package handlers implements the JSON API. Every handler reads the tenant
// from the session, goes through a tenant-scoped store and answers with the
// httpx envelopes.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/diewo77/quotemaster/internal/auth"
	"github.com/diewo77/quotemaster/internal/gate"
	"github.com/diewo77/quotemaster/internal/httpx"
	"github.com/diewo77/quotemaster/internal/jobs"
	"github.com/diewo77/quotemaster/internal/middleware"
	"github.com/diewo77/quotemaster/internal/repository"
	"github.com/diewo77/quotemaster/internal/validation"
)

// errInvalid aborts a store callback that recorded violations.
var errInvalid = errors.New("validation failed")

// Deps are shared by every resource handler.
type Deps struct {
	Log       *slog.Logger
	Gate      *gate.Gate[string]
	Validator *validation.Validator
	Jobs      *jobs.Dispatcher
	// Dev exposes internal error messages in the details field.
	Dev bool
}

type base struct {
	Deps
}

func newBase(d Deps) base {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Validator == nil {
		d.Validator = validation.MustDefault()
	}
	return base{Deps: d}
}

// fail maps err to the error envelope. Unexpected errors are logged with
// the request id.
func (b *base) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, httpx.ErrInvalidJSON):
		httpx.JSONError(w, http.StatusBadRequest, httpx.CodeInvalidJSON, nil)
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, gate.ErrUnauthorized):
		httpx.JSONError(w, http.StatusNotFound, httpx.CodeNotFound, nil)
	case errors.Is(err, repository.ErrConflict):
		var details any
		if b.Dev {
			details = err.Error()
		}
		httpx.JSONError(w, http.StatusConflict, httpx.CodeConflict, details)
	case errors.Is(err, repository.ErrNoTenant):
		httpx.JSONError(w, http.StatusUnauthorized, httpx.CodeUnauthorized, nil)
	default:
		b.Log.Error("request failed",
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
		var details any
		if b.Dev {
			details = err.Error()
		}
		httpx.JSONError(w, http.StatusInternalServerError, httpx.CodeInternal, details)
	}
}

func (b *base) invalid(w http.ResponseWriter, v validation.Violations) {
	httpx.JSONError(w, http.StatusBadRequest, httpx.CodeValidationFailed, v)
}

// pathID parses {id}; it writes 400 invalid_id and returns false when the
// value is not a positive integer.
func (b *base) pathID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, ok := httpx.PathID(r, "id")
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, httpx.CodeInvalidID, nil)
	}
	return id, ok
}

// decode reads the body, validates it against schema and unmarshals it
// into dst. It writes the error response and returns false on failure.
func (b *base) decode(w http.ResponseWriter, r *http.Request, schema string, dst any) bool {
	body, err := httpx.ReadBody(w, r)
	if err != nil {
		b.fail(w, r, err)
		return false
	}
	v, err := b.Validator.Validate(schema, body)
	if err != nil {
		b.fail(w, r, err)
		return false
	}
	if !v.Empty() {
		b.invalid(w, v)
		return false
	}
	if err := httpx.Decode(body, dst); err != nil {
		b.fail(w, r, err)
		return false
	}
	return true
}

// authorize runs the gate on a loaded row. A denial is answered as 404 so
// foreign rows stay indistinguishable from missing ones.
func (b *base) authorize(w http.ResponseWriter, r *http.Request, action gate.Action, resource string, row any) bool {
	if err := b.allow(r, action, resource, row); err != nil {
		b.fail(w, r, err)
		return false
	}
	return true
}

// allow is authorize for use inside store callbacks.
func (b *base) allow(r *http.Request, action gate.Action, resource string, row any) error {
	if b.Gate == nil {
		return nil
	}
	return b.Gate.Authorize(r.Context(), gateSubject(r), action, resource, row)
}

// gateSubject is the tenant of the session. Admin sessions carry no tenant
// and are identified by their subject instead.
func gateSubject(r *http.Request) string {
	s, ok := auth.FromContext(r.Context())
	if !ok {
		return ""
	}
	if s.TenantID == "" && s.IsAdmin() {
		return s.Subject
	}
	return s.TenantID
}

func tenantOf(r *http.Request) string {
	return auth.TenantFromContext(r.Context())
}

func deleted(w http.ResponseWriter, id uint) {
	httpx.Data(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}
