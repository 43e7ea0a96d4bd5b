package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/diewo77/quotemaster/internal/auth"
	"github.com/diewo77/quotemaster/internal/jobs"
	"github.com/diewo77/quotemaster/internal/logging"
	"github.com/diewo77/quotemaster/internal/models"
	"github.com/diewo77/quotemaster/internal/policy"
	"github.com/diewo77/quotemaster/internal/testutil"
)

type testEnv struct {
	t   *testing.T
	db  *gorm.DB
	mux *http.ServeMux
}

// newTestEnv serves the tenant routes over an in-memory database with a
// started table queue, so enqueued jobs can be counted.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gdb := testutil.OpenDB(t)
	q := jobs.NewPgQueue(gdb, jobs.Defaults{RetryLimit: 3, RetryDelay: time.Minute, ExpireIn: time.Hour}, logging.Discard())
	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("start queue: %v", err)
	}
	d := Deps{
		Log:  logging.Discard(),
		Gate: policy.NewGate(),
		Jobs: jobs.NewDispatcher(q, logging.Discard()),
	}

	mux := http.NewServeMux()
	type crud interface {
		List(http.ResponseWriter, *http.Request)
		Get(http.ResponseWriter, *http.Request)
		Create(http.ResponseWriter, *http.Request)
		Update(http.ResponseWriter, *http.Request)
		Delete(http.ResponseWriter, *http.Request)
	}
	est := NewEstimateHandler(gdb, d)
	inv := NewInvoiceHandler(gdb, d)
	for path, h := range map[string]crud{
		"/clients":   NewClientHandler(gdb, d),
		"/products":  NewProductHandler(gdb, d),
		"/estimates": est,
		"/invoices":  inv,
	} {
		mux.HandleFunc("GET "+path, h.List)
		mux.HandleFunc("POST "+path, h.Create)
		mux.HandleFunc("GET "+path+"/{id}", h.Get)
		mux.HandleFunc("PATCH "+path+"/{id}", h.Update)
		mux.HandleFunc("DELETE "+path+"/{id}", h.Delete)
	}
	mux.HandleFunc("GET /estimates/{id}/pdf", est.PDF)
	mux.HandleFunc("POST /estimates/{id}/send", est.Send)
	mux.HandleFunc("GET /invoices/{id}/pdf", inv.PDF)
	mux.HandleFunc("POST /invoices/{id}/send", inv.Send)
	mux.HandleFunc("POST /invoices/{id}/payments", inv.AddPayment)

	rev := NewRevenueHandler(gdb, d)
	mux.HandleFunc("GET /revenue", rev.List)
	mux.HandleFunc("POST /revenue", rev.Create)
	mux.HandleFunc("GET /revenue/stats", rev.Stats)
	mux.HandleFunc("GET /revenue/{id}", rev.Get)
	mux.HandleFunc("DELETE /revenue/{id}", rev.Delete)

	settings := NewSettingsHandler(gdb, d)
	mux.HandleFunc("GET /settings", settings.Get)
	mux.HandleFunc("PUT /settings", settings.Update)
	mux.HandleFunc("GET /dashboard", NewDashboardHandler(gdb, d).Get)

	return &testEnv{t: t, db: gdb, mux: mux}
}

// do sends a request as tenant; an empty tenant sends it anonymously.
func (e *testEnv) do(tenant, method, path, body string) *httptest.ResponseRecorder {
	e.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if tenant != "" {
		req = req.WithContext(auth.WithSession(req.Context(), auth.Session{TenantID: tenant, Role: auth.RoleUser, Provider: "test"}))
	}
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, req)
	return w
}

func (e *testEnv) jobCount(name string) int64 {
	e.t.Helper()
	var n int64
	if err := e.db.Model(&models.Job{}).Where("name = ?", name).Count(&n).Error; err != nil {
		e.t.Fatalf("count jobs: %v", err)
	}
	return n
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected %d got %d body=%s", want, w.Code, w.Body.String())
	}
}

// decodeData unmarshals the "data" member of the envelope into dst.
func decodeData(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v body=%s", err, w.Body.String())
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		t.Fatalf("decode data: %v body=%s", err, w.Body.String())
	}
}

type errorBody struct {
	Error   string         `json:"error"`
	Details map[string]any `json:"details"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var e errorBody
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("decode error: %v body=%s", err, w.Body.String())
	}
	return e
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode: %v body=%s", err, w.Body.String())
	}
}
