// Package server assembles the HTTP handler: routes, session resolution
// and the middleware stack.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/gorm"

	"github.com/diewo77/quotemaster/internal/auth"
	"github.com/diewo77/quotemaster/internal/config"
	"github.com/diewo77/quotemaster/internal/db"
	"github.com/diewo77/quotemaster/internal/handlers"
	"github.com/diewo77/quotemaster/internal/jobs"
	"github.com/diewo77/quotemaster/internal/metrics"
	"github.com/diewo77/quotemaster/internal/middleware"
	"github.com/diewo77/quotemaster/internal/policy"
	"github.com/diewo77/quotemaster/internal/ratelimit"
	"github.com/diewo77/quotemaster/internal/validation"
)

// Deps are the long-lived objects the router is built from. They are
// constructed and closed by the caller.
type Deps struct {
	DB       *gorm.DB
	Config   *config.Config
	Log      *slog.Logger
	Queue    jobs.Queue
	Attempts ratelimit.AttemptCounter
	Tokens   *auth.TokenManager
	Resolver auth.SessionResolver
	// Cache probes the shared attempt store; nil when Redis is not used.
	Cache handlers.Pinger
}

// RouterConfig holds the configured handlers.
type RouterConfig struct {
	Clients   *handlers.ClientHandler
	Products  *handlers.ProductHandler
	Estimates *handlers.EstimateHandler
	Invoices  *handlers.InvoiceHandler
	Revenue   *handlers.RevenueHandler
	Settings  *handlers.SettingsHandler
	Dashboard *handlers.DashboardHandler
	Admin     *handlers.AdminHandler
	Health    *handlers.HealthHandler
}

// NewRouterConfig wires every handler to the tenant gate, the validator and
// the job dispatcher. The admin handler gets the admin gate.
func NewRouterConfig(d Deps) (*RouterConfig, error) {
	v, err := validation.Default()
	if err != nil {
		return nil, err
	}
	hd := handlers.Deps{
		Log:       d.Log,
		Gate:      policy.NewGate(),
		Validator: v,
		Jobs:      jobs.NewDispatcher(d.Queue, d.Log),
		Dev:       d.Config.App.Dev,
	}
	ad := hd
	ad.Gate = policy.NewAdminGate()

	admin := handlers.NewAdminHandler(d.DB, ad, d.Config.Admin, d.Tokens, d.Attempts, d.Queue)
	admin.Secure = d.Config.App.IsProduction()

	health := &handlers.HealthHandler{
		Database:  func(ctx context.Context) error { return db.Ping(ctx, d.DB) },
		Cache:     d.Cache,
		Providers: d.Config.Auth.Providers,
		Log:       d.Log,
	}
	if d.Queue != nil {
		health.Queue = d.Queue.Ping
	}

	return &RouterConfig{
		Clients:   handlers.NewClientHandler(d.DB, hd),
		Products:  handlers.NewProductHandler(d.DB, hd),
		Estimates: handlers.NewEstimateHandler(d.DB, hd),
		Invoices:  handlers.NewInvoiceHandler(d.DB, hd),
		Revenue:   handlers.NewRevenueHandler(d.DB, hd),
		Settings:  handlers.NewSettingsHandler(d.DB, hd),
		Dashboard: handlers.NewDashboardHandler(d.DB, hd),
		Admin:     admin,
		Health:    health,
	}, nil
}

// Routes registers every endpoint on mux.
func (rc *RouterConfig) Routes(mux *http.ServeMux) {
	user := func(h http.HandlerFunc) http.Handler { return auth.RequireAuth(h) }
	admin := func(h http.HandlerFunc) http.Handler { return auth.RequireAdmin(h) }

	mux.Handle("GET /health", rc.Health)
	mux.Handle("GET /metrics", promhttp.Handler())

	crud := []struct {
		path string
		h    interface {
			List(http.ResponseWriter, *http.Request)
			Get(http.ResponseWriter, *http.Request)
			Create(http.ResponseWriter, *http.Request)
			Update(http.ResponseWriter, *http.Request)
			Delete(http.ResponseWriter, *http.Request)
		}
	}{
		{"/api/v1/clients", rc.Clients},
		{"/api/v1/products", rc.Products},
		{"/api/v1/estimates", rc.Estimates},
		{"/api/v1/invoices", rc.Invoices},
	}
	for _, c := range crud {
		mux.Handle("GET "+c.path, user(c.h.List))
		mux.Handle("POST "+c.path, user(c.h.Create))
		mux.Handle("GET "+c.path+"/{id}", user(c.h.Get))
		mux.Handle("PUT "+c.path+"/{id}", user(c.h.Update))
		mux.Handle("PATCH "+c.path+"/{id}", user(c.h.Update))
		mux.Handle("DELETE "+c.path+"/{id}", user(c.h.Delete))
	}

	mux.Handle("GET /api/v1/estimates/{id}/pdf", user(rc.Estimates.PDF))
	mux.Handle("POST /api/v1/estimates/{id}/send", user(rc.Estimates.Send))
	mux.Handle("GET /api/v1/invoices/{id}/pdf", user(rc.Invoices.PDF))
	mux.Handle("POST /api/v1/invoices/{id}/send", user(rc.Invoices.Send))
	mux.Handle("POST /api/v1/invoices/{id}/payments", user(rc.Invoices.AddPayment))

	mux.Handle("GET /api/v1/revenue", user(rc.Revenue.List))
	mux.Handle("POST /api/v1/revenue", user(rc.Revenue.Create))
	mux.Handle("GET /api/v1/revenue/stats", user(rc.Revenue.Stats))
	mux.Handle("GET /api/v1/revenue/{id}", user(rc.Revenue.Get))
	mux.Handle("DELETE /api/v1/revenue/{id}", user(rc.Revenue.Delete))

	mux.Handle("GET /api/v1/settings", user(rc.Settings.Get))
	mux.Handle("PUT /api/v1/settings", user(rc.Settings.Update))
	mux.Handle("GET /api/v1/dashboard", user(rc.Dashboard.Get))

	mux.HandleFunc("POST /api/v1/admin/login", rc.Admin.Login)
	mux.HandleFunc("POST /api/v1/admin/logout", rc.Admin.Logout)
	mux.Handle("GET /api/v1/admin/users", admin(rc.Admin.Users))
	mux.Handle("GET /api/v1/admin/users/{tenant}", admin(rc.Admin.User))
	mux.Handle("GET /api/v1/admin/stats", admin(rc.Admin.Stats))
	mux.Handle("GET /api/v1/admin/queues", admin(rc.Admin.Queues))
}

// New returns the root handler. Outermost first: request id, logging,
// recovery, metrics, CORS, tracing, session resolution.
func New(d Deps) (http.Handler, error) {
	rc, err := NewRouterConfig(d)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	rc.Routes(mux)

	traced := otelhttp.NewHandler(mux, "quotemaster",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + metrics.NormalizePath(r.URL.Path)
		}))

	return middleware.Chain(traced,
		middleware.RequestID,
		middleware.Logging(d.Log),
		middleware.Recover(d.Log),
		metrics.HTTPMetricsMiddleware,
		middleware.CORS(d.Config.CORS.AllowedOrigins),
		auth.Middleware(d.Resolver, d.Log),
	), nil
}
