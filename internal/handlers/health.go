package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/diewo77/quotemaster/internal/httpx"
)

// Pinger is a dependency probed by the health check.
type Pinger func(ctx context.Context) error

// HealthHandler reports the state of the service dependencies.
// Database and Queue are required; Cache is optional.
type HealthHandler struct {
	Database  Pinger
	Queue     Pinger
	Cache     Pinger
	Providers []string
	Log       *slog.Logger
	Timeout   time.Duration
}

type healthChecks struct {
	Database string   `json:"database"`
	Queue    string   `json:"queue"`
	Cache    string   `json:"cache"`
	Auth     []string `json:"auth"`
}

type healthReport struct {
	Status    string       `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	Checks    healthChecks `json:"checks"`
}

func (h *HealthHandler) probe(ctx context.Context, name string, p Pinger) string {
	if p == nil {
		return "not_configured"
	}
	if err := p(ctx); err != nil {
		if h.Log != nil {
			h.Log.Warn("health check failed", "check", name, "error", err)
		}
		return "error"
	}
	return "ok"
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	providers := h.Providers
	if providers == nil {
		providers = []string{}
	}
	rep := healthReport{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Checks: healthChecks{
			Database: h.probe(ctx, "database", h.Database),
			Queue:    h.probe(ctx, "queue", h.Queue),
			Cache:    h.probe(ctx, "cache", h.Cache),
			Auth:     providers,
		},
	}
	status := http.StatusOK
	if rep.Checks.Database != "ok" || rep.Checks.Queue != "ok" {
		rep.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	httpx.JSON(w, status, rep)
}
