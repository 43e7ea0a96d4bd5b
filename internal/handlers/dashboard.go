package handlers

import (
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/diewo77/quotemaster/internal/httpx"
	"github.com/diewo77/quotemaster/internal/services"
)

type DashboardHandler struct {
	base
	service *services.DashboardService
	now     func() time.Time
}

func NewDashboardHandler(db *gorm.DB, d Deps) *DashboardHandler {
	return &DashboardHandler{base: newBase(d), service: services.NewDashboardService(db), now: time.Now}
}

func (h *DashboardHandler) Get(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Summary(r.Context(), tenantOf(r), h.now())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Data(w, http.StatusOK, d)
}
