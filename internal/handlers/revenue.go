package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/diewo77/quotemaster/internal/gate"
	"github.com/diewo77/quotemaster/internal/httpx"
	"github.com/diewo77/quotemaster/internal/models"
	"github.com/diewo77/quotemaster/internal/policy"
	"github.com/diewo77/quotemaster/internal/repository"
	"github.com/diewo77/quotemaster/internal/services"
	"github.com/diewo77/quotemaster/internal/validation"
)

type RevenueHandler struct {
	base
	store   *repository.RevenueStore
	service *services.RevenueService
}

func NewRevenueHandler(db *gorm.DB, d Deps) *RevenueHandler {
	return &RevenueHandler{
		base:    newBase(d),
		store:   repository.NewRevenueStore(db),
		service: services.NewRevenueService(db),
	}
}

type revenueInput struct {
	Date      string          `json:"date"`
	Amount    decimal.Decimal `json:"amount"`
	Source    *string         `json:"source"`
	Reference *string         `json:"reference"`
}

// List filters on an inclusive from/to date range.
func (h *RevenueHandler) List(w http.ResponseWriter, r *http.Request) {
	page := httpx.ParsePage(r)
	q := repository.Query{
		Limit:  page.Limit,
		Offset: page.Offset(),
		Search: r.URL.Query().Get("search"),
	}
	v := validation.Violations{}
	if raw := r.URL.Query().Get("from"); raw != "" {
		if from, ok := validation.ParseDate(raw); ok {
			q.Scopes = append(q.Scopes, func(db *gorm.DB) *gorm.DB { return db.Where("date >= ?", from) })
		} else {
			v.Add("from", "invalid_date")
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if to, ok := validation.ParseDate(raw); ok {
			q.Scopes = append(q.Scopes, func(db *gorm.DB) *gorm.DB { return db.Where("date < ?", to.AddDate(0, 0, 1)) })
		} else {
			v.Add("to", "invalid_date")
		}
	}
	if !v.Empty() {
		h.invalid(w, v)
		return
	}
	items, total, err := h.store.List(r.Context(), tenantOf(r), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.List(w, items, page.Meta(total))
}

func (h *RevenueHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	rev, err := h.store.Get(r.Context(), tenantOf(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !h.authorize(w, r, gate.ActionView, policy.ResourceRevenue, rev) {
		return
	}
	httpx.Data(w, http.StatusOK, rev)
}

func (h *RevenueHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in revenueInput
	if !h.decode(w, r, validation.RevenueCreate, &in) {
		return
	}
	v := validation.Violations{}
	date, ok := validation.ParseDate(in.Date)
	if !ok {
		v.Add("date", "invalid_date")
	}
	rev := &models.Revenue{
		Date:      date,
		Amount:    models.Money(in.Amount),
		Source:    validation.Optional(in.Source),
		Reference: validation.Optional(in.Reference),
	}
	validation.NonNegative("amount", rev.Amount, v)
	validation.MaxMoney("amount", rev.Amount, v)
	if !v.Empty() {
		h.invalid(w, v)
		return
	}
	if err := h.store.Create(r.Context(), tenantOf(r), rev); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Data(w, http.StatusCreated, rev)
}

func (h *RevenueHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.store.Delete(r.Context(), tenantOf(r), id); err != nil {
		h.fail(w, r, err)
		return
	}
	deleted(w, id)
}

// Stats reports monthly totals for ?year=, the current year by default.
func (h *RevenueHandler) Stats(w http.ResponseWriter, r *http.Request) {
	year := time.Now().UTC().Year()
	if raw := strings.TrimSpace(r.URL.Query().Get("year")); raw != "" {
		y, err := strconv.Atoi(raw)
		if err != nil || y < 1900 || y > 9999 {
			h.invalid(w, validation.Violations{"year": "invalid_value"})
			return
		}
		year = y
	}
	stats, err := h.service.Stats(r.Context(), tenantOf(r), year)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Data(w, http.StatusOK, stats)
}
