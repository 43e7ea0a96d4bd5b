package handlers

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/diewo77/quotemaster/internal/gate"
	"github.com/diewo77/quotemaster/internal/httpx"
	"github.com/diewo77/quotemaster/internal/models"
	"github.com/diewo77/quotemaster/internal/policy"
	"github.com/diewo77/quotemaster/internal/repository"
	"github.com/diewo77/quotemaster/internal/validation"
)

type ProductHandler struct {
	base
	store *repository.ProductStore
}

func NewProductHandler(db *gorm.DB, d Deps) *ProductHandler {
	return &ProductHandler{base: newBase(d), store: repository.NewProductStore(db)}
}

type productInput struct {
	Name        string          `json:"name"`
	Description *string         `json:"description"`
	SKU         *string         `json:"sku"`
	Price       decimal.Decimal `json:"price"`
	Category    *string         `json:"category"`
}

type productPatch struct {
	Name        validation.Patch[string]          `json:"name"`
	Description validation.Patch[string]          `json:"description"`
	SKU         validation.Patch[string]          `json:"sku"`
	Price       validation.Patch[decimal.Decimal] `json:"price"`
	Category    validation.Patch[string]          `json:"category"`
}

// List supports search over name, sku, category and description, and an
// exact category filter.
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	page := httpx.ParsePage(r)
	q := repository.Query{
		Limit:  page.Limit,
		Offset: page.Offset(),
		Search: r.URL.Query().Get("search"),
	}
	if cat := strings.TrimSpace(r.URL.Query().Get("category")); cat != "" {
		q.Scopes = append(q.Scopes, repository.CategoryScope(cat))
	}
	items, total, err := h.store.List(r.Context(), tenantOf(r), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.List(w, items, page.Meta(total))
}

func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	p, err := h.store.Get(r.Context(), tenantOf(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !h.authorize(w, r, gate.ActionView, policy.ResourceProduct, p) {
		return
	}
	httpx.Data(w, http.StatusOK, p)
}

func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in productInput
	if !h.decode(w, r, validation.ProductCreate, &in) {
		return
	}
	p := &models.Product{
		Name:        strings.TrimSpace(in.Name),
		Description: validation.Optional(in.Description),
		SKU:         validation.Optional(in.SKU),
		Price:       models.Money(in.Price),
		Category:    validation.Optional(in.Category),
	}
	v := validation.Violations{}
	validation.Required("name", p.Name, v)
	validation.NonNegative("price", p.Price, v)
	validation.MaxMoney("price", p.Price, v)
	if !v.Empty() {
		h.invalid(w, v)
		return
	}
	if err := h.store.Create(r.Context(), tenantOf(r), p); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Data(w, http.StatusCreated, p)
}

func (h *ProductHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var in productPatch
	if !h.decode(w, r, validation.ProductUpdate, &in) {
		return
	}
	v := validation.Violations{}
	if in.Name.Set {
		validation.Required("name", in.Name.Value, v)
	}
	if in.Price.Set {
		if in.Price.Null {
			v.Add("price", "required")
		}
		validation.NonNegative("price", in.Price.Value, v)
		validation.MaxMoney("price", models.Money(in.Price.Value), v)
	}
	if !v.Empty() {
		h.invalid(w, v)
		return
	}
	p, err := h.store.Update(r.Context(), tenantOf(r), id, func(_ *gorm.DB, p *models.Product) error {
		if err := h.allow(r, gate.ActionUpdate, policy.ResourceProduct, p); err != nil {
			return err
		}
		if in.Name.Present() {
			p.Name = strings.TrimSpace(in.Name.Value)
		}
		if in.Price.Present() {
			p.Price = models.Money(in.Price.Value)
		}
		validation.ApplyOptional(in.Description, &p.Description)
		validation.ApplyOptional(in.SKU, &p.SKU)
		validation.ApplyOptional(in.Category, &p.Category)
		return nil
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Data(w, http.StatusOK, p)
}

func (h *ProductHandler) Delete(w http.ResponseWriter, r *http.Request) {
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
