package handlers

import (
	"net/http"
	"strings"

	"gorm.io/gorm"

	"github.com/diewo77/quotemaster/internal/gate"
	"github.com/diewo77/quotemaster/internal/httpx"
	"github.com/diewo77/quotemaster/internal/models"
	"github.com/diewo77/quotemaster/internal/policy"
	"github.com/diewo77/quotemaster/internal/repository"
	"github.com/diewo77/quotemaster/internal/validation"
)

type ClientHandler struct {
	base
	store *repository.ClientStore
}

func NewClientHandler(db *gorm.DB, d Deps) *ClientHandler {
	return &ClientHandler{base: newBase(d), store: repository.NewClientStore(db)}
}

type clientInput struct {
	Name    string  `json:"name"`
	Email   *string `json:"email"`
	Phone   *string `json:"phone"`
	Address *string `json:"address"`
	Company *string `json:"company"`
}

type clientPatch struct {
	Name    validation.Patch[string] `json:"name"`
	Email   validation.Patch[string] `json:"email"`
	Phone   validation.Patch[string] `json:"phone"`
	Address validation.Patch[string] `json:"address"`
	Company validation.Patch[string] `json:"company"`
}

func checkEmail(field string, email *string, v validation.Violations) {
	if email != nil {
		validation.Email(field, *email, v)
	}
}

func (h *ClientHandler) List(w http.ResponseWriter, r *http.Request) {
	page := httpx.ParsePage(r)
	items, total, err := h.store.List(r.Context(), tenantOf(r), repository.Query{
		Limit:  page.Limit,
		Offset: page.Offset(),
		Search: r.URL.Query().Get("search"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.List(w, items, page.Meta(total))
}

func (h *ClientHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	c, err := h.store.Get(r.Context(), tenantOf(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !h.authorize(w, r, gate.ActionView, policy.ResourceClient, c) {
		return
	}
	httpx.Data(w, http.StatusOK, c)
}

func (h *ClientHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in clientInput
	if !h.decode(w, r, validation.ClientCreate, &in) {
		return
	}
	c := &models.Client{
		Name:    strings.TrimSpace(in.Name),
		Email:   validation.Optional(in.Email),
		Phone:   validation.Optional(in.Phone),
		Address: validation.Optional(in.Address),
		Company: validation.Optional(in.Company),
	}
	v := validation.Violations{}
	validation.Required("name", c.Name, v)
	checkEmail("email", c.Email, v)
	if !v.Empty() {
		h.invalid(w, v)
		return
	}
	if err := h.store.Create(r.Context(), tenantOf(r), c); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Data(w, http.StatusCreated, c)
}

func (h *ClientHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var in clientPatch
	if !h.decode(w, r, validation.ClientUpdate, &in) {
		return
	}
	v := validation.Violations{}
	if in.Name.Set {
		validation.Required("name", in.Name.Value, v)
	}
	if in.Email.Present() && strings.TrimSpace(in.Email.Value) != "" {
		validation.Email("email", strings.TrimSpace(in.Email.Value), v)
	}
	if !v.Empty() {
		h.invalid(w, v)
		return
	}
	c, err := h.store.Update(r.Context(), tenantOf(r), id, func(_ *gorm.DB, c *models.Client) error {
		if err := h.allow(r, gate.ActionUpdate, policy.ResourceClient, c); err != nil {
			return err
		}
		if in.Name.Present() {
			c.Name = strings.TrimSpace(in.Name.Value)
		}
		validation.ApplyOptional(in.Email, &c.Email)
		validation.ApplyOptional(in.Phone, &c.Phone)
		validation.ApplyOptional(in.Address, &c.Address)
		validation.ApplyOptional(in.Company, &c.Company)
		return nil
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Data(w, http.StatusOK, c)
}

// Delete removes the client with its estimates and invoices.
func (h *ClientHandler) Delete(w http.ResponseWriter, r *http.Request) {
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
