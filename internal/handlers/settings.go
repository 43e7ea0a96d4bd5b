package handlers

import (
	"net/http"
	"strings"

	"gorm.io/gorm"

	"github.com/diewo77/quotemaster/internal/httpx"
	"github.com/diewo77/quotemaster/internal/models"
	"github.com/diewo77/quotemaster/internal/repository"
	"github.com/diewo77/quotemaster/internal/validation"
)

// SettingsHandler serves the tenant's company profile.
type SettingsHandler struct {
	base
	store *repository.SettingsStore
}

func NewSettingsHandler(db *gorm.DB, d Deps) *SettingsHandler {
	return &SettingsHandler{base: newBase(d), store: repository.NewSettingsStore(db)}
}

type settingsPatch struct {
	CompanyName    validation.Patch[string] `json:"company_name"`
	CompanyAddress validation.Patch[string] `json:"company_address"`
	CompanyEmail   validation.Patch[string] `json:"company_email"`
	CompanyPhone   validation.Patch[string] `json:"company_phone"`
	TaxNumber      validation.Patch[string] `json:"tax_number"`
	Currency       *string                  `json:"currency"`
}

func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.store.Get(r.Context(), tenantOf(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Data(w, http.StatusOK, s)
}

// Update upserts the settings row; omitted fields keep their value.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var in settingsPatch
	if !h.decode(w, r, validation.SettingsUpdate, &in) {
		return
	}
	if in.CompanyEmail.Present() {
		if e := strings.TrimSpace(in.CompanyEmail.Value); e != "" {
			v := validation.Violations{}
			validation.Email("company_email", e, v)
			if !v.Empty() {
				h.invalid(w, v)
				return
			}
		}
	}
	s, err := h.store.Upsert(r.Context(), tenantOf(r), func(s *models.Settings) {
		validation.ApplyOptional(in.CompanyName, &s.CompanyName)
		validation.ApplyOptional(in.CompanyAddress, &s.CompanyAddress)
		validation.ApplyOptional(in.CompanyEmail, &s.CompanyEmail)
		validation.ApplyOptional(in.CompanyPhone, &s.CompanyPhone)
		validation.ApplyOptional(in.TaxNumber, &s.TaxNumber)
		if in.Currency != nil {
			s.Currency = strings.ToUpper(*in.Currency)
		}
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Data(w, http.StatusOK, s)
}
