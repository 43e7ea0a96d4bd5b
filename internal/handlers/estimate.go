package handlers

import (
	"context"
	"errors"
	"net/http"

	"gorm.io/gorm"

	"github.com/diewo77/quotemaster/internal/gate"
	"github.com/diewo77/quotemaster/internal/httpx"
	"github.com/diewo77/quotemaster/internal/jobs"
	"github.com/diewo77/quotemaster/internal/models"
	"github.com/diewo77/quotemaster/internal/pdf"
	"github.com/diewo77/quotemaster/internal/policy"
	"github.com/diewo77/quotemaster/internal/repository"
	"github.com/diewo77/quotemaster/internal/services"
	"github.com/diewo77/quotemaster/internal/validation"
)

type EstimateHandler struct {
	base
	db       *gorm.DB
	store    *repository.EstimateStore
	clients  *repository.ClientStore
	settings *repository.SettingsStore
	refs     documentRefs
}

func NewEstimateHandler(db *gorm.DB, d Deps) *EstimateHandler {
	clients := repository.NewClientStore(db)
	return &EstimateHandler{
		base:     newBase(d),
		db:       db,
		store:    repository.NewEstimateStore(db),
		clients:  clients,
		settings: repository.NewSettingsStore(db),
		refs:     documentRefs{clients: clients, products: repository.NewProductStore(db)},
	}
}

type estimateInput struct {
	ClientID       uint        `json:"client_id"`
	EstimateNumber *string     `json:"estimate_number"`
	Status         *string     `json:"status"`
	IssueDate      *string     `json:"issue_date"`
	ExpiryDate     *string     `json:"expiry_date"`
	Notes          *string     `json:"notes"`
	Items          []itemInput `json:"items"`
}

type estimatePatch struct {
	ClientID       validation.Patch[uint]        `json:"client_id"`
	EstimateNumber validation.Patch[string]      `json:"estimate_number"`
	Status         validation.Patch[string]      `json:"status"`
	IssueDate      validation.Patch[string]      `json:"issue_date"`
	ExpiryDate     validation.Patch[string]      `json:"expiry_date"`
	Notes          validation.Patch[string]      `json:"notes"`
	Items          validation.Patch[[]itemInput] `json:"items"`
}

func (h *EstimateHandler) List(w http.ResponseWriter, r *http.Request) {
	page, q, ok := listDocuments(w, r)
	if !ok {
		return
	}
	items, total, err := h.store.List(r.Context(), tenantOf(r), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.List(w, items, page.Meta(total))
}

func (h *EstimateHandler) load(w http.ResponseWriter, r *http.Request, action gate.Action) (*models.Estimate, bool) {
	id, ok := h.pathID(w, r)
	if !ok {
		return nil, false
	}
	e, err := h.store.Get(r.Context(), tenantOf(r), id)
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	if !h.authorize(w, r, action, policy.ResourceEstimate, e) {
		return nil, false
	}
	return e, true
}

func (h *EstimateHandler) Get(w http.ResponseWriter, r *http.Request) {
	e, ok := h.load(w, r, gate.ActionView)
	if !ok {
		return
	}
	httpx.Data(w, http.StatusOK, e)
}

func (h *EstimateHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in estimateInput
	if !h.decode(w, r, validation.EstimateCreate, &in) {
		return
	}
	ctx, tenant := r.Context(), tenantOf(r)
	v := validation.Violations{}
	e := &models.Estimate{
		ClientID:   in.ClientID,
		Status:     models.EstimateStatusDraft,
		IssueDate:  validation.OptionalDate("issue_date", in.IssueDate, v),
		ExpiryDate: validation.OptionalDate("expiry_date", in.ExpiryDate, v),
		Notes:      validation.Optional(in.Notes),
		Items:      estimateItems(in.Items),
	}
	if in.Status != nil {
		e.Status = models.EstimateStatus(*in.Status)
	}
	if err := h.refs.checkClient(ctx, tenant, in.ClientID, v); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.refs.checkItems(ctx, tenant, in.Items, v); err != nil {
		h.fail(w, r, err)
		return
	}
	services.ApplyEstimateTotals(e)
	validation.MaxMoney("total", e.Total, v)
	if !v.Empty() {
		h.invalid(w, v)
		return
	}

	err := createNumbered(ctx, in.EstimateNumber,
		func(ctx context.Context) (string, error) {
			return services.NextEstimateNumber(ctx, h.db, tenant, numberYear(e.IssueDate))
		},
		func(n string) { e.EstimateNumber = n },
		func(ctx context.Context) error {
			e.ID = 0
			return h.store.Create(ctx, tenant, e)
		})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Data(w, http.StatusCreated, e)
}

// Update applies a partial update. Sending items replaces all of them and
// recomputes the total.
func (h *EstimateHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var in estimatePatch
	if !h.decode(w, r, validation.EstimateUpdate, &in) {
		return
	}
	ctx, tenant := r.Context(), tenantOf(r)
	v := validation.Violations{}
	if in.ClientID.Present() {
		if err := h.refs.checkClient(ctx, tenant, in.ClientID.Value, v); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	if in.Items.Present() {
		if err := h.refs.checkItems(ctx, tenant, in.Items.Value, v); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	if !v.Empty() {
		h.invalid(w, v)
		return
	}

	e, err := h.store.Update(ctx, tenant, id, func(tx *gorm.DB, e *models.Estimate) error {
		if err := h.allow(r, gate.ActionUpdate, policy.ResourceEstimate, e); err != nil {
			return err
		}
		if in.ClientID.Present() {
			e.ClientID = in.ClientID.Value
		}
		patchNumber("estimate_number", in.EstimateNumber, &e.EstimateNumber, v)
		if in.Status.Present() {
			e.Status = models.EstimateStatus(in.Status.Value)
		}
		validation.PatchDate("issue_date", in.IssueDate, &e.IssueDate, v)
		validation.PatchDate("expiry_date", in.ExpiryDate, &e.ExpiryDate, v)
		validation.ApplyOptional(in.Notes, &e.Notes)
		if in.Items.Set {
			e.Items = estimateItems(in.Items.Value)
			services.ApplyEstimateTotals(e)
			validation.MaxMoney("total", e.Total, v)
		}
		if !v.Empty() {
			return errInvalid
		}
		if in.Items.Set {
			return repository.ReplaceEstimateItems(tx, e)
		}
		return nil
	})
	if errors.Is(err, errInvalid) {
		h.invalid(w, v)
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Data(w, http.StatusOK, e)
}

func (h *EstimateHandler) Delete(w http.ResponseWriter, r *http.Request) {
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

// PDF renders the estimate synchronously.
func (h *EstimateHandler) PDF(w http.ResponseWriter, r *http.Request) {
	e, ok := h.load(w, r, gate.ActionView)
	if !ok {
		return
	}
	client, err := h.clients.Get(r.Context(), e.UserID, e.ClientID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	settings, err := h.settings.Get(r.Context(), e.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	data, err := pdf.EstimatePDF(e, client, settings)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writePDF(w, pdf.EstimateFileName(e.ID), data)
}

// Send marks a draft estimate as sent and queues the email. An optional
// {"to": "..."} overrides the client's address.
func (h *EstimateHandler) Send(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	to, ok := h.sendTarget(w, r)
	if !ok {
		return
	}
	tenant := tenantOf(r)
	e, err := h.store.Update(r.Context(), tenant, id, func(_ *gorm.DB, e *models.Estimate) error {
		if err := h.allow(r, gate.ActionUpdate, policy.ResourceEstimate, e); err != nil {
			return err
		}
		if e.Status == models.EstimateStatusDraft {
			e.Status = models.EstimateStatusSent
		}
		return nil
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jobID := h.Jobs.Enqueue(r.Context(), jobs.SendEstimateEmail, jobs.EstimatePayload{
		UserID:     tenant,
		EstimateID: e.ID,
		To:         to,
	})
	httpx.Data(w, http.StatusAccepted, map[string]any{"estimate": e, "job_id": jobID})
}
