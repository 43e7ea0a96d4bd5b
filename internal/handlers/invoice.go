package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
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

// errClosedInvoice rejects payments on paid or cancelled invoices.
var errClosedInvoice = errors.New("invoice does not accept payments")

type InvoiceHandler struct {
	base
	db       *gorm.DB
	store    *repository.InvoiceStore
	clients  *repository.ClientStore
	settings *repository.SettingsStore
	refs     documentRefs
}

func NewInvoiceHandler(db *gorm.DB, d Deps) *InvoiceHandler {
	clients := repository.NewClientStore(db)
	return &InvoiceHandler{
		base:     newBase(d),
		db:       db,
		store:    repository.NewInvoiceStore(db),
		clients:  clients,
		settings: repository.NewSettingsStore(db),
		refs:     documentRefs{clients: clients, products: repository.NewProductStore(db)},
	}
}

type invoiceInput struct {
	ClientID      uint             `json:"client_id"`
	InvoiceNumber *string          `json:"invoice_number"`
	Status        *string          `json:"status"`
	IssueDate     *string          `json:"issue_date"`
	DueDate       *string          `json:"due_date"`
	Notes         *string          `json:"notes"`
	PaidAmount    *decimal.Decimal `json:"paid_amount"`
	Items         []itemInput      `json:"items"`
}

type invoicePatch struct {
	ClientID      validation.Patch[uint]            `json:"client_id"`
	InvoiceNumber validation.Patch[string]          `json:"invoice_number"`
	Status        validation.Patch[string]          `json:"status"`
	IssueDate     validation.Patch[string]          `json:"issue_date"`
	DueDate       validation.Patch[string]          `json:"due_date"`
	Notes         validation.Patch[string]          `json:"notes"`
	PaidAmount    validation.Patch[decimal.Decimal] `json:"paid_amount"`
	Items         validation.Patch[[]itemInput]     `json:"items"`
}

type paymentInput struct {
	Amount decimal.Decimal `json:"amount"`
	Date   *string         `json:"date"`
	Key    *string         `json:"key"`
}

// checkPaid enforces 0 <= paid_amount <= total.
func checkPaid(inv *models.Invoice, v validation.Violations) {
	validation.NonNegative("paid_amount", inv.PaidAmount, v)
	if inv.PaidAmount.GreaterThan(inv.Total) {
		v.Add("paid_amount", "exceeds_total")
	}
}

func (h *InvoiceHandler) List(w http.ResponseWriter, r *http.Request) {
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

func (h *InvoiceHandler) load(w http.ResponseWriter, r *http.Request, action gate.Action) (*models.Invoice, bool) {
	id, ok := h.pathID(w, r)
	if !ok {
		return nil, false
	}
	inv, err := h.store.Get(r.Context(), tenantOf(r), id)
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	if !h.authorize(w, r, action, policy.ResourceInvoice, inv) {
		return nil, false
	}
	return inv, true
}

func (h *InvoiceHandler) Get(w http.ResponseWriter, r *http.Request) {
	inv, ok := h.load(w, r, gate.ActionView)
	if !ok {
		return
	}
	httpx.Data(w, http.StatusOK, inv)
}

// Create stores the invoice and queues its PDF.
func (h *InvoiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in invoiceInput
	if !h.decode(w, r, validation.InvoiceCreate, &in) {
		return
	}
	ctx, tenant := r.Context(), tenantOf(r)
	v := validation.Violations{}
	inv := &models.Invoice{
		ClientID:   in.ClientID,
		Status:     models.InvoiceStatusDraft,
		IssueDate:  validation.OptionalDate("issue_date", in.IssueDate, v),
		DueDate:    validation.OptionalDate("due_date", in.DueDate, v),
		Notes:      validation.Optional(in.Notes),
		PaidAmount: decimal.Zero,
		Items:      invoiceItems(in.Items),
	}
	if in.Status != nil {
		inv.Status = models.InvoiceStatus(*in.Status)
	}
	if err := h.refs.checkClient(ctx, tenant, in.ClientID, v); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.refs.checkItems(ctx, tenant, in.Items, v); err != nil {
		h.fail(w, r, err)
		return
	}
	services.ApplyInvoiceTotals(inv)
	validation.MaxMoney("total", inv.Total, v)
	if in.PaidAmount != nil {
		inv.PaidAmount = models.Money(*in.PaidAmount)
		checkPaid(inv, v)
	}
	if !v.Empty() {
		h.invalid(w, v)
		return
	}

	err := createNumbered(ctx, in.InvoiceNumber,
		func(ctx context.Context) (string, error) {
			return services.NextInvoiceNumber(ctx, h.db, tenant, numberYear(inv.IssueDate))
		},
		func(n string) { inv.InvoiceNumber = n },
		func(ctx context.Context) error {
			inv.ID = 0
			return h.store.Create(ctx, tenant, inv)
		})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.Jobs.Enqueue(ctx, jobs.GenerateInvoicePDF, jobs.InvoicePayload{UserID: tenant, InvoiceID: inv.ID})
	httpx.Data(w, http.StatusCreated, inv)
}

// Update applies a partial update. Sending items replaces all of them and
// recomputes the total; paid_amount may never exceed it.
func (h *InvoiceHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var in invoicePatch
	if !h.decode(w, r, validation.InvoiceUpdate, &in) {
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

	inv, err := h.store.Update(ctx, tenant, id, func(tx *gorm.DB, inv *models.Invoice) error {
		if err := h.allow(r, gate.ActionUpdate, policy.ResourceInvoice, inv); err != nil {
			return err
		}
		if in.ClientID.Present() {
			inv.ClientID = in.ClientID.Value
		}
		patchNumber("invoice_number", in.InvoiceNumber, &inv.InvoiceNumber, v)
		if in.Status.Present() {
			inv.Status = models.InvoiceStatus(in.Status.Value)
		}
		validation.PatchDate("issue_date", in.IssueDate, &inv.IssueDate, v)
		validation.PatchDate("due_date", in.DueDate, &inv.DueDate, v)
		validation.ApplyOptional(in.Notes, &inv.Notes)
		if in.Items.Set {
			inv.Items = invoiceItems(in.Items.Value)
			services.ApplyInvoiceTotals(inv)
			validation.MaxMoney("total", inv.Total, v)
		}
		if in.PaidAmount.Present() {
			inv.PaidAmount = models.Money(in.PaidAmount.Value)
		}
		checkPaid(inv, v)
		if !v.Empty() {
			return errInvalid
		}
		if in.Items.Set {
			return repository.ReplaceInvoiceItems(tx, inv)
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
	httpx.Data(w, http.StatusOK, inv)
}

func (h *InvoiceHandler) Delete(w http.ResponseWriter, r *http.Request) {
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

// PDF renders the invoice synchronously.
func (h *InvoiceHandler) PDF(w http.ResponseWriter, r *http.Request) {
	inv, ok := h.load(w, r, gate.ActionView)
	if !ok {
		return
	}
	client, err := h.clients.Get(r.Context(), inv.UserID, inv.ClientID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	settings, err := h.settings.Get(r.Context(), inv.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	data, err := pdf.InvoicePDF(inv, client, settings)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writePDF(w, pdf.InvoiceFileName(inv.ID), data)
}

// Send marks a draft invoice as sent and queues the email.
func (h *InvoiceHandler) Send(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	to, ok := h.sendTarget(w, r)
	if !ok {
		return
	}
	tenant := tenantOf(r)
	inv, err := h.store.Update(r.Context(), tenant, id, func(_ *gorm.DB, inv *models.Invoice) error {
		if err := h.allow(r, gate.ActionUpdate, policy.ResourceInvoice, inv); err != nil {
			return err
		}
		if inv.Status == models.InvoiceStatusDraft {
			inv.Status = models.InvoiceStatusSent
		}
		return nil
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jobID := h.Jobs.Enqueue(r.Context(), jobs.SendInvoiceEmail, jobs.InvoicePayload{
		UserID:    tenant,
		InvoiceID: inv.ID,
		To:        to,
	})
	httpx.Data(w, http.StatusAccepted, map[string]any{"invoice": inv, "job_id": jobID})
}

// AddPayment records a payment against the invoice balance. A fully paid
// invoice flips to paid. The revenue row is written by the process_payment
// job, keyed so a retried request with the same key books it once.
func (h *InvoiceHandler) AddPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var in paymentInput
	if !h.decode(w, r, validation.PaymentCreate, &in) {
		return
	}
	v := validation.Violations{}
	amount := models.Money(in.Amount)
	if !amount.IsPositive() {
		v.Add("amount", "must_be_positive")
	}
	date := models.DateOnly(time.Now())
	if d := validation.OptionalDate("date", in.Date, v); d != nil {
		date = *d
	}
	if !v.Empty() {
		h.invalid(w, v)
		return
	}
	key := uuid.NewString()
	if k := validation.Optional(in.Key); k != nil {
		key = *k
	}

	ctx, tenant := r.Context(), tenantOf(r)
	var status models.InvoiceStatus
	inv, err := h.store.Update(ctx, tenant, id, func(_ *gorm.DB, inv *models.Invoice) error {
		if err := h.allow(r, gate.ActionUpdate, policy.ResourceInvoice, inv); err != nil {
			return err
		}
		status = inv.Status
		if status == models.InvoiceStatusPaid || status == models.InvoiceStatusCancelled {
			return errClosedInvoice
		}
		inv.PaidAmount = models.Money(inv.PaidAmount.Add(amount))
		if inv.PaidAmount.GreaterThan(inv.Total) {
			v.Add("amount", "exceeds_total")
			return errInvalid
		}
		if inv.PaidAmount.Equal(inv.Total) {
			inv.Status = models.InvoiceStatusPaid
		}
		return nil
	})
	switch {
	case errors.Is(err, errInvalid):
		h.invalid(w, v)
		return
	case errors.Is(err, errClosedInvoice):
		httpx.JSONError(w, http.StatusConflict, httpx.CodeConflict, validation.Violations{"status": "invoice_" + string(status)})
		return
	case err != nil:
		h.fail(w, r, err)
		return
	}

	h.Jobs.Enqueue(ctx, jobs.ProcessPayment, jobs.PaymentPayload{
		UserID:    tenant,
		InvoiceID: inv.ID,
		Amount:    amount,
		Date:      date.Format("2006-01-02"),
		Key:       key,
	}, jobs.SendOptions{SingletonKey: services.PaymentReference(inv.ID, key)})
	h.Jobs.Enqueue(ctx, jobs.SendNotification, jobs.NotificationPayload{
		UserID:    tenant,
		Type:      "payment_received",
		Title:     fmt.Sprintf("Payment received for %s", inv.InvoiceNumber),
		Message:   fmt.Sprintf("%s recorded, balance %s.", amount.StringFixed(2), inv.Balance().StringFixed(2)),
		InvoiceID: inv.ID,
	})
	httpx.Data(w, http.StatusCreated, inv)
}
