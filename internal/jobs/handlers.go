package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/diewo77/quotemaster/internal/models"
	"github.com/diewo77/quotemaster/internal/pdf"
	"github.com/diewo77/quotemaster/internal/repository"
	"github.com/diewo77/quotemaster/internal/services"
	"github.com/diewo77/quotemaster/internal/view"
)

// EmailPayload is a ready-made message.
type EmailPayload struct {
	UserID  string   `json:"user_id,omitempty"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

// InvoicePayload identifies a tenant's invoice. To overrides the client's
// address for send_invoice_email.
type InvoicePayload struct {
	UserID    string `json:"user_id"`
	InvoiceID uint   `json:"invoice_id"`
	To        string `json:"to,omitempty"`
}

type EstimatePayload struct {
	UserID     string `json:"user_id"`
	EstimateID uint   `json:"estimate_id"`
	To         string `json:"to,omitempty"`
}

// PaymentPayload is recorded as revenue by process_payment. Key makes the
// revenue row unique so a redelivered job is a no-op.
type PaymentPayload struct {
	UserID    string          `json:"user_id"`
	InvoiceID uint            `json:"invoice_id"`
	Amount    decimal.Decimal `json:"amount"`
	Date      string          `json:"date"`
	Key       string          `json:"key"`
}

type NotificationPayload struct {
	UserID    string `json:"user_id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	InvoiceID uint   `json:"invoice_id,omitempty"`
}

// Handlers holds the dependencies of the job handlers.
type Handlers struct {
	mailer    Mailer
	clients   *repository.ClientStore
	estimates *repository.EstimateStore
	invoices  *repository.InvoiceStore
	settings  *repository.SettingsStore
	revenue   *services.RevenueService
	pdfDir    string
	log       *slog.Logger
}

func NewHandlers(db *gorm.DB, mailer Mailer, pdfDir string, log *slog.Logger) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{
		mailer:    mailer,
		clients:   repository.NewClientStore(db),
		estimates: repository.NewEstimateStore(db),
		invoices:  repository.NewInvoiceStore(db),
		settings:  repository.NewSettingsStore(db),
		revenue:   services.NewRevenueService(db),
		pdfDir:    pdfDir,
		log:       log,
	}
}

// Register binds every handler with its concurrency.
func (h *Handlers) Register(w *Worker) {
	w.Register(SendEmail, 2, h.SendEmail)
	w.Register(SendInvoiceEmail, 2, h.SendInvoiceEmail)
	w.Register(SendEstimateEmail, 2, h.SendEstimateEmail)
	w.Register(GenerateInvoicePDF, 1, h.GenerateInvoicePDF)
	w.Register(ProcessPayment, 1, h.ProcessPayment)
	w.Register(SendNotification, 5, h.SendNotification)
}

func (h *Handlers) SendEmail(ctx context.Context, job *Job) error {
	var p EmailPayload
	if err := job.Decode(&p); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if !h.mailer.Enabled() {
		h.log.Warn("RESEND_API_KEY not set, email skipped", slog.String("job_id", job.ID), slog.String("subject", p.Subject))
		return nil
	}
	id, err := h.mailer.Send(ctx, Email{To: p.To, Subject: p.Subject, HTML: p.HTML, Text: p.Text})
	if err != nil {
		return err
	}
	h.log.Info("email sent", slog.String("job_id", job.ID), slog.String("email_id", id))
	return nil
}

func (h *Handlers) SendInvoiceEmail(ctx context.Context, job *Job) error {
	var p InvoicePayload
	if err := job.Decode(&p); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if !h.mailer.Enabled() {
		h.log.Warn("RESEND_API_KEY not set, invoice email skipped", slog.String("job_id", job.ID), slog.Uint64("invoice_id", uint64(p.InvoiceID)))
		return nil
	}
	inv, err := h.invoices.Get(ctx, p.UserID, p.InvoiceID)
	if errors.Is(err, repository.ErrNotFound) {
		h.log.Info("invoice gone, email dropped", slog.Uint64("invoice_id", uint64(p.InvoiceID)))
		return nil
	}
	if err != nil {
		return err
	}
	client, settings, err := h.parties(ctx, p.UserID, inv.ClientID)
	if err != nil {
		return err
	}
	to := firstNonEmpty(p.To, models.Deref(client.Email))
	if to == "" {
		h.log.Info("client has no email, invoice email skipped", slog.Uint64("invoice_id", uint64(inv.ID)))
		return nil
	}
	html, err := view.Render("invoice_email.html", view.DocumentEmail{
		Company:    models.Deref(settings.CompanyName),
		ClientName: client.Name,
		Number:     inv.InvoiceNumber,
		Amount:     inv.Balance(),
		Currency:   settings.Currency,
		Date:       inv.DueDate,
		DateLabel:  "Due Date",
	})
	if err != nil {
		return err
	}
	_, err = h.mailer.Send(ctx, Email{
		To:      []string{to},
		Subject: subject("Invoice", inv.InvoiceNumber, settings),
		HTML:    html,
	})
	return err
}

func (h *Handlers) SendEstimateEmail(ctx context.Context, job *Job) error {
	var p EstimatePayload
	if err := job.Decode(&p); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if !h.mailer.Enabled() {
		h.log.Warn("RESEND_API_KEY not set, estimate email skipped", slog.String("job_id", job.ID), slog.Uint64("estimate_id", uint64(p.EstimateID)))
		return nil
	}
	e, err := h.estimates.Get(ctx, p.UserID, p.EstimateID)
	if errors.Is(err, repository.ErrNotFound) {
		h.log.Info("estimate gone, email dropped", slog.Uint64("estimate_id", uint64(p.EstimateID)))
		return nil
	}
	if err != nil {
		return err
	}
	client, settings, err := h.parties(ctx, p.UserID, e.ClientID)
	if err != nil {
		return err
	}
	to := firstNonEmpty(p.To, models.Deref(client.Email))
	if to == "" {
		h.log.Info("client has no email, estimate email skipped", slog.Uint64("estimate_id", uint64(e.ID)))
		return nil
	}
	html, err := view.Render("estimate_email.html", view.DocumentEmail{
		Company:    models.Deref(settings.CompanyName),
		ClientName: client.Name,
		Number:     e.EstimateNumber,
		Amount:     e.Total,
		Currency:   settings.Currency,
		Date:       e.ExpiryDate,
		DateLabel:  "Valid Until",
	})
	if err != nil {
		return err
	}
	_, err = h.mailer.Send(ctx, Email{
		To:      []string{to},
		Subject: subject("Estimate", e.EstimateNumber, settings),
		HTML:    html,
	})
	return err
}

// GenerateInvoicePDF writes invoice-<id>.pdf under the output directory.
func (h *Handlers) GenerateInvoicePDF(ctx context.Context, job *Job) error {
	var p InvoicePayload
	if err := job.Decode(&p); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	inv, err := h.invoices.Get(ctx, p.UserID, p.InvoiceID)
	if errors.Is(err, repository.ErrNotFound) {
		h.log.Info("invoice gone, pdf skipped", slog.Uint64("invoice_id", uint64(p.InvoiceID)))
		return nil
	}
	if err != nil {
		return err
	}
	client, settings, err := h.parties(ctx, p.UserID, inv.ClientID)
	if err != nil {
		return err
	}
	data, err := pdf.InvoicePDF(inv, client, settings)
	if err != nil {
		return err
	}
	path := filepath.Join(h.pdfDir, pdf.InvoiceFileName(inv.ID))
	if err := writeFileAtomic(path, data); err != nil {
		return err
	}
	h.log.Info("invoice pdf generated", slog.Uint64("invoice_id", uint64(inv.ID)), slog.String("path", path))
	return nil
}

func (h *Handlers) ProcessPayment(ctx context.Context, job *Job) error {
	var p PaymentPayload
	if err := job.Decode(&p); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if p.Key == "" {
		p.Key = job.ID
	}
	date := time.Now().UTC()
	if p.Date != "" {
		d, err := time.Parse("2006-01-02", p.Date)
		if err != nil {
			return fmt.Errorf("payment date %q: %w", p.Date, err)
		}
		date = d
	}
	row, created, err := h.revenue.RecordPayment(ctx, p.UserID, p.InvoiceID, p.Key, p.Amount, date)
	if err != nil {
		return err
	}
	h.log.Info("payment recorded",
		slog.Uint64("invoice_id", uint64(p.InvoiceID)),
		slog.Uint64("revenue_id", uint64(row.ID)),
		slog.String("amount", row.Amount.StringFixed(2)),
		slog.Bool("duplicate", !created))
	return nil
}

// SendNotification mails the tenant's company address when one is set,
// and only logs otherwise.
func (h *Handlers) SendNotification(ctx context.Context, job *Job) error {
	var p NotificationPayload
	if err := job.Decode(&p); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	log := h.log.With(slog.String("job_id", job.ID), slog.String("type", p.Type), slog.String("title", p.Title))
	settings, err := h.settings.Get(ctx, p.UserID)
	if err != nil {
		return err
	}
	to := models.Deref(settings.CompanyEmail)
	if !h.mailer.Enabled() || to == "" {
		log.Info("notification logged")
		return nil
	}
	html, err := view.Render("notification.html", view.Notification{
		Company: models.Deref(settings.CompanyName),
		Title:   p.Title,
		Message: p.Message,
	})
	if err != nil {
		return err
	}
	if _, err := h.mailer.Send(ctx, Email{To: []string{to}, Subject: p.Title, HTML: html}); err != nil {
		return err
	}
	log.Info("notification sent")
	return nil
}

func (h *Handlers) parties(ctx context.Context, tenant string, clientID uint) (*models.Client, *models.Settings, error) {
	client, err := h.clients.Get(ctx, tenant, clientID)
	if err != nil {
		return nil, nil, fmt.Errorf("load client %d: %w", clientID, err)
	}
	settings, err := h.settings.Get(ctx, tenant)
	if err != nil {
		return nil, nil, fmt.Errorf("load settings: %w", err)
	}
	return client, settings, nil
}

func subject(kind, number string, s *models.Settings) string {
	if name := models.Deref(s.CompanyName); name != "" {
		return fmt.Sprintf("%s %s from %s", kind, number, name)
	}
	return fmt.Sprintf("%s %s", kind, number)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// writeFileAtomic writes through a temp file so readers never see a
// partial PDF.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*.pdf")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
