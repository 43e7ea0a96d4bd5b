package jobs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/diewo77/quotemaster/internal/logging"
	"github.com/diewo77/quotemaster/internal/models"
	"github.com/diewo77/quotemaster/internal/repository"
	"github.com/diewo77/quotemaster/internal/testutil"
)

type recordingMailer struct {
	mu      sync.Mutex
	enabled bool
	sent    []Email
}

func (m *recordingMailer) Enabled() bool { return m.enabled }

func (m *recordingMailer) Send(_ context.Context, e Email) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, e)
	return "msg_1", nil
}

func jobWith(t *testing.T, name string, payload any) *Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &Job{ID: "job-1", Name: name, Payload: raw}
}

func seedInvoice(t *testing.T, gdb *gorm.DB, tenant string, email *string) *models.Invoice {
	t.Helper()
	ctx := context.Background()
	client := &models.Client{Name: "Ada", Email: email}
	require.NoError(t, repository.NewClientStore(gdb).Create(ctx, tenant, client))
	inv := &models.Invoice{
		ClientID:      client.ID,
		InvoiceNumber: "INV-2025-0001",
		Status:        models.InvoiceStatusSent,
		Total:         decimal.RequireFromString("120.00"),
		Items: []models.InvoiceItem{
			{Description: "Work", Quantity: 2, UnitPrice: decimal.RequireFromString("60.00"), Total: decimal.RequireFromString("120.00")},
		},
	}
	require.NoError(t, repository.NewInvoiceStore(gdb).Create(ctx, tenant, inv))
	return inv
}

func TestGenerateInvoicePDF(t *testing.T) {
	gdb := testutil.OpenDB(t)
	inv := seedInvoice(t, gdb, "tenant-a", nil)
	dir := t.TempDir()
	h := NewHandlers(gdb, &recordingMailer{}, dir, logging.Discard())

	err := h.GenerateInvoicePDF(context.Background(), jobWith(t, GenerateInvoicePDF, InvoicePayload{UserID: "tenant-a", InvoiceID: inv.ID}))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "invoice-"+itoa(inv.ID)+".pdf"))
	require.NoError(t, err)
	assert.Equal(t, "%PDF-", string(data[:5]))
}

func TestGenerateInvoicePDFForeignTenantIsSkipped(t *testing.T) {
	gdb := testutil.OpenDB(t)
	inv := seedInvoice(t, gdb, "tenant-a", nil)
	dir := t.TempDir()
	h := NewHandlers(gdb, &recordingMailer{}, dir, logging.Discard())

	err := h.GenerateInvoicePDF(context.Background(), jobWith(t, GenerateInvoicePDF, InvoicePayload{UserID: "tenant-b", InvoiceID: inv.ID}))
	require.NoError(t, err)
	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}

func TestProcessPaymentIsIdempotent(t *testing.T) {
	gdb := testutil.OpenDB(t)
	inv := seedInvoice(t, gdb, "tenant-a", nil)
	h := NewHandlers(gdb, &recordingMailer{}, t.TempDir(), logging.Discard())
	job := jobWith(t, ProcessPayment, PaymentPayload{
		UserID:    "tenant-a",
		InvoiceID: inv.ID,
		Amount:    decimal.RequireFromString("50.00"),
		Date:      "2025-05-02",
		Key:       "pay-1",
	})

	require.NoError(t, h.ProcessPayment(context.Background(), job))
	require.NoError(t, h.ProcessPayment(context.Background(), job))

	var rows []models.Revenue
	require.NoError(t, gdb.Where("user_id = ?", "tenant-a").Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Amount.Equal(decimal.RequireFromString("50")), rows[0].Amount.String())
	require.NotNil(t, rows[0].Reference)
	assert.Equal(t, "invoice:"+itoa(inv.ID)+":pay-1", *rows[0].Reference)
}

func TestProcessPaymentBadDate(t *testing.T) {
	gdb := testutil.OpenDB(t)
	h := NewHandlers(gdb, &recordingMailer{}, t.TempDir(), logging.Discard())
	err := h.ProcessPayment(context.Background(), jobWith(t, ProcessPayment, PaymentPayload{UserID: "t", InvoiceID: 1, Date: "May 2nd"}))
	assert.Error(t, err)
}

func TestSendInvoiceEmail(t *testing.T) {
	gdb := testutil.OpenDB(t)
	email := "ada@example.com"
	inv := seedInvoice(t, gdb, "tenant-a", &email)
	mailer := &recordingMailer{enabled: true}
	h := NewHandlers(gdb, mailer, t.TempDir(), logging.Discard())

	err := h.SendInvoiceEmail(context.Background(), jobWith(t, SendInvoiceEmail, InvoicePayload{UserID: "tenant-a", InvoiceID: inv.ID}))
	require.NoError(t, err)
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, []string{email}, mailer.sent[0].To)
	assert.Equal(t, "Invoice INV-2025-0001", mailer.sent[0].Subject)
	assert.Contains(t, mailer.sent[0].HTML, "120.00 USD")
}

func TestEmailSkippedWithoutAPIKey(t *testing.T) {
	gdb := testutil.OpenDB(t)
	email := "ada@example.com"
	inv := seedInvoice(t, gdb, "tenant-a", &email)
	mailer := &recordingMailer{enabled: false}
	h := NewHandlers(gdb, mailer, t.TempDir(), logging.Discard())

	require.NoError(t, h.SendInvoiceEmail(context.Background(), jobWith(t, SendInvoiceEmail, InvoicePayload{UserID: "tenant-a", InvoiceID: inv.ID})))
	require.NoError(t, h.SendEmail(context.Background(), jobWith(t, SendEmail, EmailPayload{To: []string{email}, Subject: "x"})))
	assert.Empty(t, mailer.sent)
}

func TestSendInvoiceEmailWithoutRecipient(t *testing.T) {
	gdb := testutil.OpenDB(t)
	inv := seedInvoice(t, gdb, "tenant-a", nil)
	mailer := &recordingMailer{enabled: true}
	h := NewHandlers(gdb, mailer, t.TempDir(), logging.Discard())

	require.NoError(t, h.SendInvoiceEmail(context.Background(), jobWith(t, SendInvoiceEmail, InvoicePayload{UserID: "tenant-a", InvoiceID: inv.ID})))
	assert.Empty(t, mailer.sent)
}

func TestSendNotificationUsesCompanyEmail(t *testing.T) {
	gdb := testutil.OpenDB(t)
	ctx := context.Background()
	_, err := repository.NewSettingsStore(gdb).Upsert(ctx, "tenant-a", func(s *models.Settings) {
		addr := "owner@example.com"
		s.CompanyEmail = &addr
	})
	require.NoError(t, err)
	mailer := &recordingMailer{enabled: true}
	h := NewHandlers(gdb, mailer, t.TempDir(), logging.Discard())

	err = h.SendNotification(ctx, jobWith(t, SendNotification, NotificationPayload{UserID: "tenant-a", Type: "payment", Title: "Payment received", Message: "50.00 on INV-1"}))
	require.NoError(t, err)
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, []string{"owner@example.com"}, mailer.sent[0].To)
	assert.Equal(t, "Payment received", mailer.sent[0].Subject)

	// no company email: logged only
	err = h.SendNotification(ctx, jobWith(t, SendNotification, NotificationPayload{UserID: "tenant-b", Title: "x"}))
	require.NoError(t, err)
	assert.Len(t, mailer.sent, 1)
}

func TestRegisterBindsEveryQueue(t *testing.T) {
	q, _ := startedQueue(t)
	w := NewWorker(q, logging.Discard(), 0)
	NewHandlers(testutil.OpenDB(t), &recordingMailer{}, t.TempDir(), logging.Discard()).Register(w)
	assert.Equal(t, Names, w.Queues())
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
