package services_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/diewo77/quotemaster/internal/models"
	"github.com/diewo77/quotemaster/internal/repository"
	"github.com/diewo77/quotemaster/internal/services"
	"github.com/diewo77/quotemaster/internal/testutil"
)

func addRevenue(t *testing.T, db *gorm.DB, tenant, amount string, date time.Time) {
	t.Helper()
	r := &models.Revenue{Amount: dec(amount), Date: date}
	if err := repository.NewRevenueStore(db).Create(context.Background(), tenant, r); err != nil {
		t.Fatalf("seed revenue: %v", err)
	}
}

func TestRevenueStatsBucketsByMonth(t *testing.T) {
	db := testutil.OpenDB(t)
	addRevenue(t, db, "a", "100.10", time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC))
	addRevenue(t, db, "a", "50.05", time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC))
	addRevenue(t, db, "a", "20", time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC))
	addRevenue(t, db, "a", "999", time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC))
	addRevenue(t, db, "b", "777", time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC))

	stats, err := services.NewRevenueService(db).Stats(context.Background(), "a", 2026)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(stats.Months) != 12 {
		t.Fatalf("expected 12 buckets, got %d", len(stats.Months))
	}
	if !stats.Months[0].Total.Equal(dec("150.15")) || stats.Months[0].Count != 2 {
		t.Errorf("january = %+v", stats.Months[0])
	}
	if !stats.Months[11].Total.Equal(dec("20")) {
		t.Errorf("december = %+v", stats.Months[11])
	}
	if !stats.Months[5].Total.IsZero() {
		t.Errorf("june should be empty, got %s", stats.Months[5].Total)
	}
	if !stats.Total.Equal(dec("170.15")) {
		t.Errorf("total = %s", stats.Total)
	}
}

func TestRecordPaymentIsIdempotent(t *testing.T) {
	db := testutil.OpenDB(t)
	svc := services.NewRevenueService(db)
	ctx := context.Background()
	when := time.Date(2026, 4, 2, 13, 0, 0, 0, time.UTC)

	first, created, err := svc.RecordPayment(ctx, "a", 7, "k1", dec("40"), when)
	if err != nil || !created {
		t.Fatalf("first record: created=%v err=%v", created, err)
	}
	again, created, err := svc.RecordPayment(ctx, "a", 7, "k1", dec("40"), when)
	if err != nil {
		t.Fatalf("second record: %v", err)
	}
	if created || again.ID != first.ID {
		t.Fatalf("redelivery created a second row")
	}
	if *first.Reference != "invoice:7:k1" {
		t.Errorf("reference = %s", *first.Reference)
	}
	var n int64
	db.Model(&models.Revenue{}).Count(&n)
	if n != 1 {
		t.Fatalf("expected 1 revenue row, got %d", n)
	}
}

func TestYearToDate(t *testing.T) {
	db := testutil.OpenDB(t)
	now := time.Date(2026, 6, 30, 12, 0, 0, 0, time.UTC)
	addRevenue(t, db, "a", "10", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	addRevenue(t, db, "a", "5.5", time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC))
	addRevenue(t, db, "a", "100", time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC))

	got, err := services.NewRevenueService(db).YearToDate(context.Background(), "a", now)
	if err != nil {
		t.Fatalf("ytd: %v", err)
	}
	if !got.Equal(dec("15.5")) {
		t.Fatalf("ytd = %s", got)
	}
}

func TestNextInvoiceNumber(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	c := &models.Client{Name: "C"}
	if err := repository.NewClientStore(db).Create(ctx, "a", c); err != nil {
		t.Fatal(err)
	}
	n, err := services.NextInvoiceNumber(ctx, db, "a", 2026)
	if err != nil || n != "INV-2026-0001" {
		t.Fatalf("first number = %q, %v", n, err)
	}
	invoices := repository.NewInvoiceStore(db)
	for _, num := range []string{"INV-2026-0001", "INV-2026-0009", "CUSTOM-7", "INV-2025-0050"} {
		if err := invoices.Create(ctx, "a", &models.Invoice{ClientID: c.ID, InvoiceNumber: num, Total: decimal.Zero}); err != nil {
			t.Fatalf("seed %s: %v", num, err)
		}
	}
	n, err = services.NextInvoiceNumber(ctx, db, "a", 2026)
	if err != nil || n != "INV-2026-0010" {
		t.Fatalf("next number = %q, %v", n, err)
	}
	n, err = services.NextInvoiceNumber(ctx, db, "other", 2026)
	if err != nil || n != "INV-2026-0001" {
		t.Fatalf("numbering must be per tenant, got %q", n)
	}
	n, _ = services.NextEstimateNumber(ctx, db, "a", 2026)
	if n != "EST-2026-0001" {
		t.Fatalf("estimate number = %q", n)
	}
}

func TestDashboardSummary(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	c := &models.Client{Name: "C"}
	if err := repository.NewClientStore(db).Create(ctx, "a", c); err != nil {
		t.Fatal(err)
	}
	invoices := repository.NewInvoiceStore(db)
	pastDue := time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC)
	notDue := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	seed := []models.Invoice{
		{ClientID: c.ID, InvoiceNumber: "1", Status: models.InvoiceStatusSent, Total: dec("100"), PaidAmount: dec("25"), DueDate: &pastDue},
		{ClientID: c.ID, InvoiceNumber: "1b", Status: models.InvoiceStatusSent, Total: dec("10"), DueDate: &notDue},
		{ClientID: c.ID, InvoiceNumber: "2", Status: models.InvoiceStatusOverdue, Total: dec("50")},
		{ClientID: c.ID, InvoiceNumber: "3", Status: models.InvoiceStatusPaid, Total: dec("70"), PaidAmount: dec("70")},
	}
	for i := range seed {
		if err := invoices.Create(ctx, "a", &seed[i]); err != nil {
			t.Fatal(err)
		}
	}
	estimates := repository.NewEstimateStore(db)
	for i, est := range []models.Estimate{
		{ClientID: c.ID, Status: models.EstimateStatusSent, ExpiryDate: &pastDue},
		{ClientID: c.ID, Status: models.EstimateStatusSent},
		{ClientID: c.ID, Status: models.EstimateStatusDraft, ExpiryDate: &pastDue},
	} {
		est.EstimateNumber = fmt.Sprintf("E%d", i)
		if err := estimates.Create(ctx, "a", &est); err != nil {
			t.Fatal(err)
		}
	}
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	addRevenue(t, db, "a", "70", time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))

	d, err := services.NewDashboardService(db).Summary(ctx, "a", now)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if d.Clients != 1 || d.Invoices != 4 || d.OpenInvoices != 3 {
		t.Errorf("counts = %+v", d)
	}
	if d.OverdueInvoices != 2 {
		t.Errorf("overdue = %d, want 2 (past due date and overdue status)", d.OverdueInvoices)
	}
	if d.Estimates != 3 || d.PendingEstimates != 2 || d.ExpiredEstimates != 1 {
		t.Errorf("estimates = %d pending %d expired %d", d.Estimates, d.PendingEstimates, d.ExpiredEstimates)
	}
	if !d.OutstandingAmount.Equal(dec("135")) {
		t.Errorf("outstanding = %s", d.OutstandingAmount)
	}
	if !d.RevenueYearToDate.Equal(dec("70")) {
		t.Errorf("ytd = %s", d.RevenueYearToDate)
	}
}
