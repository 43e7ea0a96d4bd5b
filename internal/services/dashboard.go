package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/diewo77/quotemaster/internal/models"
	"github.com/diewo77/quotemaster/internal/repository"
)

// Dashboard is the tenant's home screen summary.
type Dashboard struct {
	Clients           int64           `json:"clients"`
	Products          int64           `json:"products"`
	Estimates         int64           `json:"estimates"`
	PendingEstimates  int64           `json:"pending_estimates"`
	ExpiredEstimates  int64           `json:"expired_estimates"`
	Invoices          int64           `json:"invoices"`
	OpenInvoices      int64           `json:"open_invoices"`
	OverdueInvoices   int64           `json:"overdue_invoices"`
	OutstandingAmount decimal.Decimal `json:"outstanding_amount"`
	RevenueYearToDate decimal.Decimal `json:"revenue_ytd"`
	GeneratedAt       time.Time       `json:"generated_at"`
}

// DashboardService computes Dashboard from the tenant-scoped stores.
type DashboardService struct {
	db        *gorm.DB
	clients   *repository.ClientStore
	products  *repository.ProductStore
	estimates *repository.EstimateStore
	invoices  *repository.InvoiceStore
	revenue   *RevenueService
}

func NewDashboardService(db *gorm.DB) *DashboardService {
	return &DashboardService{
		db:        db,
		clients:   repository.NewClientStore(db),
		products:  repository.NewProductStore(db),
		estimates: repository.NewEstimateStore(db),
		invoices:  repository.NewInvoiceStore(db),
		revenue:   NewRevenueService(db),
	}
}

// Summary builds the dashboard of tenant at now.
func (s *DashboardService) Summary(ctx context.Context, tenant string, now time.Time) (*Dashboard, error) {
	d := &Dashboard{GeneratedAt: now.UTC()}
	var err error
	if d.Clients, err = s.clients.Count(ctx, tenant); err != nil {
		return nil, err
	}
	if d.Products, err = s.products.Count(ctx, tenant); err != nil {
		return nil, err
	}
	if d.Estimates, err = s.estimates.Count(ctx, tenant); err != nil {
		return nil, err
	}

	// sent estimates wait for an answer; past their expiry they are stale
	var pending []models.Estimate
	err = s.db.WithContext(ctx).
		Select("id", "expiry_date", "status").
		Where("user_id = ? AND status = ?", tenant, string(models.EstimateStatusSent)).
		Find(&pending).Error
	if err != nil {
		return nil, err
	}
	d.PendingEstimates = int64(len(pending))
	for i := range pending {
		if pending[i].Expired(now) {
			d.ExpiredEstimates++
		}
	}

	if d.Invoices, err = s.invoices.Count(ctx, tenant); err != nil {
		return nil, err
	}

	var open []models.Invoice
	err = s.db.WithContext(ctx).
		Select("id", "total", "paid_amount", "status", "due_date").
		Where("user_id = ? AND status IN ?", tenant, []string{string(models.InvoiceStatusSent), string(models.InvoiceStatusOverdue)}).
		Find(&open).Error
	if err != nil {
		return nil, err
	}
	d.OpenInvoices = int64(len(open))
	d.OutstandingAmount = decimal.Zero
	for i := range open {
		d.OutstandingAmount = d.OutstandingAmount.Add(open[i].Balance())
		if open[i].Status == models.InvoiceStatusOverdue || open[i].Overdue(now) {
			d.OverdueInvoices++
		}
	}
	d.OutstandingAmount = models.Money(d.OutstandingAmount)

	if d.RevenueYearToDate, err = s.revenue.YearToDate(ctx, tenant, now); err != nil {
		return nil, err
	}
	return d, nil
}
