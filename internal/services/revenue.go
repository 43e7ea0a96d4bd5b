package services

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/diewo77/quotemaster/internal/models"
	"github.com/diewo77/quotemaster/internal/repository"
)

// MonthlyRevenue is one bucket of the yearly report.
type MonthlyRevenue struct {
	Month int             `json:"month"`
	Total decimal.Decimal `json:"total"`
	Count int             `json:"count"`
}

// RevenueStats is the per-month report of one year.
type RevenueStats struct {
	Year   int              `json:"year"`
	Months []MonthlyRevenue `json:"months"`
	Total  decimal.Decimal  `json:"total"`
}

// RevenueService aggregates revenue rows and records payments.
type RevenueService struct {
	db *gorm.DB
}

func NewRevenueService(db *gorm.DB) *RevenueService {
	return &RevenueService{db: db}
}

// YearRange returns [Jan 1 of year, Jan 1 of year+1) in UTC.
func YearRange(year int) (time.Time, time.Time) {
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(1, 0, 0)
}

// Stats buckets the tenant's revenue of year by month. Every month is
// present, empty months with a zero total.
func (s *RevenueService) Stats(ctx context.Context, tenant string, year int) (*RevenueStats, error) {
	if tenant == "" {
		return nil, repository.ErrNoTenant
	}
	from, to := YearRange(year)
	var rows []models.Revenue
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND date >= ? AND date < ?", tenant, from, to).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load revenue: %w", err)
	}

	stats := &RevenueStats{Year: year, Months: make([]MonthlyRevenue, 12), Total: decimal.Zero}
	for i := range stats.Months {
		stats.Months[i] = MonthlyRevenue{Month: i + 1, Total: decimal.Zero}
	}
	for _, r := range rows {
		b := &stats.Months[r.Date.UTC().Month()-1]
		b.Total = b.Total.Add(r.Amount)
		b.Count++
		stats.Total = stats.Total.Add(r.Amount)
	}
	for i := range stats.Months {
		stats.Months[i].Total = models.Money(stats.Months[i].Total)
	}
	stats.Total = models.Money(stats.Total)
	return stats, nil
}

// YearToDate sums revenue from Jan 1 of now's year up to now.
func (s *RevenueService) YearToDate(ctx context.Context, tenant string, now time.Time) (decimal.Decimal, error) {
	from, _ := YearRange(now.UTC().Year())
	var rows []models.Revenue
	err := s.db.WithContext(ctx).
		Select("amount").
		Where("user_id = ? AND date >= ? AND date <= ?", tenant, from, now.UTC()).
		Find(&rows).Error
	if err != nil {
		return decimal.Zero, fmt.Errorf("load revenue: %w", err)
	}
	sum := decimal.Zero
	for _, r := range rows {
		sum = sum.Add(r.Amount)
	}
	return models.Money(sum), nil
}

// PaymentReference identifies the revenue row of one payment.
func PaymentReference(invoiceID uint, key string) string {
	return fmt.Sprintf("invoice:%d:%s", invoiceID, key)
}

// RecordPayment stores the revenue row of a payment. A second call with the
// same key finds the existing row and reports created=false.
func (s *RevenueService) RecordPayment(ctx context.Context, tenant string, invoiceID uint, key string, amount decimal.Decimal, date time.Time) (*models.Revenue, bool, error) {
	if tenant == "" {
		return nil, false, repository.ErrNoTenant
	}
	ref := PaymentReference(invoiceID, key)
	source := "invoice payment"
	row := &models.Revenue{
		UserID:    tenant,
		Date:      models.DateOnly(date),
		Amount:    models.Money(amount),
		Source:    &source,
		Reference: &ref,
	}
	err := s.db.WithContext(ctx).Create(row).Error
	if err == nil {
		return row, true, nil
	}
	// a redelivered job hits the unique (user_id, reference) index
	var existing models.Revenue
	if findErr := s.db.WithContext(ctx).Where("user_id = ? AND reference = ?", tenant, ref).First(&existing).Error; findErr == nil {
		return &existing, false, nil
	}
	return nil, false, fmt.Errorf("record payment: %w", err)
}
