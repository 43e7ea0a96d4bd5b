package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"github.com/diewo77/quotemaster/internal/models"
)

const (
	EstimatePrefix = "EST"
	InvoicePrefix  = "INV"
)

// FormatNumber renders a document number such as INV-2026-0042.
func FormatNumber(prefix string, year, seq int) string {
	return fmt.Sprintf("%s-%d-%04d", prefix, year, seq)
}

// NextEstimateNumber returns the next free EST-YYYY-NNNN number of tenant.
func NextEstimateNumber(ctx context.Context, db *gorm.DB, tenant string, year int) (string, error) {
	return nextNumber(ctx, db, &models.Estimate{}, "estimate_number", tenant, EstimatePrefix, year)
}

// NextInvoiceNumber returns the next free INV-YYYY-NNNN number of tenant.
func NextInvoiceNumber(ctx context.Context, db *gorm.DB, tenant string, year int) (string, error) {
	return nextNumber(ctx, db, &models.Invoice{}, "invoice_number", tenant, InvoicePrefix, year)
}

// nextNumber scans the tenant's numbers of that year and returns max+1.
// Manually entered numbers that do not follow the pattern are ignored.
func nextNumber(ctx context.Context, db *gorm.DB, model any, column, tenant, prefix string, year int) (string, error) {
	pfx := fmt.Sprintf("%s-%d-", prefix, year)
	var numbers []string
	err := db.WithContext(ctx).Model(model).
		Where("user_id = ?", tenant).
		Where(column+" LIKE ?", pfx+"%").
		Pluck(column, &numbers).Error
	if err != nil {
		return "", fmt.Errorf("scan %s: %w", column, err)
	}
	highest := 0
	for _, n := range numbers {
		seq, err := strconv.Atoi(strings.TrimPrefix(n, pfx))
		if err == nil && seq > highest {
			highest = seq
		}
	}
	return FormatNumber(prefix, year, highest+1), nil
}
