package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/diewo77/quotemaster/internal/models"
	"github.com/diewo77/quotemaster/internal/services"
)

// DemoTenant owns the rows created by Seed when no tenant is given.
const DemoTenant = "demo"

func strPtr(s string) *string { return &s }

// Seed fills tenant with a small demo data set: settings, two clients,
// three products, an estimate and an invoice. A tenant that already owns
// clients is left untouched, so Seed can run on every start.
func Seed(ctx context.Context, gdb *gorm.DB, tenant string, log *slog.Logger) error {
	if tenant == "" {
		tenant = DemoTenant
	}
	var n int64
	if err := gdb.WithContext(ctx).Model(&models.Client{}).Where("user_id = ?", tenant).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		if log != nil {
			log.Info("seed skipped, tenant has data", slog.String("tenant", tenant))
		}
		return nil
	}

	now := models.DateOnly(time.Now())
	year := now.Year()
	return gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		settings := models.DefaultSettings(tenant)
		settings.CompanyName = strPtr("Demo Consulting Ltd")
		settings.CompanyAddress = strPtr("1 Market Street\nSpringfield")
		settings.CompanyEmail = strPtr("billing@demo.example")
		if err := tx.Create(settings).Error; err != nil {
			return fmt.Errorf("seed settings: %w", err)
		}

		clients := []models.Client{
			{UserID: tenant, Name: "Ada Lovelace", Email: strPtr("ada@example.com"), Company: strPtr("Analytical Engines")},
			{UserID: tenant, Name: "Grace Hopper", Email: strPtr("grace@example.com"), Company: strPtr("Compilers Inc")},
		}
		if err := tx.Create(&clients).Error; err != nil {
			return fmt.Errorf("seed clients: %w", err)
		}

		products := []models.Product{
			{UserID: tenant, Name: "Consulting hour", SKU: strPtr("CONS-1H"), Price: decimal.RequireFromString("95.00"), Category: strPtr("services")},
			{UserID: tenant, Name: "Code review", SKU: strPtr("REV-1"), Price: decimal.RequireFromString("250.00"), Category: strPtr("services")},
			{UserID: tenant, Name: "Support plan", SKU: strPtr("SUP-M"), Price: decimal.RequireFromString("49.90"), Category: strPtr("subscriptions")},
		}
		if err := tx.Create(&products).Error; err != nil {
			return fmt.Errorf("seed products: %w", err)
		}

		expiry := now.AddDate(0, 0, 30)
		est := &models.Estimate{
			UserID:         tenant,
			ClientID:       clients[0].ID,
			EstimateNumber: services.FormatNumber(services.EstimatePrefix, year, 1),
			Status:         models.EstimateStatusSent,
			IssueDate:      &now,
			ExpiryDate:     &expiry,
			Items: []models.EstimateItem{
				{ProductID: &products[0].ID, Description: products[0].Name, Quantity: 10, UnitPrice: products[0].Price},
				{ProductID: &products[1].ID, Description: products[1].Name, Quantity: 1, UnitPrice: products[1].Price},
			},
		}
		services.ApplyEstimateTotals(est)
		if err := tx.Create(est).Error; err != nil {
			return fmt.Errorf("seed estimate: %w", err)
		}

		due := now.AddDate(0, 0, 14)
		inv := &models.Invoice{
			UserID:        tenant,
			ClientID:      clients[1].ID,
			InvoiceNumber: services.FormatNumber(services.InvoicePrefix, year, 1),
			Status:        models.InvoiceStatusSent,
			IssueDate:     &now,
			DueDate:       &due,
			PaidAmount:    decimal.Zero,
			Items: []models.InvoiceItem{
				{ProductID: &products[2].ID, Description: products[2].Name, Quantity: 3, UnitPrice: products[2].Price},
			},
		}
		services.ApplyInvoiceTotals(inv)
		if err := tx.Create(inv).Error; err != nil {
			return fmt.Errorf("seed invoice: %w", err)
		}

		if log != nil {
			log.Info("seeded demo data", slog.String("tenant", tenant))
		}
		return nil
	})
}
