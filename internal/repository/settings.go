package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/diewo77/quotemaster/internal/models"
)

// SettingsStore keeps the single settings row of each tenant.
type SettingsStore struct {
	db *gorm.DB
}

func NewSettingsStore(db *gorm.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

// Get returns the tenant's settings, or defaults when none were saved.
func (s *SettingsStore) Get(ctx context.Context, tenant string) (*models.Settings, error) {
	if tenant == "" {
		return nil, ErrNoTenant
	}
	var row models.Settings
	err := s.db.WithContext(ctx).Where("user_id = ?", tenant).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.DefaultSettings(tenant), nil
	}
	if err != nil {
		return nil, mapError(err)
	}
	return &row, nil
}

// Upsert applies fn to the current settings (or defaults) and stores the
// result, keeping one row per tenant.
func (s *SettingsStore) Upsert(ctx context.Context, tenant string, fn func(*models.Settings)) (*models.Settings, error) {
	if tenant == "" {
		return nil, ErrNoTenant
	}
	var out models.Settings
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.Settings
		err := tx.Where("user_id = ?", tenant).First(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row = *models.DefaultSettings(tenant)
		case err != nil:
			return err
		}
		fn(&row)
		row.UserID = tenant
		if row.Currency == "" {
			row.Currency = models.DefaultCurrency
		}
		if row.ID == 0 {
			err = tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"company_name", "company_address", "company_email", "company_phone", "tax_number", "currency", "updated_at"}),
			}).Create(&row).Error
		} else {
			err = tx.Save(&row).Error
		}
		if err != nil {
			return err
		}
		return tx.Where("user_id = ?", tenant).First(&out).Error
	})
	if err != nil {
		return nil, mapError(err)
	}
	return &out, nil
}
