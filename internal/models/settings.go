package models

import "time"

// DefaultCurrency is used when a tenant never saved settings.
const DefaultCurrency = "USD"

// Settings holds the per-tenant company profile printed on documents.
// There is at most one row per tenant.
type Settings struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID string `gorm:"size:255;not null;uniqueIndex" json:"user_id"`

	CompanyName    *string `gorm:"size:255" json:"company_name"`
	CompanyAddress *string `gorm:"type:text" json:"company_address"`
	CompanyEmail   *string `gorm:"size:255" json:"company_email"`
	CompanyPhone   *string `gorm:"size:50" json:"company_phone"`
	TaxNumber      *string `gorm:"size:100" json:"tax_number"`
	Currency       string  `gorm:"size:10;not null;default:USD" json:"currency"`
}

// GetUserID implements Owned.
func (s *Settings) GetUserID() string { return s.UserID }

// SetUserID implements Owned.
func (s *Settings) SetUserID(tenant string) { s.UserID = tenant }

// DefaultSettings is returned for a tenant that has not saved settings yet.
func DefaultSettings(tenant string) *Settings {
	return &Settings{UserID: tenant, Currency: DefaultCurrency}
}
