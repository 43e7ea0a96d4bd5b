package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog entry of a tenant.
type Product struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID string `gorm:"size:255;index;not null" json:"user_id"`

	Name        string          `gorm:"size:255;not null" json:"name"`
	Description *string         `gorm:"type:text" json:"description"`
	SKU         *string         `gorm:"column:sku;size:100" json:"sku"`
	Price       decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price"`
	Category    *string         `gorm:"size:50" json:"category"`
}

// GetUserID implements Owned.
func (p *Product) GetUserID() string { return p.UserID }

// SetUserID implements Owned.
func (p *Product) SetUserID(tenant string) { p.UserID = tenant }

// SearchColumns implements Searchable.
func (p *Product) SearchColumns() []string {
	return []string{"name", "sku", "category", "description"}
}
