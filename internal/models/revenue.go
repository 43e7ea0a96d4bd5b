package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Revenue is a recorded income entry. Entries created by payment processing
// carry a Reference of the form "invoice:<id>:<key>", unique per tenant.
type Revenue struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID string `gorm:"size:255;not null;index;uniqueIndex:idx_revenue_user_reference,priority:1" json:"user_id"`

	Date      time.Time       `gorm:"type:date;not null;index" json:"date"`
	Amount    decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	Source    *string         `gorm:"size:100" json:"source"`
	Reference *string         `gorm:"size:100;uniqueIndex:idx_revenue_user_reference,priority:2" json:"reference"`
}

// TableName keeps the singular table name of the first migration.
func (Revenue) TableName() string { return "revenue" }

// GetUserID implements Owned.
func (r *Revenue) GetUserID() string { return r.UserID }

// SetUserID implements Owned.
func (r *Revenue) SetUserID(tenant string) { r.UserID = tenant }

// SearchColumns implements Searchable.
func (r *Revenue) SearchColumns() []string {
	return []string{"source", "reference"}
}
