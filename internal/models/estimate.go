package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EstimateStatus represents the lifecycle state of an estimate.
type EstimateStatus string

const (
	EstimateStatusDraft    EstimateStatus = "draft"
	EstimateStatusSent     EstimateStatus = "sent"
	EstimateStatusAccepted EstimateStatus = "accepted"
	EstimateStatusRejected EstimateStatus = "rejected"
)

// EstimateStatuses lists the accepted values, in lifecycle order.
var EstimateStatuses = []EstimateStatus{
	EstimateStatusDraft,
	EstimateStatusSent,
	EstimateStatusAccepted,
	EstimateStatusRejected,
}

// Valid reports whether s is a known estimate status.
func (s EstimateStatus) Valid() bool {
	for _, v := range EstimateStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Estimate is a quote sent to a client before work starts.
// EstimateNumber is unique per tenant.
type Estimate struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID   string `gorm:"size:255;not null;index;uniqueIndex:idx_estimates_user_number,priority:1" json:"user_id"`
	ClientID uint   `gorm:"not null;index" json:"client_id"`

	EstimateNumber string         `gorm:"size:50;not null;uniqueIndex:idx_estimates_user_number,priority:2" json:"estimate_number"`
	Status         EstimateStatus `gorm:"size:20;not null;default:draft;index" json:"status"`
	IssueDate      *time.Time     `gorm:"type:date" json:"issue_date"`
	ExpiryDate     *time.Time     `gorm:"type:date" json:"expiry_date"`
	Notes          *string        `gorm:"type:text" json:"notes"`

	// Total is always recomputed from Items
	Total decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"total"`

	Items []EstimateItem `gorm:"foreignKey:EstimateID;constraint:OnDelete:CASCADE" json:"items"`
}

// GetUserID implements Owned.
func (e *Estimate) GetUserID() string { return e.UserID }

// SetUserID implements Owned.
func (e *Estimate) SetUserID(tenant string) { e.UserID = tenant }

// SearchColumns implements Searchable.
func (e *Estimate) SearchColumns() []string {
	return []string{"estimate_number", "notes"}
}

// Expired reports whether the estimate is past its expiry date.
func (e *Estimate) Expired(now time.Time) bool {
	return e.ExpiryDate != nil && DateOnly(now).After(DateOnly(*e.ExpiryDate))
}

// EstimateItem is one line of an estimate.
type EstimateItem struct {
	ID         uint  `gorm:"primaryKey" json:"id"`
	EstimateID uint  `gorm:"not null;index" json:"estimate_id"`
	ProductID  *uint `gorm:"index" json:"product_id"`
	Position   int   `gorm:"not null;default:0" json:"position"`

	Description string          `gorm:"size:255;not null" json:"description"`
	Quantity    int             `gorm:"not null;default:1" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"unit_price"`
	Total       decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"total"`
}
