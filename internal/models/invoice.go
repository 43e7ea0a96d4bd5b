package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus represents the payment state of an invoice.
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "draft"
	InvoiceStatusSent      InvoiceStatus = "sent"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusOverdue   InvoiceStatus = "overdue"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

var InvoiceStatuses = []InvoiceStatus{
	InvoiceStatusDraft,
	InvoiceStatusSent,
	InvoiceStatusPaid,
	InvoiceStatusOverdue,
	InvoiceStatusCancelled,
}

// Valid reports whether s is a known invoice status.
func (s InvoiceStatus) Valid() bool {
	for _, v := range InvoiceStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Open reports whether the invoice still expects a payment.
func (s InvoiceStatus) Open() bool {
	return s == InvoiceStatusSent || s == InvoiceStatusOverdue
}

// Invoice is a bill issued to a client.
// InvoiceNumber is unique per tenant.
type Invoice struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID   string `gorm:"size:255;not null;index;uniqueIndex:idx_invoices_user_number,priority:1" json:"user_id"`
	ClientID uint   `gorm:"not null;index" json:"client_id"`

	InvoiceNumber string        `gorm:"size:50;not null;uniqueIndex:idx_invoices_user_number,priority:2" json:"invoice_number"`
	Status        InvoiceStatus `gorm:"size:20;not null;default:draft;index" json:"status"`
	IssueDate     *time.Time    `gorm:"type:date" json:"issue_date"`
	DueDate       *time.Time    `gorm:"type:date" json:"due_date"`
	Notes         *string       `gorm:"type:text" json:"notes"`

	Total      decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"total"`
	PaidAmount decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"paid_amount"`

	Items []InvoiceItem `gorm:"foreignKey:InvoiceID;constraint:OnDelete:CASCADE" json:"items"`
}

// GetUserID implements Owned.
func (i *Invoice) GetUserID() string { return i.UserID }

// SetUserID implements Owned.
func (i *Invoice) SetUserID(tenant string) { i.UserID = tenant }

// SearchColumns implements Searchable.
func (i *Invoice) SearchColumns() []string {
	return []string{"invoice_number", "notes"}
}

// Balance is the amount still owed, never negative.
func (i *Invoice) Balance() decimal.Decimal {
	b := i.Total.Sub(i.PaidAmount)
	if b.IsNegative() {
		return decimal.Zero
	}
	return Money(b)
}

// Overdue reports whether an open invoice is past its due date.
func (i *Invoice) Overdue(now time.Time) bool {
	if !i.Status.Open() || i.DueDate == nil {
		return false
	}
	return DateOnly(now).After(DateOnly(*i.DueDate))
}

// InvoiceItem is one line of an invoice.
type InvoiceItem struct {
	ID        uint  `gorm:"primaryKey" json:"id"`
	InvoiceID uint  `gorm:"not null;index" json:"invoice_id"`
	ProductID *uint `gorm:"index" json:"product_id"`
	Position  int   `gorm:"not null;default:0" json:"position"`

	Description string          `gorm:"size:255;not null" json:"description"`
	Quantity    int             `gorm:"not null;default:1" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"unit_price"`
	Total       decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"total"`
}
