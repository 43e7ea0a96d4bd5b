// Package models defines the persisted business objects. Every tenant-scoped
// row carries the owning tenant identifier in UserID.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Owned is implemented by every tenant-scoped model so repositories can stamp
// and check the owning tenant.
type Owned interface {
	GetUserID() string
	SetUserID(tenant string)
}

// Searchable lists the columns a free-text search matches against.
type Searchable interface {
	SearchColumns() []string
}

// All returns every model in migration order (parents before children).
func All() []any {
	return []any{
		&Client{},
		&Product{},
		&Estimate{},
		&EstimateItem{},
		&Invoice{},
		&InvoiceItem{},
		&Revenue{},
		&Settings{},
		&Job{},
	}
}

// Money rounds a decimal to two places, half away from zero.
func Money(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Deref returns the pointed string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// DateOnly truncates t to midnight UTC.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
