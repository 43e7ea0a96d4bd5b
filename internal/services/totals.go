// Package services holds business computations shared by handlers and jobs:
// document totals, numbering and revenue reporting.
package services

import (
	"github.com/shopspring/decimal"

	"github.com/diewo77/quotemaster/internal/models"
)

// Line is the part of a document item that drives its total.
type Line struct {
	Quantity  int
	UnitPrice decimal.Decimal
}

// LineTotal returns quantity × unit price rounded to cents.
func LineTotal(qty int, unitPrice decimal.Decimal) decimal.Decimal {
	return models.Money(unitPrice.Mul(decimal.NewFromInt(int64(qty))))
}

// DocumentTotal sums the rounded line totals. Each line is quantized before
// accumulation so the document total equals the sum of the printed lines.
func DocumentTotal(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(LineTotal(l.Quantity, l.UnitPrice))
	}
	return models.Money(sum)
}

// ApplyEstimateTotals recomputes every item total and the estimate total,
// and renumbers item positions.
func ApplyEstimateTotals(e *models.Estimate) {
	lines := make([]Line, len(e.Items))
	for i := range e.Items {
		it := &e.Items[i]
		it.Position = i
		it.UnitPrice = models.Money(it.UnitPrice)
		it.Total = LineTotal(it.Quantity, it.UnitPrice)
		lines[i] = Line{Quantity: it.Quantity, UnitPrice: it.UnitPrice}
	}
	e.Total = DocumentTotal(lines)
}

// ApplyInvoiceTotals is ApplyEstimateTotals for invoices.
func ApplyInvoiceTotals(inv *models.Invoice) {
	lines := make([]Line, len(inv.Items))
	for i := range inv.Items {
		it := &inv.Items[i]
		it.Position = i
		it.UnitPrice = models.Money(it.UnitPrice)
		it.Total = LineTotal(it.Quantity, it.UnitPrice)
		lines[i] = Line{Quantity: it.Quantity, UnitPrice: it.UnitPrice}
	}
	inv.Total = DocumentTotal(lines)
}

// ItemTotalMatches reports whether a client-supplied item total equals the
// total that will be stored, with the unit price rounded to cents first.
func ItemTotalMatches(qty int, unitPrice, supplied decimal.Decimal) bool {
	return LineTotal(qty, models.Money(unitPrice)).Equal(models.Money(supplied))
}
