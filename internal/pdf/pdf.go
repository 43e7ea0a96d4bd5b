// Package pdf renders invoices and estimates with gofpdf core fonts.
package pdf

import (
	"bytes"
	"fmt"
	"time"

	"github.com/phpdave11/gofpdf"
	"github.com/shopspring/decimal"

	"github.com/diewo77/quotemaster/internal/models"
)

// Party is the company or client block printed in the header.
type Party struct {
	Name    string
	Address string
	Email   string
	Phone   string
	TaxID   string
}

// Line is one printed item row.
type Line struct {
	Description string
	Quantity    int
	UnitPrice   decimal.Decimal
	Total       decimal.Decimal
}

// Document is everything printed on one page set.
type Document struct {
	Title     string // INVOICE or ESTIMATE
	Number    string
	Status    string
	IssueDate *time.Time
	// DateLabel names the second date: "Due date" or "Valid until".
	DateLabel string
	Date      *time.Time
	Currency  string
	Company   Party
	Client    Party
	Lines     []Line
	Total     decimal.Decimal
	// Paid and Balance are printed for invoices only.
	Paid    *decimal.Decimal
	Balance *decimal.Decimal
	Notes   string
}

// FromInvoice builds the printable form of an invoice with its items loaded.
func FromInvoice(inv *models.Invoice, client *models.Client, settings *models.Settings) Document {
	paid := inv.PaidAmount
	balance := inv.Balance()
	doc := Document{
		Title:     "INVOICE",
		Number:    inv.InvoiceNumber,
		Status:    string(inv.Status),
		IssueDate: inv.IssueDate,
		DateLabel: "Due date",
		Date:      inv.DueDate,
		Total:     inv.Total,
		Paid:      &paid,
		Balance:   &balance,
		Notes:     models.Deref(inv.Notes),
	}
	for _, it := range inv.Items {
		doc.Lines = append(doc.Lines, Line{it.Description, it.Quantity, it.UnitPrice, it.Total})
	}
	fillParties(&doc, client, settings)
	return doc
}

// FromEstimate builds the printable form of an estimate with its items loaded.
func FromEstimate(e *models.Estimate, client *models.Client, settings *models.Settings) Document {
	doc := Document{
		Title:     "ESTIMATE",
		Number:    e.EstimateNumber,
		Status:    string(e.Status),
		IssueDate: e.IssueDate,
		DateLabel: "Valid until",
		Date:      e.ExpiryDate,
		Total:     e.Total,
		Notes:     models.Deref(e.Notes),
	}
	for _, it := range e.Items {
		doc.Lines = append(doc.Lines, Line{it.Description, it.Quantity, it.UnitPrice, it.Total})
	}
	fillParties(&doc, client, settings)
	return doc
}

func fillParties(doc *Document, client *models.Client, settings *models.Settings) {
	doc.Currency = models.DefaultCurrency
	if settings != nil {
		if settings.Currency != "" {
			doc.Currency = settings.Currency
		}
		doc.Company = Party{
			Name:    models.Deref(settings.CompanyName),
			Address: models.Deref(settings.CompanyAddress),
			Email:   models.Deref(settings.CompanyEmail),
			Phone:   models.Deref(settings.CompanyPhone),
			TaxID:   models.Deref(settings.TaxNumber),
		}
	}
	if client != nil {
		doc.Client = Party{
			Name:    client.DisplayName(),
			Address: models.Deref(client.Address),
			Email:   models.Deref(client.Email),
			Phone:   models.Deref(client.Phone),
		}
	}
}

// Render lays out doc on A4 pages and returns the PDF bytes.
func Render(doc Document) ([]byte, error) {
	f := gofpdf.New("P", "mm", "A4", "")
	tr := f.UnicodeTranslatorFromDescriptor("")
	f.SetTitle(doc.Title+" "+doc.Number, true)
	f.SetCreator("QuoteMaster", true)
	f.SetAutoPageBreak(true, 20)
	f.AliasNbPages("")
	f.SetFooterFunc(func() {
		f.SetY(-15)
		f.SetFont("Helvetica", "I", 8)
		f.SetTextColor(128, 128, 128)
		f.CellFormat(0, 10, fmt.Sprintf("%s %s - page %d/{nb}", doc.Title, doc.Number, f.PageNo()), "", 0, "C", false, 0, "")
	})
	f.AddPage()

	// header
	f.SetFont("Helvetica", "B", 20)
	f.SetTextColor(33, 37, 41)
	f.CellFormat(110, 10, tr(doc.Company.Name), "", 0, "L", false, 0, "")
	f.CellFormat(0, 10, doc.Title, "", 1, "R", false, 0, "")
	f.SetFont("Helvetica", "", 9)
	for _, l := range partyLines(doc.Company) {
		f.CellFormat(110, 5, tr(l), "", 1, "L", false, 0, "")
	}
	f.Ln(4)

	f.SetFont("Helvetica", "", 10)
	meta := [][2]string{
		{"Number", doc.Number},
		{"Status", doc.Status},
		{"Issue date", formatDate(doc.IssueDate)},
		{doc.DateLabel, formatDate(doc.Date)},
	}
	y := f.GetY()
	for _, m := range meta {
		f.SetX(120)
		f.SetFont("Helvetica", "B", 10)
		f.CellFormat(35, 6, m[0], "", 0, "L", false, 0, "")
		f.SetFont("Helvetica", "", 10)
		f.CellFormat(0, 6, tr(m[1]), "", 1, "R", false, 0, "")
	}

	f.SetY(y)
	f.SetFont("Helvetica", "B", 10)
	f.CellFormat(100, 6, "Bill to", "", 1, "L", false, 0, "")
	f.SetFont("Helvetica", "", 10)
	f.CellFormat(100, 6, tr(doc.Client.Name), "", 1, "L", false, 0, "")
	for _, l := range partyLines(doc.Client) {
		f.CellFormat(100, 5, tr(l), "", 1, "L", false, 0, "")
	}
	if f.GetY() < y+30 {
		f.SetY(y + 30)
	}
	f.Ln(6)

	// items
	widths := []float64{95, 20, 35, 40}
	f.SetFillColor(233, 236, 239)
	f.SetFont("Helvetica", "B", 10)
	for i, h := range []string{"Description", "Qty", "Unit price", "Total"} {
		align := "R"
		if i == 0 {
			align = "L"
		}
		f.CellFormat(widths[i], 8, h, "B", 0, align, true, 0, "")
	}
	f.Ln(-1)
	f.SetFont("Helvetica", "", 10)
	for _, line := range doc.Lines {
		f.CellFormat(widths[0], 7, tr(line.Description), "", 0, "L", false, 0, "")
		f.CellFormat(widths[1], 7, fmt.Sprintf("%d", line.Quantity), "", 0, "R", false, 0, "")
		f.CellFormat(widths[2], 7, formatMoney(line.UnitPrice, doc.Currency), "", 0, "R", false, 0, "")
		f.CellFormat(widths[3], 7, formatMoney(line.Total, doc.Currency), "", 1, "R", false, 0, "")
	}
	f.Ln(3)

	// totals
	totals := [][2]string{{"Total", formatMoney(doc.Total, doc.Currency)}}
	if doc.Paid != nil {
		totals = append(totals, [2]string{"Paid", formatMoney(*doc.Paid, doc.Currency)})
	}
	if doc.Balance != nil {
		totals = append(totals, [2]string{"Balance due", formatMoney(*doc.Balance, doc.Currency)})
	}
	for i, t := range totals {
		style := ""
		if i == len(totals)-1 {
			style = "B"
		}
		f.SetX(120)
		f.SetFont("Helvetica", style, 10)
		f.CellFormat(35, 7, t[0], "T", 0, "L", false, 0, "")
		f.CellFormat(0, 7, t[1], "T", 1, "R", false, 0, "")
	}

	if doc.Notes != "" {
		f.Ln(8)
		f.SetFont("Helvetica", "B", 10)
		f.CellFormat(0, 6, "Notes", "", 1, "L", false, 0, "")
		f.SetFont("Helvetica", "", 9)
		f.MultiCell(0, 5, tr(doc.Notes), "", "L", false)
	}

	var buf bytes.Buffer
	if err := f.Output(&buf); err != nil {
		return nil, fmt.Errorf("render %s %s: %w", doc.Title, doc.Number, err)
	}
	return buf.Bytes(), nil
}

// InvoicePDF renders an invoice.
func InvoicePDF(inv *models.Invoice, client *models.Client, settings *models.Settings) ([]byte, error) {
	return Render(FromInvoice(inv, client, settings))
}

// EstimatePDF renders an estimate.
func EstimatePDF(e *models.Estimate, client *models.Client, settings *models.Settings) ([]byte, error) {
	return Render(FromEstimate(e, client, settings))
}

// InvoiceFileName is the name the worker writes an invoice PDF under.
func InvoiceFileName(id uint) string {
	return fmt.Sprintf("invoice-%d.pdf", id)
}

// EstimateFileName is the download name of an estimate PDF.
func EstimateFileName(id uint) string {
	return fmt.Sprintf("estimate-%d.pdf", id)
}

func partyLines(p Party) []string {
	var out []string
	for _, v := range []string{p.Address, p.Email, p.Phone} {
		if v != "" {
			out = append(out, v)
		}
	}
	if p.TaxID != "" {
		out = append(out, "Tax ID: "+p.TaxID)
	}
	return out
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02")
}

func formatMoney(d decimal.Decimal, currency string) string {
	return d.StringFixed(2) + " " + currency
}
