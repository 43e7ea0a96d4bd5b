package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/diewo77/quotemaster/internal/httpx"
	"github.com/diewo77/quotemaster/internal/models"
	"github.com/diewo77/quotemaster/internal/repository"
	"github.com/diewo77/quotemaster/internal/services"
	"github.com/diewo77/quotemaster/internal/validation"
)

// itemInput is one line of an estimate or invoice payload. Total is
// optional and only checked; the stored total is always recomputed.
type itemInput struct {
	ProductID   *uint            `json:"product_id"`
	Description string           `json:"description"`
	Quantity    int              `json:"quantity"`
	UnitPrice   decimal.Decimal  `json:"unit_price"`
	Total       *decimal.Decimal `json:"total"`
}

// sendInput is the optional body of the send endpoints.
type sendInput struct {
	To string `json:"to"`
}

// documentRefs checks the references a document payload makes to other
// rows of the tenant.
type documentRefs struct {
	clients  *repository.ClientStore
	products *repository.ProductStore
}

func (d documentRefs) checkClient(ctx context.Context, tenant string, id uint, v validation.Violations) error {
	ok, err := d.clients.Exists(ctx, tenant, id)
	if err != nil {
		return err
	}
	if !ok {
		v.Add("client_id", "not_found")
	}
	return nil
}

func (d documentRefs) checkItems(ctx context.Context, tenant string, items []itemInput, v validation.Violations) error {
	for i, it := range items {
		validation.Required(validation.ItemField(i, "description"), it.Description, v)
		validation.PositiveInt(validation.ItemField(i, "quantity"), it.Quantity, v)
		validation.NonNegative(validation.ItemField(i, "unit_price"), it.UnitPrice, v)
		if it.Total != nil && !services.ItemTotalMatches(it.Quantity, it.UnitPrice, *it.Total) {
			v.Add(validation.ItemField(i, "total"), "total_mismatch")
		}
		if it.ProductID != nil {
			ok, err := d.products.Exists(ctx, tenant, *it.ProductID)
			if err != nil {
				return err
			}
			if !ok {
				v.Add(validation.ItemField(i, "product_id"), "not_found")
			}
		}
	}
	return nil
}

func estimateItems(in []itemInput) []models.EstimateItem {
	out := make([]models.EstimateItem, len(in))
	for i, it := range in {
		out[i] = models.EstimateItem{
			ProductID:   it.ProductID,
			Description: strings.TrimSpace(it.Description),
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		}
	}
	return out
}

func invoiceItems(in []itemInput) []models.InvoiceItem {
	out := make([]models.InvoiceItem, len(in))
	for i, it := range in {
		out[i] = models.InvoiceItem{
			ProductID:   it.ProductID,
			Description: strings.TrimSpace(it.Description),
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		}
	}
	return out
}

// numberYear is the year used to number a new document.
func numberYear(issue *time.Time) int {
	if issue != nil {
		return issue.Year()
	}
	return time.Now().UTC().Year()
}

// createNumbered inserts a new document. A chosen number is used as is and
// a clash is the caller's conflict. A generated number is drawn again once
// when a concurrent create took it between numbering and insert.
func createNumbered(ctx context.Context, chosen *string, next func(context.Context) (string, error), set func(string), create func(context.Context) error) error {
	if n := validation.Optional(chosen); n != nil {
		set(*n)
		return create(ctx)
	}
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var num string
		if num, err = next(ctx); err != nil {
			return err
		}
		set(num)
		if err = create(ctx); !errors.Is(err, repository.ErrConflict) {
			return err
		}
	}
	return err
}

// patchNumber applies a document number patch; blank or null is rejected.
func patchNumber(field string, p validation.Patch[string], dst *string, v validation.Violations) {
	if !p.Set {
		return
	}
	n := strings.TrimSpace(p.Value)
	if p.Null || n == "" {
		v.Add(field, "required")
		return
	}
	*dst = n
}

// listDocuments parses the shared estimate/invoice list filters.
func listDocuments(w http.ResponseWriter, r *http.Request) (httpx.Page, repository.Query, bool) {
	page := httpx.ParsePage(r)
	q := repository.Query{
		Limit:  page.Limit,
		Offset: page.Offset(),
		Search: r.URL.Query().Get("search"),
	}
	if s := strings.TrimSpace(r.URL.Query().Get("status")); s != "" {
		q.Scopes = append(q.Scopes, repository.StatusScope(s))
	}
	if raw := r.URL.Query().Get("client_id"); raw != "" {
		id, ok := httpx.ParseID(raw)
		if !ok {
			httpx.JSONError(w, http.StatusBadRequest, httpx.CodeValidationFailed, validation.Violations{"client_id": "invalid_value"})
			return page, q, false
		}
		q.Scopes = append(q.Scopes, repository.ClientScope(id))
	}
	return page, q, true
}

func writePDF(w http.ResponseWriter, name string, data []byte) {
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `inline; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// sendTarget reads the optional {"to": "..."} body of a send request.
func (b *base) sendTarget(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.ContentLength == 0 {
		return "", true
	}
	var in sendInput
	body, err := httpx.ReadBody(w, r)
	if err == nil {
		err = httpx.Decode(body, &in)
	}
	if err != nil {
		b.fail(w, r, err)
		return "", false
	}
	to := strings.TrimSpace(in.To)
	if to != "" {
		v := validation.Violations{}
		validation.Email("to", to, v)
		if !v.Empty() {
			b.invalid(w, v)
			return "", false
		}
	}
	return to, true
}
