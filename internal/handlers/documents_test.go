package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/diewo77/quotemaster/internal/httpx"
	"github.com/diewo77/quotemaster/internal/jobs"
	"github.com/diewo77/quotemaster/internal/models"
	"github.com/diewo77/quotemaster/internal/repository"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func createInvoice(t *testing.T, e *testEnv, tenant, body string) models.Invoice {
	t.Helper()
	w := e.do(tenant, http.MethodPost, "/invoices", body)
	expectStatus(t, w, http.StatusCreated)
	var inv models.Invoice
	decodeData(t, w, &inv)
	return inv
}

func TestInvoiceCreateNumbersAndTotals(t *testing.T) {
	e := newTestEnv(t)
	c := createClient(t, e, "t1", `{"name":"Ada"}`)

	body := fmt.Sprintf(`{"client_id":%d,"issue_date":"2025-03-01","items":[
		{"description":"Consulting","quantity":3,"unit_price":33.333},
		{"description":"Setup","quantity":1,"unit_price":20,"total":20}]}`, c.ID)
	inv := createInvoice(t, e, "t1", body)
	if inv.InvoiceNumber != "INV-2025-0001" {
		t.Errorf("number = %q", inv.InvoiceNumber)
	}
	if inv.Status != models.InvoiceStatusDraft {
		t.Errorf("status = %q, want draft", inv.Status)
	}
	// the unit price is stored at 33.33, so the line is 99.99
	if !inv.Total.Equal(dec("119.99")) {
		t.Errorf("total = %s, want 119.99", inv.Total)
	}
	if len(inv.Items) != 2 {
		t.Fatalf("expected 2 items got %d", len(inv.Items))
	}

	second := createInvoice(t, e, "t1", fmt.Sprintf(`{"client_id":%d,"issue_date":"2025-07-09"}`, c.ID))
	if second.InvoiceNumber != "INV-2025-0002" {
		t.Errorf("second number = %q", second.InvoiceNumber)
	}
	if !second.Total.IsZero() {
		t.Errorf("empty invoice total = %s", second.Total)
	}

	other := createClient(t, e, "t2", `{"name":"Grace"}`)
	first := createInvoice(t, e, "t2", fmt.Sprintf(`{"client_id":%d,"issue_date":"2025-01-02"}`, other.ID))
	if first.InvoiceNumber != "INV-2025-0001" {
		t.Errorf("numbers are per tenant, got %q", first.InvoiceNumber)
	}

	if n := e.jobCount(jobs.GenerateInvoicePDF); n != 3 {
		t.Errorf("expected 3 pdf jobs, got %d", n)
	}
}

func TestInvoiceCreateValidation(t *testing.T) {
	e := newTestEnv(t)
	c := createClient(t, e, "t1", `{"name":"Ada"}`)
	foreign := createClient(t, e, "t2", `{"name":"Other"}`)

	cases := []struct {
		name, body, field, reason string
	}{
		{"total mismatch", fmt.Sprintf(`{"client_id":%d,"items":[{"description":"x","quantity":2,"unit_price":10,"total":25}]}`, c.ID), "items.0.total", "total_mismatch"},
		{"foreign client", fmt.Sprintf(`{"client_id":%d}`, foreign.ID), "client_id", "not_found"},
		{"zero quantity", fmt.Sprintf(`{"client_id":%d,"items":[{"description":"x","quantity":0,"unit_price":10}]}`, c.ID), "items.0.quantity", "must_be_positive"},
		{"paid above total", fmt.Sprintf(`{"client_id":%d,"paid_amount":50,"items":[{"description":"x","quantity":1,"unit_price":10}]}`, c.ID), "paid_amount", "exceeds_total"},
		{"bad status", fmt.Sprintf(`{"client_id":%d,"status":"lost"}`, c.ID), "status", "invalid_value"},
		{"bad date", fmt.Sprintf(`{"client_id":%d,"due_date":"31/12/2025"}`, c.ID), "due_date", "invalid_date"},
		{"total before price rounding", fmt.Sprintf(`{"client_id":%d,"items":[{"description":"x","quantity":2,"unit_price":0.005,"total":0.01}]}`, c.ID), "items.0.total", "total_mismatch"},
		{"unit price too large", fmt.Sprintf(`{"client_id":%d,"items":[{"description":"x","quantity":1,"unit_price":100000000}]}`, c.ID), "items.0.unit_price", "too_large"},
		{"document total too large", fmt.Sprintf(`{"client_id":%d,"items":[
			{"description":"x","quantity":1,"unit_price":60000000},
			{"description":"y","quantity":1,"unit_price":60000000}]}`, c.ID), "total", "too_large"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := e.do("t1", http.MethodPost, "/invoices", tc.body)
			expectStatus(t, w, http.StatusBadRequest)
			body := decodeError(t, w)
			if body.Error != httpx.CodeValidationFailed {
				t.Fatalf("error = %q", body.Error)
			}
			if got := body.Details[tc.field]; got != tc.reason {
				t.Errorf("details[%s] = %v, want %s (all: %v)", tc.field, got, tc.reason, body.Details)
			}
		})
	}
}

func TestInvoiceItemTotalUsesRoundedUnitPrice(t *testing.T) {
	e := newTestEnv(t)
	c := createClient(t, e, "t1", `{"name":"Ada"}`)
	inv := createInvoice(t, e, "t1", fmt.Sprintf(`{"client_id":%d,"items":[{"description":"x","quantity":2,"unit_price":0.005,"total":0.02}]}`, c.ID))
	if len(inv.Items) != 1 || !inv.Items[0].Total.Equal(dec("0.02")) || !inv.Items[0].UnitPrice.Equal(dec("0.01")) {
		t.Fatalf("items = %+v", inv.Items)
	}
	if !inv.Total.Equal(dec("0.02")) {
		t.Errorf("total = %s, want the validated 0.02", inv.Total)
	}
}

func TestAmountsAboveColumnRange(t *testing.T) {
	e := newTestEnv(t)
	c := createClient(t, e, "t1", `{"name":"Ada"}`)
	inv := createInvoice(t, e, "t1", fmt.Sprintf(`{"client_id":%d,"status":"sent","items":[{"description":"x","quantity":1,"unit_price":10}]}`, c.ID))
	w := e.do("t1", http.MethodPost, "/estimates", fmt.Sprintf(`{"client_id":%d}`, c.ID))
	expectStatus(t, w, http.StatusCreated)
	var est models.Estimate
	decodeData(t, w, &est)

	cases := []struct {
		name, method, path, body, field string
	}{
		{"product price", http.MethodPost, "/products", `{"name":"Gold","price":1e9}`, "price"},
		{"revenue amount", http.MethodPost, "/revenue", `{"date":"2025-01-01","amount":100000000}`, "amount"},
		{"payment amount", http.MethodPost, fmt.Sprintf("/invoices/%d/payments", inv.ID), `{"amount":1e9}`, "amount"},
		{"item quantity", http.MethodPost, "/estimates", fmt.Sprintf(`{"client_id":%d,"items":[{"description":"x","quantity":3000000000,"unit_price":1}]}`, c.ID), "items.0.quantity"},
		{"estimate total on update", http.MethodPatch, fmt.Sprintf("/estimates/%d", est.ID), `{"items":[{"description":"x","quantity":1000,"unit_price":99999999.99}]}`, "total"},
		{"invoice total on update", http.MethodPatch, fmt.Sprintf("/invoices/%d", inv.ID), `{"items":[{"description":"x","quantity":2,"unit_price":50000000}]}`, "total"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := e.do("t1", tc.method, tc.path, tc.body)
			expectStatus(t, w, http.StatusBadRequest)
			if got := decodeError(t, w).Details[tc.field]; got != "too_large" {
				t.Errorf("details[%s] = %v", tc.field, got)
			}
		})
	}

	w = e.do("t1", http.MethodGet, fmt.Sprintf("/estimates/%d", est.ID), "")
	expectStatus(t, w, http.StatusOK)
	decodeData(t, w, &est)
	if !est.Total.IsZero() || len(est.Items) != 0 {
		t.Errorf("rejected update was stored: %+v", est)
	}
}

func TestInvoiceConcurrentPaymentsNeverOverpay(t *testing.T) {
	e := newTestEnv(t)
	sqlDB, err := e.db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)

	c := createClient(t, e, "t1", `{"name":"Ada"}`)
	inv := createInvoice(t, e, "t1", fmt.Sprintf(`{"client_id":%d,"status":"sent","items":[{"description":"a","quantity":1,"unit_price":100}]}`, c.ID))
	path := fmt.Sprintf("/invoices/%d/payments", inv.ID)

	const n = 5
	codes := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes <- e.do("t1", http.MethodPost, path, fmt.Sprintf(`{"amount":60,"key":"k%d"}`, i)).Code
		}(i)
	}
	wg.Wait()
	close(codes)

	created := 0
	for code := range codes {
		switch code {
		case http.StatusCreated:
			created++
		case http.StatusBadRequest:
		default:
			t.Errorf("unexpected status %d", code)
		}
	}
	if created != 1 {
		t.Fatalf("%d payments of 60 accepted against a total of 100", created)
	}

	var got models.Invoice
	decodeData(t, e.do("t1", http.MethodGet, fmt.Sprintf("/invoices/%d", inv.ID), ""), &got)
	if !got.PaidAmount.Equal(dec("60")) {
		t.Errorf("paid_amount = %s, want 60", got.PaidAmount)
	}
	if n := e.jobCount(jobs.ProcessPayment); n != 1 {
		t.Errorf("process_payment jobs = %d, want 1", n)
	}
}

func TestInvoiceDuplicateNumberConflict(t *testing.T) {
	e := newTestEnv(t)
	c := createClient(t, e, "t1", `{"name":"Ada"}`)
	body := fmt.Sprintf(`{"client_id":%d,"invoice_number":"INV-CUSTOM-1"}`, c.ID)
	createInvoice(t, e, "t1", body)
	w := e.do("t1", http.MethodPost, "/invoices", body)
	expectStatus(t, w, http.StatusConflict)
}

func TestInvoiceUpdateReplacesItems(t *testing.T) {
	e := newTestEnv(t)
	c := createClient(t, e, "t1", `{"name":"Ada"}`)
	inv := createInvoice(t, e, "t1", fmt.Sprintf(`{"client_id":%d,"items":[
		{"description":"a","quantity":1,"unit_price":10},
		{"description":"b","quantity":1,"unit_price":20}]}`, c.ID))
	path := fmt.Sprintf("/invoices/%d", inv.ID)

	w := e.do("t1", http.MethodPatch, path, `{"notes":"thanks"}`)
	expectStatus(t, w, http.StatusOK)
	var got models.Invoice
	decodeData(t, w, &got)
	if len(got.Items) != 2 || !got.Total.Equal(dec("30")) {
		t.Fatalf("notes-only update touched items: %d items, total %s", len(got.Items), got.Total)
	}
	if got.Notes == nil || *got.Notes != "thanks" {
		t.Errorf("notes = %v", got.Notes)
	}

	w = e.do("t1", http.MethodPatch, path, `{"items":[{"description":"c","quantity":4,"unit_price":2.5}]}`)
	expectStatus(t, w, http.StatusOK)
	decodeData(t, w, &got)
	if len(got.Items) != 1 || got.Items[0].Description != "c" {
		t.Fatalf("items not replaced: %+v", got.Items)
	}
	if !got.Total.Equal(dec("10")) {
		t.Errorf("total = %s, want 10", got.Total)
	}
	var stored int64
	e.db.Model(&models.InvoiceItem{}).Where("invoice_id = ?", inv.ID).Count(&stored)
	if stored != 1 {
		t.Errorf("expected 1 stored item, got %d", stored)
	}

	w = e.do("t1", http.MethodPatch, path, `{"paid_amount":11}`)
	expectStatus(t, w, http.StatusBadRequest)
	if got := decodeError(t, w).Details["paid_amount"]; got != "exceeds_total" {
		t.Errorf("paid_amount violation = %v", got)
	}

	w = e.do("t1", http.MethodPatch, path, `{"invoice_number":"  "}`)
	expectStatus(t, w, http.StatusBadRequest)
}

func TestInvoicePayments(t *testing.T) {
	e := newTestEnv(t)
	c := createClient(t, e, "t1", `{"name":"Ada"}`)
	inv := createInvoice(t, e, "t1", fmt.Sprintf(`{"client_id":%d,"status":"sent","items":[{"description":"a","quantity":2,"unit_price":50}]}`, c.ID))
	path := fmt.Sprintf("/invoices/%d/payments", inv.ID)

	w := e.do("t1", http.MethodPost, path, `{"amount":40,"date":"2025-05-01","key":"p1"}`)
	expectStatus(t, w, http.StatusCreated)
	var got models.Invoice
	decodeData(t, w, &got)
	if !got.PaidAmount.Equal(dec("40")) || got.Status != models.InvoiceStatusSent {
		t.Fatalf("after partial payment: paid %s status %s", got.PaidAmount, got.Status)
	}

	w = e.do("t1", http.MethodPost, path, `{"amount":70}`)
	expectStatus(t, w, http.StatusBadRequest)
	if got := decodeError(t, w).Details["amount"]; got != "exceeds_total" {
		t.Errorf("amount violation = %v", got)
	}

	w = e.do("t1", http.MethodPost, path, `{"amount":60}`)
	expectStatus(t, w, http.StatusCreated)
	decodeData(t, w, &got)
	if got.Status != models.InvoiceStatusPaid || !got.PaidAmount.Equal(dec("100")) {
		t.Fatalf("after full payment: paid %s status %s", got.PaidAmount, got.Status)
	}

	w = e.do("t1", http.MethodPost, path, `{"amount":1}`)
	expectStatus(t, w, http.StatusConflict)

	w = e.do("t1", http.MethodPost, path, `{"amount":0}`)
	expectStatus(t, w, http.StatusBadRequest)

	if n := e.jobCount(jobs.ProcessPayment); n != 2 {
		t.Errorf("process_payment jobs = %d, want 2", n)
	}
	if n := e.jobCount(jobs.SendNotification); n != 2 {
		t.Errorf("send_notification jobs = %d, want 2", n)
	}

	w = e.do("t2", http.MethodPost, path, `{"amount":1}`)
	expectStatus(t, w, http.StatusNotFound)
}

func TestInvoiceSendAndPDF(t *testing.T) {
	e := newTestEnv(t)
	c := createClient(t, e, "t1", `{"name":"Ada","email":"ada@example.com"}`)
	inv := createInvoice(t, e, "t1", fmt.Sprintf(`{"client_id":%d,"items":[{"description":"a","quantity":1,"unit_price":10}]}`, c.ID))

	w := e.do("t1", http.MethodPost, fmt.Sprintf("/invoices/%d/send", inv.ID), `{"to":"bad"}`)
	expectStatus(t, w, http.StatusBadRequest)

	w = e.do("t1", http.MethodPost, fmt.Sprintf("/invoices/%d/send", inv.ID), "")
	expectStatus(t, w, http.StatusAccepted)
	var out struct {
		Invoice models.Invoice `json:"invoice"`
		JobID   string         `json:"job_id"`
	}
	decodeData(t, w, &out)
	if out.Invoice.Status != models.InvoiceStatusSent {
		t.Errorf("status = %q, want sent", out.Invoice.Status)
	}
	if out.JobID == "" {
		t.Error("expected a job id")
	}
	if n := e.jobCount(jobs.SendInvoiceEmail); n != 1 {
		t.Errorf("send_invoice_email jobs = %d", n)
	}

	w = e.do("t1", http.MethodGet, fmt.Sprintf("/invoices/%d/pdf", inv.ID), "")
	expectStatus(t, w, http.StatusOK)
	if ct := w.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("content type = %q", ct)
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF-")) {
		t.Error("body is not a PDF")
	}

	w = e.do("t2", http.MethodGet, fmt.Sprintf("/invoices/%d/pdf", inv.ID), "")
	expectStatus(t, w, http.StatusNotFound)
}

func TestInvoiceListFilters(t *testing.T) {
	e := newTestEnv(t)
	a := createClient(t, e, "t1", `{"name":"A"}`)
	b := createClient(t, e, "t1", `{"name":"B"}`)
	createInvoice(t, e, "t1", fmt.Sprintf(`{"client_id":%d,"status":"sent"}`, a.ID))
	createInvoice(t, e, "t1", fmt.Sprintf(`{"client_id":%d}`, a.ID))
	createInvoice(t, e, "t1", fmt.Sprintf(`{"client_id":%d,"status":"sent"}`, b.ID))

	var list []models.Invoice
	w := e.do("t1", http.MethodGet, "/invoices?status=sent", "")
	expectStatus(t, w, http.StatusOK)
	decodeData(t, w, &list)
	if len(list) != 2 {
		t.Errorf("status filter returned %d", len(list))
	}

	w = e.do("t1", http.MethodGet, fmt.Sprintf("/invoices?status=sent&client_id=%d", b.ID), "")
	expectStatus(t, w, http.StatusOK)
	decodeData(t, w, &list)
	if len(list) != 1 || list[0].ClientID != b.ID {
		t.Errorf("client filter returned %+v", list)
	}

	w = e.do("t1", http.MethodGet, "/invoices?client_id=x", "")
	expectStatus(t, w, http.StatusBadRequest)
}

func TestEstimateLifecycle(t *testing.T) {
	e := newTestEnv(t)
	c := createClient(t, e, "t1", `{"name":"Ada"}`)
	w := e.do("t1", http.MethodPost, "/products", `{"name":"Hour","price":95}`)
	expectStatus(t, w, http.StatusCreated)
	var p models.Product
	decodeData(t, w, &p)

	w = e.do("t1", http.MethodPost, "/estimates", fmt.Sprintf(`{"client_id":%d,"issue_date":"2026-02-10","expiry_date":"2026-03-10",
		"items":[{"product_id":%d,"description":"Hour","quantity":2,"unit_price":95}]}`, c.ID, p.ID))
	expectStatus(t, w, http.StatusCreated)
	var est models.Estimate
	decodeData(t, w, &est)
	if est.EstimateNumber != "EST-2026-0001" || !est.Total.Equal(dec("190")) {
		t.Fatalf("estimate %s total %s", est.EstimateNumber, est.Total)
	}
	if est.Status != models.EstimateStatusDraft {
		t.Errorf("status = %q", est.Status)
	}

	w = e.do("t1", http.MethodPost, "/estimates", fmt.Sprintf(`{"client_id":%d,"items":[{"product_id":999,"description":"x","quantity":1,"unit_price":1}]}`, c.ID))
	expectStatus(t, w, http.StatusBadRequest)
	if got := decodeError(t, w).Details["items.0.product_id"]; got != "not_found" {
		t.Errorf("product violation = %v", got)
	}

	path := fmt.Sprintf("/estimates/%d", est.ID)
	w = e.do("t1", http.MethodPatch, path, `{"status":"accepted","expiry_date":null}`)
	expectStatus(t, w, http.StatusOK)
	decodeData(t, w, &est)
	if est.Status != models.EstimateStatusAccepted || est.ExpiryDate != nil {
		t.Errorf("after patch: status %s expiry %v", est.Status, est.ExpiryDate)
	}
	if len(est.Items) != 1 {
		t.Errorf("items dropped by patch: %d", len(est.Items))
	}

	w = e.do("t1", http.MethodPost, path+"/send", `{"to":"boss@example.com"}`)
	expectStatus(t, w, http.StatusAccepted)
	var sent struct {
		Estimate models.Estimate `json:"estimate"`
	}
	decodeData(t, w, &sent)
	if sent.Estimate.Status != models.EstimateStatusAccepted {
		t.Errorf("send changed a non-draft status to %q", sent.Estimate.Status)
	}
	if n := e.jobCount(jobs.SendEstimateEmail); n != 1 {
		t.Errorf("send_estimate_email jobs = %d", n)
	}

	w = e.do("t1", http.MethodGet, path+"/pdf", "")
	expectStatus(t, w, http.StatusOK)
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF-")) {
		t.Error("body is not a PDF")
	}

	w = e.do("t1", http.MethodDelete, fmt.Sprintf("/clients/%d", c.ID), "")
	expectStatus(t, w, http.StatusOK)
	w = e.do("t1", http.MethodGet, path, "")
	expectStatus(t, w, http.StatusNotFound)
}

func TestCreateNumberedDrawsAgainOnce(t *testing.T) {
	ctx := context.Background()
	taken := map[string]bool{"INV-2026-0001": true}
	seq := 0
	next := func(context.Context) (string, error) {
		seq++
		return fmt.Sprintf("INV-2026-%04d", seq), nil
	}
	var number string
	insert := func(context.Context) error {
		if taken[number] {
			return fmt.Errorf("%w: duplicate key", repository.ErrConflict)
		}
		taken[number] = true
		return nil
	}

	err := createNumbered(ctx, nil, next, func(n string) { number = n }, insert)
	if err != nil || number != "INV-2026-0002" {
		t.Fatalf("generated number: %q, %v", number, err)
	}

	// a chosen number is never replaced
	chosen := "INV-2026-0002"
	err = createNumbered(ctx, &chosen, next, func(n string) { number = n }, insert)
	if !errors.Is(err, repository.ErrConflict) || seq != 2 {
		t.Errorf("chosen number: err %v, numbers drawn %d", err, seq)
	}

	// only one retry
	always := func(context.Context) (string, error) { return "INV-2026-0001", nil }
	calls := 0
	err = createNumbered(ctx, nil, always, func(n string) { number = n }, func(ctx context.Context) error {
		calls++
		return insert(ctx)
	})
	if !errors.Is(err, repository.ErrConflict) || calls != 2 {
		t.Errorf("retry: err %v after %d inserts", err, calls)
	}
}

func TestEstimateItemTotalsAndTenantScope(t *testing.T) {
	e := newTestEnv(t)
	c := createClient(t, e, "T1", `{"name":"Acme Ltd"}`)

	w := e.do("T1", http.MethodPost, "/estimates", fmt.Sprintf(`{"client_id":%d,"items":[
		{"description":"Design","quantity":2,"unit_price":10,"total":20.00},
		{"description":"Hosting","quantity":1,"unit_price":5.5,"total":5.50}]}`, c.ID))
	expectStatus(t, w, http.StatusCreated)
	var est models.Estimate
	decodeData(t, w, &est)
	if !est.Total.Equal(dec("25.50")) {
		t.Errorf("total = %s, want 25.50", est.Total)
	}
	if len(est.Items) != 2 || !est.Items[0].Total.Equal(dec("20")) || !est.Items[1].Total.Equal(dec("5.5")) {
		t.Errorf("items = %+v", est.Items)
	}

	w = e.do("T2", http.MethodGet, "/estimates", "")
	expectStatus(t, w, http.StatusOK)
	var list struct {
		Data       []models.Estimate `json:"data"`
		Pagination struct {
			Total int64 `json:"total"`
		} `json:"pagination"`
	}
	decodeJSON(t, w, &list)
	if len(list.Data) != 0 || list.Pagination.Total != 0 {
		t.Errorf("T2 sees %d estimates (total %d)", len(list.Data), list.Pagination.Total)
	}
	expectStatus(t, e.do("T2", http.MethodGet, fmt.Sprintf("/estimates/%d", est.ID), ""), http.StatusNotFound)
}
