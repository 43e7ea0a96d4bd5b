// Package view renders the HTML email bodies sent by the worker.
// Templates are embedded and parsed once with a shared func map.
package view

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

//go:embed templates/*.html
var files embed.FS

var (
	once    sync.Once
	tpl     *template.Template
	loadErr error
)

// Funcs returns the helpers available to every template.
func Funcs() template.FuncMap {
	return template.FuncMap{
		"money": func(d decimal.Decimal, currency string) string {
			return d.StringFixed(2) + " " + currency
		},
		"date": func(t *time.Time) string {
			if t == nil {
				return "-"
			}
			return t.Format("2006-01-02")
		},
		"year": func() int { return time.Now().Year() },
	}
}

func load() {
	tpl, loadErr = template.New("email").Funcs(Funcs()).ParseFS(files, "templates/*.html")
}

// Render executes the named template (e.g. "invoice_email.html").
func Render(name string, data any) (string, error) {
	once.Do(load)
	if loadErr != nil {
		return "", fmt.Errorf("parse templates: %w", loadErr)
	}
	var buf bytes.Buffer
	if err := tpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// DocumentEmail is the data of the invoice and estimate emails.
type DocumentEmail struct {
	Company    string
	ClientName string
	Number     string
	Amount     decimal.Decimal
	Currency   string
	Date       *time.Time
	DateLabel  string
}

// Notification is the data of the generic notification email.
type Notification struct {
	Company string
	Title   string
	Message string
}
