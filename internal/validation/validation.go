// Package validation checks request payloads before any write. Failures are
// collected per field so a response can list every problem at once.
package validation

import (
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Violations maps a field path (name, items.1.unit_price) to a reason code.
type Violations map[string]string

func (v Violations) Empty() bool { return len(v) == 0 }

// Add records reason for field unless the field already has one.
func (v Violations) Add(field, reason string) {
	if _, ok := v[field]; !ok {
		v[field] = reason
	}
}

// Merge copies other into v, keeping v's reasons on collisions.
func (v Violations) Merge(other Violations) {
	for f, r := range other {
		v.Add(f, r)
	}
}

// Basic validators
func Required(field, value string, v Violations) {
	if strings.TrimSpace(value) == "" {
		v.Add(field, "required")
	}
}

func NonNegative(field string, val decimal.Decimal, v Violations) {
	if val.IsNegative() {
		v.Add(field, "must_be_non_negative")
	}
}

// MaxAmount is the largest value a money column holds.
var MaxAmount = decimal.RequireFromString("99999999.99")

func MaxMoney(field string, val decimal.Decimal, v Violations) {
	if val.GreaterThan(MaxAmount) {
		v.Add(field, "too_large")
	}
}

func PositiveInt(field string, val int, v Violations) {
	if val <= 0 {
		v.Add(field, "must_be_positive")
	}
}

func MaxLen(field, value string, max int, v Violations) {
	if utf8.RuneCountInString(value) > max {
		v.Add(field, "too_long")
	}
}

func OneOf(field, value string, allowed []string, v Violations) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	v.Add(field, "invalid_value")
}

// Email accepts a bare address; display names are rejected.
func Email(field, value string, v Violations) {
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		v.Add(field, "invalid_email")
	}
}
