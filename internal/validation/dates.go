package validation

import (
	"strings"
	"time"
)

var dateLayouts = []string{"2006-01-02", time.RFC3339, time.RFC3339Nano}

// ParseDate accepts YYYY-MM-DD or an RFC 3339 timestamp and returns the
// calendar date at midnight UTC.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// OptionalDate parses an optional date field. Blank means no date; a value
// that does not parse records invalid_date.
func OptionalDate(field string, s *string, v Violations) *time.Time {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	t, ok := ParseDate(*s)
	if !ok {
		v.Add(field, "invalid_date")
		return nil
	}
	return &t
}

// PatchDate applies a date patch: null or blank clears, a bad value records
// invalid_date and leaves dst unchanged.
func PatchDate(field string, p Patch[string], dst **time.Time, v Violations) {
	if !p.Set {
		return
	}
	if p.Null || strings.TrimSpace(p.Value) == "" {
		*dst = nil
		return
	}
	t, ok := ParseDate(p.Value)
	if !ok {
		v.Add(field, "invalid_date")
		return
	}
	*dst = &t
}
