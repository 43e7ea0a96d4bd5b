package validation

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Patch is a field of a partial update. Set is false when the key was
// absent; Null is true when it was sent as null.
type Patch[T any] struct {
	Set   bool
	Null  bool
	Value T
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Patch[T]) UnmarshalJSON(b []byte) error {
	p.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		p.Null = true
		return nil
	}
	return json.Unmarshal(b, &p.Value)
}

// Present reports whether a non-null value was sent.
func (p Patch[T]) Present() bool { return p.Set && !p.Null }

// ApplyOptional writes an optional string field. null and blank strings
// clear it; an absent key leaves it untouched.
func ApplyOptional(p Patch[string], dst **string) {
	if !p.Set {
		return
	}
	if p.Null || strings.TrimSpace(p.Value) == "" {
		*dst = nil
		return
	}
	v := strings.TrimSpace(p.Value)
	*dst = &v
}

// Optional normalises a create payload field: blank becomes nil.
func Optional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
