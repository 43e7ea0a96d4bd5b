package validation

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
)

//go:embed schemas/*.json
var schemaFiles embed.FS

// Schema names, one per payload.
const (
	ClientCreate   = "client.create"
	ClientUpdate   = "client.update"
	ProductCreate  = "product.create"
	ProductUpdate  = "product.update"
	EstimateCreate = "estimate.create"
	EstimateUpdate = "estimate.update"
	InvoiceCreate  = "invoice.create"
	InvoiceUpdate  = "invoice.update"
	PaymentCreate  = "payment.create"
	RevenueCreate  = "revenue.create"
	SettingsUpdate = "settings.update"
	AdminLogin     = "admin.login"
)

// ErrUnknownSchema is returned for a name with no embedded document.
var ErrUnknownSchema = errors.New("unknown schema")

// reasons maps the failing keyword to the reason code reported to clients.
var reasons = map[string]string{
	"minLength":        "required",
	"maxLength":        "too_long",
	"type":             "invalid_type",
	"minimum":          "must_be_non_negative",
	"maximum":          "too_large",
	"exclusiveMinimum": "must_be_positive",
	"enum":             "invalid_value",
	"pattern":          "invalid_format",
	"format":           "invalid_format",
	"maxItems":         "too_many",
}

// Validator holds the compiled payload schemas.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

var (
	defaultOnce      sync.Once
	defaultValidator *Validator
	defaultErr       error
)

// Default returns the validator built from the embedded schemas. The
// schemas are compiled once per process.
func Default() (*Validator, error) {
	defaultOnce.Do(func() {
		defaultValidator, defaultErr = NewValidator()
	})
	return defaultValidator, defaultErr
}

// MustDefault is Default for process start-up, where a broken schema is fatal.
func MustDefault() *Validator {
	v, err := Default()
	if err != nil {
		panic(err)
	}
	return v
}

// NewValidator compiles every schema under schemas/.
func NewValidator() (*Validator, error) {
	entries, err := schemaFiles.ReadDir("schemas")
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		raw, err := schemaFiles.ReadFile(path.Join("schemas", e.Name()))
		if err != nil {
			return nil, err
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to parse schema %s: %w", e.Name(), err)
		}
		if err := c.AddResource(e.Name(), doc); err != nil {
			return nil, fmt.Errorf("failed to add schema resource %s: %w", e.Name(), err)
		}
		names = append(names, e.Name())
	}
	v := &Validator{schemas: make(map[string]*jsonschema.Schema, len(names))}
	for _, file := range names {
		sch, err := c.Compile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema %s: %w", file, err)
		}
		v.schemas[strings.TrimSuffix(file, ".json")] = sch
	}
	return v, nil
}

// Validate checks body against the named schema. It returns an error only
// when body is not JSON or the schema is unknown; field problems are
// returned as Violations.
func (v *Validator) Validate(name string, body []byte) (Violations, error) {
	sch, ok := v.schemas[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSchema, name)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	out := Violations{}
	err = sch.Validate(inst)
	if err == nil {
		return out, nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return nil, err
	}
	collect(ve, out)
	return out, nil
}

// collect walks to the leaf errors, which name the failing keyword.
func collect(ve *jsonschema.ValidationError, out Violations) {
	if len(ve.Causes) > 0 {
		for _, c := range ve.Causes {
			collect(c, out)
		}
		return
	}
	field := fieldKey(ve.InstanceLocation)
	if req, ok := ve.ErrorKind.(*kind.Required); ok {
		for _, missing := range req.Missing {
			out.Add(joinField(field, missing), "required")
		}
		return
	}
	reason := "invalid"
	if kp := ve.ErrorKind.KeywordPath(); len(kp) > 0 {
		if r, ok := reasons[kp[len(kp)-1]]; ok {
			reason = r
		}
	}
	out.Add(field, reason)
}

func fieldKey(loc []string) string {
	if len(loc) == 0 {
		return "body"
	}
	return strings.Join(loc, ".")
}

func joinField(parent, child string) string {
	if parent == "body" {
		return child
	}
	return parent + "." + child
}

// ItemField names a field of the i-th document item.
func ItemField(i int, field string) string {
	return "items." + strconv.Itoa(i) + "." + field
}
