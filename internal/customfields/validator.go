// Package customfields validates the free-form extension map carried by cases.
package customfields

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// FieldError is a single schema violation.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError lists every violation found in one document.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return "custom fields invalid: " + strings.Join(parts, "; ")
}

// Validator checks case extension fields against a JSON schema compiled once
// at startup. A nil Validator accepts everything.
type Validator struct {
	schema   *gojsonschema.Schema
	defaults map[string]any
}

// Load reads and compiles the schema at path. An empty path yields a
// Validator that accepts any extension map.
func Load(path string) (*Validator, error) {
	if path == "" {
		return &Validator{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read custom field schema: %w", err)
	}
	return New(raw)
}

// New compiles a schema document.
func New(schemaJSON []byte) (*Validator, error) {
	if !json.Valid(schemaJSON) {
		return nil, fmt.Errorf("custom field schema is not valid JSON")
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("compile custom field schema: %w", err)
	}
	var doc struct {
		Properties map[string]struct {
			Default any `json:"default"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(schemaJSON, &doc); err != nil {
		return nil, fmt.Errorf("read custom field defaults: %w", err)
	}
	v := &Validator{schema: schema}
	for name, prop := range doc.Properties {
		if prop.Default == nil {
			continue
		}
		if v.defaults == nil {
			v.defaults = make(map[string]any)
		}
		v.defaults[name] = prop.Default
	}
	return v, nil
}

// Defaults returns a fresh map of the top-level property defaults declared by the schema.
func (v *Validator) Defaults() map[string]any {
	if v == nil || len(v.defaults) == 0 {
		return nil
	}
	out := make(map[string]any, len(v.defaults))
	for k, val := range v.defaults {
		out[k] = val
	}
	return out
}

// Validate returns a *ValidationError when extra violates the schema.
func (v *Validator) Validate(extra map[string]any) error {
	if v == nil || v.schema == nil {
		return nil
	}
	if extra == nil {
		extra = map[string]any{}
	}
	result, err := v.schema.Validate(gojsonschema.NewGoLoader(extra))
	if err != nil {
		return fmt.Errorf("validate custom fields: %w", err)
	}
	if result.Valid() {
		return nil
	}
	verr := &ValidationError{}
	for _, re := range result.Errors() {
		verr.Errors = append(verr.Errors, FieldError{Field: re.Field(), Message: re.Description()})
	}
	return verr
}
