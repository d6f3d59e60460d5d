package customfields

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const caseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "priority": {"type": "string", "enum": ["low", "normal", "high"]},
    "sla_hours": {"type": "integer", "minimum": 1}
  },
  "additionalProperties": false
}`

func TestValidatorAcceptsValidExtra(t *testing.T) {
	v, err := New([]byte(caseSchema))
	require.NoError(t, err)
	assert.NoError(t, v.Validate(map[string]any{"priority": "high", "sla_hours": 4}))
	assert.NoError(t, v.Validate(nil))
}

func TestValidatorRejectsUnknownAndBadValues(t *testing.T) {
	v, err := New([]byte(caseSchema))
	require.NoError(t, err)

	err = v.Validate(map[string]any{"priority": "urgent", "color": "red"})
	require.Error(t, err)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Errors, 2)
	assert.Contains(t, err.Error(), "priority")
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "case.schema.json")
	require.NoError(t, os.WriteFile(path, []byte(caseSchema), 0o600))
	v, err := Load(path)
	require.NoError(t, err)
	assert.Error(t, v.Validate(map[string]any{"sla_hours": 0}))

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestEmptyValidatorAcceptsAnything(t *testing.T) {
	v, err := Load("")
	require.NoError(t, err)
	assert.NoError(t, v.Validate(map[string]any{"anything": true}))
	var nilV *Validator
	assert.NoError(t, nilV.Validate(map[string]any{"x": 1}))

	_, err = New([]byte("{not json"))
	assert.Error(t, err)
}

func TestDefaultsFromSchema(t *testing.T) {
	v, err := New([]byte(`{
  "type": "object",
  "properties": {
    "priority": {"type": "string", "default": "normal"},
    "sla_hours": {"type": "integer", "default": 24},
    "notes": {"type": "string"}
  }
}`))
	require.NoError(t, err)
	defaults := v.Defaults()
	assert.Equal(t, map[string]any{"priority": "normal", "sla_hours": float64(24)}, defaults)
	assert.NoError(t, v.Validate(defaults))

	defaults["priority"] = "changed"
	assert.Equal(t, "normal", v.Defaults()["priority"])

	empty, err := Load("")
	require.NoError(t, err)
	assert.Nil(t, empty.Defaults())
}
