// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Streamward Contributors

package module

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSchema(t *testing.T) {
	data, err := GenerateSchema()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))

	assert.Equal(t, SchemaID, schema["$id"])
	assert.Equal(t, "Streamward Module Manifest", schema["title"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok, "schema should have properties")
	for _, field := range []string{"name", "version", "api-version", "executable", "description"} {
		assert.Contains(t, props, field)
	}

	required, ok := schema["required"].([]any)
	require.True(t, ok, "schema should have required fields")
	assert.Contains(t, required, "name")
	assert.Contains(t, required, "executable")
	assert.NotContains(t, required, "description")
}

func TestValidateSchema_Valid(t *testing.T) {
	t.Cleanup(ResetSchemaCache)
	assert.NoError(t, ValidateSchema([]byte(validManifestYAML())))
}

func TestValidateSchema_Empty(t *testing.T) {
	t.Cleanup(ResetSchemaCache)
	assert.Error(t, ValidateSchema(nil))
}

func TestValidateSchema_MissingRequiredField(t *testing.T) {
	t.Cleanup(ResetSchemaCache)
	err := ValidateSchema([]byte("name: dice\nversion: 1.0.0\n"))
	assert.Error(t, err, "missing api-version and executable")
}

func TestValidateSchema_WrongType(t *testing.T) {
	t.Cleanup(ResetSchemaCache)
	err := ValidateSchema([]byte(`name: dice
version: 1.0.0
api-version: 1.0.0
executable: [not, a, string]
`))
	assert.Error(t, err)
}

func TestValidateSchema_UnknownField(t *testing.T) {
	t.Cleanup(ResetSchemaCache)
	err := ValidateSchema([]byte(validManifestYAML() + "mystery: true\n"))
	assert.Error(t, err, "unknown keys are rejected")
}

func TestValidateSchema_InvalidYAML(t *testing.T) {
	t.Cleanup(ResetSchemaCache)
	assert.Error(t, ValidateSchema([]byte("name: [unclosed")))
}
