package jsonschema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleArgs struct {
	Query string `json:"query" jsonschema:"required,description=Search query"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Max results"`
}

func TestGenerate_ProducesObjectSchema(t *testing.T) {
	schema, err := Generate[sampleArgs]()
	require.NoError(t, err)

	assert.Equal(t, "object", schema["type"])
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "query")
	assert.Contains(t, props, "limit")

	required, ok := schema["required"].([]any)
	require.True(t, ok)
	assert.Contains(t, required, "query")
}

func TestValidate_AcceptsConformingData(t *testing.T) {
	schema, err := Generate[sampleArgs]()
	require.NoError(t, err)

	err = Validate(schema, map[string]any{"query": "weather", "limit": 5})
	assert.NoError(t, err)
}

func TestValidate_RejectsMissingRequiredField(t *testing.T) {
	schema, err := Generate[sampleArgs]()
	require.NoError(t, err)

	err = Validate(schema, map[string]any{"limit": 5})
	assert.Error(t, err)
}

func TestValidate_CachesCompiledSchemaAcrossCalls(t *testing.T) {
	schema, err := Generate[sampleArgs]()
	require.NoError(t, err)

	require.NoError(t, Validate(schema, map[string]any{"query": "a"}))
	require.NoError(t, Validate(schema, map[string]any{"query": "b"}))
}
