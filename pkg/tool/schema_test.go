package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type schemaFixtureArgs struct {
	Query string `json:"query" jsonschema:"required,description=Search query"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Max results"`
}

func TestGenerateSchemaProducesObjectShape(t *testing.T) {
	schema, err := GenerateSchema[schemaFixtureArgs]()
	require.NoError(t, err)

	assert.Equal(t, "object", schema["type"])
	_, hasSchemaKey := schema["$schema"]
	assert.False(t, hasSchemaKey)

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "query")
	assert.Contains(t, props, "limit")

	required, ok := schema["required"].([]any)
	require.True(t, ok)
	assert.Contains(t, required, "query")
}

func TestMustGenerateSchemaMatchesGenerateSchema(t *testing.T) {
	want, err := GenerateSchema[schemaFixtureArgs]()
	require.NoError(t, err)
	assert.Equal(t, want, MustGenerateSchema[schemaFixtureArgs]())
}
