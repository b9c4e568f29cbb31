package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type weatherArgs struct {
	Location string `json:"location" jsonschema:"description=City name"`
	Unit     string `json:"unit,omitempty"`
}

func TestNew_ReflectsSchema(t *testing.T) {
	def := New[weatherArgs]("get_weather", "Look up current weather")
	assert.Equal(t, "get_weather", def.Name)
	require.NotNil(t, def.Parameters)

	m, err := def.SchemaMap()
	require.NoError(t, err)
	assert.Equal(t, "object", m["type"])

	props, ok := m["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "location")
	assert.Contains(t, props, "unit")
}

func TestSchemaMap_NilParameters(t *testing.T) {
	m, err := Definition{Name: "noop"}.SchemaMap()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"type": "object"}, m)
}
