package toolregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func weatherTool() *Tool {
	return NewTool("get_weather", "looks up current weather").
		AddParameter("location", map[string]any{"type": "string"}, true).
		AddParameter("units", map[string]any{"type": "string", "enum": []string{"celsius", "fahrenheit"}}, false)
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(weatherTool()))

	tool, ok := r.Lookup("get_weather")
	require.True(t, ok)
	assert.Equal(t, "get_weather", tool.Name)
}

func TestRegistry_ValidateAcceptsWellFormedArguments(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(weatherTool()))

	err := r.Validate("get_weather", `{"location":"Paris","units":"celsius"}`)
	assert.NoError(t, err)
}

func TestRegistry_ValidateRejectsMissingRequiredField(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(weatherTool()))

	err := r.Validate("get_weather", `{"units":"celsius"}`)
	assert.Error(t, err)
}

func TestRegistry_ValidateRejectsWrongType(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(weatherTool()))

	err := r.Validate("get_weather", `{"location":42}`)
	assert.Error(t, err)
}

func TestRegistry_ValidateRejectsMalformedJSON(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(weatherTool()))

	err := r.Validate("get_weather", `{"location":`)
	assert.Error(t, err)
}

func TestRegistry_ValidateUnknownToolErrors(t *testing.T) {
	r := NewRegistry()
	err := r.Validate("does_not_exist", `{}`)
	assert.Error(t, err)
}

func TestRegistry_DefinitionsListsAllRegisteredTools(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(weatherTool()))
	require.NoError(t, r.Register(NewTool("ping", "no-op")))

	defs := r.Definitions()
	assert.Len(t, defs, 2)
}
