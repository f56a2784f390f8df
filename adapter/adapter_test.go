package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry_BuiltinAdaptersRegistered(t *testing.T) {
	for _, apiType := range []string{"openai", "gemini", "zhipu"} {
		a, err := Default.Lookup(apiType)
		require.NoError(t, err)
		assert.Equal(t, apiType, a.APIType())
	}
}

func TestRegistry_RegisterDuplicateRejected(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewOpenAI("https://example.com")))
	err := r.Register(NewOpenAI("https://example.com"))
	assert.Error(t, err)
}

func TestRegistry_LookupUnknownReturnsConfigError(t *testing.T) {
	r := NewRegistry()
	_, err := r.Lookup("does-not-exist")
	assert.Error(t, err)
}
