package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Capability{Name: "web_search"}))
	assert.Error(t, r.Register(Capability{Name: "web_search"}))
	assert.Error(t, r.Register(Capability{}))

	caps, err := r.Resolve([]string{"web_search"})
	require.NoError(t, err)
	assert.Equal(t, "web_search", caps[0].Name)

	_, err = r.Resolve([]string{"web_search", "teleport"})
	assert.ErrorContains(t, err, "teleport")
}

func TestDefaultRegistryHasBuiltins(t *testing.T) {
	assert.Equal(t, []string{"current_time", "image_generation", "web_search"}, DefaultRegistry.Names())
}
