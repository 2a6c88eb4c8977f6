package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsJsonContentType(t *testing.T) {
	t.Parallel()

	assert.False(t, IsJSONContentType(""))
	assert.False(t, IsJSONContentType(" "))
	assert.False(t, IsJSONContentType("foo"))
	assert.False(t, IsJSONContentType("application/yaml"))
	assert.False(t, IsJSONContentType("application/vnd.foo.api+yaml"))
	assert.False(t, IsJSONContentType("application/x-resource+yaml"))
	assert.False(t, IsJSONContentType("application/x-collection+yaml"))
	assert.False(t, IsJSONContentType("application/json-foo"))
	assert.False(t, IsJSONContentType("application/foo-json"))
	assert.False(t, IsJSONContentType("text/plain; charset=utf-8"))

	assert.True(t, IsJSONContentType("application/json"))
	assert.True(t, IsJSONContentType("application/json; charset=utf-8"))
	assert.True(t, IsJSONContentType("Application/JSON"))
	assert.True(t, IsJSONContentType("application/vnd.foo.api+json"))
	assert.True(t, IsJSONContentType("application/x-resource+json"))
	assert.True(t, IsJSONContentType("application/x-collection+json"))
}
