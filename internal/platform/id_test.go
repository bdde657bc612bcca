package platform

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID_ReturnsValidUUIDString(t *testing.T) {
	id := NewID()
	assert.NotEmpty(t, id)
	assert.Regexp(t, `^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`, id)
}

func TestNewID_ReturnsUniqueValues(t *testing.T) {
	seen := make(map[string]bool, 100)
	for i := 0; i < 100; i++ {
		id := NewID()
		assert.False(t, seen[id], "duplicate ID generated: %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, 100)
}

func TestNewSecret_Format(t *testing.T) {
	secret, err := NewSecret("cdt_")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(secret, "cdt_"))
	// "cdt_" + 64 hex chars
	assert.Len(t, secret, 68)
	assert.Regexp(t, `^cdt_[0-9a-f]{64}$`, secret)
}

func TestNewSecret_Unique(t *testing.T) {
	a, err := NewSecret("cdt_")
	require.NoError(t, err)
	b, err := NewSecret("cdt_")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
