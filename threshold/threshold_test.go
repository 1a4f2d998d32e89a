package threshold

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePrecedence(t *testing.T) {
	tb := NewTable()
	require.NoError(t, tb.Set(EntityAll, 128))
	require.NoError(t, tb.Set("UA", 99999))
	require.NoError(t, tb.Set("10.0.0.0/8", 500))
	require.NoError(t, tb.Set("1.2.3.4", 10))

	assert.Equal(t, uint64(10), tb.Resolve("1.2.3.4", "US"))
	assert.Equal(t, uint64(500), tb.Resolve("10.1.2.3", "US"))
	assert.Equal(t, uint64(99999), tb.Resolve("5.6.7.8", "UA"))
	assert.Equal(t, uint64(128), tb.Resolve("5.6.7.8", "US"))
}

func TestResolveFirstMatchingCIDRWins(t *testing.T) {
	tb := NewTable()
	require.NoError(t, tb.Set(EntityAll, 1))
	require.NoError(t, tb.Set("10.0.0.0/8", 100))
	require.NoError(t, tb.Set("10.1.0.0/16", 200))

	// declaration-order first match wins, not longest prefix
	assert.Equal(t, uint64(100), tb.Resolve("10.1.2.3", ""))
}

func TestHasAll(t *testing.T) {
	tb := NewTable()
	assert.False(t, tb.HasAll())
	require.NoError(t, tb.Set(EntityAll, 1))
	assert.True(t, tb.HasAll())
}

func TestSetInvalidCIDR(t *testing.T) {
	tb := NewTable()
	err := tb.Set("not-a-cidr/99", 1)
	assert.Error(t, err)
}

func TestNoneSentinel(t *testing.T) {
	tb := NewTable()
	require.NoError(t, tb.Set(EntityAll, None))
	assert.Equal(t, None, tb.Resolve("8.8.8.8", "US"))
}
