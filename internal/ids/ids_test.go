package ids

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNewReturnsDistinctParsableUUIDs(t *testing.T) {
	a := New()
	b := New()
	require.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	require.NoError(t, err)
}

func TestNewWithPrefixPrependsPrefixToAParsableUUID(t *testing.T) {
	id := NewWithPrefix("mem")
	require.True(t, len(id) > len("mem_"))
	require.Equal(t, "mem_", id[:4])
	_, err := uuid.Parse(id[4:])
	require.NoError(t, err)
}
