package kerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOfUnwrapsWrappedError(t *testing.T) {
	base := New(NotFound, "archive.Get", errors.New("boom"))
	wrapped := errors.Join(errors.New("context"), base)

	kind, ok := KindOf(wrapped)
	require.True(t, ok)
	require.Equal(t, NotFound, kind)
}

func TestKindOfFalseForUnrelatedError(t *testing.T) {
	_, ok := KindOf(errors.New("plain"))
	require.False(t, ok)
}

func TestIsMatchesSentinelByKind(t *testing.T) {
	err := Newf(Conflict, "graph.Assert", "contradiction on %s", "alice")
	require.True(t, errors.Is(err, Sentinel(Conflict)))
	require.False(t, errors.Is(err, Sentinel(NotFound)))
}

func TestErrorStringIncludesOpAndCause(t *testing.T) {
	err := New(Corruption, "archive.Open", errors.New("disk full"))
	require.Contains(t, err.Error(), "archive.Open")
	require.Contains(t, err.Error(), "corruption")
	require.Contains(t, err.Error(), "disk full")
}

func TestKindStringCoversAllSevenKinds(t *testing.T) {
	kinds := []Kind{InvalidArgument, NotFound, DimensionMismatch, ProviderUnavailable, Conflict, Corruption, ResourceExhausted}
	seen := make(map[string]bool)
	for _, k := range kinds {
		s := k.String()
		require.NotEqual(t, "unknown", s)
		require.False(t, seen[s], "duplicate string for kind %v", k)
		seen[s] = true
	}
}
