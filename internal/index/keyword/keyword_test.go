package keyword

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestAddThenSearchRanksByMatchingTermCount(t *testing.T) {
	idx := openTestIndex(t)
	require.NoError(t, idx.Add("rec1", "dragons guard ancient treasure hoards"))
	require.NoError(t, idx.Add("rec2", "dragons sleep in ancient caves"))
	require.NoError(t, idx.Add("rec3", "weather forecast for tomorrow"))

	hits := idx.Search("dragons ancient treasure", 10)
	require.Equal(t, []string{"rec1", "rec2"}, hits)
}

func TestAddReplacesPriorTermsForSameID(t *testing.T) {
	idx := openTestIndex(t)
	require.NoError(t, idx.Add("rec1", "dragons guard treasure"))
	require.NoError(t, idx.Add("rec1", "weather forecast tomorrow"))

	require.Empty(t, idx.Lookup("dragons"))
	require.Contains(t, idx.Lookup("weather"), "rec1")
}

func TestRemoveUnlinksFromPostings(t *testing.T) {
	idx := openTestIndex(t)
	require.NoError(t, idx.Add("rec1", "dragons guard treasure"))
	require.NoError(t, idx.Remove("rec1"))
	require.Empty(t, idx.Lookup("dragons"))
	require.Empty(t, idx.Search("dragons", 10))
}

func TestLookupIsSortedForDeterminism(t *testing.T) {
	idx := openTestIndex(t)
	require.NoError(t, idx.Add("zebra", "dragons"))
	require.NoError(t, idx.Add("apple", "dragons"))
	require.Equal(t, []string{"apple", "zebra"}, idx.Lookup("dragons"))
}

func TestCompactSurvivesReopenWithSamePostings(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(dir, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, idx.Add("rec1", "dragons guard treasure"))
	require.NoError(t, idx.Compact())
	require.NoError(t, idx.Close())

	reopened, err := Open(dir, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })
	require.Contains(t, reopened.Lookup("dragons"), "rec1")
}
