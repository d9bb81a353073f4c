package vector

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kittclouds/memoryd/internal/kerrors"
)

func TestLiteModeUpsertIsNoOpAndSearchIsUnavailable(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "vectors.db"), 4, true)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	require.True(t, idx.Lite())
	require.NoError(t, idx.Upsert("rec1", []float32{1, 2, 3, 4}))

	_, err = idx.Search([]float32{1, 2, 3, 4}, 5)
	require.Error(t, err)
	kind, ok := kerrors.KindOf(err)
	require.True(t, ok)
	require.Equal(t, kerrors.ProviderUnavailable, kind)
}

func TestUpsertThenSearchReturnsNearestNeighborFirst(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "vectors.db"), 3, false)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	require.NoError(t, idx.Upsert("near", []float32{1, 0, 0}))
	require.NoError(t, idx.Upsert("far", []float32{0, 0, 10}))

	hits, err := idx.Search([]float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	require.Equal(t, "near", hits[0].ID)
}

func TestUpsertRejectsDimensionMismatch(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "vectors.db"), 3, false)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	err = idx.Upsert("rec1", []float32{1, 2})
	require.Error(t, err)
	kind, ok := kerrors.KindOf(err)
	require.True(t, ok)
	require.Equal(t, kerrors.DimensionMismatch, kind)
}

func TestRemoveDropsEmbeddingFromResults(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "vectors.db"), 3, false)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	require.NoError(t, idx.Upsert("rec1", []float32{1, 1, 1}))
	require.NoError(t, idx.Remove("rec1"))

	hits, err := idx.Search([]float32{1, 1, 1}, 5)
	require.NoError(t, err)
	require.Empty(t, hits)
}
