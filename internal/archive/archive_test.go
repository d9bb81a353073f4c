package archive

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/memoryd/internal/record"
)

func openTestArchive(t *testing.T, volumeCapacity, recordsPerFile int) *Archive {
	t.Helper()
	a, err := Open(t.TempDir(), volumeCapacity, recordsPerFile, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestAppendThenGetByOrdinalAndID(t *testing.T) {
	a := openTestArchive(t, 100, 10)

	ord, err := a.Append(record.Record{ID: "rec-1", Content: "hello world"})
	require.NoError(t, err)
	require.Equal(t, int64(0), ord)

	got, err := a.Get(ord)
	require.NoError(t, err)
	require.Equal(t, "hello world", got.Content)

	byID, err := a.GetByID("rec-1")
	require.NoError(t, err)
	require.Equal(t, ord, byID.Ordinal)
}

func TestAppendAssignsStrictlyIncreasingOrdinals(t *testing.T) {
	a := openTestArchive(t, 100, 10)
	var ords []int64
	for i := 0; i < 5; i++ {
		ord, err := a.Append(record.Record{ID: string(rune('a' + i)), Content: "x"})
		require.NoError(t, err)
		ords = append(ords, ord)
	}
	for i := range ords {
		require.Equal(t, int64(i), ords[i])
	}
	require.Equal(t, int64(5), a.TotalRecords())
}

func TestAppendRollsOverToANewVolumeAtCapacity(t *testing.T) {
	a := openTestArchive(t, 2, 2)
	for i := 0; i < 5; i++ {
		_, err := a.Append(record.Record{ID: string(rune('a' + i)), Content: "x"})
		require.NoError(t, err)
	}
	// Five records at a capacity of 2 per volume span three volumes (0,1,2);
	// every one must still be reachable through the shared ordinal space.
	for i := int64(0); i < 5; i++ {
		rec, err := a.Get(i)
		require.NoError(t, err)
		require.Equal(t, i, rec.Ordinal)
	}
}

func TestGetOutOfRangeOrdinalErrors(t *testing.T) {
	a := openTestArchive(t, 100, 10)
	_, err := a.Append(record.Record{ID: "rec-1", Content: "x"})
	require.NoError(t, err)

	_, err = a.Get(5)
	require.Error(t, err)
}

func TestGetByIDUnknownErrors(t *testing.T) {
	a := openTestArchive(t, 100, 10)
	_, err := a.GetByID("nope")
	require.Error(t, err)
}

func TestDeleteUnlinksFromIDIndexButKeepsOrdinalReadable(t *testing.T) {
	a := openTestArchive(t, 100, 10)
	ord, err := a.Append(record.Record{ID: "rec-1", Content: "x"})
	require.NoError(t, err)

	require.NoError(t, a.Delete("rec-1"))
	_, err = a.GetByID("rec-1")
	require.Error(t, err)

	// The append-only log itself is untouched by Delete.
	rec, err := a.Get(ord)
	require.NoError(t, err)
	require.Equal(t, "x", rec.Content)
}

func TestRangeIteratesContiguousOrdinals(t *testing.T) {
	a := openTestArchive(t, 100, 10)
	for i := 0; i < 4; i++ {
		_, err := a.Append(record.Record{ID: string(rune('a' + i)), Content: string(rune('a' + i))})
		require.NoError(t, err)
	}

	it, err := a.Range(1, 3)
	require.NoError(t, err)

	var seen []string
	for {
		rec, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		seen = append(seen, rec.Content)
	}
	require.Equal(t, []string{"b", "c"}, seen)
}

func TestRangeRejectsInvalidBounds(t *testing.T) {
	a := openTestArchive(t, 100, 10)
	_, err := a.Append(record.Record{ID: "a", Content: "a"})
	require.NoError(t, err)

	_, err = a.Range(0, 5)
	require.Error(t, err)
}
