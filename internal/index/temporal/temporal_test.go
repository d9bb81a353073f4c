package temporal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// seedIndex seeds four point-in-time entries (FactTimeStart == FactTimeEnd)
// for the pre-existing point-query behavior the original suite covered.
func seedIndex() *Index {
	idx := New()
	idx.Insert(Entry{ID: "a", FactTimeStart: 100, FactTimeEnd: 100, SystemTime: 10})
	idx.Insert(Entry{ID: "b", FactTimeStart: 200, FactTimeEnd: 200, SystemTime: 20})
	idx.Insert(Entry{ID: "c", FactTimeStart: 300, FactTimeEnd: 300, SystemTime: 5})
	idx.Insert(Entry{ID: "d", FactTimeStart: 150, FactTimeEnd: 150, SystemTime: 40})
	return idx
}

func idsOf(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func TestRangeByFactTimeReturnsAscendingOrder(t *testing.T) {
	idx := seedIndex()
	got := idx.RangeByFactTime(100, 200)
	require.Equal(t, []string{"a", "d", "b"}, idsOf(got))
}

func TestRangeByFactTimeExcludesOutOfBounds(t *testing.T) {
	idx := seedIndex()
	got := idx.RangeByFactTime(0, 99)
	require.Empty(t, got)
}

func TestRangeBySystemTime(t *testing.T) {
	idx := seedIndex()
	got := idx.RangeBySystemTime(5, 20)
	require.Equal(t, []string{"c", "a", "b"}, idsOf(got))
}

func TestAsOfFactReturnsLatestBelievedStateMostRecentFirst(t *testing.T) {
	idx := seedIndex()
	got := idx.AsOfFact(200, 0)
	require.Equal(t, []string{"b", "d", "a"}, idsOf(got))
}

func TestAsOfFactRespectsLimit(t *testing.T) {
	idx := seedIndex()
	got := idx.AsOfFact(300, 2)
	require.Len(t, got, 2)
	require.Equal(t, []string{"c", "b"}, idsOf(got))
}

func TestAsOfSystemOrdering(t *testing.T) {
	idx := seedIndex()
	got := idx.AsOfSystem(40, 0)
	require.Equal(t, []string{"d", "b", "a", "c"}, idsOf(got))
}

func TestRemoveDropsEntryFromAllDimensions(t *testing.T) {
	idx := seedIndex()
	idx.Remove("b")
	require.NotContains(t, idsOf(idx.RangeByFactTime(0, 1000)), "b")
	require.NotContains(t, idsOf(idx.RangeBySystemTime(0, 1000)), "b")
	require.Equal(t, 3, idx.Len())
}

func TestPointQueryAsSingleElementRange(t *testing.T) {
	idx := seedIndex()
	got := idx.RangeByFactTime(200, 200)
	require.Equal(t, []string{"b"}, idsOf(got))
}

// rangedIndex seeds three genuinely ranged entries mirroring a memory's
// fact validity window: a closed 2020 range, a closed range spanning
// 2021-2022, and an open-ended range starting in 2023.
func rangedIndex() *Index {
	idx := New()
	idx.Insert(Entry{ID: "e2020", FactTimeStart: 20200101, FactTimeEnd: 20201231})
	idx.Insert(Entry{ID: "e2021", FactTimeStart: 20210601, FactTimeEnd: 20220601})
	idx.Insert(Entry{ID: "e2023", FactTimeStart: 20230101}) // open-ended
	return idx
}

func TestAtFactTimeReturnsEntriesWhoseRangeContainsThePoint(t *testing.T) {
	idx := rangedIndex()

	require.Equal(t, []string{"e2021"}, idsOf(idx.AtFactTime(20211231)))
	require.Equal(t, []string{"e2023"}, idsOf(idx.AtFactTime(20240101)))
	require.Empty(t, idx.AtFactTime(20190101))
}

func TestRangeByFactTimeReturnsOnlyOverlappingRanges(t *testing.T) {
	idx := rangedIndex()

	got := idx.RangeByFactTime(20210101, 20211231)
	require.Equal(t, []string{"e2021"}, idsOf(got))
}

func TestOpenEndedRangeIsContainedAtAnyFuturePoint(t *testing.T) {
	idx := New()
	idx.Insert(Entry{ID: "e1", FactTimeStart: 500})

	require.Contains(t, idsOf(idx.AtFactTime(500)), "e1")
	require.Contains(t, idsOf(idx.AtFactTime(1_000_000_000)), "e1")
	require.Empty(t, idx.AtFactTime(499))
}

func TestBeforeFactTimeReturnsClosedRangesOnly(t *testing.T) {
	idx := New()
	idx.Insert(Entry{ID: "a", FactTimeStart: 100, FactTimeEnd: 200})
	idx.Insert(Entry{ID: "b", FactTimeStart: 300, FactTimeEnd: 400})
	idx.Insert(Entry{ID: "c", FactTimeStart: 500}) // open-ended, never "before"

	require.Equal(t, []string{"a"}, idsOf(idx.BeforeFactTime(250)))
	require.Equal(t, []string{"a", "b"}, idsOf(idx.BeforeFactTime(450)))
	require.Empty(t, idx.BeforeFactTime(100))
}

func TestAfterFactTimeReturnsRangesStartingLater(t *testing.T) {
	idx := New()
	idx.Insert(Entry{ID: "a", FactTimeStart: 100, FactTimeEnd: 200})
	idx.Insert(Entry{ID: "b", FactTimeStart: 300, FactTimeEnd: 400})
	idx.Insert(Entry{ID: "c", FactTimeStart: 500})

	require.Equal(t, []string{"b", "c"}, idsOf(idx.AfterFactTime(250)))
	require.Equal(t, []string{"c"}, idsOf(idx.AfterFactTime(400)))
	require.Empty(t, idx.AfterFactTime(600))
}

func TestBeforeAndAfterSurviveInsertThenRemove(t *testing.T) {
	idx := New()
	idx.Insert(Entry{ID: "a", FactTimeStart: 100, FactTimeEnd: 200})
	idx.Insert(Entry{ID: "b", FactTimeStart: 300, FactTimeEnd: 400})
	idx.Remove("b")

	require.Equal(t, []string{"a"}, idsOf(idx.BeforeFactTime(450)))
	require.Empty(t, idx.AfterFactTime(250))
}
