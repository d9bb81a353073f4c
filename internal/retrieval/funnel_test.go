package retrieval

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/memoryd/internal/bloomfilter"
	"github.com/kittclouds/memoryd/internal/entity"
	"github.com/kittclouds/memoryd/internal/graph"
	"github.com/kittclouds/memoryd/internal/index/entityidx"
	"github.com/kittclouds/memoryd/internal/index/keyword"
	"github.com/kittclouds/memoryd/internal/index/ngram"
	"github.com/kittclouds/memoryd/internal/index/temporal"
	"github.com/kittclouds/memoryd/internal/index/vector"
	"github.com/kittclouds/memoryd/internal/scope"
)

// buildFunnel wires real keyword, n-gram, entity and (lite, so inert) vector
// indexes so fusion runs against genuine posting lists instead of stubs.
func buildFunnel(t *testing.T) (*Funnel, map[string]string) {
	t.Helper()
	log := zerolog.Nop()

	kwIdx, err := keyword.Open(t.TempDir(), log)
	require.NoError(t, err)
	t.Cleanup(func() { kwIdx.Close() })

	ngIdx, err := ngram.Open(t.TempDir(), log)
	require.NoError(t, err)
	t.Cleanup(func() { ngIdx.Close() })

	entIdx, err := entityidx.Open(t.TempDir())
	require.NoError(t, err)

	vecIdx, err := vector.Open(t.TempDir()+"/vectors.db", 8, true)
	require.NoError(t, err)
	t.Cleanup(func() { vecIdx.Close() })

	records := map[string]string{
		"r1": "Gandalf the Grey warned Frodo about the ring of power",
		"r2": "The quick brown fox jumps over the lazy dog",
		"r3": "Frodo carried the ring to Mount Doom",
	}
	for id, content := range records {
		require.NoError(t, kwIdx.Add(id, content))
		require.NoError(t, ngIdx.Add(id, content))
	}

	_, err = entIdx.Upsert(entity.Entity{ID: "e-frodo", Label: "Frodo", Kind: entity.KindPerson, FirstRecordID: "r1", References: []string{"r1"}})
	require.NoError(t, err)
	_, err = entIdx.Upsert(entity.Entity{ID: "e-frodo", Label: "Frodo", Kind: entity.KindPerson, References: []string{"r3"}})
	require.NoError(t, err)

	f := &Funnel{Keyword: kwIdx, NGram: ngIdx, Entity: entIdx, Vector: vecIdx, Weights: DefaultWeights}
	return f, records
}

func resolveFrom(records map[string]string) RecordContent {
	return func(id string) (string, scope.Scope, bool) {
		text, ok := records[id]
		return text, scope.Scope{}, ok
	}
}

func TestSearchFusesKeywordNGramAndEntityPathsIntoTopResults(t *testing.T) {
	f, records := buildFunnel(t)

	hits, err := f.Search(context.Background(), Query{Text: "Frodo ring", TopK: 10, EntityMentions: []string{"Frodo"}}, resolveFrom(records))
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	ids := make(map[string]Result, len(hits))
	for _, h := range hits {
		ids[h.ID] = h
	}
	require.Contains(t, ids, "r1")
	require.Contains(t, ids, "r3")
	require.NotContains(t, ids, "r2")

	// Both r1 and r3 are in Frodo's reference set, so the entity path
	// surfaces both, not just whichever record introduced the entity first.
	require.Contains(t, ids["r1"].Sources, "entity")
	require.Contains(t, ids["r3"].Sources, "entity")
	require.GreaterOrEqual(t, ids["r1"].Score, ids["r3"].Score)
}

func TestSearchScopeFilterExcludesMismatchedRecords(t *testing.T) {
	f, records := buildFunnel(t)
	resolve := func(id string) (string, scope.Scope, bool) {
		text, ok := records[id]
		if id == "r1" {
			return text, scope.Scope{UserID: "alice"}, ok
		}
		return text, scope.Scope{UserID: "bob"}, ok
	}

	hits, err := f.Search(context.Background(), Query{Text: "ring Frodo", TopK: 10, Scope: scope.Scope{UserID: "alice"}, EntityMentions: []string{"Frodo"}}, resolve)
	require.NoError(t, err)
	for _, h := range hits {
		require.Equal(t, "r1", h.ID)
	}
}

func TestSearchEntityPathFindsRecordThatIsNotTheEntitysFirstOccurrence(t *testing.T) {
	log := zerolog.Nop()

	kwIdx, err := keyword.Open(t.TempDir(), log)
	require.NoError(t, err)
	t.Cleanup(func() { kwIdx.Close() })
	ngIdx, err := ngram.Open(t.TempDir(), log)
	require.NoError(t, err)
	t.Cleanup(func() { ngIdx.Close() })
	entIdx, err := entityidx.Open(t.TempDir())
	require.NoError(t, err)

	records := map[string]string{
		"r1": "Gandalf arrives at Bag End",
		"r2": "the weather was fine that day",
		"r3": "Gandalf departs for Rivendell",
	}
	for id, content := range records {
		require.NoError(t, kwIdx.Add(id, content))
		require.NoError(t, ngIdx.Add(id, content))
	}

	// First occurrence is r1; a later mention in r3 must still be unioned
	// into Gandalf's reference set rather than frozen at FirstRecordID.
	_, err = entIdx.Upsert(entity.Entity{ID: "e-gandalf", Label: "Gandalf", Kind: entity.KindPerson, FirstRecordID: "r1", References: []string{"r1"}})
	require.NoError(t, err)
	_, err = entIdx.Upsert(entity.Entity{ID: "e-gandalf", Label: "Gandalf", Kind: entity.KindPerson, References: []string{"r3"}})
	require.NoError(t, err)

	f := &Funnel{Keyword: kwIdx, NGram: ngIdx, Entity: entIdx, Weights: DefaultWeights}

	// Query text shares no keyword/ngram overlap with r3's content, so only
	// the entity path can surface it.
	hits, err := f.Search(context.Background(), Query{Text: "unrelated query text", TopK: 10, EntityMentions: []string{"Gandalf"}}, resolveFrom(records))
	require.NoError(t, err)

	ids := make(map[string]Result, len(hits))
	for _, h := range hits {
		ids[h.ID] = h
	}
	require.Contains(t, ids, "r3")
	require.Contains(t, ids["r3"].Sources, "entity")
}

func TestSearchLayeredWithZeroConfigMatchesSearchExactly(t *testing.T) {
	f, records := buildFunnel(t)
	q := Query{Text: "Frodo ring", TopK: 10, EntityMentions: []string{"Frodo"}}

	plain, err := f.Search(context.Background(), q, resolveFrom(records))
	require.NoError(t, err)

	layered, err := f.SearchLayered(context.Background(), q, resolveFrom(records), LayerConfig{})
	require.NoError(t, err)

	require.Equal(t, plain, layered)
}

func TestSearchLayeredBloomPreFilterShortCircuitsOnNoPossibleMatch(t *testing.T) {
	f, records := buildFunnel(t)

	bloom := bloomfilter.New(100, 0.01)
	bloom.Add("frodo")
	bloom.Add("ring")

	hits, err := f.SearchLayered(context.Background(), Query{Text: "completely unrelated dragons", TopK: 10}, resolveFrom(records), LayerConfig{Bloom: bloom})
	require.NoError(t, err)
	require.Empty(t, hits)
}

func TestSearchLayeredTemporalWindowExcludesOutOfRangeRecords(t *testing.T) {
	f, records := buildFunnel(t)
	idx := temporal.New()
	idx.Insert(temporal.Entry{ID: "r1", FactTimeStart: 100, FactTimeEnd: 100})
	idx.Insert(temporal.Entry{ID: "r3", FactTimeStart: 900, FactTimeEnd: 900})

	hits, err := f.SearchLayered(context.Background(), Query{Text: "Frodo ring", TopK: 10, EntityMentions: []string{"Frodo"}}, resolveFrom(records), LayerConfig{
		Temporal: &TemporalWindow{Index: idx, Start: 0, End: 200},
	})
	require.NoError(t, err)
	for _, h := range hits {
		require.NotEqual(t, "r3", h.ID)
	}
}

func TestSearchLayeredGraphExpandAddsSeedEntityNeighboursToEntityPath(t *testing.T) {
	log := zerolog.Nop()
	kwIdx, err := keyword.Open(t.TempDir(), log)
	require.NoError(t, err)
	t.Cleanup(func() { kwIdx.Close() })
	ngIdx, err := ngram.Open(t.TempDir(), log)
	require.NoError(t, err)
	t.Cleanup(func() { ngIdx.Close() })
	entIdx, err := entityidx.Open(t.TempDir())
	require.NoError(t, err)

	records := map[string]string{
		"r-gandalf": "Gandalf ponders the map",
		"r-frodo":   "Frodo holds the ring tightly",
	}
	for id, content := range records {
		require.NoError(t, kwIdx.Add(id, content))
		require.NoError(t, ngIdx.Add(id, content))
	}
	_, err = entIdx.Upsert(entity.Entity{ID: "e-gandalf", Label: "Gandalf", Kind: entity.KindPerson, References: []string{"r-gandalf"}})
	require.NoError(t, err)
	_, err = entIdx.Upsert(entity.Entity{ID: "e-frodo", Label: "Frodo", Kind: entity.KindPerson, References: []string{"r-frodo"}})
	require.NoError(t, err)

	g := graph.New()
	_, err = g.Assert(graph.Fact{ID: "f1", SourceID: "e-gandalf", TargetID: "e-frodo", Predicate: "knows", Confidence: 0.9, FactTimeStart: 100})
	require.NoError(t, err)

	f := &Funnel{Keyword: kwIdx, NGram: ngIdx, Entity: entIdx, Weights: DefaultWeights}

	hits, err := f.SearchLayered(context.Background(), Query{Text: "unrelated query text", TopK: 10, EntityMentions: []string{"Gandalf"}}, resolveFrom(records), LayerConfig{
		GraphExpand: &GraphExpand{Graph: g, SeedEntities: []string{"e-gandalf"}, Depth: 1},
	})
	require.NoError(t, err)

	ids := make(map[string]Result, len(hits))
	for _, h := range hits {
		ids[h.ID] = h
	}
	require.Contains(t, ids, "r-frodo")
}

func TestFuseWeightsNGramPathHighestOnTiedRank(t *testing.T) {
	f := &Funnel{Weights: DefaultWeights}
	fused := f.fuse(map[string][]string{
		"keyword": {"a"},
		"ngram":   {"b"},
	})
	require.Len(t, fused, 2)
	require.Equal(t, "b", fused[0].ID)
}
