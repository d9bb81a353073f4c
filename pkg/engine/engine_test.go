package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kittclouds/memoryd/internal/config"
	"github.com/kittclouds/memoryd/internal/foreshadow"
	"github.com/kittclouds/memoryd/internal/index/metadata"
	"github.com/kittclouds/memoryd/internal/kerrors"
	"github.com/kittclouds/memoryd/internal/orchestrate"
	"github.com/kittclouds/memoryd/internal/retrieval"
	"github.com/kittclouds/memoryd/internal/scope"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.Default()
	cfg.DataRoot = t.TempDir()
	cfg.VectorLite = true
	e, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestAddThenSearchFindsTheRecord(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.Add(context.Background(), orchestrate.AddInput{Content: "Gandalf the Grey warned Frodo about the ring."})
	require.NoError(t, err)
	require.True(t, res.Accepted)

	hits, err := e.Search(context.Background(), retrieval.Query{Text: "Gandalf ring", TopK: 5})
	require.NoError(t, err)

	var ids []string
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	require.Contains(t, ids, res.ID)
}

func TestStatsReflectsIngestedRecordsAndEntities(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Add(context.Background(), orchestrate.AddInput{Content: "Alice knows Bob."})
	require.NoError(t, err)

	stats := e.Stats()
	require.Equal(t, int64(1), stats.TotalRecords)
	require.Equal(t, 2, stats.TotalEntities)
}

func TestGeneralModeNeverAllocatesForeshadowingStore(t *testing.T) {
	e := newTestEngine(t)
	require.False(t, e.Mode().ForeshadowingEnabled)
	require.Nil(t, e.OpenHooks())

	// Planting/paying off a hook outside narrative mode is a no-op, not a panic.
	e.PlantHook(foreshadow.Hook{ID: "h1"})
	require.Nil(t, e.OpenHooks())
}

func TestForeshadowingOverrideEnablesHooksInGeneralMode(t *testing.T) {
	cfg := config.Default()
	cfg.DataRoot = t.TempDir()
	cfg.VectorLite = true
	enabled := true
	cfg.ForeshadowingOverride = &enabled

	e, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	require.True(t, e.Mode().ForeshadowingEnabled)
	e.PlantHook(foreshadow.Hook{ID: "h1"})
	require.Len(t, e.OpenHooks(), 1)
}

func TestLayeredRetrievalFindsIngestedRecordThroughBloomPreFilter(t *testing.T) {
	cfg := config.Default()
	cfg.DataRoot = t.TempDir()
	cfg.VectorLite = true
	cfg.LayeredRetrieval = true

	e, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	res, err := e.Add(context.Background(), orchestrate.AddInput{Content: "Gandalf the Grey warned Frodo about the ring."})
	require.NoError(t, err)
	require.True(t, res.Accepted)
	require.NotNil(t, e.bloom)

	hits, err := e.Search(context.Background(), retrieval.Query{Text: "Gandalf ring", TopK: 5})
	require.NoError(t, err)
	var ids []string
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	require.Contains(t, ids, res.ID)
}

func TestLayeredRetrievalBloomPreFilterRejectsQueryWithNoIngestedTerms(t *testing.T) {
	cfg := config.Default()
	cfg.DataRoot = t.TempDir()
	cfg.VectorLite = true
	cfg.LayeredRetrieval = true

	e, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	_, err = e.Add(context.Background(), orchestrate.AddInput{Content: "Gandalf the Grey warned Frodo about the ring."})
	require.NoError(t, err)

	hits, err := e.Search(context.Background(), retrieval.Query{Text: "completely unrelated dragons", TopK: 5})
	require.NoError(t, err)
	require.Empty(t, hits)
}

func TestCloseIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
}

func TestDeleteMemoryUnlinksEveryReadPath(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.Add(context.Background(), orchestrate.AddInput{Content: "The vault access code is 7742-alpha."})
	require.NoError(t, err)
	require.True(t, res.Accepted)

	require.NoError(t, e.DeleteMemory(res.ID))

	_, err = e.GetMemory(res.ID)
	require.Error(t, err)

	hits, err := e.Search(context.Background(), retrieval.Query{Text: "7742-alpha", TopK: 5})
	require.NoError(t, err)
	for _, h := range hits {
		require.NotEqual(t, res.ID, h.ID)
	}

	// The id is also forgotten by dedup, so the same content re-ingests
	// under a fresh id instead of resolving to the deleted one.
	again, err := e.Add(context.Background(), orchestrate.AddInput{Content: "The vault access code is 7742-alpha."})
	require.NoError(t, err)
	require.True(t, again.Accepted)
	require.NotEqual(t, res.ID, again.ID)
}

func TestListMemoriesReturnsNewestFirstWithinScope(t *testing.T) {
	e := newTestEngine(t)

	first, err := e.Add(context.Background(), orchestrate.AddInput{Content: "earliest entry about harvests"})
	require.NoError(t, err)
	second, err := e.Add(context.Background(), orchestrate.AddInput{Content: "latest entry about festivals"})
	require.NoError(t, err)

	records, err := e.ListMemories(scope.Scope{}, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, second.ID, records[0].ID)
	require.Equal(t, first.ID, records[1].ID)

	records, err = e.ListMemories(scope.Scope{}, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, second.ID, records[0].ID)
}

func TestSearchWithMetadataFilterRestrictsToMatchingFacets(t *testing.T) {
	e := newTestEngine(t)

	chat, err := e.Add(context.Background(), orchestrate.AddInput{Content: "the harvest festival starts tomorrow", Source: "chat"})
	require.NoError(t, err)
	wiki, err := e.Add(context.Background(), orchestrate.AddInput{Content: "the harvest festival dates back centuries", Source: "wiki"})
	require.NoError(t, err)

	hits, err := e.Search(context.Background(), retrieval.Query{
		Text: "harvest festival", TopK: 10,
		Filter: metadata.Filter{Source: "wiki"},
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, wiki.ID, hits[0].ID)
	_ = chat
}

func TestEpisodeForRecordTracesIngestProvenance(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.Add(context.Background(), orchestrate.AddInput{Content: "Alice knows Bob."})
	require.NoError(t, err)
	require.NotEmpty(t, res.Entities)

	ep, ok := e.EpisodeForRecord(res.ID)
	require.True(t, ok)
	require.Equal(t, "Alice knows Bob.", ep.SourceText)
	require.Equal(t, res.Entities, ep.EntityIDs)
}

func TestRestartRestoresEveryReadPathFromTheArchive(t *testing.T) {
	cfg := config.Default()
	cfg.DataRoot = t.TempDir()
	cfg.VectorLite = true

	e, err := New(cfg)
	require.NoError(t, err)

	res, err := e.Add(context.Background(), orchestrate.AddInput{
		Content: "Alice knows Bob.", Source: "chat",
		FactTimeStart: 1000, FactTimeEnd: 2000,
	})
	require.NoError(t, err)
	require.NoError(t, e.Close())

	e2, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { e2.Close() })

	hits, err := e2.Search(context.Background(), retrieval.Query{Text: "Alice knows", TopK: 5})
	require.NoError(t, err)
	var ids []string
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	require.Contains(t, ids, res.ID)

	// Metadata facets, temporal coordinates, graph edges, and dedup state
	// are all replayed from the archive, not lost with the process.
	hits, err = e2.Search(context.Background(), retrieval.Query{
		Text: "Alice knows", TopK: 5, Filter: metadata.Filter{Source: "chat"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	alice, ok := e2.FindEntity("Alice")
	require.True(t, ok)
	require.NotEmpty(t, e2.FactsFrom(alice.ID))

	dup, err := e2.Add(context.Background(), orchestrate.AddInput{Content: "Alice knows Bob."})
	require.NoError(t, err)
	require.False(t, dup.Accepted)
	require.Equal(t, res.ID, dup.DuplicateOf)
}

type cannedLLM struct{ reply string }

func (c *cannedLLM) Complete(context.Context, string, string, int) (string, error) {
	return c.reply, nil
}

func (c *cannedLLM) Model() string { return "canned" }

func TestChatWithoutLLMReturnsProviderUnavailable(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Chat(context.Background(), scope.Scope{}, "hello")
	require.Error(t, err)
	kind, ok := kerrors.KindOf(err)
	require.True(t, ok)
	require.Equal(t, kerrors.ProviderUnavailable, kind)
}

func TestChatAnswersAndRemembersTheExchange(t *testing.T) {
	e := newTestEngine(t)
	e.llm = &cannedLLM{reply: "the harbor freezes in january"}

	reply, err := e.Chat(context.Background(), scope.Scope{}, "when does the harbor freeze?")
	require.NoError(t, err)
	require.Equal(t, "the harbor freezes in january", reply)

	require.Equal(t, int64(1), e.Stats().TotalRecords)
	hits, err := e.Search(context.Background(), retrieval.Query{Text: "harbor freeze", TopK: 5})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
}

func TestSearchWithCallerSubTenantStillFindsCollapsedWrites(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.Add(context.Background(), orchestrate.AddInput{
		Content: "the beacon was lit at dusk",
		Scope:   scope.New("alice", "char1", "s1"),
	})
	require.NoError(t, err)

	// Outside narrative mode the write collapsed the sub-tenant, so a
	// query carrying the same caller-supplied triple must collapse too.
	hits, err := e.Search(context.Background(), retrieval.Query{
		Text: "beacon lit", TopK: 5,
		Scope: scope.New("alice", "char1", "s1"),
	})
	require.NoError(t, err)

	var ids []string
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	require.Contains(t, ids, res.ID)
}

func TestSearchEntityPathReachesLaterMentionsOfAnEntity(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Add(context.Background(), orchestrate.AddInput{Content: "Gandalf arrives at Bag End."})
	require.NoError(t, err)
	later, err := e.Add(context.Background(), orchestrate.AddInput{Content: "Gandalf departs for Rivendell."})
	require.NoError(t, err)

	// The query shares the entity mention but none of the later record's
	// other terms, so only the entity path's full reference set can
	// surface it.
	hits, err := e.Search(context.Background(), retrieval.Query{Text: "Gandalf", TopK: 10})
	require.NoError(t, err)

	var ids []string
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	require.Contains(t, ids, later.ID)
}
