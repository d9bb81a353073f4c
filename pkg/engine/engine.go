// Package engine assembles every internal subsystem into the single
// embeddable type applications construct: Engine. This is the only
// package external callers (including cmd/memoryd) are expected to
// import directly.
package engine

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kittclouds/memoryd/internal/archive"
	"github.com/kittclouds/memoryd/internal/bloomfilter"
	"github.com/kittclouds/memoryd/internal/config"
	"github.com/kittclouds/memoryd/internal/dedup"
	"github.com/kittclouds/memoryd/internal/embedprovider"
	"github.com/kittclouds/memoryd/internal/entity"
	"github.com/kittclouds/memoryd/internal/extract"
	"github.com/kittclouds/memoryd/internal/foreshadow"
	"github.com/kittclouds/memoryd/internal/graph"
	"github.com/kittclouds/memoryd/internal/index/entityidx"
	"github.com/kittclouds/memoryd/internal/index/keyword"
	"github.com/kittclouds/memoryd/internal/index/metadata"
	"github.com/kittclouds/memoryd/internal/index/ngram"
	"github.com/kittclouds/memoryd/internal/index/temporal"
	"github.com/kittclouds/memoryd/internal/index/vector"
	"github.com/kittclouds/memoryd/internal/kerrors"
	"github.com/kittclouds/memoryd/internal/llmprovider"
	"github.com/kittclouds/memoryd/internal/maintenance"
	"github.com/kittclouds/memoryd/internal/modegate"
	"github.com/kittclouds/memoryd/internal/orchestrate"
	"github.com/kittclouds/memoryd/internal/record"
	"github.com/kittclouds/memoryd/internal/rerankprovider"
	"github.com/kittclouds/memoryd/internal/retrieval"
	"github.com/kittclouds/memoryd/internal/scope"
	"github.com/kittclouds/memoryd/internal/telemetry"
)

// embedDimFallback is used when a caller configures an embedder without
// naming an explicit dimension.
const embedDimFallback = 1536

// bloomExpectedItems sizes the L1 pre-filter's Bloom filter; a filter
// undersized for the true term count just degrades toward more false
// positives; it never drops a true match.
const bloomExpectedItems = 100_000

// Engine is the top-level, embeddable API: add memories, search them,
// build an assembled context block, and inspect entities, graph facts,
// and (narrative mode only) foreshadowing hooks.
type Engine struct {
	log     zerolog.Logger
	metrics *telemetry.Metrics
	gate    modegate.Gate

	archive  *archive.Archive
	keyword  *keyword.Index
	ngram    *ngram.Index
	entities *entityidx.Index
	vec      *vector.Index
	temporal *temporal.Index
	meta     *metadata.Index
	graph    *graph.Graph
	hooks    *foreshadow.Store // nil unless the gate enables foreshadowing

	embedder embedprovider.Provider
	llm      llmprovider.Provider
	rerank   rerankprovider.Provider

	orch   *orchestrate.Orchestrator
	funnel *retrieval.Funnel

	layered bool                // opt-in eleven-layer retrieval pipeline
	bloom   *bloomfilter.Filter // L1 pre-filter term sketch, nil unless layered

	maintCancel context.CancelFunc
	maintDone   chan struct{}

	closeOnce sync.Once
}

// New constructs an Engine from cfg, opening its on-disk state under
// cfg.DataRoot and starting the background maintenance loop.
func New(cfg config.Config) (*Engine, error) {
	log := telemetry.NewLogger(nil, zerolog.InfoLevel)
	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return nil, err
	}
	gate := modegate.New(cfg.Mode)
	if cfg.ForeshadowingOverride != nil {
		gate.ForeshadowingEnabled = *cfg.ForeshadowingOverride
	}

	dataScope := scope.New("", "", "").Collapsed()
	root := dataScope.Path(cfg.DataRoot)

	arch, err := archive.Open(filepath.Join(root, "archive"), 0, 0, log)
	if err != nil {
		return nil, err
	}
	kwIdx, err := keyword.Open(filepath.Join(root, "keyword"), log)
	if err != nil {
		return nil, err
	}
	ngIdx, err := ngram.Open(filepath.Join(root, "ngram"), log)
	if err != nil {
		return nil, err
	}
	entIdx, err := entityidx.Open(filepath.Join(root, "entities"))
	if err != nil {
		return nil, err
	}
	dim := cfg.EmbedDim
	if dim <= 0 {
		dim = embedDimFallback
	}
	vecIdx, err := vector.Open(filepath.Join(root, "vectors.db"), dim, cfg.VectorLite)
	if err != nil {
		return nil, err
	}
	tempIdx := temporal.New()
	metaIdx := metadata.New()
	kg := graph.NewWithStrategy(graph.ParseStrategy(cfg.ContradictionStrategy))

	var hooks *foreshadow.Store
	if gate.ForeshadowingEnabled {
		hooks = foreshadow.New()
	}

	var llm llmprovider.Provider
	if cfg.LLMAPIKey != "" {
		llm, err = llmprovider.New(cfg.LLMBaseURL, cfg.LLMModel, cfg.LLMAPIKey)
		if err != nil {
			return nil, err
		}
	}

	var embedder embedprovider.Provider
	if cfg.EmbedAPIKey != "" {
		embedder, err = embedprovider.New(cfg.EmbedBaseURL, cfg.EmbedModel, cfg.EmbedAPIKey, dim)
		if err != nil {
			return nil, err
		}
	}

	rerank, err := rerankprovider.New(cfg.RerankBackend, llm)
	if err != nil {
		return nil, err
	}

	extractMode := extract.ModeRules
	if llm != nil {
		extractMode = extract.ModeAdaptive
	}
	extractor := extract.New(extractMode, gate, llm)

	thresholds := dedup.Thresholds{
		JaccardDuplicate: cfg.DedupJaccardThreshold,
		SemanticHigh:     cfg.DedupSemanticHigh,
		SemanticLow:      cfg.DedupSemanticLow,
	}

	orch := orchestrate.New(orchestrate.Deps{
		Log: log, Gate: gate, Archive: arch, Keyword: kwIdx, NGram: ngIdx,
		Entities: entIdx, Vector: vecIdx, Temporal: tempIdx, Metadata: metaIdx,
		Graph: kg, Extractor: extractor, Embedder: embedder, LLM: llm,
		Thresholds: thresholds,
	})

	funnel := &retrieval.Funnel{
		Keyword: kwIdx, NGram: ngIdx, Entity: entIdx, Vector: vecIdx, Metadata: metaIdx,
		Embedder: embedder, Rerank: rerank, Weights: retrieval.DefaultWeights,
	}

	// Metadata, temporal, graph, and dedup state live only in memory;
	// replay the archive to restore them. A replay failure degrades (the
	// raw recall paths still work) rather than blocking startup.
	if err := orch.WarmFromArchive(context.Background()); err != nil {
		log.Warn().Err(err).Msg("engine: archive replay incomplete, in-memory indices degraded")
	}

	var bloom *bloomfilter.Filter
	if cfg.LayeredRetrieval {
		bloom = bloomfilter.New(bloomExpectedItems, 0.01)
		warmBloom(bloom, arch)
	}

	maintCtx, cancel := context.WithCancel(context.Background())
	loop := maintenance.New(maintenance.Deps{
		Log: log, Metrics: metrics, Archive: arch, Keyword: kwIdx, NGram: ngIdx,
		Ticks: orch.MaintenanceTicks,
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		loop.Run(maintCtx)
	}()

	return &Engine{
		log: log, metrics: metrics, gate: gate,
		archive: arch, keyword: kwIdx, ngram: ngIdx, entities: entIdx,
		vec: vecIdx, temporal: tempIdx, meta: metaIdx, graph: kg, hooks: hooks,
		embedder: embedder, llm: llm, rerank: rerank,
		orch: orch, funnel: funnel,
		layered: cfg.LayeredRetrieval, bloom: bloom,
		maintCancel: cancel, maintDone: done,
	}, nil
}

// warmBloom seeds the L1 pre-filter from the keywords persisted on every
// archived record. Errors are ignored: a sparse bloom filter only
// over-admits, never drops a true match.
func warmBloom(bloom *bloomfilter.Filter, arch *archive.Archive) {
	it, err := arch.Range(0, arch.TotalRecords())
	if err != nil {
		return
	}
	for {
		rec, ok, err := it.Next()
		if err != nil || !ok {
			return
		}
		for _, kw := range rec.Keywords {
			bloom.Add(kw)
		}
	}
}

// Mode reports the engine's construction-time feature gate.
func (e *Engine) Mode() modegate.Gate { return e.gate }

// Add ingests a single memory fragment through the full pipeline.
func (e *Engine) Add(ctx context.Context, in orchestrate.AddInput) (orchestrate.AddResult, error) {
	res, err := e.orch.Add(ctx, in)
	if err == nil {
		e.indexBloom(res.Keywords)
	}
	return res, err
}

// AddBatch ingests several fragments, optionally skipping dedup or LLM
// extraction for throughput.
func (e *Engine) AddBatch(ctx context.Context, items []orchestrate.AddInput, skipDedup, skipLLM bool) ([]orchestrate.AddResult, error) {
	results, err := e.orch.AddBatch(ctx, items, skipDedup, skipLLM)
	for _, res := range results {
		e.indexBloom(res.Keywords)
	}
	return results, err
}

func (e *Engine) indexBloom(keywords []string) {
	if e.bloom == nil {
		return
	}
	for _, kw := range keywords {
		e.bloom.Add(kw)
	}
}

// Search runs the multi-path retrieval funnel for q. When the engine was
// constructed with LayeredRetrieval on, the opt-in L1/L5/L11 stages run
// around it; otherwise this is exactly the default pipeline.
func (e *Engine) Search(ctx context.Context, q retrieval.Query) ([]retrieval.Result, error) {
	// Mirror the add path: outside narrative mode every record was written
	// under the default sub-tenant, so a caller-supplied sub-tenant must
	// collapse the same way or the scope filter would hide its own data.
	if !e.gate.SubTenantIsolationEnabled {
		q.Scope = q.Scope.Collapsed()
	}
	if !e.layered {
		return e.funnel.Search(ctx, q, e.resolveRecord)
	}
	return e.funnel.SearchLayered(ctx, q, e.resolveRecord, retrieval.LayerConfig{
		Bloom:       e.bloom,
		GraphExpand: e.graphExpandFor(q),
		LLMFilter:   e.llm,
	})
}

// graphExpandFor resolves q's entity mentions to ids so SearchLayered's L5
// stage can BFS-expand the graph from them. Returns nil when there's
// nothing to seed from.
func (e *Engine) graphExpandFor(q retrieval.Query) *retrieval.GraphExpand {
	var seeds []string
	for _, mention := range q.EntityMentions {
		if ent, ok := e.entities.GetByLabel(mention); ok {
			seeds = append(seeds, ent.ID)
		}
	}
	if len(seeds) == 0 {
		return nil
	}
	return &retrieval.GraphExpand{Graph: e.graph, SeedEntities: seeds, Depth: 2}
}

func (e *Engine) resolveRecord(id string) (string, scope.Scope, bool) {
	rec, err := e.archive.GetByID(id)
	if err != nil {
		return "", scope.Scope{}, false
	}
	return rec.Content, rec.Scope, true
}

// BuildContextInput assembles the caller's retrieval output into a
// token-budgeted context block via the funnel's resolver.
func (e *Engine) BuildContextInput(preamble string, hits []retrieval.Result, activeEntities []string, tokenBudget int) string {
	lines := make([]string, 0, len(hits))
	for _, h := range hits {
		if text, _, ok := e.resolveRecord(h.ID); ok {
			lines = append(lines, text)
		}
	}
	var openHooks []foreshadow.Hook
	if e.hooks != nil {
		openHooks = e.hooks.Open()
	}
	return retrieval.BuildContext(retrieval.ContextInput{
		Preamble: preamble, Gate: e.gate, OpenHooks: openHooks,
		RankedMemories: lines, ActiveEntities: activeEntities, TokenBudget: tokenBudget,
	})
}

const chatSystemPreamble = "You are an assistant with access to long-term memory. " +
	"Ground your answer in the provided memories when they are relevant."

// Chat answers one message with memory-augmented context: retrieve
// relevant memories for s, assemble a context block, complete through
// the configured LLM, then ingest the exchange so it is remembered.
// Requires an LLM provider; returns ProviderUnavailable otherwise.
func (e *Engine) Chat(ctx context.Context, s scope.Scope, message string) (string, error) {
	if e.llm == nil {
		return "", kerrors.Newf(kerrors.ProviderUnavailable, "engine.Chat", "no LLM provider configured")
	}

	hits, err := e.Search(ctx, retrieval.Query{Text: message, Scope: s, TopK: 8})
	if err != nil {
		return "", err
	}
	contextBlock := e.BuildContextInput(chatSystemPreamble, hits, nil, 0)

	reply, err := e.llm.Complete(ctx, contextBlock, message, 1024)
	if err != nil {
		return "", err
	}

	if _, err := e.Add(ctx, orchestrate.AddInput{
		Content:     "User: " + message + "\nAssistant: " + reply,
		Scope:       s,
		Source:      "chat",
		ContentType: record.ContentConversation,
	}); err != nil {
		e.log.Warn().Err(err).Msg("engine: chat turn not persisted")
	}
	return reply, nil
}

// GetMemory returns the archived record with the given id.
func (e *Engine) GetMemory(id string) (record.Record, error) {
	rec, err := e.archive.GetByID(id)
	if err != nil {
		return record.Record{}, err
	}
	return rec.Clone(), nil
}

// ListMemories returns up to limit of the most recently archived records
// in s's scope, newest first. An all-empty scope lists across scopes.
func (e *Engine) ListMemories(s scope.Scope, limit int) ([]record.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	total := e.archive.TotalRecords()
	var out []record.Record
	for ord := total - 1; ord >= 0 && len(out) < limit; ord-- {
		rec, err := e.archive.Get(ord)
		if err != nil {
			// A torn record never blocks listing the rest.
			continue
		}
		if _, err := e.archive.GetByID(rec.ID); err != nil {
			continue // deleted: tombstoned out of the id index
		}
		if !scopeListMatches(s, rec.Scope) {
			continue
		}
		out = append(out, rec.Clone())
	}
	return out, nil
}

func scopeListMatches(query, rec scope.Scope) bool {
	if query.UserID != "" && query.UserID != rec.UserID {
		return false
	}
	if query.SubTenantID != "" && query.SubTenantID != rec.SubTenantID {
		return false
	}
	if query.SessionID != "" && query.SessionID != rec.SessionID {
		return false
	}
	return true
}

// DeleteMemory unlinks id from the archive's id index, the keyword,
// n-gram, metadata, temporal and vector indices, and the dedup state.
// Entity reference sets and graph facts still name the id, and the
// archive's underlying bytes are append-only and remain, but every read
// path resolves ids through the archive's id index, so the record is
// unreachable afterward.
func (e *Engine) DeleteMemory(id string) error {
	rec, err := e.archive.GetByID(id)
	if err != nil {
		return err
	}
	if err := e.archive.Delete(id); err != nil {
		return err
	}
	if err := e.keyword.Remove(id); err != nil {
		e.log.Warn().Err(err).Str("id", id).Msg("keyword unlink failed")
	}
	if err := e.ngram.Remove(id); err != nil {
		e.log.Warn().Err(err).Str("id", id).Msg("ngram unlink failed")
	}
	e.meta.Remove(metadata.Entry{ID: id, Category: rec.Category, ContentType: string(rec.ContentType), Source: rec.Source, Tags: rec.Tags})
	e.temporal.Remove(id)
	if !e.vec.Lite() {
		if err := e.vec.Remove(id); err != nil {
			e.log.Warn().Err(err).Str("id", id).Msg("vector unlink failed")
		}
	}
	e.orch.Forget(id)
	return nil
}

// EpisodeForRecord reports the episode an ingest produced: the entities
// and graph facts traceable back to recordID.
func (e *Engine) EpisodeForRecord(recordID string) (graph.Episode, bool) {
	return e.graph.EpisodeForRecord(recordID)
}

// GetEntity resolves an entity by its id.
func (e *Engine) GetEntity(id string) (entity.Entity, bool) { return e.entities.GetByID(id) }

// FindEntity resolves an entity by label or alias.
func (e *Engine) FindEntity(label string) (entity.Entity, bool) { return e.entities.GetByLabel(label) }

// ListEntities returns every known entity, optionally filtered by kind.
func (e *Engine) ListEntities(kind entity.Kind) []entity.Entity { return e.entities.List(kind) }

// FactsFrom returns the graph's current (non-superseded) outgoing facts
// for an entity.
func (e *Engine) FactsFrom(entityID string) []graph.Fact { return e.graph.Out(entityID) }

// FactsTo returns the graph's current (non-superseded) incoming facts for
// an entity.
func (e *Engine) FactsTo(entityID string) []graph.Fact { return e.graph.In(entityID) }

// PlantHook records a new foreshadowing hook. It is a no-op when
// foreshadowing is disabled (the default outside narrative mode), where
// the store doesn't exist.
func (e *Engine) PlantHook(h foreshadow.Hook) {
	if e.hooks == nil {
		return
	}
	e.hooks.Plant(h)
}

// PayOffHook marks a planted hook resolved by recordID.
func (e *Engine) PayOffHook(id, recordID string, paidOffAt int64) {
	if e.hooks == nil {
		return
	}
	e.hooks.PayOff(id, recordID, paidOffAt)
}

// OpenHooks lists every hook still awaiting payoff. Returns nil when
// foreshadowing is disabled.
func (e *Engine) OpenHooks() []foreshadow.Hook {
	if e.hooks == nil {
		return nil
	}
	return e.hooks.Open()
}

// Stats reports coarse engine-wide counters.
type Stats struct {
	TotalRecords  int64
	TotalEntities int
}

// Stats returns a snapshot of engine-wide counters.
func (e *Engine) Stats() Stats {
	return Stats{
		TotalRecords:  e.archive.TotalRecords(),
		TotalEntities: len(e.entities.List("")),
	}
}

// Close stops the background maintenance loop and releases file handles.
// Safe to call more than once.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.maintCancel()
		<-e.maintDone
		if cerr := e.vec.Close(); cerr != nil {
			err = cerr
		}
		if cerr := e.keyword.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if cerr := e.ngram.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if cerr := e.archive.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if cerr := e.metrics.Shutdown(context.Background()); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}
