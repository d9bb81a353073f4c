// Package orchestrate sequences the ingest pipeline: mode gate, dedup,
// extraction, consistency, persist, index fan-out, graph and
// contradictions, then a background maintenance notify. Every step short
// of persistence degrades rather than fails; persistence failures are
// fatal.
package orchestrate

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kittclouds/memoryd/internal/archive"
	"github.com/kittclouds/memoryd/internal/dedup"
	"github.com/kittclouds/memoryd/internal/embedprovider"
	"github.com/kittclouds/memoryd/internal/entity"
	"github.com/kittclouds/memoryd/internal/extract"
	"github.com/kittclouds/memoryd/internal/graph"
	"github.com/kittclouds/memoryd/internal/ids"
	"github.com/kittclouds/memoryd/internal/index/entityidx"
	"github.com/kittclouds/memoryd/internal/index/keyword"
	"github.com/kittclouds/memoryd/internal/index/metadata"
	"github.com/kittclouds/memoryd/internal/index/ngram"
	"github.com/kittclouds/memoryd/internal/index/temporal"
	"github.com/kittclouds/memoryd/internal/index/vector"
	"github.com/kittclouds/memoryd/internal/kerrors"
	"github.com/kittclouds/memoryd/internal/llmprovider"
	"github.com/kittclouds/memoryd/internal/modegate"
	"github.com/kittclouds/memoryd/internal/record"
	"github.com/kittclouds/memoryd/internal/scope"
)

// Orchestrator binds every subsystem the ingest pipeline touches.
type Orchestrator struct {
	log  zerolog.Logger
	gate modegate.Gate

	archive  *archive.Archive
	keyword  *keyword.Index
	ngram    *ngram.Index
	entities *entityidx.Index
	vec      *vector.Index
	temporal *temporal.Index
	meta     *metadata.Index
	graph    *graph.Graph

	extractor *extract.Extractor
	embedder  embedprovider.Provider // nil is valid; dedup stage 2 and vector path both degrade without it
	llm       llmprovider.Provider   // nil is valid; dedup stage 3 then treats the grey zone as unique

	dedupMu     sync.Mutex
	lsh         *dedup.LSHIndex
	sigs        map[string]dedup.Signature // record id -> signature, for Stage 1 re-derivation
	recentEmb   map[string][]float32       // bounded recall-set of recent embeddings, for Stage 2
	recentOrder []string                   // insertion order of recentEmb, for eviction

	thresholds dedup.Thresholds

	MaintenanceTicks chan struct{} // background notify target; buffered, never blocks ingest
}

// Deps bundles everything New needs, keeping the constructor's signature
// from growing unboundedly as subsystems are added.
type Deps struct {
	Log        zerolog.Logger
	Gate       modegate.Gate
	Archive    *archive.Archive
	Keyword    *keyword.Index
	NGram      *ngram.Index
	Entities   *entityidx.Index
	Vector     *vector.Index
	Temporal   *temporal.Index
	Metadata   *metadata.Index
	Graph      *graph.Graph
	Extractor  *extract.Extractor
	Embedder   embedprovider.Provider
	LLM        llmprovider.Provider
	Thresholds dedup.Thresholds
}

// New wires an Orchestrator from its dependencies.
func New(d Deps) *Orchestrator {
	return &Orchestrator{
		log:              d.Log,
		gate:             d.Gate,
		archive:          d.Archive,
		keyword:          d.Keyword,
		ngram:            d.NGram,
		entities:         d.Entities,
		vec:              d.Vector,
		temporal:         d.Temporal,
		meta:             d.Metadata,
		graph:            d.Graph,
		extractor:        d.Extractor,
		embedder:         d.Embedder,
		llm:              d.LLM,
		lsh:              dedup.NewLSHIndex(16, 4), // 16 bands * 4 rows = 64 MinHash permutations
		sigs:             make(map[string]dedup.Signature),
		recentEmb:        make(map[string][]float32),
		thresholds:       d.Thresholds,
		MaintenanceTicks: make(chan struct{}, 64),
	}
}

// AddInput is one item submitted to Add or AddBatch.
type AddInput struct {
	Content     string
	Scope       scope.Scope
	Metadata    record.Metadata
	Source      string
	Tags        []string
	Category    string
	ContentType record.ContentType

	// FactTimeStart/FactTimeEnd give the caller-known validity window of
	// the fact this content describes, independent of when memoryd
	// ingested it. Both default to ingest time / open-ended when unset.
	FactTimeStart int64
	FactTimeEnd   int64
}

// AddResult is the outcome reported back to the caller of Add.
type AddResult struct {
	ID          string
	Accepted    bool
	Entities    []string
	Keywords    []string // extracted keywords, exposed so callers can feed external indexes (e.g. a bloom pre-filter) without re-extracting
	Warnings    []string
	DuplicateOf string
}

// Add runs the full single-item ingest pipeline.
func (o *Orchestrator) Add(ctx context.Context, in AddInput) (AddResult, error) {
	return o.addOne(ctx, in, false)
}

func (o *Orchestrator) extract(ctx context.Context, content string, skipLLM bool) (extract.Result, error) {
	if skipLLM {
		return o.extractor.ExtractRules(content), nil
	}
	return o.extractor.Extract(ctx, content)
}

func (o *Orchestrator) addOne(ctx context.Context, in AddInput, skipLLM bool) (AddResult, error) {
	var warnings []string

	effScope := in.Scope
	if !o.gate.SubTenantIsolationEnabled {
		effScope = effScope.Collapsed()
	}

	verdict, dupID := o.checkDuplicate(ctx, in.Content)
	if verdict == dedup.VerdictDuplicate {
		return AddResult{ID: dupID, Accepted: false, DuplicateOf: dupID}, nil
	}

	extraction, err := o.extract(ctx, in.Content, skipLLM)
	if err != nil {
		warnings = append(warnings, "extraction degraded: "+err.Error())
	}

	// These checks are intra-batch only: they compare the relations
	// extracted from this one fragment against each other. Conflicts with
	// long-term state are detected later, when assertRelations feeds each
	// edge through graph.Assert's contradiction rules.
	warnings = append(warnings, o.runConsistencyChecks(extraction)...)

	ts := nowNano()
	factRange := factRangeOf(in, ts)
	rec := record.Record{
		ID:                ids.New(),
		Scope:             effScope,
		Content:           in.Content,
		TimestampUnixNano: ts,
		Metadata:          in.Metadata,
		Source:            in.Source,
		Tags:              in.Tags,
		Category:          in.Category,
		ContentType:       in.ContentType,
		Keywords:          extraction.Keywords,
		FactTimeStart:     factRange.Start,
		FactTimeEnd:       factRange.End,
	}
	for _, c := range extraction.Entities {
		rec.EntitiesMentioned = append(rec.EntitiesMentioned, c.Label)
	}

	ordinal, err := o.archive.Append(rec)
	if err != nil {
		return AddResult{}, kerrors.New(kerrors.Corruption, "orchestrate.Add", err)
	}
	rec.Ordinal = ordinal
	o.registerSignature(rec.ID, in.Content)
	warnings = append(warnings, o.fanOutIndices(ctx, rec, factRange)...)

	entityIDs := o.reconcileEntities(extraction, rec)
	factIDs, relWarnings := o.assertRelations(extraction, entityIDs, rec, factRange)
	warnings = append(warnings, relWarnings...)
	o.recordEpisode(rec, entityIDs, factIDs)

	o.notifyMaintenance()

	return AddResult{ID: rec.ID, Accepted: true, Entities: entityIDs, Keywords: extraction.Keywords, Warnings: warnings}, nil
}

// AddBatch ingests multiple items in order, skipping dedup and/or LLM
// extraction when requested. With an embedder configured it issues one
// batched Embed call up front, but that result is not reused: each item's
// dedup and vector steps embed its content again. The logical result
// matches sequential Add calls.
func (o *Orchestrator) AddBatch(ctx context.Context, items []AddInput, skipDedup, skipLLM bool) ([]AddResult, error) {
	results := make([]AddResult, 0, len(items))

	if o.embedder != nil {
		texts := make([]string, len(items))
		for i, it := range items {
			texts[i] = it.Content
		}
		if _, err := o.embedder.Embed(ctx, texts); err != nil {
			o.log.Warn().Err(err).Msg("orchestrate: batch embedding precompute failed, falling back to per-item embedding")
		}
	}

	for _, it := range items {
		if skipDedup {
			res, err := o.addNoDedup(ctx, it, skipLLM)
			if err != nil {
				return results, err
			}
			results = append(results, res)
			continue
		}
		res, err := o.addOne(ctx, it, skipLLM)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (o *Orchestrator) addNoDedup(ctx context.Context, in AddInput, skipLLM bool) (AddResult, error) {
	extraction, _ := o.extract(ctx, in.Content, skipLLM)
	effScope := in.Scope
	if !o.gate.SubTenantIsolationEnabled {
		effScope = effScope.Collapsed()
	}
	ts := nowNano()
	factRange := factRangeOf(in, ts)
	rec := record.Record{
		ID: ids.New(), Scope: effScope, Content: in.Content, TimestampUnixNano: ts,
		Metadata: in.Metadata, Source: in.Source, Tags: in.Tags, Category: in.Category,
		ContentType: in.ContentType, Keywords: extraction.Keywords,
		FactTimeStart: factRange.Start, FactTimeEnd: factRange.End,
	}
	for _, c := range extraction.Entities {
		rec.EntitiesMentioned = append(rec.EntitiesMentioned, c.Label)
	}
	ordinal, err := o.archive.Append(rec)
	if err != nil {
		return AddResult{}, kerrors.New(kerrors.Corruption, "orchestrate.addNoDedup", err)
	}
	rec.Ordinal = ordinal
	o.registerSignature(rec.ID, in.Content)
	o.fanOutIndices(ctx, rec, factRange)
	entityIDs := o.reconcileEntities(extraction, rec)
	factIDs, _ := o.assertRelations(extraction, entityIDs, rec, factRange)
	o.recordEpisode(rec, entityIDs, factIDs)
	o.notifyMaintenance()
	return AddResult{ID: rec.ID, Accepted: true, Entities: entityIDs, Keywords: extraction.Keywords}, nil
}

func nowNano() int64 { return time.Now().UnixNano() }

// factRangeEntry pairs the resolved fact-time bounds for a single ingested
// record, with FactTimeStart defaulted to ingest time when the caller left
// it unset.
type factRangeEntry struct {
	Start int64
	End   int64
}

func factRangeOf(in AddInput, ingestTime int64) factRangeEntry {
	start := in.FactTimeStart
	if start == 0 {
		start = ingestTime
	}
	return factRangeEntry{Start: start, End: in.FactTimeEnd}
}

func (o *Orchestrator) notifyMaintenance() {
	select {
	case o.MaintenanceTicks <- struct{}{}:
	default: // never block ingest on a full channel
	}
}

// exclusiveRelationTypes lists the extraction-relation predicates under
// which a subject can only hold one object at a time, so asserting two
// within the same batch is an absolute (not narrative-only)
// contradiction. It is a separate set from graph.exclusivePredicates,
// which names different predicates in lower case.
var exclusiveRelationTypes = map[extract.RelationType]bool{
	extract.RelLocatedIn: true,
	extract.RelOwns:      true,
	extract.RelMemberOf:  true,
	extract.RelLeads:     true,
}

// runConsistencyChecks runs the always-on absolute and timeline checks
// regardless of mode, then the narrative-only attribute checks only under
// the narrative gate. Absolute/timeline checks operate on facts that hold
// regardless of whether the content is narrative fiction, so they're
// never mode-gated.
func (o *Orchestrator) runConsistencyChecks(res extract.Result) []string {
	var warnings []string
	warnings = append(warnings, absoluteRuleChecks(res)...)
	warnings = append(warnings, timelineCoherenceChecks(res)...)
	if o.gate.NarrativeConsistencyEnabled {
		warnings = append(warnings, narrativeAttributeChecks(res)...)
	}
	return warnings
}

// absoluteRuleChecks flags a subject asserted to hold two different
// objects under the same exclusive predicate within one extraction batch.
func absoluteRuleChecks(res extract.Result) []string {
	var warnings []string
	seen := make(map[string]string) // subject|predicate -> object
	for _, r := range res.Relations {
		if !exclusiveRelationTypes[r.Predicate] {
			continue
		}
		key := r.Subject + "|" + string(r.Predicate)
		if prior, ok := seen[key]; ok && prior != r.Object {
			warnings = append(warnings, "mutually exclusive relation: "+r.Subject+" cannot be "+string(r.Predicate)+" both "+prior+" and "+r.Object)
			continue
		}
		seen[key] = r.Object
	}
	return warnings
}

// timelineCoherenceChecks flags a PRECEDES cycle between two entities
// asserted within the same batch (A precedes B and B precedes A), which
// can never both be true regardless of narrative mode.
func timelineCoherenceChecks(res extract.Result) []string {
	var warnings []string
	precedes := make(map[[2]string]bool) // [subject, object]
	for _, r := range res.Relations {
		if r.Predicate == extract.RelPrecedes {
			precedes[[2]string{r.Subject, r.Object}] = true
		}
	}
	for pair := range precedes {
		subj, obj := pair[0], pair[1]
		if subj < obj && precedes[[2]string{obj, subj}] {
			warnings = append(warnings, "timeline contradiction: "+subj+" and "+obj+" each precede the other")
		}
	}
	return warnings
}

// narrativeAttributeChecks covers the attribute classes that only matter
// for narrative content, where a low-confidence relation is noteworthy but
// not necessarily wrong (unlike non-fiction content, where low confidence
// usually means the extractor should not have asserted it at all).
//
// This deliberately does not attempt numeric or categorical attribute
// conflict detection (e.g. "character is 20 in chapter 1, 45 in chapter
// 2"): extract.Result carries entities and relations, not structured
// attribute assertions, so there is nothing here to diff against.
func narrativeAttributeChecks(res extract.Result) []string {
	var warnings []string
	for _, r := range res.Relations {
		if r.Confidence < 0.3 {
			warnings = append(warnings, "low-confidence narrative relation: "+string(r.Predicate)+" between "+r.Subject+" and "+r.Object)
		}
	}
	return warnings
}

func (o *Orchestrator) fanOutIndices(ctx context.Context, rec record.Record, fr factRangeEntry) []string {
	var warnings []string

	if o.keyword != nil {
		if err := o.keyword.Add(rec.ID, rec.Content); err != nil {
			o.log.Warn().Err(err).Str("id", rec.ID).Msg("keyword index update failed")
			warnings = append(warnings, "keyword index degraded")
		}
	}
	if o.ngram != nil {
		if err := o.ngram.Add(rec.ID, rec.Content); err != nil {
			o.log.Warn().Err(err).Str("id", rec.ID).Msg("ngram index update failed")
			warnings = append(warnings, "ngram index degraded")
		}
	}
	if o.meta != nil {
		o.meta.Index(metadata.Entry{ID: rec.ID, Category: rec.Category, ContentType: string(rec.ContentType), Source: rec.Source, Tags: rec.Tags})
	}
	if o.temporal != nil {
		o.temporal.Insert(temporal.Entry{ID: rec.ID, FactTimeStart: fr.Start, FactTimeEnd: fr.End, SystemTime: rec.TimestampUnixNano})
	}
	if o.embedder != nil {
		vecs, err := o.embedder.Embed(ctx, []string{rec.Content})
		if err != nil || len(vecs) == 0 {
			warnings = append(warnings, "embedding unavailable: vector recall and semantic dedup degraded")
		} else {
			o.rememberEmbedding(rec.ID, vecs[0])
			if o.vec != nil && !o.vec.Lite() {
				if err := o.vec.Upsert(rec.ID, vecs[0]); err != nil {
					o.log.Warn().Err(err).Str("id", rec.ID).Msg("vector index update failed")
					warnings = append(warnings, "vector index degraded")
				}
			}
		}
	}
	return warnings
}

// recentEmbCap bounds the Stage 2 recall-set so dedup cost stays flat as
// the archive grows.
const recentEmbCap = 512

func (o *Orchestrator) rememberEmbedding(id string, emb []float32) {
	o.dedupMu.Lock()
	defer o.dedupMu.Unlock()
	if _, exists := o.recentEmb[id]; !exists {
		o.recentOrder = append(o.recentOrder, id)
	}
	o.recentEmb[id] = emb
	for len(o.recentOrder) > recentEmbCap {
		oldest := o.recentOrder[0]
		o.recentOrder = o.recentOrder[1:]
		delete(o.recentEmb, oldest)
	}
}

func (o *Orchestrator) reconcileEntities(res extract.Result, rec record.Record) []string {
	if o.entities == nil {
		return nil
	}
	var entityIDs []string
	for _, c := range res.Entities {
		e, err := o.entities.Upsert(entity.Entity{
			ID: ids.NewWithPrefix("ent"), Label: c.Label, Kind: c.Kind,
			FirstRecordID: rec.ID, TotalMentions: 1,
			References: []string{rec.ID},
		})
		if err != nil {
			o.log.Warn().Err(err).Str("label", c.Label).Msg("entity reconciliation failed")
			continue
		}
		entityIDs = append(entityIDs, e.ID)
	}
	return entityIDs
}

func (o *Orchestrator) assertRelations(res extract.Result, entityIDs []string, rec record.Record, fr factRangeEntry) (factIDs []string, warnings []string) {
	if o.graph == nil || len(res.Relations) == 0 {
		return nil, nil
	}
	labelToID := make(map[string]string, len(res.Entities))
	for i, c := range res.Entities {
		if i < len(entityIDs) {
			labelToID[c.Label] = entityIDs[i]
		}
	}

	for _, r := range res.Relations {
		srcID, ok1 := labelToID[r.Subject]
		tgtID, ok2 := labelToID[r.Object]
		if !ok1 || !ok2 {
			continue
		}
		fact := graph.Fact{
			ID: ids.NewWithPrefix("fact"), SourceID: srcID, TargetID: tgtID,
			Predicate: string(r.Predicate), Confidence: r.Confidence, RecordID: rec.ID,
			FactTimeStart: fr.Start, FactTimeEnd: fr.End, SystemTime: rec.TimestampUnixNano,
		}
		conflicts, err := o.graph.Assert(fact)
		if err != nil {
			warnings = append(warnings, "graph assert failed: "+err.Error())
			continue
		}
		rejected := false
		for _, c := range conflicts {
			switch c.Resolution {
			case graph.ResolveManual:
				warnings = append(warnings, "contradiction flagged for manual review: "+string(c.Kind))
			case graph.ResolveReject:
				warnings = append(warnings, "relation rejected by contradiction policy: "+string(c.Kind))
				rejected = true
			}
		}
		if !rejected {
			factIDs = append(factIDs, fact.ID)
		}
	}
	return factIDs, warnings
}

// recordEpisode back-links the ingest to what it produced, so "which
// ingest asserted this edge" stays answerable without replaying the
// archive. Ingests that produced nothing leave no episode.
func (o *Orchestrator) recordEpisode(rec record.Record, entityIDs, factIDs []string) {
	if o.graph == nil || (len(entityIDs) == 0 && len(factIDs) == 0) {
		return
	}
	o.graph.RecordEpisode(graph.Episode{
		ID:         ids.NewWithPrefix("ep"),
		RecordID:   rec.ID,
		SourceText: rec.Content,
		EntityIDs:  entityIDs,
		FactIDs:    factIDs,
		CreatedAt:  rec.TimestampUnixNano,
	})
}

// checkDuplicate runs Stage 1 (and, when an embedder is configured,
// Stage 2) of the deduplicator.
func (o *Orchestrator) checkDuplicate(ctx context.Context, content string) (dedup.Verdict, string) {
	o.dedupMu.Lock()
	defer o.dedupMu.Unlock()

	sig := dedup.Sign(content)
	candidates := o.lsh.Candidates(sig)
	for _, id := range candidates {
		existing, ok := o.sigs[id]
		if !ok {
			continue
		}
		v := dedup.ClassifyStage1(sig, existing, o.thresholds)
		if v == dedup.VerdictDuplicate {
			return dedup.VerdictDuplicate, id
		}
	}

	if o.embedder == nil {
		return dedup.VerdictDistinct, ""
	}
	vecs, err := o.embedder.Embed(ctx, []string{content})
	if err != nil || len(vecs) == 0 {
		return dedup.VerdictDistinct, "" // an unreachable embedder never blocks ingest
	}
	var greyIDs []string
	for id, emb := range o.recentEmb {
		sim := dedup.CosineSimilarity(vecs[0], emb)
		switch dedup.ClassifyStage2(sim, o.thresholds) {
		case dedup.VerdictDuplicate:
			return dedup.VerdictDuplicate, id
		case dedup.VerdictGreyZone:
			greyIDs = append(greyIDs, id)
		}
	}
	for _, id := range greyIDs {
		if o.confirmDuplicateLLM(ctx, content, id) {
			return dedup.VerdictDuplicate, id
		}
	}
	return dedup.VerdictDistinct, ""
}

const dedupConfirmSystemPrompt = "You judge whether two passages state the same information. " +
	"Reply with only \"yes\" if they are duplicates or \"no\" if they are distinct."

// confirmDuplicateLLM is dedup Stage 3: a yes/no verdict for one
// grey-zone candidate. Without a configured LLM, or on any provider
// error or non-answer, the candidate is treated as distinct so ingest
// never depends on the LLM being reachable.
func (o *Orchestrator) confirmDuplicateLLM(ctx context.Context, content, candidateID string) bool {
	if o.llm == nil {
		return false
	}
	existing, err := o.archive.GetByID(candidateID)
	if err != nil {
		return false
	}
	resp, err := o.llm.Complete(ctx, dedupConfirmSystemPrompt,
		"Passage A:\n"+content+"\n\nPassage B:\n"+existing.Content, 8)
	if err != nil {
		return false
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(resp)), "yes")
}

// WarmFromArchive replays the archive into the purely in-memory state
// (metadata and temporal indices, dedup signatures, knowledge graph)
// that has no on-disk form of its own. The archive is the source of
// truth; everything rebuilt here is derivable from it. Entities are
// resolved against the persisted entity index rather than re-upserted,
// so replay doesn't inflate mention counts or confidence.
func (o *Orchestrator) WarmFromArchive(ctx context.Context) error {
	total := o.archive.TotalRecords()
	it, err := o.archive.Range(0, total)
	if err != nil {
		return err
	}
	for {
		rec, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if _, err := o.archive.GetByID(rec.ID); err != nil {
			continue // deleted: the id is tombstoned out of the id index
		}
		o.registerSignature(rec.ID, rec.Content)
		if o.meta != nil {
			o.meta.Index(metadata.Entry{ID: rec.ID, Category: rec.Category, ContentType: string(rec.ContentType), Source: rec.Source, Tags: rec.Tags})
		}
		if o.temporal != nil {
			o.temporal.Insert(temporal.Entry{ID: rec.ID, FactTimeStart: rec.FactTimeStart, FactTimeEnd: rec.FactTimeEnd, SystemTime: rec.TimestampUnixNano})
		}
		o.replayGraph(ctx, rec)
	}
}

// replayGraph re-derives the record's relations with the rules extractor
// and re-asserts them, restoring the in-memory graph after a restart.
// Entity ids come from the persisted entity index; records whose entities
// no longer resolve contribute no edges.
func (o *Orchestrator) replayGraph(_ context.Context, rec record.Record) {
	if o.graph == nil || o.entities == nil {
		return
	}
	extraction := o.extractor.ExtractRules(rec.Content)
	if len(extraction.Relations) == 0 {
		return
	}
	var entityIDs []string
	resolved := extraction
	resolved.Entities = nil
	for _, c := range extraction.Entities {
		e, ok := o.entities.GetByLabel(c.Label)
		if !ok {
			continue
		}
		resolved.Entities = append(resolved.Entities, c)
		entityIDs = append(entityIDs, e.ID)
	}
	fr := factRangeEntry{Start: rec.FactTimeStart, End: rec.FactTimeEnd}
	factIDs, _ := o.assertRelations(resolved, entityIDs, rec, fr)
	o.recordEpisode(rec, entityIDs, factIDs)
}

// Forget drops id from the dedup state so a deleted record can never be
// reported as the duplicate-of target for future ingests.
func (o *Orchestrator) Forget(id string) {
	o.dedupMu.Lock()
	defer o.dedupMu.Unlock()
	delete(o.sigs, id)
	delete(o.recentEmb, id)
	o.lsh.Remove(id)
}

func (o *Orchestrator) registerSignature(id, content string) {
	sig := dedup.Sign(content)
	o.dedupMu.Lock()
	o.sigs[id] = sig
	o.lsh.Insert(id, sig)
	o.dedupMu.Unlock()
}
