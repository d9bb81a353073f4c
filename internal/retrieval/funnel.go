// Package retrieval implements the multi-path parallel retrieval funnel:
// vector, keyword, entity, and n-gram/raw recall paths run concurrently,
// fused by reciprocal rank fusion, cut to the caller's metadata filter and
// scope, then optionally passed through rerank.
package retrieval

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/kittclouds/memoryd/internal/bloomfilter"
	"github.com/kittclouds/memoryd/internal/embedprovider"
	"github.com/kittclouds/memoryd/internal/graph"
	"github.com/kittclouds/memoryd/internal/index/entityidx"
	"github.com/kittclouds/memoryd/internal/index/keyword"
	"github.com/kittclouds/memoryd/internal/index/metadata"
	"github.com/kittclouds/memoryd/internal/index/ngram"
	"github.com/kittclouds/memoryd/internal/index/temporal"
	"github.com/kittclouds/memoryd/internal/index/vector"
	"github.com/kittclouds/memoryd/internal/llmprovider"
	"github.com/kittclouds/memoryd/internal/rerankprovider"
	"github.com/kittclouds/memoryd/internal/scope"
	"github.com/kittclouds/memoryd/internal/tokenize"
)

// PathWeight are the reciprocal-rank-fusion weights for each recall path.
// The raw n-gram path carries the highest weight so exact matches always
// survive fusion.
type PathWeight struct {
	Vector float64
	Keyword float64
	Entity  float64
	NGram   float64
}

// DefaultWeights weights the raw n-gram path highest so exact matches win ties.
var DefaultWeights = PathWeight{Vector: 1.0, Keyword: 1.0, Entity: 1.0, NGram: 1.5}

const rrfK = 60

// Funnel wires the index family together for query time.
type Funnel struct {
	Keyword  *keyword.Index
	NGram    *ngram.Index
	Entity   *entityidx.Index
	Vector   *vector.Index
	Metadata *metadata.Index         // optional; enables Query.Filter
	Embedder embedprovider.Provider  // may be nil, e.g. vector in lite mode
	Rerank   rerankprovider.Provider
	Weights  PathWeight
}

// RecordContent resolves a record id to the text used for rerank and the
// context builder. Supplied by the caller (the orchestrator) so this
// package stays storage-agnostic.
type RecordContent func(id string) (text string, recordScope scope.Scope, ok bool)

// Query describes one retrieval request.
type Query struct {
	Text           string
	Scope          scope.Scope
	TopK           int
	UseRerank      bool
	EntityMentions []string        // pre-extracted entity surface forms, if the caller already has them
	Filter         metadata.Filter // zero-value means unfiltered
}

// Result is one fused, scope-filtered hit.
type Result struct {
	ID       string
	Score    float64
	Sources  []string // which paths contributed
}

// Search runs all recall paths in parallel, fuses with RRF, restricts to
// q.Filter and q.Scope, then optionally reranks what remains.
func (f *Funnel) Search(ctx context.Context, q Query, resolve RecordContent) ([]Result, error) {
	topK := q.TopK
	if topK <= 0 {
		topK = 20
	}
	// Over-retrieve by >=2x because the scope filter runs after fusion
	// and recall paths may return cross-scope candidates.
	overretrieveK := topK * 2

	type pathResult struct {
		name string
		ids  []string
	}

	var wg sync.WaitGroup
	results := make(chan pathResult, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		ids := f.keywordPath(q.Text, overretrieveK)
		select {
		case results <- pathResult{"keyword", ids}:
		case <-ctx.Done():
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ids := f.entityPath(q)
		select {
		case results <- pathResult{"entity", ids}:
		case <-ctx.Done():
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ids := f.ngramPath(q.Text, overretrieveK)
		select {
		case results <- pathResult{"ngram", ids}:
		case <-ctx.Done():
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ids := f.vectorPath(ctx, q.Text, overretrieveK)
		select {
		case results <- pathResult{"vector", ids}:
		case <-ctx.Done():
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	pathHits := make(map[string][]string)
collect:
	for {
		select {
		case pr, ok := <-results:
			if !ok {
				break collect
			}
			pathHits[pr.name] = pr.ids
		case <-ctx.Done():
			break collect
		}
	}

	fused := f.fuse(pathHits)

	var allowed map[string]struct{}
	if f.Metadata != nil && !q.Filter.IsZero() {
		allowed = make(map[string]struct{})
		for _, id := range f.Metadata.Query(q.Filter) {
			allowed[id] = struct{}{}
		}
	}

	filtered := make([]Result, 0, len(fused))
	for _, r := range fused {
		if allowed != nil {
			if _, ok := allowed[r.ID]; !ok {
				continue
			}
		}
		_, recScope, ok := resolve(r.ID)
		if !ok {
			continue
		}
		if !scopeMatches(q.Scope, recScope) {
			continue
		}
		filtered = append(filtered, r)
		if len(filtered) >= overretrieveK {
			break
		}
	}

	if q.UseRerank && f.Rerank != nil && len(filtered) > 0 {
		docs := make([]string, len(filtered))
		for i, r := range filtered {
			text, _, _ := resolve(r.ID)
			docs[i] = text
		}
		scored, err := f.Rerank.Rerank(ctx, q.Text, docs, topK)
		if err == nil {
			reranked := make([]Result, len(scored))
			for i, s := range scored {
				reranked[i] = Result{ID: filtered[s.Index].ID, Score: s.Score, Sources: filtered[s.Index].Sources}
			}
			return reranked, nil
		}
	}

	if len(filtered) > topK {
		filtered = filtered[:topK]
	}
	return filtered, nil
}

func scopeMatches(query, record scope.Scope) bool {
	if query.UserID != "" && query.UserID != record.UserID {
		return false
	}
	if query.SubTenantID != "" && query.SubTenantID != record.SubTenantID {
		return false
	}
	if query.SessionID != "" && query.SessionID != record.SessionID {
		return false
	}
	return true
}

func (f *Funnel) keywordPath(query string, limit int) []string {
	if f.Keyword == nil {
		return nil
	}
	return f.Keyword.Search(query, limit)
}

// entityPath resolves matched entities to the union of their full
// reference sets, not just the record that first introduced them, so
// every record mentioning a known entity stays reachable via this path.
func (f *Funnel) entityPath(q Query) []string {
	if f.Entity == nil {
		return nil
	}
	mentions := q.EntityMentions
	if len(mentions) == 0 {
		mentions = tokenize.Words(q.Text)
	}
	seen := make(map[string]struct{})
	var out []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, m := range mentions {
		e, ok := f.Entity.GetByLabel(m)
		if !ok {
			continue
		}
		if len(e.References) == 0 {
			add(e.FirstRecordID)
			continue
		}
		for _, ref := range e.References {
			add(ref)
		}
	}
	return out
}

func (f *Funnel) ngramPath(query string, limit int) []string {
	if f.NGram == nil {
		return nil
	}
	if ids := f.NGram.SearchPhrase(query, limit); len(ids) > 0 {
		return ids
	}
	ids, err := f.NGram.SearchSubstring(strings.TrimSpace(query), limit)
	if err != nil {
		return nil
	}
	return ids
}

func (f *Funnel) vectorPath(ctx context.Context, query string, limit int) []string {
	if f.Vector == nil || f.Embedder == nil || f.Vector.Lite() {
		return nil
	}
	vecs, err := f.Embedder.Embed(ctx, []string{query})
	if err != nil || len(vecs) == 0 {
		return nil
	}
	hits, err := f.Vector.Search(vecs[0], limit)
	if err != nil {
		return nil
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	return ids
}

// fuse applies reciprocal rank fusion across every path's ranked id list.
func (f *Funnel) fuse(pathHits map[string][]string) []Result {
	weight := func(path string) float64 {
		switch path {
		case "vector":
			return f.Weights.Vector
		case "keyword":
			return f.Weights.Keyword
		case "entity":
			return f.Weights.Entity
		case "ngram":
			return f.Weights.NGram
		default:
			return 1.0
		}
	}

	scores := make(map[string]float64)
	sources := make(map[string][]string)
	// Visit paths in sorted order so each result's Sources order and
	// floating-point score sum are the same on every call.
	paths := make([]string, 0, len(pathHits))
	for path := range pathHits {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		ids := pathHits[path]
		w := weight(path)
		for rank, id := range ids {
			scores[id] += w / float64(rrfK+rank+1)
			sources[id] = append(sources[id], path)
		}
	}

	out := make([]Result, 0, len(scores))
	for id, s := range scores {
		out = append(out, Result{ID: id, Score: s, Sources: sources[id]})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// TemporalWindow restricts L2's pre-filter to a fact-time range.
type TemporalWindow struct {
	Index      *temporal.Index
	Start, End int64
}

// GraphExpand configures L5's BFS expansion from a set of seed entities.
type GraphExpand struct {
	Graph        *graph.Graph
	SeedEntities []string // entity ids to expand from
	Depth        int
}

// LayerConfig turns on the opt-in eleven-layer stages (L1 bloom
// pre-filter, L2 temporal pre-filter, L5 graph BFS expansion, L11 LLM
// relevance filter) on top of the Search pipeline. Every field defaults
// to off, and L9/L10 are the existing Query.UseRerank/Funnel.Rerank
// mechanism already used by Search — SearchLayered adds nothing on top
// of it, so a zero-value LayerConfig makes SearchLayered produce output
// byte-identical to calling Search directly.
type LayerConfig struct {
	Bloom       *bloomfilter.Filter // L1
	Temporal    *TemporalWindow     // L2
	GraphExpand *GraphExpand        // L5
	LLMFilter   llmprovider.Provider // L11
}

const llmRelevanceSystemPrompt = "You judge which numbered candidate passages are relevant to a search query. " +
	"Reply with only a comma-separated list of the relevant candidate numbers, or \"none\" if none are relevant."

// SearchLayered runs Search with the opt-in eleven-layer stages applied
// around it: L1 may short-circuit before recall runs; L5 augments the
// entity path's seed mentions; L2 and L11 filter Search's fused output.
func (f *Funnel) SearchLayered(ctx context.Context, q Query, resolve RecordContent, cfg LayerConfig) ([]Result, error) {
	if cfg.Bloom != nil {
		terms := tokenize.Keywords(q.Text)
		if len(terms) > 0 && !cfg.Bloom.TestAny(terms) {
			return nil, nil
		}
	}

	if cfg.GraphExpand != nil && len(cfg.GraphExpand.SeedEntities) > 0 && f.Entity != nil {
		q.EntityMentions = append(append([]string(nil), q.EntityMentions...), f.graphExpandLabels(cfg.GraphExpand)...)
	}

	hits, err := f.Search(ctx, q, resolve)
	if err != nil || len(hits) == 0 {
		return hits, err
	}

	if cfg.Temporal != nil {
		hits = filterByTemporalWindow(hits, cfg.Temporal)
	}

	if cfg.LLMFilter != nil {
		hits = filterByLLMRelevance(ctx, cfg.LLMFilter, q.Text, hits, resolve)
	}

	return hits, nil
}

// graphExpandLabels BFS-expands from cfg's seed entities and resolves the
// touched entity ids back to labels, so they feed entityPath's existing
// label-based resolution.
func (f *Funnel) graphExpandLabels(cfg *GraphExpand) []string {
	seen := make(map[string]struct{})
	var labels []string
	addLabel := func(entityID string) {
		if _, dup := seen[entityID]; dup {
			return
		}
		seen[entityID] = struct{}{}
		if e, ok := f.Entity.GetByID(entityID); ok {
			labels = append(labels, e.Label)
		}
	}
	for _, seed := range cfg.SeedEntities {
		addLabel(seed)
		for _, fact := range cfg.Graph.Subgraph(seed, cfg.Depth) {
			addLabel(fact.SourceID)
			addLabel(fact.TargetID)
		}
	}
	return labels
}

func filterByTemporalWindow(hits []Result, w *TemporalWindow) []Result {
	allowed := make(map[string]struct{})
	for _, e := range w.Index.RangeByFactTime(w.Start, w.End) {
		allowed[e.ID] = struct{}{}
	}
	out := hits[:0]
	for _, h := range hits {
		if _, ok := allowed[h.ID]; ok {
			out = append(out, h)
		}
	}
	return out
}

// filterByLLMRelevance asks an LLM to pick the relevant candidates out of
// the fused list. A provider error or unparseable response degrades to
// the unfiltered list rather than failing the whole query.
func filterByLLMRelevance(ctx context.Context, llm llmprovider.Provider, query string, hits []Result, resolve RecordContent) []Result {
	var sb strings.Builder
	sb.WriteString("Query: " + query + "\n\nCandidates:\n")
	for i, h := range hits {
		text, _, _ := resolve(h.ID)
		sb.WriteString(strconv.Itoa(i) + ". " + text + "\n")
	}

	resp, err := llm.Complete(ctx, llmRelevanceSystemPrompt, sb.String(), 256)
	if err != nil {
		return hits
	}
	keep := parseRelevantIndices(resp, len(hits))
	if len(keep) == 0 {
		return hits
	}
	out := make([]Result, 0, len(keep))
	for _, i := range keep {
		out = append(out, hits[i])
	}
	return out
}

func parseRelevantIndices(resp string, n int) []int {
	var out []int
	for _, field := range strings.FieldsFunc(resp, func(r rune) bool { return r == ',' || r == ' ' || r == '\n' }) {
		i, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil || i < 0 || i >= n {
			continue
		}
		out = append(out, i)
	}
	return out
}
