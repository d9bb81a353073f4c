// Package graph implements the in-process temporal knowledge graph:
// entities connected by bitemporal facts, with contradiction detection
// against the graph's current belief state. Facts carry a
// source/target/predicate/confidence/bidirectional shape plus
// fact-time/system-time stamps and a resolution policy per conflict.
package graph

import (
	"sync"

	"github.com/kittclouds/memoryd/internal/kerrors"
)

// ResolutionStrategy names how a contradiction was (or should be) settled.
type ResolutionStrategy string

const (
	ResolveAuto      ResolutionStrategy = "auto"      // per-kind defaults: direct supersedes, temporal coexists, exclusivity goes manual
	ResolveSupersede ResolutionStrategy = "supersede" // newer fact replaces the older belief
	ResolveCoexist   ResolutionStrategy = "coexist"   // both facts stand, e.g. differing scopes
	ResolveReject    ResolutionStrategy = "reject"    // the new fact is discarded
	ResolveManual    ResolutionStrategy = "manual"    // deferred to a human or caller decision
)

// ParseStrategy maps a config string to a ResolutionStrategy, defaulting
// to ResolveAuto for anything unrecognized.
func ParseStrategy(s string) ResolutionStrategy {
	switch ResolutionStrategy(s) {
	case ResolveSupersede, ResolveCoexist, ResolveReject, ResolveManual:
		return ResolutionStrategy(s)
	default:
		return ResolveAuto
	}
}

// ConflictKind classifies why two facts were flagged as contradictory.
type ConflictKind string

const (
	ConflictDirect      ConflictKind = "direct"      // same predicate, different object, overlapping fact time
	ConflictTemporal    ConflictKind = "temporal"    // same predicate and object, disjoint fact time ranges
	ConflictExclusivity ConflictKind = "exclusivity" // predicate only one object may hold at a time (e.g. "located_in")
)

// Fact is one bitemporal edge: source and target entity ids connected by
// a predicate, stamped with when it was true (fact time) and when
// memoryd learned it (system time).
type Fact struct {
	ID            string
	SourceID      string
	TargetID      string
	Predicate     string
	Confidence    float64
	Bidirectional bool
	RecordID      string // originating record, for provenance

	FactTimeStart int64
	FactTimeEnd   int64 // 0 means open-ended / still true
	SystemTime    int64 // ingest time
	Superseded    bool
}

// exclusivePredicates name predicates where an entity can hold only one
// object at a time.
var exclusivePredicates = map[string]bool{
	"located_in": true,
	"married_to": true,
	"owns_title": true,
	"leads":      true,
	"employed_by": true,
}

// Contradiction reports two facts the graph judges to be in conflict.
type Contradiction struct {
	Kind       ConflictKind
	Existing   Fact
	Incoming   Fact
	Resolution ResolutionStrategy
}

// Graph is the in-process adjacency-list knowledge graph.
type Graph struct {
	mu sync.RWMutex

	strategy ResolutionStrategy

	facts   map[string]Fact     // fact id -> fact
	outEdge map[string][]string // source id -> fact ids
	inEdge  map[string][]string // target id -> fact ids

	episodes map[string]Episode // episode id -> episode
	byRecord map[string]string  // record id -> episode id
}

// New returns an empty knowledge graph using the auto resolution policy.
func New() *Graph {
	return NewWithStrategy(ResolveAuto)
}

// NewWithStrategy returns an empty knowledge graph that settles every
// contradiction with the given strategy. ResolveAuto keeps the per-kind
// defaults.
func NewWithStrategy(s ResolutionStrategy) *Graph {
	return &Graph{
		strategy: s,
		facts:    make(map[string]Fact),
		outEdge:  make(map[string][]string),
		inEdge:   make(map[string][]string),
		episodes: make(map[string]Episode),
		byRecord: make(map[string]string),
	}
}

// Assert adds a fact to the graph, checking it against the current belief
// state first. The returned contradictions always carry a Resolution; when
// Resolution is ResolveSupersede the conflicting existing fact has already
// been marked Superseded before Assert returns.
func (g *Graph) Assert(f Fact) ([]Contradiction, error) {
	if f.SourceID == "" || f.TargetID == "" || f.Predicate == "" {
		return nil, kerrors.New(kerrors.InvalidArgument, "graph.Assert", errMissingFactFields)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// Edges are unique by (source, predicate, target); re-asserting the
	// identical triple with an overlapping fact range raises confidence
	// instead of creating a duplicate. A disjoint fact range on the same
	// triple is a temporal conflict and falls through to the
	// conflict-detection loop below.
	for _, fid := range g.outEdge[f.SourceID] {
		existing := g.facts[fid]
		if existing.Superseded || existing.Predicate != f.Predicate || existing.TargetID != f.TargetID {
			continue
		}
		if rangesOverlap(existing.FactTimeStart, existing.FactTimeEnd, f.FactTimeStart, f.FactTimeEnd) {
			if f.Confidence > existing.Confidence {
				existing.Confidence = f.Confidence
			}
			g.facts[fid] = existing
			return nil, nil
		}
	}

	var conflicts []Contradiction
	for _, fid := range g.outEdge[f.SourceID] {
		existing := g.facts[fid]
		if existing.Superseded || existing.Predicate != f.Predicate {
			continue
		}
		kind, conflict := detect(existing, f)
		if !conflict {
			continue
		}
		strategy := g.strategy
		if strategy == ResolveAuto || strategy == "" {
			strategy = resolve(existing, f, kind)
		}
		conflicts = append(conflicts, Contradiction{Kind: kind, Existing: existing, Incoming: f, Resolution: strategy})
		if strategy == ResolveSupersede {
			existing.Superseded = true
			if existing.FactTimeEnd == 0 || existing.FactTimeEnd > f.FactTimeStart {
				existing.FactTimeEnd = f.FactTimeStart
			}
			g.facts[fid] = existing
		}
		if strategy == ResolveReject {
			return conflicts, nil
		}
	}

	g.facts[f.ID] = f
	g.outEdge[f.SourceID] = append(g.outEdge[f.SourceID], f.ID)
	g.inEdge[f.TargetID] = append(g.inEdge[f.TargetID], f.ID)
	if f.Bidirectional {
		g.outEdge[f.TargetID] = append(g.outEdge[f.TargetID], f.ID)
		g.inEdge[f.SourceID] = append(g.inEdge[f.SourceID], f.ID)
	}
	return conflicts, nil
}

// detect classifies whether existing and incoming facts conflict.
func detect(existing, incoming Fact) (ConflictKind, bool) {
	overlapsInTime := rangesOverlap(existing.FactTimeStart, existing.FactTimeEnd, incoming.FactTimeStart, incoming.FactTimeEnd)

	if existing.TargetID == incoming.TargetID && !overlapsInTime {
		return ConflictTemporal, true
	}

	if exclusivePredicates[existing.Predicate] {
		if existing.TargetID != incoming.TargetID && overlapsInTime {
			return ConflictExclusivity, true
		}
		return "", false
	}

	if existing.TargetID != incoming.TargetID && overlapsInTime {
		return ConflictDirect, true
	}
	return "", false
}

func rangesOverlap(aStart, aEnd, bStart, bEnd int64) bool {
	if aEnd == 0 {
		aEnd = int64(1) << 62
	}
	if bEnd == 0 {
		bEnd = int64(1) << 62
	}
	return aStart <= bEnd && bStart <= aEnd
}

// resolve applies the default auto policy: direct conflicts supersede
// (the later claim wins), temporal conflicts coexist pending review, and
// exclusive-predicate conflicts always require manual review.
func resolve(existing, incoming Fact, kind ConflictKind) ResolutionStrategy {
	switch kind {
	case ConflictDirect:
		return ResolveSupersede
	case ConflictTemporal:
		return ResolveCoexist
	case ConflictExclusivity:
		return ResolveManual
	default:
		return ResolveCoexist
	}
}

// Direction names which edge direction a traversal follows.
type Direction int

const (
	DirOut  Direction = iota // source -> target, following outEdge
	DirIn                    // target -> source, following inEdge
	DirBoth                  // both directions, deduplicated by fact id
)

// Out returns the non-superseded facts with the given source entity.
func (g *Graph) Out(sourceID string) []Fact {
	return g.Neighbours(sourceID, "", DirOut)
}

// In returns the non-superseded facts with the given target entity.
func (g *Graph) In(targetID string) []Fact {
	return g.Neighbours(targetID, "", DirIn)
}

// Neighbours returns the non-superseded facts touching id in the given
// direction, optionally filtered to a single predicate (empty matches
// any predicate).
func (g *Graph) Neighbours(id, predicate string, dir Direction) []Fact {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.neighboursLocked(id, predicate, dir)
}

func (g *Graph) neighboursLocked(id, predicate string, dir Direction) []Fact {
	seen := make(map[string]struct{})
	var out []Fact
	collect := func(fids []string) {
		for _, fid := range fids {
			if _, dup := seen[fid]; dup {
				continue
			}
			f, ok := g.facts[fid]
			if !ok || f.Superseded {
				continue
			}
			if predicate != "" && f.Predicate != predicate {
				continue
			}
			seen[fid] = struct{}{}
			out = append(out, f)
		}
	}
	if dir == DirOut || dir == DirBoth {
		collect(g.outEdge[id])
	}
	if dir == DirIn || dir == DirBoth {
		collect(g.inEdge[id])
	}
	return out
}

// otherEnd returns the entity id on the far side of f from id.
func otherEnd(f Fact, id string) string {
	if f.SourceID == id {
		return f.TargetID
	}
	return f.SourceID
}

// ShortestPath returns the shortest chain of facts connecting from to to,
// traversing edges in either direction, found via breadth-first search and
// capped at maxDepth hops. Returns nil if no path exists within that bound.
func (g *Graph) ShortestPath(from, to string, maxDepth int) []Fact {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if from == to {
		return nil
	}

	visited := map[string]bool{from: true}
	queue := []*step{{id: from}}

	for depth := 0; len(queue) > 0 && depth < maxDepth; depth++ {
		var next []*step
		for _, cur := range queue {
			for _, f := range g.neighboursLocked(cur.id, "", DirBoth) {
				nid := otherEnd(f, cur.id)
				if visited[nid] {
					continue
				}
				visited[nid] = true
				s := &step{id: nid, via: f, prev: cur}
				if nid == to {
					return pathFrom(s)
				}
				next = append(next, s)
			}
		}
		queue = next
	}
	return nil
}

func pathFrom(s *step) []Fact {
	var out []Fact
	for n := s; n.prev != nil; n = n.prev {
		out = append([]Fact{n.via}, out...)
	}
	return out
}

type step struct {
	id   string
	via  Fact
	prev *step
}

// Subgraph returns every fact reachable from id within depth hops,
// traversing edges in either direction, via breadth-first search.
func (g *Graph) Subgraph(id string, depth int) []Fact {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seenFacts := make(map[string]struct{})
	var out []Fact
	visited := map[string]bool{id: true}
	frontier := []string{id}

	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []string
		for _, cur := range frontier {
			for _, f := range g.neighboursLocked(cur, "", DirBoth) {
				if _, dup := seenFacts[f.ID]; !dup {
					seenFacts[f.ID] = struct{}{}
					out = append(out, f)
				}
				nid := otherEnd(f, cur)
				if !visited[nid] {
					visited[nid] = true
					next = append(next, nid)
				}
			}
		}
		frontier = next
	}
	return out
}

// NeighboursAt returns the facts touching id in the given direction whose
// fact-time range contains factTime, regardless of whether they have since
// been superseded — so a query about the past can still see a fact that
// was true then, even if a later supersede changed the current belief.
func (g *Graph) NeighboursAt(id, predicate string, dir Direction, factTime int64) []Fact {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []Fact
	collect := func(fids []string) {
		for _, fid := range fids {
			if _, dup := seen[fid]; dup {
				continue
			}
			f, ok := g.facts[fid]
			if !ok {
				continue
			}
			if predicate != "" && f.Predicate != predicate {
				continue
			}
			if !rangesOverlap(f.FactTimeStart, f.FactTimeEnd, factTime, factTime) {
				continue
			}
			seen[fid] = struct{}{}
			out = append(out, f)
		}
	}
	if dir == DirOut || dir == DirBoth {
		collect(g.outEdge[id])
	}
	if dir == DirIn || dir == DirBoth {
		collect(g.inEdge[id])
	}
	return out
}

// History returns every fact ever asserted between source and target,
// including superseded ones, in insertion order.
func (g *Graph) History(sourceID, targetID string) []Fact {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []Fact
	for _, fid := range g.outEdge[sourceID] {
		f := g.facts[fid]
		if f.TargetID == targetID {
			out = append(out, f)
		}
	}
	return out
}

// Remove deletes a fact id from the graph entirely (not a supersede).
func (g *Graph) Remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	f, ok := g.facts[id]
	if !ok {
		return
	}
	g.outEdge[f.SourceID] = removeID(g.outEdge[f.SourceID], id)
	g.inEdge[f.TargetID] = removeID(g.inEdge[f.TargetID], id)
	if f.Bidirectional {
		g.outEdge[f.TargetID] = removeID(g.outEdge[f.TargetID], id)
		g.inEdge[f.SourceID] = removeID(g.inEdge[f.SourceID], id)
	}
	delete(g.facts, id)
}

func removeID(ids []string, target string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// Episode groups one ingest: the source text it came from and back-links
// to the entities and facts it produced, so "which ingest produced this
// edge" is answerable without replaying the archive.
type Episode struct {
	ID         string
	RecordID   string
	SourceText string
	EntityIDs  []string
	FactIDs    []string
	CreatedAt  int64
}

// RecordEpisode stores ep, replacing any prior episode for the same
// record id.
func (g *Graph) RecordEpisode(ep Episode) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if prior, ok := g.byRecord[ep.RecordID]; ok {
		delete(g.episodes, prior)
	}
	g.episodes[ep.ID] = ep
	g.byRecord[ep.RecordID] = ep.ID
}

// EpisodeByID returns the episode with the given id.
func (g *Graph) EpisodeByID(id string) (Episode, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ep, ok := g.episodes[id]
	return ep, ok
}

// EpisodeForRecord returns the episode produced by ingesting recordID.
func (g *Graph) EpisodeForRecord(recordID string) (Episode, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	id, ok := g.byRecord[recordID]
	if !ok {
		return Episode{}, false
	}
	ep, ok := g.episodes[id]
	return ep, ok
}

// EpisodeForFact returns the episode whose ingest asserted factID.
func (g *Graph) EpisodeForFact(factID string) (Episode, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	f, ok := g.facts[factID]
	if !ok {
		return Episode{}, false
	}
	id, ok := g.byRecord[f.RecordID]
	if !ok {
		return Episode{}, false
	}
	ep, ok := g.episodes[id]
	return ep, ok
}

type missingFactFieldsErr struct{}

func (missingFactFieldsErr) Error() string { return "graph: fact requires source, target, and predicate" }

var errMissingFactFields = missingFactFieldsErr{}
