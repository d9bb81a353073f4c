// Package keyword implements an inverted keyword index: token -> posting
// list of record ids, backed by a write-ahead log so every mutation
// survives a crash before the next compaction folds it into the snapshot.
package keyword

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kittclouds/memoryd/internal/kerrors"
	"github.com/kittclouds/memoryd/internal/tokenize"
)

type opKind string

const (
	opAdd    opKind = "add"
	opRemove opKind = "remove"
)

type walOp struct {
	Kind  opKind   `json:"kind"`
	ID    string   `json:"id"`
	Terms []string `json:"terms,omitempty"`
}

// Index is the token -> posting-list inverted keyword index.
type Index struct {
	mu   sync.RWMutex
	dir  string
	log  zerolog.Logger
	wal  *os.File
	ops  int // WAL ops since last compaction

	postings map[string]map[string]struct{} // term -> set of record ids
	docTerms map[string][]string            // record id -> terms it contributed, for removal
}

const compactEvery = 2000

// Open loads (or creates) the keyword index rooted at dir.
func Open(dir string, log zerolog.Logger) (*Index, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	idx := &Index{
		dir:      dir,
		log:      log,
		postings: make(map[string]map[string]struct{}),
		docTerms: make(map[string][]string),
	}
	if err := idx.loadSnapshot(); err != nil {
		return nil, err
	}
	if err := idx.replayWAL(); err != nil {
		return nil, err
	}
	if err := idx.openWAL(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *Index) snapshotPath() string { return filepath.Join(idx.dir, "snapshot.json") }
func (idx *Index) walPath() string      { return filepath.Join(idx.dir, "wal.log") }

type snapshotFile struct {
	DocTerms map[string][]string `json:"docTerms"`
}

func (idx *Index) loadSnapshot() error {
	data, err := os.ReadFile(idx.snapshotPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		return kerrors.New(kerrors.Corruption, "keyword.loadSnapshot", err)
	}
	for id, terms := range snap.DocTerms {
		idx.applyAddLocked(id, terms)
	}
	return nil
}

func (idx *Index) replayWAL() error {
	f, err := os.Open(idx.walPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var op walOp
		if err := json.Unmarshal(scanner.Bytes(), &op); err != nil {
			continue // tolerate a truncated trailing WAL line from a crash
		}
		switch op.Kind {
		case opAdd:
			idx.applyAddLocked(op.ID, op.Terms)
		case opRemove:
			idx.applyRemoveLocked(op.ID)
		}
	}
	return nil
}

func (idx *Index) openWAL() error {
	f, err := os.OpenFile(idx.walPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	idx.wal = f
	return nil
}

func (idx *Index) applyAddLocked(id string, terms []string) {
	idx.docTerms[id] = terms
	for _, t := range terms {
		set, ok := idx.postings[t]
		if !ok {
			set = make(map[string]struct{})
			idx.postings[t] = set
		}
		set[id] = struct{}{}
	}
}

func (idx *Index) applyRemoveLocked(id string) {
	for _, t := range idx.docTerms[id] {
		if set, ok := idx.postings[t]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(idx.postings, t)
			}
		}
	}
	delete(idx.docTerms, id)
}

func (idx *Index) appendWAL(op walOp) error {
	data, err := json.Marshal(op)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := idx.wal.Write(data); err != nil {
		return err
	}
	return idx.wal.Sync()
}

// Add tokenizes content and indexes it under id, replacing any prior terms
// previously registered for the same id.
func (idx *Index) Add(id, content string) error {
	terms := dedupeTerms(tokenize.Keywords(content))

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.docTerms[id]; exists {
		idx.applyRemoveLocked(id)
		if err := idx.appendWAL(walOp{Kind: opRemove, ID: id}); err != nil {
			return kerrors.New(kerrors.Corruption, "keyword.Add", err)
		}
	}

	idx.applyAddLocked(id, terms)
	if err := idx.appendWAL(walOp{Kind: opAdd, ID: id, Terms: terms}); err != nil {
		return kerrors.New(kerrors.Corruption, "keyword.Add", err)
	}
	idx.ops++
	if idx.ops >= compactEvery {
		if err := idx.compactLocked(); err != nil {
			idx.log.Warn().Err(err).Msg("keyword: compaction failed, WAL keeps growing")
		}
	}
	return nil
}

// Remove unlinks id from every term's posting list.
func (idx *Index) Remove(id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, ok := idx.docTerms[id]; !ok {
		return nil
	}
	idx.applyRemoveLocked(id)
	return idx.appendWAL(walOp{Kind: opRemove, ID: id})
}

// Lookup returns the ids posted under term, sorted for determinism.
func (idx *Index) Lookup(term string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	set, ok := idx.postings[term]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Search scores ids against the query's keyword terms by the count of
// distinct matching terms, descending.
func (idx *Index) Search(query string, limit int) []string {
	terms := dedupeTerms(tokenize.Keywords(query))
	idx.mu.RLock()
	scores := make(map[string]int)
	for _, t := range terms {
		for id := range idx.postings[t] {
			scores[id]++
		}
	}
	idx.mu.RUnlock()

	type scored struct {
		id    string
		score int
	}
	list := make([]scored, 0, len(scores))
	for id, s := range scores {
		list = append(list, scored{id, s})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].score != list[j].score {
			return list[i].score > list[j].score
		}
		return list[i].id < list[j].id
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.id
	}
	return out
}

// Compact folds the WAL into a fresh snapshot and truncates the log.
func (idx *Index) Compact() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.compactLocked()
}

func (idx *Index) compactLocked() error {
	snap := snapshotFile{DocTerms: idx.docTerms}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	tmp := idx.snapshotPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, idx.snapshotPath()); err != nil {
		return err
	}

	if err := idx.wal.Close(); err != nil {
		return err
	}
	if err := os.Truncate(idx.walPath(), 0); err != nil {
		return err
	}
	if err := idx.openWAL(); err != nil {
		return err
	}
	idx.ops = 0
	idx.log.Debug().Int("terms", len(idx.postings)).Msg("keyword: compacted")
	return nil
}

// Close flushes and releases the WAL handle.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.wal.Close()
}

func dedupeTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := terms[:0]
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
