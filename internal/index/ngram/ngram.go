// Package ngram implements a phrase index: a fast word-trigram posting
// list for ordinary phrase queries, plus a raw-substring fallback scan
// that never misses a literal match even when it falls outside the
// trigram vocabulary. The fallback is what makes recall non-forgetting.
package ngram

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/coregx/ahocorasick"
	"github.com/rs/zerolog"

	"github.com/kittclouds/memoryd/internal/kerrors"
	"github.com/kittclouds/memoryd/internal/tokenize"
)

const phraseWidth = 3

type opKind string

const (
	opAdd    opKind = "add"
	opRemove opKind = "remove"
)

type walOp struct {
	Kind opKind `json:"kind"`
	ID   string `json:"id"`
	Raw  string `json:"raw,omitempty"`
}

// Index is the phrase index with its raw-substring safety net.
type Index struct {
	mu  sync.RWMutex
	dir string
	log zerolog.Logger
	wal *os.File
	ops int

	phrases map[string]map[string]struct{} // trigram -> ids
	docRaw  map[string]string              // id -> canonicalized content (fallback corpus)
}

// Open loads (or creates) the ngram index rooted at dir.
func Open(dir string, log zerolog.Logger) (*Index, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	idx := &Index{
		dir:     dir,
		log:     log,
		phrases: make(map[string]map[string]struct{}),
		docRaw:  make(map[string]string),
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
	DocRaw map[string]string `json:"docRaw"`
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
		return kerrors.New(kerrors.Corruption, "ngram.loadSnapshot", err)
	}
	for id, raw := range snap.DocRaw {
		idx.applyAddLocked(id, raw)
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
			continue
		}
		switch op.Kind {
		case opAdd:
			idx.applyAddLocked(op.ID, op.Raw)
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

func trigrams(content string) []string {
	words := tokenize.Words(content)
	if len(words) < phraseWidth {
		if len(words) == 0 {
			return nil
		}
		return []string{strings.Join(words, " ")}
	}
	out := make([]string, 0, len(words)-phraseWidth+1)
	for i := 0; i+phraseWidth <= len(words); i++ {
		out = append(out, strings.Join(words[i:i+phraseWidth], " "))
	}
	return out
}

func (idx *Index) applyAddLocked(id, raw string) {
	idx.docRaw[id] = raw
	for _, g := range trigrams(raw) {
		set, ok := idx.phrases[g]
		if !ok {
			set = make(map[string]struct{})
			idx.phrases[g] = set
		}
		set[id] = struct{}{}
	}
}

func (idx *Index) applyRemoveLocked(id string) {
	raw, ok := idx.docRaw[id]
	if !ok {
		return
	}
	for _, g := range trigrams(raw) {
		if set, ok := idx.phrases[g]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(idx.phrases, g)
			}
		}
	}
	delete(idx.docRaw, id)
}

// Add registers content under id for both trigram lookup and raw fallback.
func (idx *Index) Add(id, content string) error {
	canonical := strings.ToLower(content)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, exists := idx.docRaw[id]; exists {
		idx.applyRemoveLocked(id)
		if err := idx.appendWAL(walOp{Kind: opRemove, ID: id}); err != nil {
			return kerrors.New(kerrors.Corruption, "ngram.Add", err)
		}
	}
	idx.applyAddLocked(id, canonical)
	if err := idx.appendWAL(walOp{Kind: opAdd, ID: id, Raw: canonical}); err != nil {
		return kerrors.New(kerrors.Corruption, "ngram.Add", err)
	}
	idx.ops++
	return nil
}

// Remove drops id from the phrase index and the fallback corpus.
func (idx *Index) Remove(id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, ok := idx.docRaw[id]; !ok {
		return nil
	}
	idx.applyRemoveLocked(id)
	return idx.appendWAL(walOp{Kind: opRemove, ID: id})
}

// SearchPhrase looks up ids whose content shares a trigram with phrase.
// This is the fast path; it can miss short or oddly-tokenized phrases.
func (idx *Index) SearchPhrase(phrase string, limit int) []string {
	grams := trigrams(strings.ToLower(phrase))
	idx.mu.RLock()
	scores := make(map[string]int)
	for _, g := range grams {
		for id := range idx.phrases[g] {
			scores[id]++
		}
	}
	idx.mu.RUnlock()
	return topScored(scores, limit)
}

// SearchSubstring scans every document's raw content for a literal,
// case-insensitive match of needle via a single-pattern Aho-Corasick
// automaton, guaranteeing recall even for content the trigram index
// never learned a vocabulary for.
func (idx *Index) SearchSubstring(needle string, limit int) ([]string, error) {
	needle = strings.ToLower(needle)
	if needle == "" {
		return nil, nil
	}
	automaton, err := ahocorasick.NewBuilder().
		AddStrings([]string{needle}).
		SetMatchKind(ahocorasick.LeftmostLongest).
		Build()
	if err != nil {
		return nil, kerrors.New(kerrors.Corruption, "ngram.SearchSubstring", err)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var out []string
	for id, raw := range idx.docRaw {
		if len(automaton.FindAllOverlapping([]byte(raw))) > 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func topScored(scores map[string]int, limit int) []string {
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

// Close releases the WAL handle.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.wal.Close()
}

// Compact folds the WAL into a fresh snapshot.
func (idx *Index) Compact() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	snap := snapshotFile{DocRaw: idx.docRaw}
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
	return nil
}
