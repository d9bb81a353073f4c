// Package entityidx implements the entity index: canonical entities
// keyed by id, with case-folded label/alias resolution so "Gandalf",
// "gandalf", and "the wizard" (once registered as an alias) all resolve
// to the same entity.
package entityidx

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kittclouds/memoryd/internal/entity"
	"github.com/kittclouds/memoryd/internal/kerrors"
)

// Index is the in-memory entity catalog with a persisted snapshot.
type Index struct {
	mu   sync.RWMutex
	path string

	byID    map[string]entity.Entity
	byLabel map[string]string // case-folded label/alias -> entity id
}

// Open loads (or creates) the entity index rooted at dir.
func Open(dir string) (*Index, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	idx := &Index{
		path:    filepath.Join(dir, "entities.json"),
		byID:    make(map[string]entity.Entity),
		byLabel: make(map[string]string),
	}
	if err := idx.load(); err != nil {
		return nil, err
	}
	return idx, nil
}

func fold(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func (idx *Index) load() error {
	data, err := os.ReadFile(idx.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var all []entity.Entity
	if err := json.Unmarshal(data, &all); err != nil {
		return kerrors.New(kerrors.Corruption, "entityidx.load", err)
	}
	for _, e := range all {
		idx.indexLocked(e)
	}
	return nil
}

func (idx *Index) indexLocked(e entity.Entity) {
	idx.byID[e.ID] = e
	idx.byLabel[fold(e.Label)] = e.ID
	for _, a := range e.Aliases {
		idx.byLabel[fold(a)] = e.ID
	}
}

func (idx *Index) persistLocked() error {
	all := make([]entity.Entity, 0, len(idx.byID))
	for _, e := range idx.byID {
		all = append(all, e)
	}
	data, err := json.Marshal(all)
	if err != nil {
		return err
	}
	tmp := idx.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, idx.path)
}

// initialConfidence seeds a newly observed entity's confidence; each
// re-observation raises it by confidenceStep, bounded by 1.0.
const (
	initialConfidence = 0.5
	confidenceStep    = 0.05
)

// Upsert inserts or merges e. If an entity already exists under e.Label
// (case-folded, matched against every registered label and alias),
// re-observation appends e.References to
// the existing reference set, merges the alias sets, bumps the mention
// count, and raises confidence monotonically rather than creating a
// duplicate entity. e.Aliases are not used for the lookup: an e whose
// Label is new is inserted as a new entity even if one of its aliases is
// already registered.
func (idx *Index) Upsert(e entity.Entity) (entity.Entity, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if existingID, ok := idx.byLabel[fold(e.Label)]; ok {
		existing := idx.byID[existingID]
		existing.TotalMentions += e.TotalMentions
		if existing.TotalMentions == 0 {
			existing.TotalMentions = 1
		}
		existing.Aliases = mergeAliases(existing.Aliases, e.Aliases)
		existing.References = mergeReferences(existing.References, e.References)
		existing.Confidence = raiseConfidence(existing.Confidence)
		idx.indexLocked(existing)
		if err := idx.persistLocked(); err != nil {
			return entity.Entity{}, kerrors.New(kerrors.Corruption, "entityidx.Upsert", err)
		}
		return existing.Clone(), nil
	}

	if e.TotalMentions == 0 {
		e.TotalMentions = 1
	}
	if e.Confidence == 0 {
		e.Confidence = initialConfidence
	}
	idx.indexLocked(e)
	if err := idx.persistLocked(); err != nil {
		return entity.Entity{}, kerrors.New(kerrors.Corruption, "entityidx.Upsert", err)
	}
	return e.Clone(), nil
}

// raiseConfidence bumps an entity's confidence by one re-observation step,
// never decreasing it and never exceeding 1.0.
func raiseConfidence(existing float64) float64 {
	next := existing + confidenceStep
	if next > 1.0 {
		next = 1.0
	}
	return next
}

func mergeAliases(a, b []string) []string {
	return mergeSets(a, b, fold)
}

// mergeReferences unions two record-id sets; record ids are opaque and
// compared exactly, unlike aliases which fold case.
func mergeReferences(a, b []string) []string {
	return mergeSets(a, b, func(s string) string { return s })
}

func mergeSets(a, b []string, key func(string) string) []string {
	seen := make(map[string]struct{}, len(a))
	out := append([]string(nil), a...)
	for _, x := range a {
		seen[key(x)] = struct{}{}
	}
	for _, x := range b {
		k := key(x)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, x)
	}
	return out
}

// GetByID returns the entity with the given id.
func (idx *Index) GetByID(id string) (entity.Entity, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.byID[id]
	if !ok {
		return entity.Entity{}, false
	}
	return e.Clone(), true
}

// GetByLabel resolves a label or alias (case-insensitively) to its entity.
func (idx *Index) GetByLabel(label string) (entity.Entity, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	id, ok := idx.byLabel[fold(label)]
	if !ok {
		return entity.Entity{}, false
	}
	e := idx.byID[id]
	return e.Clone(), true
}

// AddAlias registers alias as resolving to the entity with id.
func (idx *Index) AddAlias(id, alias string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	e, ok := idx.byID[id]
	if !ok {
		return kerrors.Newf(kerrors.NotFound, "entityidx.AddAlias", "entity %q not found", id)
	}
	e.Aliases = mergeAliases(e.Aliases, []string{alias})
	idx.indexLocked(e)
	return idx.persistLocked()
}

// List returns every entity, optionally filtered by kind (empty = all).
func (idx *Index) List(kind entity.Kind) []entity.Entity {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]entity.Entity, 0, len(idx.byID))
	for _, e := range idx.byID {
		if kind != "" && e.Kind != kind {
			continue
		}
		out = append(out, e.Clone())
	}
	return out
}

// Delete removes an entity and its label/alias bindings.
func (idx *Index) Delete(id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	e, ok := idx.byID[id]
	if !ok {
		return nil
	}
	delete(idx.byLabel, fold(e.Label))
	for _, a := range e.Aliases {
		delete(idx.byLabel, fold(a))
	}
	delete(idx.byID, id)
	return idx.persistLocked()
}
