// Package dedup implements a three-stage deduplicator:
// a cheap deterministic hash/MinHash prefilter, a semantic vector-distance
// stage for near-duplicates the prefilter misses, and an optional LLM
// confirmation step for the grey zone between "clearly distinct" and
// "clearly the same". Shingle hashing uses cespare/xxhash/v2, the same
// hashing dependency the wider example pack reaches for.
package dedup

import (
	"math"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/kittclouds/memoryd/internal/tokenize"
)

// Verdict is the outcome of a dedup check against one candidate.
type Verdict string

const (
	VerdictDistinct  Verdict = "distinct"
	VerdictDuplicate Verdict = "duplicate"
	VerdictGreyZone  Verdict = "grey_zone" // needs the LLM confirm stage
)

const (
	numHashes   = 64
	shingleSize = 5
)

// Signature is a MinHash sketch of a piece of content.
type Signature struct {
	NormalizedHash uint64   // exact hash of the normalized text, for true-duplicate short-circuit
	MinHashes      []uint64 // len == numHashes
}

// Sign computes the deterministic hash and MinHash sketch for content,
// the input to Stage 1's deterministic pre-check.
func Sign(content string) Signature {
	norm := tokenize.Normalize(content)
	sig := Signature{
		NormalizedHash: xxhash.Sum64String(norm),
		MinHashes:      make([]uint64, numHashes),
	}
	for i := range sig.MinHashes {
		sig.MinHashes[i] = ^uint64(0)
	}

	shingles := tokenize.Shingles(content, shingleSize)
	for _, sh := range shingles {
		base := xxhash.Sum64String(sh)
		for i := 0; i < numHashes; i++ {
			h := mix(base, uint64(i))
			if h < sig.MinHashes[i] {
				sig.MinHashes[i] = h
			}
		}
	}
	return sig
}

// mix derives the i-th independent hash from a base hash via splitmix64,
// avoiding the cost of hashing each shingle numHashes separate times.
func mix(base, i uint64) uint64 {
	z := base + i*0x9E3779B97F4A7C15
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}

// JaccardEstimate returns the MinHash-estimated Jaccard similarity
// between two signatures' shingle sets.
func JaccardEstimate(a, b Signature) float64 {
	if len(a.MinHashes) != len(b.MinHashes) || len(a.MinHashes) == 0 {
		return 0
	}
	matches := 0
	for i := range a.MinHashes {
		if a.MinHashes[i] == b.MinHashes[i] {
			matches++
		}
	}
	return float64(matches) / float64(len(a.MinHashes))
}

// LSHIndex buckets signatures by banded MinHash fingerprints for
// sub-linear Stage 1 candidate lookup.
type LSHIndex struct {
	bands     int
	rowsPerBand int
	buckets   map[string]map[string]struct{} // band key -> ids
	sigs      map[string]Signature
}

// NewLSHIndex builds an LSH index with the given band/row split. bands *
// rowsPerBand must equal numHashes for every signature inserted.
func NewLSHIndex(bandsArg, rowsPerBandArg int) *LSHIndex {
	return &LSHIndex{
		bands:       bandsArg,
		rowsPerBand: rowsPerBandArg,
		buckets:     make(map[string]map[string]struct{}),
		sigs:        make(map[string]Signature),
	}
}

func bandKey(band int, rows []uint64) string {
	var h uint64 = 1469598103934665603 // FNV offset basis, cheap band fingerprint
	for _, r := range rows {
		h ^= r
		h *= 1099511628211
	}
	h ^= uint64(band) << 1
	return strconv.Itoa(band) + "-" + strconv.FormatUint(h, 10)
}

// Insert registers id's signature into the LSH bucket structure.
func (l *LSHIndex) Insert(id string, sig Signature) {
	l.sigs[id] = sig
	for b := 0; b < l.bands; b++ {
		start := b * l.rowsPerBand
		end := start + l.rowsPerBand
		if end > len(sig.MinHashes) {
			break
		}
		key := bandKey(b, sig.MinHashes[start:end])
		set, ok := l.buckets[key]
		if !ok {
			set = make(map[string]struct{})
			l.buckets[key] = set
		}
		set[id] = struct{}{}
	}
}

// Candidates returns ids sharing at least one LSH band with sig, which is
// a superset of the true near-duplicates (no false negatives within the
// banding's similarity threshold, some false positives expected).
func (l *LSHIndex) Candidates(sig Signature) []string {
	seen := make(map[string]struct{})
	for b := 0; b < l.bands; b++ {
		start := b * l.rowsPerBand
		end := start + l.rowsPerBand
		if end > len(sig.MinHashes) {
			break
		}
		key := bandKey(b, sig.MinHashes[start:end])
		for id := range l.buckets[key] {
			seen[id] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Remove drops id from the LSH buckets and signature table.
func (l *LSHIndex) Remove(id string) {
	sig, ok := l.sigs[id]
	if !ok {
		return
	}
	for b := 0; b < l.bands; b++ {
		start := b * l.rowsPerBand
		end := start + l.rowsPerBand
		if end > len(sig.MinHashes) {
			break
		}
		key := bandKey(b, sig.MinHashes[start:end])
		if set, ok := l.buckets[key]; ok {
			delete(set, id)
		}
	}
	delete(l.sigs, id)
}

// Thresholds configures where Stage 2 lands a candidate pair.
type Thresholds struct {
	JaccardDuplicate float64 // Stage 1: >= this MinHash similarity is an outright duplicate
	SemanticHigh     float64 // Stage 2: >= this cosine similarity is an outright duplicate
	SemanticLow      float64 // Stage 2: below this cosine similarity is clearly distinct; between High and Low is the grey zone
}

// ClassifyExact reports whether a and b carry byte-identical normalized
// content, without spending a MinHash or vector comparison.
func ClassifyExact(a, b Signature) bool {
	return a.NormalizedHash == b.NormalizedHash
}

// ClassifyStage1 applies the MinHash Jaccard estimate.
func ClassifyStage1(a, b Signature, th Thresholds) Verdict {
	if ClassifyExact(a, b) {
		return VerdictDuplicate
	}
	j := JaccardEstimate(a, b)
	if j >= th.JaccardDuplicate {
		return VerdictDuplicate
	}
	return VerdictDistinct
}

// ClassifyStage2 applies cosine similarity over embedding vectors,
// returning VerdictGreyZone when the similarity falls between the two
// semantic thresholds, signaling that Stage 3 (LLM confirm) should run.
func ClassifyStage2(cosineSim float64, th Thresholds) Verdict {
	switch {
	case cosineSim >= th.SemanticHigh:
		return VerdictDuplicate
	case cosineSim < th.SemanticLow:
		return VerdictDistinct
	default:
		return VerdictGreyZone
	}
}

// CosineSimilarity computes cosine similarity between two equal-length
// embedding vectors. Returns 0 if either vector has zero magnitude.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
