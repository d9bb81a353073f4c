// Package bloomfilter implements a fixed-size Bloom filter with
// double-hashing (Kirsch-Mitzenmacher), reusing the xxhash dependency
// already wired for dedup's MinHash sketches rather than adding a new one.
package bloomfilter

import (
	"math"

	"github.com/cespare/xxhash/v2"
)

// Filter is a bit-array membership sketch: Test never false-negatives,
// but may false-positive at a rate bounded by the parameters New was
// built with.
type Filter struct {
	bits []uint64
	m    uint64
	k    int
}

// New sizes a filter for expectedItems entries at the given target false
// positive rate.
func New(expectedItems int, falsePositiveRate float64) *Filter {
	if expectedItems <= 0 {
		expectedItems = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}
	m := optimalM(expectedItems, falsePositiveRate)
	k := optimalK(m, expectedItems)
	return &Filter{bits: make([]uint64, (m+63)/64), m: m, k: k}
}

func optimalM(n int, p float64) uint64 {
	m := -float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)
	if m < 64 {
		m = 64
	}
	return uint64(math.Ceil(m))
}

func optimalK(m uint64, n int) int {
	k := int(math.Round(float64(m) / float64(n) * math.Ln2))
	if k < 1 {
		k = 1
	}
	return k
}

// Add registers s as present.
func (f *Filter) Add(s string) {
	h1, h2 := f.hashes(s)
	for i := 0; i < f.k; i++ {
		f.setBit(f.index(h1, h2, i))
	}
}

// Test reports whether s might have been added. False positives are
// possible; false negatives are not.
func (f *Filter) Test(s string) bool {
	h1, h2 := f.hashes(s)
	for i := 0; i < f.k; i++ {
		if !f.getBit(f.index(h1, h2, i)) {
			return false
		}
	}
	return true
}

// TestAny reports whether at least one of terms might have been added.
func (f *Filter) TestAny(terms []string) bool {
	for _, t := range terms {
		if f.Test(t) {
			return true
		}
	}
	return false
}

func (f *Filter) index(h1, h2 uint64, i int) uint64 {
	return (h1 + uint64(i)*h2) % f.m
}

func (f *Filter) setBit(idx uint64) {
	f.bits[idx/64] |= 1 << (idx % 64)
}

func (f *Filter) getBit(idx uint64) bool {
	return f.bits[idx/64]&(1<<(idx%64)) != 0
}

func (f *Filter) hashes(s string) (uint64, uint64) {
	h1 := xxhash.Sum64String(s)
	h2 := xxhash.Sum64String(s + "\x00bloom")
	return h1, h2
}
