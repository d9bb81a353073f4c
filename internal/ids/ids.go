// Package ids generates opaque identifiers for memory records, entities,
// edges, and episodes.
package ids

import "github.com/google/uuid"

// New returns a new opaque, globally unique id.
func New() string {
	return uuid.New().String()
}

// NewWithPrefix returns a new id prefixed for readability in logs, e.g.
// NewWithPrefix("mem") -> "mem_0b2b...".
func NewWithPrefix(prefix string) string {
	return prefix + "_" + uuid.New().String()
}
