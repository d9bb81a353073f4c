// Package modegate carries the process-wide mode configuration read once at
// engine construction. It is an explicit value passed to every component
// that needs it — never read from a package-level global — so a test
// process can construct multiple engines in different modes side by side.
package modegate

import "strings"

// Mode selects which feature subset the engine exposes.
type Mode string

const (
	ModeNarrative     Mode = "narrative"
	ModeGeneral       Mode = "general"
	ModeKnowledgeBase Mode = "knowledge_base"
)

// ParseMode maps a configuration string to a Mode, defaulting to General
// for anything unrecognized.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "narrative":
		return ModeNarrative
	case "knowledge-base", "knowledge_base", "kb":
		return ModeKnowledgeBase
	default:
		return ModeGeneral
	}
}

// Gate is the construction-time, read-only-after-init feature gate derived
// from Mode.
type Gate struct {
	Mode Mode

	ForeshadowingEnabled        bool
	SubTenantIsolationEnabled   bool
	NarrativeConsistencyEnabled bool
	NarrativeRelationsEnabled   bool
	NarrativePersistentStates   bool
}

// New derives a Gate from a Mode. Each of the five booleans may be
// overridden by the caller afterward.
func New(mode Mode) Gate {
	narrative := mode == ModeNarrative
	return Gate{
		Mode:                        mode,
		ForeshadowingEnabled:        narrative,
		SubTenantIsolationEnabled:   narrative,
		NarrativeConsistencyEnabled: narrative,
		NarrativeRelationsEnabled:   narrative,
		NarrativePersistentStates:   narrative,
	}
}

// IsNarrative reports whether the gate's mode is narrative.
func (g Gate) IsNarrative() bool { return g.Mode == ModeNarrative }
