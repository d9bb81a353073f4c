package retrieval

import (
	"strings"

	"github.com/kittclouds/memoryd/internal/foreshadow"
	"github.com/kittclouds/memoryd/internal/modegate"
)

// Token estimation is approximate: a character-weighted heuristic is
// enough for budgeting the assembled context block.
const charsPerTokenEstimate = 4

// EstimateTokens approximates a token count from rune length.
func EstimateTokens(s string) int {
	return len([]rune(s))/charsPerTokenEstimate + 1
}

// ContextInput feeds BuildContext.
type ContextInput struct {
	Preamble        string // L0: core settings, mode-specific absolute rules
	Gate            modegate.Gate
	OpenHooks       []foreshadow.Hook // narrative mode only
	RankedMemories  []string          // already formatted memory lines, in rank order
	ActiveEntities  []string          // active-entity focus list
	TokenBudget     int
}

// BuildContext lays out a text block under a token budget, in the fixed
// order: preamble, active foreshadowing (narrative mode only), ranked
// memories, active-entity focus list, stopping before the budget is
// exceeded.
func BuildContext(in ContextInput) string {
	budget := in.TokenBudget
	if budget <= 0 {
		budget = 4000
	}
	var b strings.Builder
	used := 0

	appendSection := func(text string) bool {
		if text == "" {
			return true
		}
		cost := EstimateTokens(text)
		if used+cost > budget {
			return false
		}
		b.WriteString(text)
		used += cost
		return true
	}

	if !appendSection(in.Preamble) {
		return b.String()
	}

	if in.Gate.ForeshadowingEnabled && len(in.OpenHooks) > 0 {
		var hooks strings.Builder
		hooks.WriteString("\nActive foreshadowing:\n")
		for _, h := range in.OpenHooks {
			hooks.WriteString("- ")
			hooks.WriteString(h.Description)
			hooks.WriteString("\n")
		}
		if !appendSection(hooks.String()) {
			return b.String()
		}
	}

	if len(in.RankedMemories) > 0 {
		var mem strings.Builder
		mem.WriteString("\nRelevant memories:\n")
		if !appendSection(mem.String()) {
			return b.String()
		}
		for _, m := range in.RankedMemories {
			line := "- " + m + "\n"
			if !appendSection(line) {
				return b.String()
			}
		}
	}

	if len(in.ActiveEntities) > 0 {
		var ent strings.Builder
		ent.WriteString("\nActive entities: ")
		ent.WriteString(strings.Join(in.ActiveEntities, ", "))
		ent.WriteString("\n")
		appendSection(ent.String())
	}

	return b.String()
}
