package extract

import (
	"context"
	"encoding/json"
	"strings"
	"unicode"

	"github.com/kittclouds/memoryd/internal/entity"
	"github.com/kittclouds/memoryd/internal/llmprovider"
	"github.com/kittclouds/memoryd/internal/modegate"
	"github.com/kittclouds/memoryd/internal/tokenize"
)

// Mode selects how much of the extraction pipeline runs through an LLM.
type Mode string

const (
	ModeRules    Mode = "rules"
	ModeAdaptive Mode = "adaptive"
	ModeLLM      Mode = "llm"
)

// complexityThreshold is the adaptive-mode trigger: a complexityScore
// (average sentence length blended with capitalized-token density) above
// this value escalates to an LLM call.
const complexityThreshold = 0.55

// Candidate is one extracted entity mention before it is reconciled
// against the entity index.
type Candidate struct {
	Label string
	Kind  entity.Kind
}

// RelationCandidate is one extracted subject-verb-object triple.
type RelationCandidate struct {
	Subject   string
	Object    string
	Predicate RelationType
	Evidence  string
	Confidence float64
}

// Result is the smart extractor's output for one ingested fragment.
type Result struct {
	Entities  []Candidate
	Relations []RelationCandidate
	Keywords  []string
	UsedLLM   bool
}

// Extractor runs the configured extraction mode over content.
type Extractor struct {
	mode gate
	llm  llmprovider.Provider // nil is valid: rules mode never calls it
}

type gate struct {
	mode      Mode
	narrative bool
}

// New builds an extractor. llm may be nil; ModeLLM and escalated
// ModeAdaptive calls then degrade to rules-only output rather than fail.
func New(mode Mode, g modegate.Gate, llm llmprovider.Provider) *Extractor {
	return &Extractor{mode: gate{mode: mode, narrative: g.NarrativeRelationsEnabled}, llm: llm}
}

// Extract runs the configured pipeline over content.
func (e *Extractor) Extract(ctx context.Context, content string) (Result, error) {
	keywords := tokenize.Keywords(content)
	rulesResult := e.extractRules(content)
	rulesResult.Keywords = keywords

	switch e.mode.mode {
	case ModeRules:
		return rulesResult, nil
	case ModeAdaptive:
		if e.llm == nil || complexityScore(content) < complexityThreshold {
			return rulesResult, nil
		}
		return e.extractLLM(ctx, content, rulesResult)
	case ModeLLM:
		if e.llm == nil {
			return rulesResult, nil
		}
		return e.extractLLM(ctx, content, rulesResult)
	default:
		return rulesResult, nil
	}
}

// ExtractRules runs only the rules path regardless of the configured
// mode, for callers that must never pay an LLM call (batch skip_llm,
// archive replay at startup).
func (e *Extractor) ExtractRules(content string) Result {
	res := e.extractRules(content)
	res.Keywords = tokenize.Keywords(content)
	return res
}

// extractRules is a heuristic, LLM-free extractor: capitalized word runs
// become entity candidates, and verb-phrase matches between two
// capitalized spans become relation candidates, in a direct single-pass
// scan.
func (e *Extractor) extractRules(content string) Result {
	var res Result
	spans := capitalizedSpans(content)
	seen := make(map[string]struct{})
	for _, s := range spans {
		if _, ok := seen[strings.ToLower(s)]; ok {
			continue
		}
		seen[strings.ToLower(s)] = struct{}{}
		res.Entities = append(res.Entities, Candidate{Label: s, Kind: entity.KindOther})
	}

	lower := strings.ToLower(content)
	for i := 0; i < len(spans); i++ {
		for j := 0; j < len(spans); j++ {
			if i == j {
				continue
			}
			between := spanBetween(lower, strings.ToLower(spans[i]), strings.ToLower(spans[j]))
			if between == "" {
				continue
			}
			if rel, ok := LookupVerb(strings.TrimSpace(between), e.mode.narrative); ok {
				res.Relations = append(res.Relations, RelationCandidate{
					Subject: spans[i], Object: spans[j], Predicate: rel,
					Evidence: spans[i] + " " + between + " " + spans[j], Confidence: 0.6,
				})
			}
		}
	}
	return res
}

// capitalizedSpans returns maximal runs of capitalized words, a cheap
// proper-noun heuristic that needs no model.
func capitalizedSpans(content string) []string {
	words := strings.Fields(content)
	var spans []string
	var cur []string
	flush := func() {
		if len(cur) > 0 {
			spans = append(spans, strings.Join(cur, " "))
			cur = nil
		}
	}
	for _, w := range words {
		trimmed := strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if trimmed == "" {
			flush()
			continue
		}
		runes := []rune(trimmed)
		if unicode.IsUpper(runes[0]) {
			cur = append(cur, trimmed)
		} else {
			flush()
		}
	}
	flush()
	return spans
}

// spanBetween returns the text strictly between the first occurrence of
// a followed by b in lowercased haystack, or "" if that order isn't found.
func spanBetween(haystack, a, b string) string {
	ai := strings.Index(haystack, a)
	if ai < 0 {
		return ""
	}
	rest := haystack[ai+len(a):]
	bi := strings.Index(rest, b)
	if bi < 0 {
		return ""
	}
	between := rest[:bi]
	if len(between) > 40 {
		return ""
	}
	return between
}

// complexityScore estimates how much a passage would benefit from LLM
// extraction: longer sentences and denser capitalization both raise it.
func complexityScore(content string) float64 {
	words := strings.Fields(content)
	if len(words) == 0 {
		return 0
	}
	sentences := strings.Count(content, ".") + strings.Count(content, "!") + strings.Count(content, "?") + 1
	avgSentenceLen := float64(len(words)) / float64(sentences)

	capCount := 0
	for _, w := range words {
		trimmed := strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) })
		if trimmed != "" && unicode.IsUpper([]rune(trimmed)[0]) {
			capCount++
		}
	}
	capDensity := float64(capCount) / float64(len(words))

	score := 0.5*min1(avgSentenceLen/25) + 0.5*min1(capDensity*2)
	return score
}

func min1(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}

// llmExtraction is the JSON shape requested from the LLM provider.
type llmExtraction struct {
	Entities []struct {
		Label string `json:"label"`
		Kind  string `json:"kind"`
	} `json:"entities"`
	Relations []struct {
		Subject    string  `json:"subject"`
		Object     string  `json:"object"`
		Predicate  string  `json:"predicate"`
		Confidence float64 `json:"confidence"`
	} `json:"relations"`
}

const extractionSystemPrompt = `You extract entities and relations from a passage of text for a long-term memory system. Respond with only JSON matching: {"entities":[{"label":"","kind":""}],"relations":[{"subject":"","object":"","predicate":"","confidence":0.0}]}. Valid kinds: person, organization, location, item, concept, event, other.`

func (e *Extractor) extractLLM(ctx context.Context, content string, fallback Result) (Result, error) {
	out, err := e.llm.Complete(ctx, extractionSystemPrompt, content, 1024)
	if err != nil {
		// Degraded operation: never fail extraction because the LLM is
		// unavailable.
		return fallback, nil
	}

	var parsed llmExtraction
	if jsonErr := json.Unmarshal([]byte(extractJSONObject(out)), &parsed); jsonErr != nil {
		return fallback, nil
	}

	res := Result{Keywords: fallback.Keywords, UsedLLM: true}
	for _, en := range parsed.Entities {
		res.Entities = append(res.Entities, Candidate{Label: en.Label, Kind: entity.Kind(strings.ToLower(en.Kind))})
	}
	for _, r := range parsed.Relations {
		rel, ok := LookupVerb(strings.ToLower(r.Predicate), e.mode.narrative)
		if !ok {
			rel = RelationType(strings.ToUpper(strings.ReplaceAll(r.Predicate, " ", "_")))
		}
		res.Relations = append(res.Relations, RelationCandidate{
			Subject: r.Subject, Object: r.Object, Predicate: rel,
			Evidence: content, Confidence: r.Confidence,
		})
	}
	return res, nil
}

// extractJSONObject trims an LLM response down to its outermost {...}
// block, tolerating surrounding prose the model wasn't told to omit.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
