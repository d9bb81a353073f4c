// Package rerankprovider defines the optional rerank contract and its
// built-in fallback scorer. The factory picks the built-in keyword-overlap
// scorer or an LLM-judged backend; there is no cross-encoder or remote
// rerank-API backend. The built-in scorer ranks by local keyword overlap,
// not by the retrieval funnel's fusion score.
package rerankprovider

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/kittclouds/memoryd/internal/kerrors"
	"github.com/kittclouds/memoryd/internal/llmprovider"
	"github.com/kittclouds/memoryd/internal/tokenize"
)

// Scored is one reranked document: its original index into the input
// slice, and its rerank score (higher is better).
type Scored struct {
	Index int
	Score float64
}

// Provider reranks documents against a query and returns the top_k
// highest-scoring, in descending score order.
type Provider interface {
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]Scored, error)
}

// New selects a backend by name: "builtin" (default), "llm" (delegates
// to an LLM provider for a relevance judgment per document), or anything
// else is rejected as unrecognized.
func New(backend string, llm llmprovider.Provider) (Provider, error) {
	switch backend {
	case "", "builtin":
		return BuiltinProvider{}, nil
	case "llm":
		if llm == nil {
			return nil, kerrors.New(kerrors.InvalidArgument, "rerankprovider.New", errLLMRequired)
		}
		return &llmProvider{llm: llm}, nil
	default:
		return nil, kerrors.Newf(kerrors.InvalidArgument, "rerankprovider.New", "unrecognized rerank backend %q", backend)
	}
}

// BuiltinProvider scores by keyword overlap with an exact-phrase bonus; it
// uses no entity-mention or inverse-document-frequency signal.
type BuiltinProvider struct{}

// Rerank implements Provider using only locally available signal: the
// fraction of query keywords present in each document, plus a small
// exact-phrase bonus.
func (BuiltinProvider) Rerank(_ context.Context, query string, documents []string, topK int) ([]Scored, error) {
	queryTerms := tokenize.Keywords(query)
	if len(queryTerms) == 0 {
		queryTerms = tokenize.Words(query)
	}
	queryLower := strings.ToLower(query)

	scores := make([]Scored, len(documents))
	for i, doc := range documents {
		docTerms := make(map[string]struct{})
		for _, t := range tokenize.Keywords(doc) {
			docTerms[t] = struct{}{}
		}
		var hits int
		for _, qt := range queryTerms {
			if _, ok := docTerms[qt]; ok {
				hits++
			}
		}
		score := 0.0
		if len(queryTerms) > 0 {
			score = float64(hits) / float64(len(queryTerms))
		}
		if queryLower != "" && strings.Contains(strings.ToLower(doc), queryLower) {
			score += 0.5
		}
		scores[i] = Scored{Index: i, Score: score}
	}

	sort.SliceStable(scores, func(a, b int) bool { return scores[a].Score > scores[b].Score })
	if topK > 0 && len(scores) > topK {
		scores = scores[:topK]
	}
	return scores, nil
}

// llmProvider asks an LLM provider for a 0-10 relevance judgment per
// document. It degrades to BuiltinProvider scoring for any document the
// LLM call fails on.
type llmProvider struct {
	llm llmprovider.Provider
}

func (p *llmProvider) Rerank(ctx context.Context, query string, documents []string, topK int) ([]Scored, error) {
	builtin, _ := BuiltinProvider{}.Rerank(ctx, query, documents, 0)
	byIndex := make(map[int]float64, len(builtin))
	for _, s := range builtin {
		byIndex[s.Index] = s.Score
	}

	scores := make([]Scored, len(documents))
	for i, doc := range documents {
		prompt := "Rate how relevant this passage is to the query on a scale of 0 to 10. Respond with only the number.\n\nQuery: " + query + "\n\nPassage: " + doc
		out, err := p.llm.Complete(ctx, "", prompt, 8)
		if err != nil {
			scores[i] = Scored{Index: i, Score: byIndex[i]}
			continue
		}
		score, ok := parseScore(out)
		if !ok {
			scores[i] = Scored{Index: i, Score: byIndex[i]}
			continue
		}
		scores[i] = Scored{Index: i, Score: score}
	}

	sort.SliceStable(scores, func(a, b int) bool { return scores[a].Score > scores[b].Score })
	if topK > 0 && len(scores) > topK {
		scores = scores[:topK]
	}
	return scores, nil
}

func parseScore(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	end := 0
	sawDigit := false
	for end < len(s) && (s[end] == '.' || (s[end] >= '0' && s[end] <= '9')) {
		if s[end] != '.' {
			sawDigit = true
		}
		end++
	}
	if !sawDigit {
		return 0, false
	}
	v, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

type llmRequiredErr struct{}

func (llmRequiredErr) Error() string { return "rerankprovider: llm backend requires a configured LLM provider" }

var errLLMRequired = llmRequiredErr{}
