// Package embedprovider defines the provider-neutral embedding contract
// used by the vector index and the dedup semantic stage. Same
// URL-substring auto-detection shape as internal/llmprovider, so the two
// packages read the same way by design.
package embedprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kittclouds/memoryd/internal/kerrors"
)

// Provider embeds one or more texts into fixed-dimension, unit-norm
// float vectors. Unit norm makes inner product equivalent to cosine
// similarity downstream, so the vector index never has to renormalize.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// style names the wire dialect a detected endpoint speaks.
type style int

const (
	styleOpenAI style = iota // OpenAI-compatible /embeddings, also Voyage's dialect
	styleGoogle              // Gemini :embedContent
	styleCohere              // Cohere /embed
)

// modelDimensions maps known embedding model names to their output
// dimension, so a caller configuring a known model needn't also supply
// MEMORYD_EMBED_DIM. An explicit dim override always wins.
var modelDimensions = map[string]int{
	"text-embedding-3-small":  1536,
	"text-embedding-3-large":  3072,
	"text-embedding-ada-002":  1536,
	"text-embedding-004":      768,
	"gemini-embedding-001":    3072,
	"voyage-3":                1024,
	"voyage-3-lite":           512,
	"voyage-large-2":          1536,
	"embed-english-v3.0":      1024,
	"embed-multilingual-v3.0": 1024,
}

// DimensionFor reports the known output dimension for model, or 0.
func DimensionFor(model string) int { return modelDimensions[model] }

// New selects a Provider by baseURL substring: "generativelanguage" or
// "googleapis" routes to Gemini's embedContent dialect, "voyage" to
// Voyage (OpenAI-shaped), "cohere" to Cohere's /embed, and everything
// else to an OpenAI-compatible /embeddings endpoint. dim may be 0 when
// model is in the known-dimension table.
func New(baseURL, model, apiKey string, dim int) (Provider, error) {
	if apiKey == "" {
		return nil, kerrors.New(kerrors.InvalidArgument, "embedprovider.New", errNoAPIKey)
	}
	if dim <= 0 {
		dim = DimensionFor(model)
	}
	if dim <= 0 {
		return nil, kerrors.New(kerrors.InvalidArgument, "embedprovider.New", errBadDimension)
	}
	st := styleOpenAI
	switch {
	case strings.Contains(baseURL, "generativelanguage") || strings.Contains(baseURL, "googleapis"):
		st = styleGoogle
	case strings.Contains(baseURL, "cohere"):
		st = styleCohere
	case strings.Contains(baseURL, "voyage"):
		st = styleOpenAI // Voyage speaks the OpenAI embeddings shape
	}
	return &httpProvider{baseURL: baseURL, model: model, apiKey: apiKey, dim: dim, style: st, http: &http.Client{Timeout: 30 * time.Second}}, nil
}

type httpProvider struct {
	baseURL string
	model   string
	apiKey  string
	dim     int
	style   style
	http    *http.Client
}

func (p *httpProvider) Dimension() int { return p.dim }

type openAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

type googleEmbedRequest struct {
	Model   string `json:"model"`
	Content struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"content"`
}

type googleEmbedResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

type cohereEmbedRequest struct {
	Model     string   `json:"model"`
	Texts     []string `json:"texts"`
	InputType string   `json:"input_type"`
}

type cohereEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (p *httpProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var (
		out [][]float32
		err error
	)
	switch p.style {
	case styleGoogle:
		out, err = p.embedGoogle(ctx, texts)
	case styleCohere:
		out, err = p.embedCohere(ctx, texts)
	default:
		out, err = p.embedOpenAI(ctx, texts)
	}
	if err != nil {
		return nil, err
	}
	for i := range out {
		if len(out[i]) != p.dim {
			return nil, kerrors.Newf(kerrors.DimensionMismatch, "embedprovider.Embed", "provider returned %d-dim vector, index expects %d", len(out[i]), p.dim)
		}
		Normalize(out[i])
	}
	return out, nil
}

// Normalize scales v to unit L2 norm in place. A zero vector is left as is.
func Normalize(v []float32) {
	var mag float64
	for _, x := range v {
		mag += float64(x) * float64(x)
	}
	if mag == 0 {
		return
	}
	inv := 1 / math.Sqrt(mag)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}

func (p *httpProvider) embedOpenAI(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(openAIEmbedRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, kerrors.New(kerrors.InvalidArgument, "embedprovider.embedOpenAI", err)
	}

	var out [][]float32
	err = p.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+p.apiKey)

		resp, err := p.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return kerrors.Newf(kerrors.ProviderUnavailable, "embedprovider.embedOpenAI", "status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(kerrors.Newf(kerrors.ProviderUnavailable, "embedprovider.embedOpenAI", "status %d", resp.StatusCode))
		}
		var parsed openAIEmbedResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return backoff.Permanent(kerrors.New(kerrors.Corruption, "embedprovider.embedOpenAI", err))
		}
		out = make([][]float32, len(parsed.Data))
		for i, d := range parsed.Data {
			out[i] = d.Embedding
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *httpProvider) embedGoogle(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		var req googleEmbedRequest
		req.Model = p.model
		req.Content.Parts = []struct {
			Text string `json:"text"`
		}{{Text: t}}
		body, err := json.Marshal(req)
		if err != nil {
			return nil, kerrors.New(kerrors.InvalidArgument, "embedprovider.embedGoogle", err)
		}

		var vec []float32
		err = p.retry(ctx, func() error {
			httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/models/"+p.model+":embedContent?key="+p.apiKey, bytes.NewReader(body))
			if err != nil {
				return backoff.Permanent(err)
			}
			httpReq.Header.Set("Content-Type", "application/json")

			resp, err := p.http.Do(httpReq)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return kerrors.Newf(kerrors.ProviderUnavailable, "embedprovider.embedGoogle", "status %d", resp.StatusCode)
			}
			if resp.StatusCode != http.StatusOK {
				return backoff.Permanent(kerrors.Newf(kerrors.ProviderUnavailable, "embedprovider.embedGoogle", "status %d", resp.StatusCode))
			}
			var parsed googleEmbedResponse
			if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
				return backoff.Permanent(kerrors.New(kerrors.Corruption, "embedprovider.embedGoogle", err))
			}
			vec = parsed.Embedding.Values
			return nil
		})
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (p *httpProvider) embedCohere(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(cohereEmbedRequest{Model: p.model, Texts: texts, InputType: "search_document"})
	if err != nil {
		return nil, kerrors.New(kerrors.InvalidArgument, "embedprovider.embedCohere", err)
	}

	var out [][]float32
	err = p.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embed", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+p.apiKey)

		resp, err := p.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return kerrors.Newf(kerrors.ProviderUnavailable, "embedprovider.embedCohere", "status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(kerrors.Newf(kerrors.ProviderUnavailable, "embedprovider.embedCohere", "status %d", resp.StatusCode))
		}
		var parsed cohereEmbedResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return backoff.Permanent(kerrors.New(kerrors.Corruption, "embedprovider.embedCohere", err))
		}
		out = parsed.Embeddings
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *httpProvider) retry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return kerrors.New(kerrors.ProviderUnavailable, "embedprovider.retry", err)
	}
	return nil
}

type noAPIKeyErr struct{}

func (noAPIKeyErr) Error() string { return "embedprovider: API key required" }

var errNoAPIKey = noAPIKeyErr{}

type badDimensionErr struct{}

func (badDimensionErr) Error() string { return "embedprovider: dimension unknown for model, set an explicit override" }

var errBadDimension = badDimensionErr{}
