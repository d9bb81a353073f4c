package llmprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kittclouds/memoryd/internal/kerrors"
)

// googleProvider speaks the Gemini generateContent dialect directly.
// System prompts are translated into Gemini's system_instruction field
// rather than prepended to the user turn, matching the native convention.
type googleProvider struct {
	baseURL string
	model   string
	apiKey  string
	http    *http.Client
}

func newGoogleProvider(baseURL, model, apiKey string) *googleProvider {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &googleProvider{
		baseURL: baseURL,
		model:   model,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *googleProvider) Model() string { return p.model }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"system_instruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  struct {
		MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (p *googleProvider) Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	var reqBody geminiRequest
	if systemPrompt != "" {
		reqBody.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: systemPrompt}}}
	}
	reqBody.Contents = []geminiContent{{Role: "user", Parts: []geminiPart{{Text: userPrompt}}}}
	reqBody.GenerationConfig.MaxOutputTokens = maxTokens

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", kerrors.New(kerrors.InvalidArgument, "googleProvider.Complete", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second

	var out string
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/models/"+p.model+":generateContent?key="+p.apiKey, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.http.Do(req)
		if err != nil {
			return err // network errors are retryable
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return kerrors.Newf(kerrors.ProviderUnavailable, "googleProvider.Complete", "status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(kerrors.Newf(kerrors.ProviderUnavailable, "googleProvider.Complete", "status %d", resp.StatusCode))
		}

		var parsed geminiResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return backoff.Permanent(kerrors.New(kerrors.Corruption, "googleProvider.Complete", err))
		}
		if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
			return backoff.Permanent(kerrors.New(kerrors.ProviderUnavailable, "googleProvider.Complete", errEmptyResponse))
		}
		out = parsed.Candidates[0].Content.Parts[0].Text
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return "", kerrors.New(kerrors.ProviderUnavailable, "googleProvider.Complete", err)
	}
	return out, nil
}
