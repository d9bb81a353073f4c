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

// openAICompatProvider talks to any endpoint implementing the OpenAI
// chat completions wire format, used for OpenAI and OpenRouter-style
// gateways (Google hosts go to googleProvider instead), dispatched purely
// by URL substring rather than a fixed vendor switch.
type openAICompatProvider struct {
	baseURL string
	model   string
	apiKey  string
	http    *http.Client
}

func newOpenAICompatProvider(baseURL, model, apiKey string) *openAICompatProvider {
	return &openAICompatProvider{
		baseURL: baseURL,
		model:   model,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *openAICompatProvider) Model() string { return p.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (p *openAICompatProvider) Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	var messages []chatMessage
	if systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userPrompt})

	body, err := json.Marshal(chatRequest{Model: p.model, Messages: messages, MaxTokens: maxTokens})
	if err != nil {
		return "", kerrors.New(kerrors.InvalidArgument, "openAICompatProvider.Complete", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second

	var out string
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+p.apiKey)

		resp, err := p.http.Do(req)
		if err != nil {
			return err // network errors are retryable
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return kerrors.Newf(kerrors.ProviderUnavailable, "openAICompatProvider.Complete", "status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(kerrors.Newf(kerrors.ProviderUnavailable, "openAICompatProvider.Complete", "status %d", resp.StatusCode))
		}

		var parsed chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return backoff.Permanent(kerrors.New(kerrors.Corruption, "openAICompatProvider.Complete", err))
		}
		if len(parsed.Choices) == 0 {
			return backoff.Permanent(kerrors.New(kerrors.ProviderUnavailable, "openAICompatProvider.Complete", errEmptyResponse))
		}
		out = parsed.Choices[0].Message.Content
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return "", kerrors.New(kerrors.ProviderUnavailable, "openAICompatProvider.Complete", err)
	}
	return out, nil
}
