// Package llmprovider defines the provider-neutral LLM contract used for
// extraction, dedup grey-zone confirmation, and rerank fallback scoring.
// Concrete providers are chosen by a URL-substring auto-detection factory,
// never a hardcoded vendor switch, so a new OpenAI-compatible endpoint
// needs no code change.
package llmprovider

import (
	"context"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"

	"github.com/kittclouds/memoryd/internal/kerrors"
)

// Provider completes a single-turn prompt. Implementations must be safe
// for concurrent use.
type Provider interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error)
	Model() string
}

// New selects a Provider by inspecting baseURL: any URL containing
// "anthropic" is routed to the native Anthropic SDK client, a
// "googleapis"/"generativelanguage" host to the Gemini generateContent
// dialect, and everything else to an OpenAI-compatible chat completions
// endpoint.
func New(baseURL, model, apiKey string) (Provider, error) {
	if apiKey == "" {
		return nil, kerrors.New(kerrors.InvalidArgument, "llmprovider.New", errNoAPIKey)
	}
	switch {
	case strings.Contains(baseURL, "anthropic") || baseURL == "":
		return newAnthropicProvider(model, apiKey), nil
	case strings.Contains(baseURL, "googleapis") || strings.Contains(baseURL, "generativelanguage"):
		return newGoogleProvider(baseURL, model, apiKey), nil
	default:
		return newOpenAICompatProvider(baseURL, model, apiKey), nil
	}
}

type anthropicProvider struct {
	client anthropic.Client
	model  anthropic.Model
}

func newAnthropicProvider(model, apiKey string) *anthropicProvider {
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	return &anthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

func (p *anthropicProvider) Model() string { return string(p.model) }

func (p *anthropicProvider) Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	params := anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second

	var out string
	op := func() error {
		message, err := p.client.Messages.New(ctx, params)
		if err != nil {
			if !isRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		if len(message.Content) == 0 {
			return backoff.Permanent(kerrors.New(kerrors.ProviderUnavailable, "llmprovider.Complete", errEmptyResponse))
		}
		out = message.Content[0].Text
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return "", kerrors.New(kerrors.ProviderUnavailable, "llmprovider.Complete", err)
	}
	return out, nil
}

func isRetryable(err error) bool {
	var apiErr *anthropic.Error
	if ok := asAnthropicError(err, &apiErr); ok {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return true
}

func asAnthropicError(err error, target **anthropic.Error) bool {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if ae, ok := err.(*anthropic.Error); ok {
			*target = ae
			return true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

type noAPIKeyErr struct{}

func (noAPIKeyErr) Error() string { return "llmprovider: API key required" }

var errNoAPIKey = noAPIKeyErr{}

type emptyResponseErr struct{}

func (emptyResponseErr) Error() string { return "llmprovider: empty response content" }

var errEmptyResponse = emptyResponseErr{}
