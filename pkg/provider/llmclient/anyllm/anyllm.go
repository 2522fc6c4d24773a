// Package anyllm implements the capability.LLMClient contract on top of
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface
// covering OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and
// more behind a single Completion call.
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/codegraph/querycore/pkg/capability"
)

var _ capability.LLMClient = (*Client)(nil)

// Client implements capability.LLMClient by wrapping any-llm-go.
type Client struct {
	backend anyllmlib.Provider
	model   string
}

// New creates a Client backed by the named provider ("openai", "anthropic",
// "gemini", "ollama", "deepseek", "mistral", "groq"). Without an API key
// option, each backend falls back to its provider-specific environment
// variable (OPENAI_API_KEY, ANTHROPIC_API_KEY, ...).
func New(providerName string, model string, opts ...anyllmlib.Option) (*Client, error) {
	if providerName == "" {
		return nil, fmt.Errorf("llmclient/anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("llmclient/anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("llmclient/anyllm: create %q backend: %w", providerName, err)
	}
	return &Client{backend: backend, model: model}, nil
}

func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq", providerName)
	}
}

// Complete implements [capability.LLMClient].
func (c *Client) Complete(ctx context.Context, req capability.CompletionRequest) (capability.CompletionResponse, error) {
	params := c.buildParams(req)

	resp, err := c.backend.Completion(ctx, params)
	if err != nil {
		return capability.CompletionResponse{}, fmt.Errorf("llmclient/anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return capability.CompletionResponse{}, fmt.Errorf("llmclient/anyllm: empty choices in response")
	}

	out := capability.CompletionResponse{Text: resp.Choices[0].Message.ContentString()}
	if resp.Usage != nil {
		out.InputTokens = resp.Usage.PromptTokens
		out.OutputTokens = resp.Usage.CompletionTokens
	}
	return out, nil
}

// AdvertisedContextWindow implements [capability.LLMClient].
func (c *Client) AdvertisedContextWindow() int {
	return contextWindow(c.model)
}

func (c *Client) buildParams(req capability.CompletionRequest) anyllmlib.CompletionParams {
	var messages []anyllmlib.Message
	if req.System != "" {
		messages = append(messages, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		messages = append(messages, anyllmlib.Message{Role: m.Role, Content: m.Content})
	}

	params := anyllmlib.CompletionParams{Model: c.model, Messages: messages}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}
	return params
}

// contextWindow returns the advertised context window for known model
// families across the providers any-llm-go supports, falling back to a
// conservative 128k default for anything unrecognised.
func contextWindow(model string) int {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "gpt-4o"), strings.HasPrefix(lower, "gpt-4-turbo"):
		return 128_000
	case strings.HasPrefix(lower, "o1"), strings.HasPrefix(lower, "o3"):
		return 200_000
	case strings.Contains(lower, "claude-3"):
		return 200_000
	case strings.Contains(lower, "gemini-1.5-pro"):
		return 2_097_152
	case strings.Contains(lower, "gemini-1.5-flash"), strings.Contains(lower, "gemini-2.0-flash"):
		return 1_048_576
	case strings.Contains(lower, "deepseek"):
		return 64_000
	case strings.Contains(lower, "mistral-large"):
		return 128_000
	default:
		return 128_000
	}
}
