// Package openai implements the capability.LLMClient contract using the
// OpenAI chat completions API.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/codegraph/querycore/pkg/capability"
)

var _ capability.LLMClient = (*Client)(nil)

// Client implements capability.LLMClient using the OpenAI API.
type Client struct {
	client oai.Client
	model  string
}

type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
}

// Option is a functional option for New.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) { c.organization = org }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a [Client] for the given model (e.g. "gpt-4o-mini").
func New(apiKey string, model string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llmclient/openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("llmclient/openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Client{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Complete implements [capability.LLMClient].
func (c *Client) Complete(ctx context.Context, req capability.CompletionRequest) (capability.CompletionResponse, error) {
	params := c.buildParams(req)

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return capability.CompletionResponse{}, fmt.Errorf("llmclient/openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return capability.CompletionResponse{}, fmt.Errorf("llmclient/openai: empty choices in response")
	}

	return capability.CompletionResponse{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}, nil
}

// AdvertisedContextWindow implements [capability.LLMClient].
func (c *Client) AdvertisedContextWindow() int {
	return contextWindow(c.model)
}

func (c *Client) buildParams(req capability.CompletionRequest) oai.ChatCompletionNewParams {
	var messages []oai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, oai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		messages = append(messages, convertMessage(m))
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if len(req.Stop) > 0 {
		params.Stop = oai.ChatCompletionNewParamsStopUnion{OfStringArray: req.Stop}
	}
	return params
}

func convertMessage(m capability.LLMMessage) oai.ChatCompletionMessageParamUnion {
	switch m.Role {
	case "system":
		return oai.SystemMessage(m.Content)
	case "assistant":
		return oai.AssistantMessage(m.Content)
	default:
		return oai.UserMessage(m.Content)
	}
}

// contextWindow returns the advertised context window for known OpenAI
// chat model names, falling back to 128k for anything unrecognised.
func contextWindow(model string) int {
	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "gpt-4o"):
		return 128_000
	case strings.HasPrefix(lower, "gpt-4-turbo"):
		return 128_000
	case strings.HasPrefix(lower, "gpt-4"):
		return 8_192
	case strings.HasPrefix(lower, "gpt-3.5-turbo"):
		return 16_385
	case strings.HasPrefix(lower, "o1-mini"):
		return 128_000
	case strings.HasPrefix(lower, "o1"), strings.HasPrefix(lower, "o3"):
		return 200_000
	default:
		return 128_000
	}
}
