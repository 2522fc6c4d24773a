package main

import (
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/codegraph/querycore/internal/config"
	"github.com/codegraph/querycore/pkg/capability"
	embedderollama "github.com/codegraph/querycore/pkg/provider/embedder/ollama"
	embedderopenai "github.com/codegraph/querycore/pkg/provider/embedder/openai"
	llmclientanyllm "github.com/codegraph/querycore/pkg/provider/llmclient/anyllm"
	llmclientopenai "github.com/codegraph/querycore/pkg/provider/llmclient/openai"
)

const providerRequestTimeout = 30 * time.Second

// registerBuiltinProviders wires every shipped provider adapter into reg
// under the name [config.Load] expects in providers.embedder.name /
// providers.llm.name.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterEmbedder("openai", func(e config.ProviderEntry) (capability.Embedder, error) {
		opts := []embedderopenai.Option{embedderopenai.WithTimeout(providerRequestTimeout)}
		if e.BaseURL != "" {
			opts = append(opts, embedderopenai.WithBaseURL(e.BaseURL))
		}
		return embedderopenai.New(e.APIKey, e.Model, opts...)
	})

	reg.RegisterEmbedder("ollama", func(e config.ProviderEntry) (capability.Embedder, error) {
		baseURL := e.BaseURL
		if baseURL == "" {
			baseURL = embedderollama.DefaultBaseURL
		}
		opts := []embedderollama.Option{embedderollama.WithTimeout(providerRequestTimeout)}
		if dims, ok := e.Options["dimension"].(int); ok && dims > 0 {
			opts = append(opts, embedderollama.WithDimension(dims))
		}
		return embedderollama.New(baseURL, e.Model, opts...)
	})

	reg.RegisterLLM("openai", func(e config.ProviderEntry) (capability.LLMClient, error) {
		opts := []llmclientopenai.Option{llmclientopenai.WithTimeout(providerRequestTimeout)}
		if e.BaseURL != "" {
			opts = append(opts, llmclientopenai.WithBaseURL(e.BaseURL))
		}
		return llmclientopenai.New(e.APIKey, e.Model, opts...)
	})

	reg.RegisterLLM("anyllm", func(e config.ProviderEntry) (capability.LLMClient, error) {
		backend, _ := e.Options["backend"].(string)
		if backend == "" {
			backend = "openai"
		}
		var opts []anyllmlib.Option
		if e.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
		}
		return llmclientanyllm.New(backend, e.Model, opts...)
	})
}
