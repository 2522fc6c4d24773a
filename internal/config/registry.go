package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/codegraph/querycore/pkg/capability"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory
// has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// downward capability. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	embedder map[string]func(ProviderEntry) (capability.Embedder, error)
	llm      map[string]func(ProviderEntry) (capability.LLMClient, error)
	reranker map[string]func(ProviderEntry) (capability.Reranker, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		embedder: make(map[string]func(ProviderEntry) (capability.Embedder, error)),
		llm:      make(map[string]func(ProviderEntry) (capability.LLMClient, error)),
		reranker: make(map[string]func(ProviderEntry) (capability.Reranker, error)),
	}
}

// RegisterEmbedder registers an Embedder factory under name. Subsequent
// calls with the same name overwrite the previous registration.
func (r *Registry) RegisterEmbedder(name string, factory func(ProviderEntry) (capability.Embedder, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embedder[name] = factory
}

// RegisterLLM registers an LLMClient factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (capability.LLMClient, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterReranker registers a Reranker factory under name.
func (r *Registry) RegisterReranker(name string, factory func(ProviderEntry) (capability.Reranker, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reranker[name] = factory
}

// CreateEmbedder instantiates an Embedder using the factory registered
// under entry.Name. Returns [ErrProviderNotRegistered] if no factory has
// been registered for that name.
func (r *Registry) CreateEmbedder(entry ProviderEntry) (capability.Embedder, error) {
	r.mu.RLock()
	factory, ok := r.embedder[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embedder/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateLLM instantiates an LLMClient using the factory registered under
// entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (capability.LLMClient, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateReranker instantiates a Reranker using the factory registered
// under entry.Name. Reranker selection is optional; callers only invoke
// this when entry.Name is non-empty.
func (r *Registry) CreateReranker(entry ProviderEntry) (capability.Reranker, error) {
	r.mu.RLock()
	factory, ok := r.reranker[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: reranker/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
